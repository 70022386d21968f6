package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestNotifier(t Target) (*Notifier, *[]time.Duration) {
	n := NewNotifier(func(context.Context) (Target, error) { return t, nil }, time.Second)
	var slept []time.Duration
	var mu sync.Mutex
	n.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return n, &slept
}

func TestSend_SignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	n, _ := newTestNotifier(Target{URL: srv.URL, Secret: "s3cret"})
	if err := n.Send(context.Background(), "message.in", map[string]any{"tenantId": "t1"}); err != nil {
		t.Fatal(err)
	}

	var p Payload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatal(err)
	}
	if p.Event != "message.in" || p.Data["tenantId"] != "t1" || p.Timestamp != 1700000000000 {
		t.Errorf("unexpected payload %+v", p)
	}
	if gotSig != Sign("s3cret", gotBody) {
		t.Errorf("signature mismatch: %q", gotSig)
	}
}

func TestSend_NoSecretNoSignature(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	n, _ := newTestNotifier(Target{URL: srv.URL})
	if err := n.Send(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if s := sig.Load().(string); s != "" {
		t.Errorf("expected no signature header, got %q", s)
	}
}

func TestSend_NoTargetIsNoop(t *testing.T) {
	n, slept := newTestNotifier(Target{})
	if err := n.Send(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if len(*slept) != 0 {
		t.Error("no retries expected")
	}
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	n, slept := newTestNotifier(Target{URL: srv.URL})
	if err := n.Send(context.Background(), "x", nil); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("unexpected backoff %v", *slept)
	}
}

func TestSend_GivesUpAfterFourAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, slept := newTestNotifier(Target{URL: srv.URL})
	err := n.Send(context.Background(), "x", nil)
	var se *statusError
	if !errors.As(err, &se) || se.code != 500 {
		t.Fatalf("expected status error, got %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 4 attempts, got %d", calls.Load())
	}
	if len(*slept) != 3 || (*slept)[2] != 4*time.Second {
		t.Errorf("unexpected backoff %v", *slept)
	}
}

func TestSend_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n, _ := newTestNotifier(Target{URL: srv.URL})
	if err := n.Send(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestNotify_Async(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		json.NewDecoder(r.Body).Decode(&p)
		got <- p.Event
	}))
	defer srv.Close()

	n, _ := newTestNotifier(Target{URL: srv.URL})
	n.Notify("connection_status", map[string]any{"status": "connected"})
	n.Wait()

	select {
	case ev := <-got:
		if ev != "connection_status" {
			t.Errorf("unexpected event %q", ev)
		}
	default:
		t.Fatal("notification not delivered")
	}
}

func TestSettingsTarget(t *testing.T) {
	stored := map[string]string{}
	tf := SettingsTarget(func(context.Context) (map[string]string, error) { return stored, nil },
		"webhook_url", "webhook_secret", Target{URL: "http://fallback", Secret: "f"})

	got, _ := tf(context.Background())
	if got.URL != "http://fallback" || got.Secret != "f" {
		t.Errorf("expected fallback, got %+v", got)
	}

	stored["webhook_url"] = "http://stored"
	stored["webhook_secret"] = "s"
	got, _ = tf(context.Background())
	if got.URL != "http://stored" || got.Secret != "s" {
		t.Errorf("expected stored target, got %+v", got)
	}
}
