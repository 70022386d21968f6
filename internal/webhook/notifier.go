// Package webhook delivers signed event notifications to the operator's
// HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature"

// Target is where a notification is sent. An empty URL disables delivery.
type Target struct {
	URL    string
	Secret string
}

// TargetFunc resolves the current target. It is called once per event so
// edits to the stored settings take effect without a restart.
type TargetFunc func(ctx context.Context) (Target, error)

// Payload is the JSON body posted for every event.
type Payload struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Notifier posts events with retry.
type Notifier struct {
	target     TargetFunc
	httpClient *http.Client
	backoff    []time.Duration
	wg         sync.WaitGroup

	now   func() time.Time
	sleep func(time.Duration)
}

func NewNotifier(target TargetFunc, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		target:     target,
		httpClient: &http.Client{Timeout: timeout},
		backoff:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Notify delivers the event in the background.
func (n *Notifier) Notify(event string, data map[string]any) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Send(context.Background(), event, data); err != nil {
			slog.Warn("webhook: delivery failed", "event", event, "err", err)
		}
	}()
}

// Wait blocks until every background delivery has finished.
func (n *Notifier) Wait() { n.wg.Wait() }

// Send delivers the event and blocks until it succeeds or retries run out.
// A missing target is not an error.
func (n *Notifier) Send(ctx context.Context, event string, data map[string]any) error {
	t, err := n.target(ctx)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	if t.URL == "" {
		return nil
	}

	body, err := json.Marshal(Payload{Event: event, Data: data, Timestamp: n.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var signature string
	if t.Secret != "" {
		signature = Sign(t.Secret, body)
	}

	for attempt := 0; ; attempt++ {
		err = n.post(ctx, t.URL, body, signature)
		if err == nil {
			return nil
		}
		if attempt >= len(n.backoff) || ctx.Err() != nil {
			return err
		}
		slog.Debug("webhook: retrying", "event", event, "attempt", attempt+1, "err", err)
		n.sleep(n.backoff[attempt])
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("webhook endpoint returned %d", e.code) }

func (n *Notifier) post(ctx context.Context, url string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return &statusError{code: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		// Client errors are not retried.
		slog.Warn("webhook: endpoint rejected event", "status", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SettingsTarget builds a TargetFunc that prefers the stored settings and
// falls back to the static target.
func SettingsTarget(settings func(ctx context.Context) (map[string]string, error), urlKey, secretKey string, fallback Target) TargetFunc {
	return func(ctx context.Context) (Target, error) {
		m, err := settings(ctx)
		if err != nil {
			return fallback, err
		}
		t := fallback
		if u := m[urlKey]; u != "" {
			t.URL = u
			t.Secret = m[secretKey]
		}
		return t, nil
	}
}
