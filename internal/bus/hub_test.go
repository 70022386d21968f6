package bus

import (
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_DeliversToTenantOnly(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("t1")
	b := h.Subscribe("t2")
	defer a.Close()
	defer b.Close()

	h.Publish("t1", EventQR, map[string]string{"qr": "data"})

	ev := recv(t, a)
	if ev.Name != EventQR || ev.Tenant != "t1" || ev.ID == "" {
		t.Errorf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-b.C:
		t.Errorf("t2 should not receive t1 events, got %+v", ev)
	default:
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("t1")
	defer s.Close()

	h.Publish("t1", EventNewMessage, 1)
	h.Publish("t1", EventNewMessage, 2) // dropped, must not block

	if ev := recv(t, s); ev.Data != 1 {
		t.Errorf("expected first event, got %v", ev.Data)
	}
}

func TestSubscription_CloseTwice(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("t1")
	s.Close()
	s.Close()

	if n := h.Subscribers("t1"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	if _, ok := <-s.C; ok {
		t.Error("expected closed channel")
	}
	// Publishing after close must not panic.
	h.Publish("t1", EventQR, nil)
}

type recordingPublisher struct{ names []string }

func (r *recordingPublisher) Publish(_, name string, _ any) { r.names = append(r.names, name) }

func TestFanout(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	Fanout{a, nil, b}.Publish("t1", EventCampaignProgress, nil)

	if len(a.names) != 1 || len(b.names) != 1 {
		t.Errorf("expected both publishers to receive, got %v %v", a.names, b.names)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey("acme", EventConnectionStatus); got != "tenant.acme.connection_status" {
		t.Errorf("unexpected routing key %q", got)
	}
}
