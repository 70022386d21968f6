package bus

import (
	"log/slog"
	"sync"
)

// Hub is the in-process fan-out of events to per-tenant subscriptions.
// Each subscription has its own buffered channel; a full buffer drops the
// event for that subscriber only.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	bufSize int
}

// Subscription receives one tenant's events until Close is called.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	tenant string
	hub    *Hub
	once   sync.Once
}

func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), bufSize: bufSize}
}

// Subscribe registers a new subscriber for tenantID.
func (h *Hub) Subscribe(tenantID string) *Subscription {
	ch := make(chan Event, h.bufSize)
	s := &Subscription{C: ch, ch: ch, tenant: tenantID, hub: h}

	h.mu.Lock()
	set, ok := h.subs[tenantID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[tenantID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.tenant]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.tenant)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

// Publish implements Publisher.
func (h *Hub) Publish(tenantID, name string, data any) {
	ev := NewEvent(tenantID, name, data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[tenantID] {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("bus: subscriber buffer full, dropping event", "tenant", tenantID, "event", name)
		}
	}
}

// Subscribers reports how many subscriptions tenantID has.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}
