// Package bus carries per-tenant realtime events from the session manager and
// campaign scheduler to subscribers (WebSocket clients, AMQP consumers).
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event names emitted to tenant subscribers.
const (
	EventQR               = "qr"
	EventPairingCode      = "pairing_code"
	EventConnectionStatus = "connection_status"
	EventNewMessage       = "new_message"
	EventCampaignProgress = "bulk-log"
)

// Event is one tenant-scoped notification.
type Event struct {
	ID     string    `json:"id"`
	Tenant string    `json:"tenant"`
	Name   string    `json:"event"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(tenantID, name string, data any) Event {
	return Event{
		ID:     uuid.NewString(),
		Tenant: tenantID,
		Name:   name,
		Data:   data,
		Time:   time.Now(),
	}
}

// Publisher delivers events to a tenant's subscribers. Publish never blocks
// on slow consumers and never fails the caller.
type Publisher interface {
	Publish(tenantID, name string, data any)
}

// Fanout publishes to every wrapped publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(tenantID, name string, data any) {
	for _, p := range f {
		if p != nil {
			p.Publish(tenantID, name, data)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, string, any) {}
