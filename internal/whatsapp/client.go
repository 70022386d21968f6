// Package whatsapp is the protocol client adapter. It exposes one Client per
// tenant with an event stream and request/response operations, and hides the
// messaging network's wire protocol behind a bridge process.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// StatusLoggedOut is the close code reported when the account was logged out
// remotely or explicitly. Auth material must be discarded.
const StatusLoggedOut = 401

// ErrClosed is returned by operations on a client whose connection is gone.
var ErrClosed = errors.New("whatsapp: client closed")

// EventKind enumerates adapter events.
type EventKind string

const (
	EventQR      EventKind = "qr"      // new QR challenge
	EventReady   EventKind = "ready"   // transport can accept a pairing request
	EventOpen    EventKind = "open"    // authenticated and online
	EventClose   EventKind = "close"   // connection ended; Code carries the reason
	EventMessage EventKind = "message" // inbound message
	EventCreds   EventKind = "creds"   // credentials changed and should be persisted
)

// Event is one asynchronous notification from a Client.
type Event struct {
	Kind    EventKind
	QR      string
	Code    int
	Message *InboundMessage
	Creds   json.RawMessage
}

// Quoted is the quoted-reply context of an inbound message.
type Quoted struct {
	StanzaID    string `json:"stanzaId"`
	Participant string `json:"participant"`
	Text        string `json:"text"`
}

// InboundMessage is a message delivered by the network.
type InboundMessage struct {
	ID        string          `json:"id"`
	ChatJID   string          `json:"chatJid"`
	SenderJID string          `json:"senderJid"`
	PushName  string          `json:"pushName"`
	Text      string          `json:"text"`
	FromMe    bool            `json:"fromMe"`
	Notify    bool            `json:"notify"` // false for history-sync replays
	Timestamp int64           `json:"timestamp"`
	Quoted    *Quoted         `json:"quoted,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Time returns the message timestamp, or now when the network omitted it.
func (m *InboundMessage) Time() time.Time {
	if m.Timestamp <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(m.Timestamp, 0).UTC()
}

// QuotedRef points an outgoing message at a previously stored one.
type QuotedRef struct {
	ChatJID     string          `json:"chatJid"`
	StanzaID    string          `json:"stanzaId"`
	Participant string          `json:"participant,omitempty"`
	FromMe      bool            `json:"fromMe"`
	Text        string          `json:"text,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// SendResult is the network acknowledgement of a submitted message.
type SendResult struct {
	ID  string          `json:"id"`
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Button is one interactive button, passed through to the network as-is.
type Button struct {
	Name       string `json:"name"`
	ParamsJSON string `json:"buttonParamsJson"`
}

// Interactive is structured button content.
type Interactive struct {
	Text     string   `json:"text"`
	Footer   string   `json:"footer,omitempty"`
	Title    string   `json:"title,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`
	Buttons  []Button `json:"interactiveButtons"`
}

// Client is one live connection for one tenant.
//
// Events is closed after the final EventClose has been delivered.
type Client interface {
	Events() <-chan Event
	Send(ctx context.Context, to, text string, quoted *QuotedRef) (*SendResult, error)
	SendInteractive(ctx context.Context, to string, content Interactive) (*SendResult, error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SendPresence(ctx context.Context, presence string) error
	Logout(ctx context.Context) error
	Close() error

	// SelfJID is the account's own address once known, possibly with a
	// ":device" suffix.
	SelfJID() string
	// Registered reports whether the credentials belong to a paired account.
	Registered() bool
}

// Connector opens clients. creds is the tenant's persisted credential blob,
// nil on first connect.
type Connector interface {
	Connect(ctx context.Context, tenantID string, creds json.RawMessage) (Client, error)
}
