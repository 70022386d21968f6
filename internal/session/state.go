package session

import (
	"sync"

	"github.com/wagate/wagate/internal/whatsapp"
)

// State is the connection state of a tenant session.
type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateQRReady          State = "qr_ready"
	StatePairingCodeReady State = "pairing_code_ready"
	StatePairingFailed    State = "pairing_failed"
	StateConnected        State = "connected"
)

// Status is the read-only view returned by Manager.Status.
type Status struct {
	State       State  `json:"status"`
	Connected   bool   `json:"connected"`
	QR          string `json:"qr,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
}

// Session is one tenant's live connection. All fields are guarded by mu and
// mutated only by the Manager.
type Session struct {
	tenant string

	mu           sync.RWMutex
	state        State
	challenge    string // QR payload or pairing code; set only in the two ready states
	client       whatsapp.Client
	ready        bool // transport can accept a pairing request
	pairingPhone string
	pairing      bool // a pairing request is in flight or done
	torn         bool // removed from the manager; no further transitions
	cancel       func()
}

func newSession(tenantID, pairingPhone string) *Session {
	return &Session{tenant: tenantID, state: StateConnecting, pairingPhone: pairingPhone}
}

// Tenant returns the owning tenant id.
func (s *Session) Tenant() string { return s.tenant }

// Status snapshots the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{State: s.state, Connected: s.state == StateConnected}
	switch s.state {
	case StateQRReady:
		st.QR = s.challenge
	case StatePairingCodeReady:
		st.PairingCode = s.challenge
	}
	return st
}

// transition moves to state, keeping challenge only for the ready states.
// It reports false once the session has been torn down. Caller holds mu.
func (s *Session) transition(state State, challenge string) bool {
	if s.torn {
		return false
	}
	s.state = state
	switch state {
	case StateQRReady, StatePairingCodeReady:
		s.challenge = challenge
	default:
		s.challenge = ""
	}
	return true
}

// connectedClient returns the client when the session is connected.
func (s *Session) connectedClient() (whatsapp.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.torn || s.state != StateConnected || s.client == nil {
		return nil, false
	}
	return s.client, true
}
