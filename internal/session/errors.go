package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a connected session.
	ErrNotConnected = errors.New("session: not connected")
	// ErrAlreadyConnected is returned when pairing is requested on a live session.
	ErrAlreadyConnected = errors.New("session: already connected")
	// ErrConnectionNotReady is returned when the transport did not become
	// connectable within the pairing wait.
	ErrConnectionNotReady = errors.New("session: connection not ready")
)

// AdapterError is a failure surfaced by the protocol client, with the
// adapter's own message attached.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *AdapterError) Unwrap() error { return e.Err }

// PersistenceError is a failure while recording a message. It is logged at
// the recording boundary and never returned from a send.
type PersistenceError struct {
	Tenant string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("record message for %s: %v", e.Tenant, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }
