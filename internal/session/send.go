package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// SendResult describes a submitted message. Record is nil when the message
// was sent but could not be persisted.
type SendResult struct {
	MessageID string         `json:"messageId"`
	To        string         `json:"to"`
	Record    *store.Message `json:"record,omitempty"`
}

// Send submits a text message. replyToID, when set, quotes a stored message.
// The record is persisted, published and sent to the webhook only after the
// adapter accepted the message.
func (m *Manager) Send(ctx context.Context, tenantID, to, text string, replyToID *int64) (*SendResult, error) {
	client, err := m.connectedClient(tenantID)
	if err != nil {
		return nil, err
	}

	jid := whatsapp.NormalizeAddress(to)

	var (
		quoted *whatsapp.QuotedRef
		parent *store.Message
	)
	if replyToID != nil {
		p, err := m.messages.GetMessage(ctx, tenantID, *replyToID)
		switch {
		case err == nil:
			parent = p
			quoted = &whatsapp.QuotedRef{
				ChatJID:     p.ConversationID,
				StanzaID:    p.StanzaID,
				Participant: p.SenderIdentity,
				FromMe:      p.Direction == store.DirectionOut,
				Text:        p.Body,
				Raw:         rawOrNil(p.RawPayload),
			}
		case errors.Is(err, store.ErrNotFound):
			slog.Warn("session: quoted message not found, sending unquoted", "tenant", tenantID, "reply_to", *replyToID)
		default:
			slog.Warn("session: quoted message lookup failed, sending unquoted", "tenant", tenantID, "err", err)
		}
	}

	res, err := client.Send(ctx, jid, text, quoted)
	if err != nil {
		return nil, &AdapterError{Op: "send message", Err: err}
	}

	rec := &store.Message{
		TenantID:       tenantID,
		ConversationID: jid,
		Sender:         "me",
		SenderIdentity: selfIdentity(client),
		Body:           text,
		Direction:      store.DirectionOut,
		Timestamp:      time.Now().UTC(),
		StanzaID:       res.ID,
		RawPayload:     rawOrNil(res.Raw),
	}
	if parent != nil {
		rec.ReplyToID = &parent.ID
		rec.QuotedBody = parent.Body
		rec.QuotedSender = parent.Sender
	}

	out := &SendResult{MessageID: res.ID, To: jid}
	if m.record(context.WithoutCancel(ctx), rec) {
		out.Record = rec
		m.events.Publish(tenantID, bus.EventNewMessage, rec)
		m.notifyMessage(WebhookMessageOut, rec)
	}
	return out, nil
}

// SendInteractive submits button content. Nothing is persisted.
func (m *Manager) SendInteractive(ctx context.Context, tenantID, to string, content whatsapp.Interactive) (*whatsapp.SendResult, error) {
	client, err := m.connectedClient(tenantID)
	if err != nil {
		return nil, err
	}
	res, err := client.SendInteractive(ctx, whatsapp.NormalizeAddress(to), content)
	if err != nil {
		return nil, &AdapterError{Op: "send interactive", Err: err}
	}
	return res, nil
}

// RequestPairingCode asks the adapter for a pairing code for phone, creating
// the session if needed and waiting a bounded time for the transport.
func (m *Manager) RequestPairingCode(ctx context.Context, tenantID, phone string) (string, error) {
	phone = normalizePhone(phone)
	s := m.EnsureSession(tenantID, "")

	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return "", ErrAlreadyConnected
	}
	s.pairing = true
	s.pairingPhone = phone
	s.mu.Unlock()

	s, client, err := m.waitReady(ctx, s, phone)
	if err != nil {
		return "", err
	}
	return m.pair(ctx, s, client, phone)
}

// waitReady polls until the transport can accept a pairing request. When a
// reconnect replaces s, the wait continues on the live session, which is
// returned along with its client.
func (m *Manager) waitReady(ctx context.Context, s *Session, phone string) (*Session, whatsapp.Client, error) {
	for i := 0; ; i++ {
		s.mu.RLock()
		client, ready, state, torn := s.client, s.ready, s.state, s.torn
		s.mu.RUnlock()

		if state == StateConnected {
			return nil, nil, ErrAlreadyConnected
		}
		if ready && client != nil && !torn {
			return s, client, nil
		}
		if i >= m.opts.PairingAttempts {
			return nil, nil, ErrConnectionNotReady
		}
		if torn {
			if next, ok := m.Session(s.tenant); ok && next != s {
				next.mu.Lock()
				next.pairing = true
				next.pairingPhone = phone
				next.mu.Unlock()
				s = next
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(m.opts.PairingPoll):
		}
	}
}

// Logout logs the tenant out, removes its session and wipes its auth
// material. Logging out an absent tenant is a no-op.
func (m *Manager) Logout(ctx context.Context, tenantID string) error {
	if v, ok := m.sessions.LoadAndDelete(tenantID); ok {
		s := v.(*Session)
		s.mu.Lock()
		s.torn = true
		s.state = StateDisconnected
		s.challenge = ""
		client, cancel := s.client, s.cancel
		s.mu.Unlock()

		if client != nil {
			if err := client.Logout(ctx); err != nil {
				slog.Warn("session: adapter logout failed", "tenant", tenantID, "err", err)
			}
			client.Close()
		}
		if cancel != nil {
			cancel()
		}
		slog.Info("session: logged out", "tenant", tenantID)
		m.publishStatus(tenantID, StateDisconnected)
	}

	if err := m.auth.Delete(tenantID); err != nil {
		return err
	}
	return nil
}

// ResetSession logs out and immediately starts a fresh session that will
// present a new QR challenge.
func (m *Manager) ResetSession(ctx context.Context, tenantID string) (*Session, error) {
	if err := m.Logout(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.EnsureSession(tenantID, ""), nil
}

func (m *Manager) connectedClient(tenantID string) (whatsapp.Client, error) {
	s, ok := m.Session(tenantID)
	if !ok {
		return nil, ErrNotConnected
	}
	client, ok := s.connectedClient()
	if !ok {
		return nil, ErrNotConnected
	}
	return client, nil
}

// normalizePhone keeps only digits, the form pairing requests expect.
func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
