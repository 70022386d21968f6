package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// AutoReplySender is the sender recorded for automatic replies.
const AutoReplySender = "auto-reply"

// handleInbound records a live inbound message, publishes it and dispatches
// an auto-reply. Own messages and history replays are ignored.
func (m *Manager) handleInbound(ctx context.Context, s *Session, client whatsapp.Client, msg *whatsapp.InboundMessage) {
	if msg.FromMe || !msg.Notify {
		return
	}

	rec := &store.Message{
		TenantID:       s.tenant,
		ConversationID: msg.ChatJID,
		Sender:         firstNonEmpty(msg.PushName, msg.SenderJID, msg.ChatJID),
		SenderIdentity: firstNonEmpty(msg.SenderJID, msg.ChatJID),
		Body:           msg.Text,
		Direction:      store.DirectionIn,
		Timestamp:      msg.Time(),
		StanzaID:       msg.ID,
		RawPayload:     rawOrNil(msg.Raw),
	}
	if q := msg.Quoted; q != nil {
		rec.QuotedBody = firstNonEmpty(q.Text, "...")
		rec.QuotedSender = q.Participant
		parent, err := m.messages.FindMessageByStanzaID(ctx, s.tenant, q.StanzaID)
		switch {
		case err == nil:
			rec.ReplyToID = &parent.ID
		case !errors.Is(err, store.ErrNotFound):
			slog.Warn("session: quoted lookup failed", "tenant", s.tenant, "stanza", q.StanzaID, "err", err)
		}
	}

	if m.record(ctx, rec) {
		m.events.Publish(s.tenant, bus.EventNewMessage, rec)
		m.notifyMessage(WebhookMessageIn, rec)
	}

	if whatsapp.IsGroup(msg.ChatJID) || strings.TrimSpace(msg.Text) == "" || !m.settingEnabled(store.SettingAutoReplyEnabled) {
		return
	}
	rule, ok := MatchRule(m.autoReplies(), msg.Text)
	if !ok {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sendAutoReply(ctx, s.tenant, client, rec, rule.Reply)
	}()
}

// MatchRule returns the first enabled rule whose trimmed keyword is a
// case-insensitive substring of the trimmed text. Rule order is significant.
func MatchRule(rules []store.AutoReply, text string) (store.AutoReply, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if strings.Contains(lower, strings.ToLower(strings.TrimSpace(r.Keyword))) {
			return r, true
		}
	}
	return store.AutoReply{}, false
}

func (m *Manager) sendAutoReply(ctx context.Context, tenantID string, client whatsapp.Client, in *store.Message, reply string) {
	res, err := client.Send(ctx, in.ConversationID, reply, nil)
	if err != nil {
		slog.Error("session: auto-reply failed", "tenant", tenantID, "chat", in.ConversationID, "err", err)
		return
	}

	rec := &store.Message{
		TenantID:       tenantID,
		ConversationID: in.ConversationID,
		Sender:         AutoReplySender,
		SenderIdentity: selfIdentity(client),
		Body:           reply,
		Direction:      store.DirectionOut,
		Timestamp:      time.Now().UTC(),
		StanzaID:       res.ID,
		RawPayload:     rawOrNil(res.Raw),
		ReplyToID:      in.ReplyToID,
		QuotedBody:     in.QuotedBody,
		QuotedSender:   in.QuotedSender,
	}
	if m.record(ctx, rec) {
		m.events.Publish(tenantID, bus.EventNewMessage, rec)
	}
}

// record persists rec and reports success. Failures are logged, never returned.
func (m *Manager) record(ctx context.Context, rec *store.Message) bool {
	if m.messages == nil {
		return false
	}
	if err := m.messages.InsertMessage(ctx, rec); err != nil {
		slog.Error("session: message not recorded", "err", &PersistenceError{Tenant: rec.TenantID, Err: err})
		return false
	}
	return true
}

func (m *Manager) notifyMessage(event string, rec *store.Message) {
	if m.webhook == nil {
		return
	}
	m.webhook.Notify(event, map[string]any{
		"tenantId":  rec.TenantID,
		"id":        rec.ID,
		"chatJid":   rec.ConversationID,
		"sender":    rec.Sender,
		"text":      rec.Body,
		"timestamp": rec.Timestamp,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
