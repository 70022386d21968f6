// Package store is the datastore repository for wagate.
//
// A single database/sql implementation serves both the hosted Postgres
// backend (lib/pq) and the embedded SQLite backend (mattn/go-sqlite3).
package store

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row for the tenant.
var ErrNotFound = errors.New("store: not found")

// Direction of a recorded message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one append-only message record.
type Message struct {
	ID             int64           `json:"id"`
	TenantID       string          `json:"tenantId"`
	ConversationID string          `json:"chatJid"`
	Sender         string          `json:"sender"`
	SenderIdentity string          `json:"senderJid"`
	Body           string          `json:"text"`
	Direction      Direction       `json:"direction"`
	Timestamp      time.Time       `json:"timestamp"`
	StanzaID       string          `json:"stanzaId,omitempty"`
	RawPayload     json.RawMessage `json:"-"`
	ReplyToID      *int64          `json:"replyToId,omitempty"`
	QuotedBody     string          `json:"quotedText,omitempty"`
	QuotedSender   string          `json:"quotedSender,omitempty"`
}

// CampaignStatus moves only scheduled -> running -> done|failed.
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignDone      CampaignStatus = "done"
	CampaignFailed    CampaignStatus = "failed"
)

// Campaign is a scheduled bulk send.
type Campaign struct {
	ID            int64          `json:"id"`
	TenantID      string         `json:"tenantId"`
	Name          string         `json:"name"`
	MessageBody   string         `json:"message,omitempty"`
	TemplateID    *int64         `json:"templateId,omitempty"`
	Recipients    []string       `json:"numbers"`
	ScheduledAt   time.Time      `json:"startAt"`
	ThrottleMinMs int            `json:"throttleMinMs"`
	ThrottleMaxMs int            `json:"throttleMaxMs"`
	Status        CampaignStatus `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ParseRecipients splits a newline-delimited recipient list, trimming each
// entry and dropping blanks. Order is preserved.
func ParseRecipients(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if n := strings.TrimSpace(line); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Contact is an address-book entry used for {name} substitution.
type Contact struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// Template is reusable message content.
type Template struct {
	ID       int64  `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Content  string `json:"content"`
}

// AutoReply is a keyword rule. Rules are evaluated in load (id) order.
type AutoReply struct {
	ID      int64  `json:"id"`
	Keyword string `json:"keyword"`
	Reply   string `json:"reply"`
	Enabled bool   `json:"enabled"`
}

// APIKey is the listing view of an API key; the plaintext is never stored.
type APIKey struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Well-known settings keys.
const (
	SettingAutoReplyEnabled        = "auto_reply_enabled"
	SettingWebhookURL              = "webhook_url"
	SettingWebhookSecret           = "webhook_secret"
	SettingWebhookConnectionStatus = "webhook_connection_status"
)
