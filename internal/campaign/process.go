package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/store"
)

// Progress statuses.
const (
	ProgressSuccess = "success"
	ProgressError   = "error"
	ProgressDone    = "done"
	ProgressFailed  = "failed"
)

// Progress is the payload of a bulk-log event.
type Progress struct {
	CampaignID int64  `json:"campaignId"`
	Status     string `json:"status"`
	Recipient  string `json:"recipient,omitempty"`
	Message    string `json:"message"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

var errNotConnected = errors.New("whatsapp session is not connected")

// Process sends a claimed campaign to every recipient in order, pausing
// between recipients. A failed recipient is reported and skipped; anything
// else that goes wrong marks the campaign failed.
func (s *Scheduler) Process(ctx context.Context, c store.Campaign) (err error) {
	total := len(c.Recipients)
	sent, failed := 0, 0

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			s.fail(c, err, sent, failed)
		}
	}()

	if !s.sender.Status(c.TenantID).Connected {
		return errNotConnected
	}

	body := c.MessageBody
	if c.TemplateID != nil {
		tpl, err := s.store.GetTemplate(ctx, c.TenantID, *c.TemplateID)
		if err != nil {
			return fmt.Errorf("load template: %w", err)
		}
		body = tpl.Content
	}

	contacts, err := s.store.ListContacts(ctx, c.TenantID)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	names := newNameIndex(contacts)

	for i, recipient := range c.Recipients {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted after %d of %d: %w", i, total, err)
		}

		text := Render(body, recipient, names.lookup(recipient))
		if _, err := s.sender.Send(ctx, c.TenantID, recipient, text, nil); err != nil {
			failed++
			slog.Warn("campaign: send failed", "campaign", c.ID, "recipient", recipient, "err", err)
			s.progress(c, Progress{
				Status:    ProgressError,
				Recipient: recipient,
				Message:   fmt.Sprintf("Failed to send to %s. Reason: %v", recipient, err),
				Sent:      sent, Failed: failed, Total: total,
			})
		} else {
			sent++
			s.progress(c, Progress{
				Status:    ProgressSuccess,
				Recipient: recipient,
				Message:   fmt.Sprintf("Successfully sent to %s", recipient),
				Sent:      sent, Failed: failed, Total: total,
			})
		}

		if i < total-1 {
			if err := s.sleep(ctx, s.delay(c)); err != nil {
				return fmt.Errorf("interrupted after %d of %d: %w", i+1, total, err)
			}
		}
	}

	if err := s.store.UpdateCampaignStatus(context.WithoutCancel(ctx), c.ID, store.CampaignDone); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	slog.Info("campaign: finished", "campaign", c.ID, "sent", sent, "failed", failed)
	s.progress(c, Progress{
		Status:  ProgressDone,
		Message: "Bulk sending process finished.",
		Sent:    sent, Failed: failed, Total: total,
	})
	return nil
}

func (s *Scheduler) fail(c store.Campaign, cause error, sent, failed int) {
	slog.Error("campaign: failed", "campaign", c.ID, "tenant", c.TenantID, "err", cause)
	if err := s.store.UpdateCampaignStatus(context.Background(), c.ID, store.CampaignFailed); err != nil {
		slog.Error("campaign: mark failed", "campaign", c.ID, "err", err)
	}
	s.progress(c, Progress{
		Status:  ProgressFailed,
		Message: fmt.Sprintf("Campaign failed: %v", cause),
		Sent:    sent, Failed: failed, Total: len(c.Recipients),
	})
}

func (s *Scheduler) progress(c store.Campaign, p Progress) {
	p.CampaignID = c.ID
	s.events.Publish(c.TenantID, bus.EventCampaignProgress, p)
}

// Render substitutes the {phone} and {name} placeholders. The phone is the
// trimmed recipient without a leading '+'.
func Render(text, recipient, name string) string {
	phone := strings.TrimPrefix(strings.TrimSpace(recipient), "+")
	return strings.NewReplacer("{phone}", phone, "{name}", name).Replace(text)
}

// nameIndex resolves recipients to contact names by phone digits.
type nameIndex struct {
	exact map[string]string
	all   []store.Contact
}

// minSuffixDigits is the shortest number that may match by suffix.
const minSuffixDigits = 8

func newNameIndex(contacts []store.Contact) *nameIndex {
	idx := &nameIndex{exact: make(map[string]string, len(contacts)), all: contacts}
	for _, c := range contacts {
		if d := digits(c.Phone); d != "" {
			if _, dup := idx.exact[d]; !dup {
				idx.exact[d] = c.Name
			}
		}
	}
	return idx
}

// lookup matches exactly first, then by suffix so "0812…" and "62812…"
// resolve to the same contact.
func (n *nameIndex) lookup(recipient string) string {
	r := digits(recipient)
	if r == "" {
		return ""
	}
	if name, ok := n.exact[r]; ok {
		return name
	}
	rt := strings.TrimLeft(r, "0")
	for _, c := range n.all {
		p := strings.TrimLeft(digits(c.Phone), "0")
		if len(p) < minSuffixDigits || len(rt) < minSuffixDigits {
			continue
		}
		if strings.HasSuffix(rt, p) || strings.HasSuffix(p, rt) {
			return c.Name
		}
	}
	return ""
}

func digits(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
