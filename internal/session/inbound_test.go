package session

import (
	"context"
	"testing"
	"time"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

func inbound(id, chat, text string) whatsapp.Event {
	return whatsapp.Event{Kind: whatsapp.EventMessage, Message: &whatsapp.InboundMessage{
		ID:       id,
		ChatJID:  chat,
		PushName: "Budi",
		Text:     text,
		Notify:   true,
	}}
}

func TestMatchRule(t *testing.T) {
	rules := []store.AutoReply{
		{ID: 1, Keyword: "promo", Reply: "off", Enabled: false},
		{ID: 2, Keyword: " Harga ", Reply: "Rp100k", Enabled: true},
		{ID: 3, Keyword: "info", Reply: "see site", Enabled: true},
	}

	cases := []struct {
		text  string
		want  int64
		match bool
	}{
		{"tanya harga dong", 2, true},
		{"boleh minta info harga", 2, true}, // list order wins, not position in text
		{"  INFO please ", 3, true},
		{"promo?", 0, false}, // disabled rule
		{"hello", 0, false},
	}
	for _, tc := range cases {
		r, ok := MatchRule(rules, tc.text)
		if ok != tc.match || r.ID != tc.want {
			t.Errorf("MatchRule(%q) = (%d, %v), want (%d, %v)", tc.text, r.ID, ok, tc.want, tc.match)
		}
	}
}

func TestInbound_AutoReplyFirstMatchSentOnce(t *testing.T) {
	h := newHarness(t)
	h.store.rules = []store.AutoReply{
		{ID: 1, Keyword: "harga", Reply: "Rp100k", Enabled: true},
		{ID: 2, Keyword: "info", Reply: "...", Enabled: true},
	}
	if err := h.m.LoadSettings(context.Background()); err != nil {
		t.Fatal(err)
	}
	c := h.connect(t, "t1")

	c.emit(inbound("IN1", "628111@s.whatsapp.net", "tanya harga dong"))
	waitFor(t, func() bool { return len(c.sentMessages()) == 1 })
	time.Sleep(30 * time.Millisecond)

	sent := c.sentMessages()
	if len(sent) != 1 || sent[0].Text != "Rp100k" || sent[0].To != "628111@s.whatsapp.net" {
		t.Fatalf("expected exactly one reply Rp100k, got %+v", sent)
	}

	waitFor(t, func() bool { return len(h.store.all()) == 2 })
	msgs := h.store.all()
	if msgs[0].Direction != store.DirectionIn || msgs[0].Sender != "Budi" || msgs[0].StanzaID != "IN1" {
		t.Errorf("unexpected inbound record %+v", msgs[0])
	}
	if msgs[1].Sender != AutoReplySender || msgs[1].Direction != store.DirectionOut {
		t.Errorf("unexpected auto-reply record %+v", msgs[1])
	}
	if n := len(h.pub.named(bus.EventNewMessage)); n != 2 {
		t.Errorf("expected 2 new_message events, got %d", n)
	}
	if n := len(h.hook.named(WebhookMessageIn)); n != 1 {
		t.Errorf("expected 1 message.in webhook, got %d", n)
	}
}

func TestInbound_NoAutoReplyForGroupsOrWhenDisabled(t *testing.T) {
	h := newHarness(t)
	h.store.rules = []store.AutoReply{{ID: 1, Keyword: "harga", Reply: "Rp100k", Enabled: true}}
	h.m.LoadSettings(context.Background())
	c := h.connect(t, "t1")

	c.emit(inbound("G1", "1203630@g.us", "harga?"))
	waitFor(t, func() bool { return len(h.store.all()) == 1 })

	h.store.mu.Lock()
	h.store.settings[store.SettingAutoReplyEnabled] = "false"
	h.store.mu.Unlock()
	h.m.LoadSettings(context.Background())

	c.emit(inbound("D1", "628111@s.whatsapp.net", "harga?"))
	waitFor(t, func() bool { return len(h.store.all()) == 2 })
	time.Sleep(30 * time.Millisecond)

	if sent := c.sentMessages(); len(sent) != 0 {
		t.Errorf("expected no auto-replies, got %+v", sent)
	}
}

func TestInbound_IgnoresOwnAndHistoryMessages(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, "t1")

	own := inbound("A", "628111@s.whatsapp.net", "mine")
	own.Message.FromMe = true
	history := inbound("B", "628111@s.whatsapp.net", "old")
	history.Message.Notify = false
	live := inbound("C", "628111@s.whatsapp.net", "new")

	c.emit(own)
	c.emit(history)
	c.emit(live)
	waitFor(t, func() bool { return len(h.store.all()) == 1 })
	time.Sleep(20 * time.Millisecond)

	if msgs := h.store.all(); len(msgs) != 1 || msgs[0].StanzaID != "C" {
		t.Errorf("expected only the live message, got %+v", msgs)
	}
}

func TestInbound_QuoteResolution(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, "t1")

	parent := &store.Message{TenantID: "t1", ConversationID: "628111@s.whatsapp.net", Direction: store.DirectionOut, StanzaID: "P1", Body: "menu"}
	h.store.InsertMessage(context.Background(), parent)

	reply := inbound("R1", "628111@s.whatsapp.net", "yes")
	reply.Message.Quoted = &whatsapp.Quoted{StanzaID: "P1", Participant: "628000@s.whatsapp.net", Text: "menu"}
	c.emit(reply)

	orphan := inbound("R2", "628111@s.whatsapp.net", "no")
	orphan.Message.Quoted = &whatsapp.Quoted{StanzaID: "UNKNOWN"}
	c.emit(orphan)

	waitFor(t, func() bool { return len(h.store.all()) == 3 })
	msgs := h.store.all()

	if msgs[1].ReplyToID == nil || *msgs[1].ReplyToID != parent.ID {
		t.Errorf("expected reply link to %d, got %v", parent.ID, msgs[1].ReplyToID)
	}
	if msgs[1].QuotedBody != "menu" || msgs[1].QuotedSender != "628000@s.whatsapp.net" {
		t.Errorf("unexpected quote fields %+v", msgs[1])
	}
	if msgs[2].ReplyToID != nil {
		t.Errorf("non-matching quote must leave reply link empty, got %v", *msgs[2].ReplyToID)
	}
	if msgs[2].QuotedBody != "..." {
		t.Errorf("expected placeholder quoted body, got %q", msgs[2].QuotedBody)
	}
}
