package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "wagate.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Open ─────────────────────────────────────────────────────────────────────

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wagate.db")
	ctx := context.Background()

	db, err := Open(ctx, "sqlite3", path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := db.SetSetting(ctx, SettingAutoReplyEnabled, "false"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Migrations are idempotent and data survives.
	db, err = Open(ctx, "sqlite3", path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db.Close()
	settings, err := db.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings[SettingAutoReplyEnabled] != "false" {
		t.Errorf("setting lost across reopen: %v", settings)
	}
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func TestInsertMessage_AndLookup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	in := &Message{
		TenantID:       "t1",
		ConversationID: "123@s.whatsapp.net",
		Sender:         "Alice",
		SenderIdentity: "123@s.whatsapp.net",
		Body:           "hello",
		Direction:      DirectionIn,
		StanzaID:       "ABC",
		RawPayload:     []byte(`{"k":"v"}`),
	}
	if err := db.InsertMessage(ctx, in); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if in.ID == 0 {
		t.Fatal("expected ID to be set")
	}
	if in.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}

	got, err := db.FindMessageByStanzaID(ctx, "t1", "ABC")
	if err != nil {
		t.Fatalf("FindMessageByStanzaID: %v", err)
	}
	if got.ID != in.ID || got.Body != "hello" || got.Direction != DirectionIn {
		t.Errorf("unexpected message: %+v", got)
	}
	if string(got.RawPayload) != `{"k":"v"}` {
		t.Errorf("raw payload mismatch: %s", got.RawPayload)
	}

	// Stanza ids are scoped per tenant.
	if _, err := db.FindMessageByStanzaID(ctx, "t2", "ABC"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other tenant, got %v", err)
	}
	if _, err := db.GetMessage(ctx, "t2", in.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other tenant id lookup, got %v", err)
	}
}

func TestInsertMessage_ReplyLink(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	parent := &Message{TenantID: "t1", ConversationID: "c", Body: "q", Direction: DirectionIn, StanzaID: "P1"}
	if err := db.InsertMessage(ctx, parent); err != nil {
		t.Fatal(err)
	}
	child := &Message{
		TenantID: "t1", ConversationID: "c", Body: "a", Direction: DirectionOut,
		ReplyToID: &parent.ID, QuotedBody: "q", QuotedSender: "c",
	}
	if err := db.InsertMessage(ctx, child); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage(ctx, "t1", child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplyToID == nil || *got.ReplyToID != parent.ID {
		t.Errorf("expected reply link to %d, got %v", parent.ID, got.ReplyToID)
	}
	if got.StanzaID != "" {
		t.Errorf("expected empty stanza id, got %q", got.StanzaID)
	}
}

func TestInsertMessage_DuplicateStanza(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := func() *Message {
		return &Message{TenantID: "t1", ConversationID: "c", Direction: DirectionIn, StanzaID: "DUP"}
	}
	if err := db.InsertMessage(ctx, m()); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertMessage(ctx, m()); err == nil {
		t.Error("expected unique violation for duplicate stanza id")
	}

	// Messages without a stanza id are never deduplicated.
	for i := 0; i < 2; i++ {
		if err := db.InsertMessage(ctx, &Message{TenantID: "t1", ConversationID: "c", Direction: DirectionOut}); err != nil {
			t.Fatalf("insert without stanza %d: %v", i, err)
		}
	}
}

func TestListChats_LatestPerConversation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	insert := func(chat, body string, offset time.Duration) {
		t.Helper()
		if err := db.InsertMessage(ctx, &Message{
			TenantID: "t1", ConversationID: chat, Body: body,
			Direction: DirectionIn, Timestamp: base.Add(offset),
		}); err != nil {
			t.Fatal(err)
		}
	}
	insert("a", "a1", 0)
	insert("b", "b1", time.Minute)
	insert("a", "a2", 2*time.Minute)

	chats, err := db.ListChats(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].Body != "a2" || chats[1].Body != "b1" {
		t.Errorf("unexpected order: %q, %q", chats[0].Body, chats[1].Body)
	}

	conv, err := db.ListConversation(ctx, "t1", "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv) != 2 || conv[0].Body != "a1" || conv[1].Body != "a2" {
		t.Errorf("unexpected conversation: %+v", conv)
	}

	last, err := db.ListConversation(ctx, "t1", "a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Body != "a2" {
		t.Errorf("expected only the newest message, got %+v", last)
	}
}

// ─── Campaigns ────────────────────────────────────────────────────────────────

func TestParseRecipients(t *testing.T) {
	got := ParseRecipients(" 111 \n\n222\r\n  \n333")
	want := []string{"111", "222", "333"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClaimCampaign_OnlyOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := &Campaign{
		TenantID:      "t1",
		Name:          "promo",
		MessageBody:   "hi {name}",
		Recipients:    []string{"111", "222"},
		ScheduledAt:   time.Now().Add(-time.Minute),
		ThrottleMinMs: 100,
		ThrottleMaxMs: 200,
	}
	if err := db.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if c.Status != CampaignScheduled {
		t.Errorf("expected scheduled, got %s", c.Status)
	}

	due, err := db.DueCampaigns(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != c.ID {
		t.Fatalf("expected campaign to be due, got %+v", due)
	}
	if len(due[0].Recipients) != 2 || due[0].Recipients[1] != "222" {
		t.Errorf("recipients not preserved: %v", due[0].Recipients)
	}

	ok, err := db.ClaimCampaign(ctx, c.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = db.ClaimCampaign(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second claim should fail")
	}

	due, err = db.DueCampaigns(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("claimed campaign should not be due, got %d", len(due))
	}

	if err := db.UpdateCampaignStatus(ctx, c.ID, CampaignDone); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != CampaignDone {
		t.Errorf("expected done, got %s", got.Status)
	}
}

func TestDueCampaigns_FutureNotDue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := &Campaign{TenantID: "t1", Recipients: []string{"1"}, ScheduledAt: time.Now().Add(time.Hour)}
	if err := db.CreateCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}
	due, err := db.DueCampaigns(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("future campaign reported due: %+v", due)
	}

	list, err := db.ListCampaigns(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 campaign, got %d", len(list))
	}
}

// ─── Directory ────────────────────────────────────────────────────────────────

func TestAutoReplies_LoadOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, kw := range []string{"price", "hours", "hello"} {
		if err := db.CreateAutoReply(ctx, &AutoReply{Keyword: kw, Reply: "re:" + kw, Enabled: true}); err != nil {
			t.Fatal(err)
		}
	}
	rules, err := db.ListAutoReplies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 3 || rules[0].Keyword != "price" || rules[2].Keyword != "hello" {
		t.Fatalf("unexpected rule order: %+v", rules)
	}

	if err := db.SetAutoReplyEnabled(ctx, rules[1].ID, false); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteAutoReply(ctx, rules[0].ID); err != nil {
		t.Fatal(err)
	}
	rules, _ = db.ListAutoReplies(ctx)
	if len(rules) != 2 || rules[0].Enabled {
		t.Errorf("unexpected rules after toggle/delete: %+v", rules)
	}
	if err := db.DeleteAutoReply(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	k, err := db.CreateAPIKey(ctx, "t1", "default", "secret-key")
	if err != nil {
		t.Fatal(err)
	}
	tenant, err := db.TenantByAPIKey(ctx, "secret-key")
	if err != nil {
		t.Fatal(err)
	}
	if tenant != "t1" {
		t.Errorf("expected t1, got %q", tenant)
	}
	if _, err := db.TenantByAPIKey(ctx, "wrong"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tenants, err := db.Tenants(ctx)
	if err != nil || len(tenants) != 1 {
		t.Fatalf("Tenants: %v %v", tenants, err)
	}

	if err := db.DeleteAPIKey(ctx, "t2", k.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other tenant must not delete key, got %v", err)
	}
	if err := db.DeleteAPIKey(ctx, "t1", k.ID); err != nil {
		t.Fatal(err)
	}
	keys, _ := db.ListAPIKeys(ctx, "t1")
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %d", len(keys))
	}
}

func TestContactsAndTemplates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateContact(ctx, &Contact{TenantID: "t1", Name: "Bob", Phone: "+62811"}); err != nil {
		t.Fatal(err)
	}
	contacts, err := db.ListContacts(ctx, "t1")
	if err != nil || len(contacts) != 1 {
		t.Fatalf("ListContacts: %v %v", contacts, err)
	}

	tpl := &Template{TenantID: "t1", Name: "greet", Content: "Hi {name}"}
	if err := db.CreateTemplate(ctx, tpl); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetTemplate(ctx, "t1", tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Hi {name}" {
		t.Errorf("unexpected template content %q", got.Content)
	}
	if _, err := db.GetTemplate(ctx, "t2", tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other tenant, got %v", err)
	}
}
