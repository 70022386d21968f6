package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// ─── fake adapter ─────────────────────────────────────────────────────────────

type sentMessage struct {
	To     string
	Text   string
	Quoted *whatsapp.QuotedRef
}

type fakeClient struct {
	events chan whatsapp.Event

	mu         sync.Mutex
	sent       []sentMessage
	sendErr    error
	pairCode   string
	pairErr    error
	pairCalls  int
	registered bool
	self       string
	presence   int
	loggedOut  bool
	closed     bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:   make(chan whatsapp.Event, 16),
		self:     "628000:7@s.whatsapp.net",
		pairCode: "ABCD-EFGH",
	}
}

func (c *fakeClient) emit(ev whatsapp.Event) { c.events <- ev }

func (c *fakeClient) Events() <-chan whatsapp.Event { return c.events }

func (c *fakeClient) Send(_ context.Context, to, text string, quoted *whatsapp.QuotedRef) (*whatsapp.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, sentMessage{To: to, Text: text, Quoted: quoted})
	return &whatsapp.SendResult{ID: fmt.Sprintf("OUT%d", len(c.sent))}, nil
}

func (c *fakeClient) SendInteractive(_ context.Context, to string, content whatsapp.Interactive) (*whatsapp.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, sentMessage{To: to, Text: content.Text})
	return &whatsapp.SendResult{ID: "INT1"}, nil
}

func (c *fakeClient) RequestPairingCode(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairCalls++
	if c.pairErr != nil {
		return "", c.pairErr
	}
	return c.pairCode, nil
}

func (c *fakeClient) SendPresence(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence++
	return nil
}

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) SelfJID() string { return c.self }

func (c *fakeClient) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *fakeClient) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

type fakeConnector struct {
	mu      sync.Mutex
	clients []*fakeClient
	creds   []json.RawMessage
	prepare func(*fakeClient)
}

func (f *fakeConnector) Connect(_ context.Context, _ string, creds json.RawMessage) (whatsapp.Client, error) {
	c := newFakeClient()
	if f.prepare != nil {
		f.prepare(c)
	}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.creds = append(f.creds, creds)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeConnector) client(t *testing.T, i int) *fakeClient {
	t.Helper()
	waitFor(t, func() bool { return f.count() > i })
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

// ─── fake store ───────────────────────────────────────────────────────────────

type fakeStore struct {
	mu        sync.Mutex
	messages  []store.Message
	insertErr error
	settings  map[string]string
	rules     []store.AutoReply
}

func (s *fakeStore) InsertMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	m.ID = int64(len(s.messages) + 1)
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, tenantID string, id int64) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id && m.TenantID == tenantID {
			m := m
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) FindMessageByStanzaID(_ context.Context, tenantID, stanzaID string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.StanzaID == stanzaID && m.TenantID == tenantID {
			m := m
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) Settings(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) ListAutoReplies(context.Context) ([]store.AutoReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.AutoReply(nil), s.rules...), nil
}

func (s *fakeStore) all() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}

// ─── fake sinks ───────────────────────────────────────────────────────────────

type published struct {
	Tenant string
	Name   string
	Data   any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(tenantID, name string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{tenantID, name, data})
}

func (p *fakePublisher) named(name string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type notified struct {
	Event string
	Data  map[string]any
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notified
}

func (n *fakeNotifier) Notify(event string, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notified{event, data})
}

func (n *fakeNotifier) named(event string) []notified {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notified
	for _, c := range n.calls {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

// ─── harness ──────────────────────────────────────────────────────────────────

type harness struct {
	m         *Manager
	connector *fakeConnector
	store     *fakeStore
	pub       *fakePublisher
	hook      *fakeNotifier
	auth      *AuthStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		connector: &fakeConnector{},
		store:     &fakeStore{settings: map[string]string{}},
		pub:       &fakePublisher{},
		hook:      &fakeNotifier{},
		auth:      NewAuthStore(t.TempDir()),
	}
	h.m = NewManager(Options{
		KeepAlive:       time.Hour,
		ReconnectDelay:  20 * time.Millisecond,
		PairingPoll:     5 * time.Millisecond,
		PairingAttempts: 4,
	}, h.connector, h.auth, h.store, h.store, h.pub, h.hook)
	t.Cleanup(h.m.Shutdown)
	return h
}

// connect starts a session for tenant and drives it to connected.
func (h *harness) connect(t *testing.T, tenant string) *fakeClient {
	t.Helper()
	before := h.connector.count()
	h.m.EnsureSession(tenant, "")
	c := h.connector.client(t, before)
	c.emit(whatsapp.Event{Kind: whatsapp.EventOpen})
	waitFor(t, func() bool { return h.m.Status(tenant).Connected })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var errAdapter = errors.New("number not on network")
