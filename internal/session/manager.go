// Package session owns one protocol connection per tenant: its lifecycle
// state machine, reconnection, keep-alive, auto-replies and the side effects
// of every sent or received message.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// Messages is the message log used for recording and quote resolution.
type Messages interface {
	InsertMessage(ctx context.Context, m *store.Message) error
	GetMessage(ctx context.Context, tenantID string, id int64) (*store.Message, error)
	FindMessageByStanzaID(ctx context.Context, tenantID, stanzaID string) (*store.Message, error)
}

// SettingsSource provides global settings and the ordered auto-reply rules.
type SettingsSource interface {
	Settings(ctx context.Context) (map[string]string, error)
	ListAutoReplies(ctx context.Context) ([]store.AutoReply, error)
}

// Notifier delivers webhook events. Delivery is asynchronous.
type Notifier interface {
	Notify(event string, data map[string]any)
}

// Webhook event names.
const (
	WebhookConnectionStatus = "connection_status"
	WebhookMessageIn        = "message.in"
	WebhookMessageOut       = "message.out"
)

// Options tunes the session lifecycle.
type Options struct {
	KeepAlive       time.Duration
	ReconnectDelay  time.Duration
	PairingPoll     time.Duration
	PairingAttempts int
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = 25 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.PairingPoll <= 0 {
		o.PairingPoll = 500 * time.Millisecond
	}
	if o.PairingAttempts <= 0 {
		o.PairingAttempts = 20
	}
	return o
}

// Manager maps tenants to live sessions. At most one Session exists per
// tenant; the map is the only state shared across tenants.
type Manager struct {
	opts      Options
	connector whatsapp.Connector
	auth      *AuthStore
	messages  Messages
	settings  SettingsSource
	events    bus.Publisher
	webhook   Notifier

	sessions sync.Map // tenantID -> *Session

	settingsMu  sync.RWMutex
	appSettings map[string]string
	rules       []store.AutoReply

	baseCtx context.Context
	stop    context.CancelFunc

	// lifeMu orders wg.Add for new sessions against Shutdown's wg.Wait.
	lifeMu   sync.Mutex
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

func NewManager(
	opts Options,
	connector whatsapp.Connector,
	auth *AuthStore,
	messages Messages,
	settings SettingsSource,
	events bus.Publisher,
	webhook Notifier,
) *Manager {
	if events == nil {
		events = bus.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:        opts.withDefaults(),
		connector:   connector,
		auth:        auth,
		messages:    messages,
		settings:    settings,
		events:      events,
		webhook:     webhook,
		appSettings: map[string]string{},
		baseCtx:     ctx,
		stop:        cancel,
	}
}

// Run loads settings, preloads persisted sessions and blocks until ctx is
// cancelled, then shuts every session down.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.LoadSettings(ctx); err != nil {
		slog.Warn("session: settings not loaded", "err", err)
	}
	m.PreloadSessions()
	slog.Info("session: manager started")

	<-ctx.Done()
	m.Shutdown()
	slog.Info("session: manager stopped")
	return nil
}

// Shutdown closes every client without logging out and disables reconnects.
func (m *Manager) Shutdown() {
	m.lifeMu.Lock()
	if !m.shutdown.CompareAndSwap(false, true) {
		m.lifeMu.Unlock()
		return
	}
	m.lifeMu.Unlock()
	m.stop()
	m.sessions.Range(func(key, value any) bool {
		s := value.(*Session)
		s.mu.Lock()
		s.torn = true
		s.state = StateDisconnected
		s.challenge = ""
		client := s.client
		s.mu.Unlock()
		if client != nil {
			client.Close()
		}
		m.sessions.CompareAndDelete(key, s)
		return true
	})
	m.wg.Wait()
}

// EnsureSession returns the tenant's session, creating and starting one if
// none exists. The connection completes asynchronously; watch Status or the
// event bus for StateConnected. pairingPhone, when set on a new session,
// requests a pairing code as soon as the transport is ready.
func (m *Manager) EnsureSession(tenantID, pairingPhone string) *Session {
	if v, ok := m.sessions.Load(tenantID); ok {
		return v.(*Session)
	}
	if m.shutdown.Load() {
		return &Session{tenant: tenantID, state: StateDisconnected, torn: true}
	}

	s := newSession(tenantID, normalizePhone(pairingPhone))
	actual, loaded := m.sessions.LoadOrStore(tenantID, s)
	if loaded {
		return actual.(*Session)
	}

	m.lifeMu.Lock()
	if m.shutdown.Load() {
		m.lifeMu.Unlock()
		s.mu.Lock()
		s.torn = true
		s.state = StateDisconnected
		s.mu.Unlock()
		m.sessions.CompareAndDelete(tenantID, s)
		return s
	}
	m.wg.Add(1)
	m.lifeMu.Unlock()

	ctx, cancel := context.WithCancel(m.baseCtx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	slog.Info("session: starting", "tenant", tenantID)
	go m.run(ctx, s)
	return s
}

// Session returns the tenant's current session, if any.
func (m *Manager) Session(tenantID string) (*Session, bool) {
	v, ok := m.sessions.Load(tenantID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Status never blocks; unknown tenants are disconnected.
func (m *Manager) Status(tenantID string) Status {
	s, ok := m.Session(tenantID)
	if !ok {
		return Status{State: StateDisconnected}
	}
	return s.Status()
}

// Tenants lists tenants that currently have a session.
func (m *Manager) Tenants() []string {
	var out []string
	m.sessions.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

// PreloadSessions starts a session for every tenant with persisted auth.
func (m *Manager) PreloadSessions() {
	tenants, err := m.auth.Tenants()
	if err != nil {
		slog.Error("session: preload failed", "err", err)
		return
	}
	for _, t := range tenants {
		slog.Info("session: preloading", "tenant", t)
		m.EnsureSession(t, "")
	}
}

func (m *Manager) run(ctx context.Context, s *Session) {
	defer m.wg.Done()

	creds, err := m.auth.Load(s.tenant)
	if err != nil {
		slog.Warn("session: auth not loaded, starting fresh", "tenant", s.tenant, "err", err)
		creds = nil
	}

	client, err := m.connector.Connect(ctx, s.tenant, creds)
	if err != nil {
		slog.Error("session: connect failed", "tenant", s.tenant, "err", err)
		m.handleClose(s, 0)
		return
	}

	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		client.Close()
		return
	}
	s.client = client
	s.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.keepAlive(ctx, s)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				m.handleClose(s, 0)
				return
			}
			if ev.Kind == whatsapp.EventClose {
				m.handleClose(s, ev.Code)
				return
			}
			m.handleEvent(ctx, s, client, ev)
		}
	}
}

// handleEvent is the single entry point for adapter events other than close.
func (m *Manager) handleEvent(ctx context.Context, s *Session, client whatsapp.Client, ev whatsapp.Event) {
	switch ev.Kind {
	case whatsapp.EventQR:
		if m.setState(s, StateQRReady, ev.QR) {
			m.events.Publish(s.tenant, bus.EventQR, map[string]any{"qr": ev.QR})
			m.notifyStatus(s.tenant, StateQRReady)
		}

	case whatsapp.EventReady:
		s.mu.Lock()
		s.ready = true
		phone := s.pairingPhone
		auto := phone != "" && !s.pairing && !client.Registered()
		if auto {
			s.pairing = true
		}
		s.mu.Unlock()
		if auto {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				if _, err := m.pair(ctx, s, client, phone); err != nil {
					slog.Error("session: pairing code request failed", "tenant", s.tenant, "err", err)
				}
			}()
		}

	case whatsapp.EventOpen:
		if m.setState(s, StateConnected, "") {
			slog.Info("session: connected", "tenant", s.tenant)
			m.publishStatus(s.tenant, StateConnected)
		}

	case whatsapp.EventCreds:
		if len(ev.Creds) == 0 {
			return
		}
		if err := m.auth.Save(s.tenant, ev.Creds); err != nil {
			slog.Error("session: save creds failed", "tenant", s.tenant, "err", err)
		}

	case whatsapp.EventMessage:
		if ev.Message != nil {
			m.handleInbound(ctx, s, client, ev.Message)
		}
	}
}

// handleClose tears the session down and decides whether to reconnect.
// Only the first call for a session has any effect.
func (m *Manager) handleClose(s *Session, code int) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.challenge = ""
	s.torn = true
	client, cancel := s.client, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.sessions.CompareAndDelete(s.tenant, s)
	if client != nil {
		client.Close()
	}

	slog.Info("session: disconnected", "tenant", s.tenant, "code", code)
	m.publishStatus(s.tenant, StateDisconnected)

	if code == whatsapp.StatusLoggedOut {
		if err := m.auth.Delete(s.tenant); err != nil {
			slog.Error("session: wipe auth failed", "tenant", s.tenant, "err", err)
		}
		slog.Info("session: logged out remotely, not reconnecting", "tenant", s.tenant)
		return
	}
	m.scheduleReconnect(s.tenant)
}

func (m *Manager) scheduleReconnect(tenantID string) {
	if m.shutdown.Load() {
		return
	}
	time.AfterFunc(m.opts.ReconnectDelay, func() {
		if m.shutdown.Load() {
			return
		}
		slog.Info("session: reconnecting", "tenant", tenantID)
		m.EnsureSession(tenantID, "")
	})
}

func (m *Manager) keepAlive(ctx context.Context, s *Session) {
	ticker := time.NewTicker(m.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client, ok := s.connectedClient()
			if !ok {
				continue
			}
			if err := client.SendPresence(ctx, "available"); err != nil {
				slog.Warn("session: keep-alive failed", "tenant", s.tenant, "err", err)
			}
		}
	}
}

// pair requests a pairing code and moves the session to the matching state.
func (m *Manager) pair(ctx context.Context, s *Session, client whatsapp.Client, phone string) (string, error) {
	code, err := client.RequestPairingCode(ctx, phone)
	if err != nil {
		if m.setState(s, StatePairingFailed, "") {
			m.publishStatus(s.tenant, StatePairingFailed)
		}
		return "", &AdapterError{Op: "request pairing code", Err: err}
	}
	if m.setState(s, StatePairingCodeReady, code) {
		m.events.Publish(s.tenant, bus.EventPairingCode, map[string]any{"code": code})
		m.notifyStatus(s.tenant, StatePairingCodeReady)
	}
	return code, nil
}

func (m *Manager) setState(s *Session, state State, challenge string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(state, challenge)
}

func (m *Manager) publishStatus(tenantID string, state State) {
	m.events.Publish(tenantID, bus.EventConnectionStatus, map[string]any{"status": state})
	m.notifyStatus(tenantID, state)
}

func (m *Manager) notifyStatus(tenantID string, state State) {
	if m.webhook == nil || !m.settingEnabled(store.SettingWebhookConnectionStatus) {
		return
	}
	m.webhook.Notify(WebhookConnectionStatus, map[string]any{
		"tenantId": tenantID,
		"status":   state,
	})
}

// selfIdentity is the account's own bare JID.
func selfIdentity(client whatsapp.Client) string {
	if jid := client.SelfJID(); jid != "" {
		return whatsapp.BareJID(jid)
	}
	return ""
}

func rawOrNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
