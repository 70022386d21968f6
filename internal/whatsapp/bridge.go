package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// frame is the JSON envelope exchanged with the bridge in both directions.
type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// client -> bridge
	Token    string          `json:"token,omitempty"`
	Tenant   string          `json:"tenant,omitempty"`
	To       string          `json:"to,omitempty"`
	Text     string          `json:"text,omitempty"`
	Quoted   *QuotedRef      `json:"quoted,omitempty"`
	Content  *Interactive    `json:"content,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Presence string          `json:"presence,omitempty"`
	Creds    json.RawMessage `json:"creds,omitempty"`

	// bridge -> client
	QR          string          `json:"qr,omitempty"`
	Code        int             `json:"code,omitempty"`
	JID         string          `json:"jid,omitempty"`
	Registered  *bool           `json:"registered,omitempty"`
	Message     *InboundMessage `json:"message,omitempty"`
	OK          bool            `json:"ok,omitempty"`
	Error       string          `json:"error,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	PairingCode string          `json:"pairingCode,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Bridge connects tenants to a Baileys bridge process over WebSocket. Each
// tenant gets its own socket at <url>/tenants/<id>.
type Bridge struct {
	url            string
	token          string
	dialer         *websocket.Dialer
	requestTimeout time.Duration
}

func NewBridge(bridgeURL, token string) *Bridge {
	if bridgeURL == "" {
		bridgeURL = "ws://localhost:3001"
	}
	return &Bridge{
		url:            strings.TrimRight(bridgeURL, "/"),
		token:          token,
		dialer:         websocket.DefaultDialer,
		requestTimeout: 30 * time.Second,
	}
}

// Connect implements Connector.
func (b *Bridge) Connect(ctx context.Context, tenantID string, creds json.RawMessage) (Client, error) {
	endpoint := b.url + "/tenants/" + url.PathEscape(tenantID)
	conn, _, err := b.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", endpoint, err)
	}

	c := &bridgeClient{
		tenant:         tenantID,
		conn:           conn,
		events:         make(chan Event, 64),
		pending:        make(map[string]chan frame),
		done:           make(chan struct{}),
		closing:        make(chan struct{}),
		requestTimeout: b.requestTimeout,
		registered:     len(creds) > 0,
	}

	if b.token != "" {
		if err := c.write(frame{Type: "auth", Token: b.token}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bridge auth: %w", err)
		}
	}
	if err := c.write(frame{Type: "connect", Tenant: tenantID, Creds: creds}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge connect: %w", err)
	}

	slog.Info("whatsapp: connected to bridge", "tenant", tenantID)
	go c.readLoop()
	return c, nil
}

type bridgeClient struct {
	tenant string
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	pending    map[string]chan frame
	selfJID    string
	registered bool

	events    chan Event
	done      chan struct{} // closed when readLoop exits
	closing   chan struct{} // closed by Close
	closeOnce sync.Once

	requestTimeout time.Duration
}

func (c *bridgeClient) Events() <-chan Event { return c.events }

func (c *bridgeClient) SelfJID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfJID
}

func (c *bridgeClient) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *bridgeClient) Send(ctx context.Context, to, text string, quoted *QuotedRef) (*SendResult, error) {
	resp, err := c.request(ctx, frame{Type: "send", To: to, Text: text, Quoted: quoted})
	if err != nil {
		return nil, err
	}
	return &SendResult{ID: resp.MessageID, Raw: resp.Raw}, nil
}

func (c *bridgeClient) SendInteractive(ctx context.Context, to string, content Interactive) (*SendResult, error) {
	resp, err := c.request(ctx, frame{Type: "interactive", To: to, Content: &content})
	if err != nil {
		return nil, err
	}
	return &SendResult{ID: resp.MessageID, Raw: resp.Raw}, nil
}

func (c *bridgeClient) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	resp, err := c.request(ctx, frame{Type: "pair", Phone: phone})
	if err != nil {
		return "", err
	}
	return resp.PairingCode, nil
}

func (c *bridgeClient) SendPresence(ctx context.Context, presence string) error {
	_, err := c.request(ctx, frame{Type: "presence", Presence: presence})
	return err
}

func (c *bridgeClient) Logout(ctx context.Context) error {
	_, err := c.request(ctx, frame{Type: "logout"})
	return err
}

// Close drops the socket. Events already queued are discarded.
func (c *bridgeClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	return err
}

func (c *bridgeClient) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// request sends f with a fresh correlation id and waits for the matching result.
func (c *bridgeClient) request(ctx context.Context, f frame) (*frame, error) {
	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Type, errors.Join(ErrClosed, err))
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "request rejected"
			}
			return nil, fmt.Errorf("%s: %s", f.Type, msg)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", f.Type, ctx.Err())
	}
}

func (c *bridgeClient) readLoop() {
	closeCode := 0
	defer func() {
		c.mu.Lock()
		close(c.done)
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()

		c.emit(Event{Kind: EventClose, Code: closeCode})
		close(c.events)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				slog.Warn("whatsapp: bridge connection lost", "tenant", c.tenant, "err", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Debug("whatsapp: invalid bridge frame", "tenant", c.tenant, "err", err)
			continue
		}
		if f.Type == "close" {
			closeCode = f.Code
			return
		}
		c.handleFrame(f)
	}
}

func (c *bridgeClient) handleFrame(f frame) {
	switch f.Type {
	case "result":
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
		}
	case "qr":
		c.emit(Event{Kind: EventQR, QR: f.QR})
	case "ready":
		c.emit(Event{Kind: EventReady})
	case "open":
		c.mu.Lock()
		if f.JID != "" {
			c.selfJID = f.JID
		}
		c.registered = true
		c.mu.Unlock()
		c.emit(Event{Kind: EventOpen})
	case "creds":
		if f.Registered != nil {
			c.mu.Lock()
			c.registered = *f.Registered
			c.mu.Unlock()
		}
		c.emit(Event{Kind: EventCreds, Creds: f.Creds})
	case "message":
		if f.Message != nil {
			c.emit(Event{Kind: EventMessage, Message: f.Message})
		}
	case "error":
		slog.Error("whatsapp: bridge error", "tenant", c.tenant, "err", f.Error)
	default:
		slog.Debug("whatsapp: unknown bridge frame", "tenant", c.tenant, "type", f.Type)
	}
}

// emit queues ev unless the client was closed locally.
func (c *bridgeClient) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closing:
	}
}
