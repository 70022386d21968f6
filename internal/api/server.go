// Package api is the tenant-facing HTTP surface of the gateway.
//
// Every route under /api except /api/health requires an API key, passed in
// the X-API-Key header or the api_key query parameter. The key resolves the
// tenant the request acts for.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/session"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// Sessions is the session-manager surface the API drives.
type Sessions interface {
	EnsureSession(tenantID, pairingPhone string) *session.Session
	Status(tenantID string) session.Status
	Send(ctx context.Context, tenantID, to, text string, replyToID *int64) (*session.SendResult, error)
	SendInteractive(ctx context.Context, tenantID, to string, content whatsapp.Interactive) (*whatsapp.SendResult, error)
	RequestPairingCode(ctx context.Context, tenantID, phone string) (string, error)
	Logout(ctx context.Context, tenantID string) error
	ResetSession(ctx context.Context, tenantID string) (*session.Session, error)
	LoadSettings(ctx context.Context) error
}

// Store is the datastore surface the API reads and edits.
type Store interface {
	TenantByAPIKey(ctx context.Context, plaintext string) (string, error)
	CreateAPIKey(ctx context.Context, tenantID, name, plaintext string) (*store.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]store.APIKey, error)
	DeleteAPIKey(ctx context.Context, tenantID string, id int64) error

	CreateCampaign(ctx context.Context, c *store.Campaign) error
	ListCampaigns(ctx context.Context, tenantID string) ([]store.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*store.Campaign, error)

	ListChats(ctx context.Context, tenantID string) ([]store.Message, error)
	ListConversation(ctx context.Context, tenantID, chatJID string, limit int) ([]store.Message, error)

	ListContacts(ctx context.Context, tenantID string) ([]store.Contact, error)
	CreateContact(ctx context.Context, c *store.Contact) error
	DeleteContact(ctx context.Context, tenantID string, id int64) error
	ListTemplates(ctx context.Context, tenantID string) ([]store.Template, error)
	CreateTemplate(ctx context.Context, t *store.Template) error

	Settings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListAutoReplies(ctx context.Context) ([]store.AutoReply, error)
	CreateAutoReply(ctx context.Context, r *store.AutoReply) error
	SetAutoReplyEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteAutoReply(ctx context.Context, id int64) error
}

// Options carries the HTTP settings and campaign defaults.
type Options struct {
	Addr           string
	AllowedOrigins []string
	ThrottleMinMs  int
	ThrottleMaxMs  int
}

// Server serves the REST routes and the per-tenant event stream.
type Server struct {
	opts     Options
	sessions Sessions
	store    Store
	hub      *bus.Hub
	router   chi.Router
}

func NewServer(opts Options, sessions Sessions, st Store, hub *bus.Hub) *Server {
	s := &Server{opts: opts, sessions: sessions, store: st, hub: hub}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/status", s.handleStatus)
			r.Post("/connect", s.handleConnect)
			r.Post("/pairing-code", s.handlePairingCode)
			r.Post("/send-message", s.handleSendMessage)
			r.Post("/send-interactive", s.handleSendInteractive)
			r.Post("/send-bulk", s.handleSendBulk)
			r.Post("/logout", s.handleLogout)
			r.Post("/reset-session", s.handleResetSession)

			r.Get("/campaigns", s.handleListCampaigns)
			r.Post("/campaigns", s.handleCreateCampaign)
			r.Get("/campaigns/{id}", s.handleGetCampaign)

			r.Get("/chats", s.handleListChats)
			r.Get("/chats/{jid}/messages", s.handleConversation)

			r.Get("/contacts", s.handleListContacts)
			r.Post("/contacts", s.handleCreateContact)
			r.Delete("/contacts/{id}", s.handleDeleteContact)
			r.Get("/templates", s.handleListTemplates)
			r.Post("/templates", s.handleCreateTemplate)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)
			r.Get("/auto-replies", s.handleListAutoReplies)
			r.Post("/auto-replies", s.handleCreateAutoReply)
			r.Patch("/auto-replies/{id}", s.handleToggleAutoReply)
			r.Delete("/auto-replies/{id}", s.handleDeleteAutoReply)

			r.Get("/api-keys", s.handleListAPIKeys)
			r.Post("/api-keys", s.handleCreateAPIKey)
			r.Delete("/api-keys/{id}", s.handleDeleteAPIKey)

			r.Get("/ws", s.handleWebSocket)
		})
	})
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api: shutdown", "err", err)
	}
	slog.Info("api: stopped")
	return nil
}

// ---- Authentication --------------------------------------------------------

type tenantKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Details: "API key required"})
			return
		}

		tenant, err := s.store.TenantByAPIKey(r.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Details: "invalid API key"})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

func tenantFrom(r *http.Request) string {
	t, _ := r.Context().Value(tenantKey{}).(string)
	return t
}

// ---- Responses -------------------------------------------------------------

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// validationError is a malformed or incomplete request.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error { return &validationError{msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		verr *validationError
		aerr *session.AdapterError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.Is(err, session.ErrAlreadyConnected):
		return http.StatusBadRequest, "already_connected"
	case errors.Is(err, session.ErrConnectionNotReady):
		return http.StatusServiceUnavailable, "connection_not_ready"
	case errors.As(err, &aerr):
		return http.StatusBadGateway, "adapter_error"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("api: request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: code, Details: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("invalid JSON body: " + err.Error())
	}
	return nil
}
