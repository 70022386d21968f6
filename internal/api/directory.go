package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wagate/wagate/internal/store"
)

// ---- Chats -----------------------------------------------------------------

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, invalid("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	msgs, err := s.store.ListConversation(r.Context(), tenantFrom(r), chi.URLParam(r, "jid"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ---- Contacts and templates ------------------------------------------------

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListContacts(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var c store.Contact
	if err := decode(r, &c); err != nil {
		writeError(w, err)
		return
	}
	c.Name, c.Phone = strings.TrimSpace(c.Name), strings.TrimSpace(c.Phone)
	if c.Name == "" || c.Phone == "" {
		writeError(w, invalid("name and phone are required"))
		return
	}
	c.TenantID = tenantFrom(r)
	if err := s.store.CreateContact(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err == nil {
		err = s.store.DeleteContact(r.Context(), tenantFrom(r), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListTemplates(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t store.Template
	if err := decode(r, &t); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(t.Name) == "" || t.Content == "" {
		writeError(w, invalid("name and content are required"))
		return
	}
	t.TenantID = tenantFrom(r)
	if err := s.store.CreateTemplate(r.Context(), &t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ---- Settings and auto-replies ---------------------------------------------

// reload refreshes the session manager's cached settings after an edit.
// The edit itself already succeeded, so a failure is only logged.
func (s *Server) reload(ctx context.Context) {
	if err := s.sessions.LoadSettings(ctx); err != nil {
		slog.Warn("api: reload settings", "err", err)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	for k, v := range body {
		if strings.TrimSpace(k) == "" {
			writeError(w, invalid("setting keys must not be empty"))
			return
		}
		if err := s.store.SetSetting(r.Context(), k, v); err != nil {
			writeError(w, err)
			return
		}
	}
	s.reload(r.Context())
	s.handleGetSettings(w, r)
}

func (s *Server) handleListAutoReplies(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAutoReplies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateAutoReply(w http.ResponseWriter, r *http.Request) {
	rule := store.AutoReply{Enabled: true}
	if err := decode(r, &rule); err != nil {
		writeError(w, err)
		return
	}
	if rule.Reply == "" {
		writeError(w, invalid("reply is required"))
		return
	}
	if err := s.store.CreateAutoReply(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	s.reload(r.Context())
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleToggleAutoReply(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, invalid("enabled is required"))
		return
	}
	if err := s.store.SetAutoReplyEnabled(r.Context(), id, *body.Enabled); err != nil {
		writeError(w, err)
		return
	}
	s.reload(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *body.Enabled})
}

func (s *Server) handleDeleteAutoReply(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err == nil {
		err = s.store.DeleteAutoReply(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.reload(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ---- API keys --------------------------------------------------------------

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListAPIKeys(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCreateAPIKey returns the plaintext key. It is never shown again.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	plaintext, err := store.GenerateAPIKey()
	if err != nil {
		writeError(w, err)
		return
	}
	k, err := s.store.CreateAPIKey(r.Context(), tenantFrom(r), strings.TrimSpace(body.Name), plaintext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": plaintext, "apiKey": k})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err == nil {
		err = s.store.DeleteAPIKey(r.Context(), tenantFrom(r), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
