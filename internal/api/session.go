package api

import (
	"net/http"
	"strings"

	"github.com/wagate/wagate/internal/whatsapp"
)

// handleStatus starts the tenant's session on first use, like opening the
// dashboard does, so a QR challenge becomes available.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	s.sessions.EnsureSession(tenant, "")
	writeJSON(w, http.StatusOK, s.sessions.Status(tenant))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}
	tenant := tenantFrom(r)
	s.sessions.EnsureSession(tenant, body.PhoneNumber)
	writeJSON(w, http.StatusAccepted, s.sessions.Status(tenant))
}

func (s *Server) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.PhoneNumber) == "" {
		writeError(w, invalid("phoneNumber is required"))
		return
	}

	code, err := s.sessions.RequestPairingCode(r.Context(), tenantFrom(r), body.PhoneNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pairingCode": code})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To        string `json:"to"`
		Message   string `json:"message"`
		ReplyToID *int64 `json:"reply_to_id"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.To) == "" || body.Message == "" {
		writeError(w, invalid(`both "to" and "message" are required`))
		return
	}

	res, err := s.sessions.Send(r.Context(), tenantFrom(r), body.To, body.Message, body.ReplyToID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": res.MessageID,
		"to":        res.To,
		"message":   body.Message,
	})
}

func (s *Server) handleSendInteractive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To string `json:"to"`
		whatsapp.Interactive
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.To) == "" || len(body.Buttons) == 0 {
		writeError(w, invalid(`"to" and "interactiveButtons" are required`))
		return
	}

	res, err := s.sessions.SendInteractive(r.Context(), tenantFrom(r), body.To, body.Interactive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": res.ID,
		"to":        whatsapp.NormalizeAddress(body.To),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), tenantFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	if _, err := s.sessions.ResetSession(r.Context(), tenant); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": s.sessions.Status(tenant)})
}
