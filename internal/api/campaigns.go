package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wagate/wagate/internal/store"
)

// recipients accepts either a newline-delimited string or a JSON array.
type recipients []string

func (r *recipients) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err == nil {
		*r = store.ParseRecipients(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*r = store.ParseRecipients(strings.Join(list, "\n"))
	return nil
}

type campaignRequest struct {
	Name        string     `json:"name"`
	Message     string     `json:"message"`
	TemplateID  *int64     `json:"templateId"`
	Numbers     recipients `json:"numbers"`
	StartAt     string     `json:"startAt"`
	ThrottleMin *int       `json:"throttleMin"`
	ThrottleMax *int       `json:"throttleMax"`
}

// campaign validates the request and builds the record. startAt is RFC 3339;
// empty means due immediately.
func (s *Server) campaign(tenant string, req campaignRequest) (*store.Campaign, error) {
	if len(req.Numbers) == 0 {
		return nil, invalid("numbers must contain at least one recipient")
	}
	if req.TemplateID == nil && strings.TrimSpace(req.Message) == "" {
		return nil, invalid("either message or templateId is required")
	}

	c := &store.Campaign{
		TenantID:      tenant,
		Name:          strings.TrimSpace(req.Name),
		MessageBody:   req.Message,
		TemplateID:    req.TemplateID,
		Recipients:    req.Numbers,
		ThrottleMinMs: s.opts.ThrottleMinMs,
		ThrottleMaxMs: s.opts.ThrottleMaxMs,
	}
	if req.ThrottleMin != nil {
		c.ThrottleMinMs = *req.ThrottleMin
	}
	if req.ThrottleMax != nil {
		c.ThrottleMaxMs = *req.ThrottleMax
	}
	if c.ThrottleMinMs < 0 || c.ThrottleMaxMs < c.ThrottleMinMs {
		return nil, invalid("throttle bounds must satisfy 0 <= throttleMin <= throttleMax")
	}

	if req.StartAt != "" {
		at, err := time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			return nil, invalid("startAt must be RFC 3339")
		}
		c.ScheduledAt = at
	}
	if c.Name == "" {
		c.Name = "Bulk " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	return c, nil
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request, immediate bool) {
	var req campaignRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if immediate {
		req.StartAt = ""
	}
	c, err := s.campaign(tenantFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateCampaign(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	s.createCampaign(w, r, false)
}

// handleSendBulk queues an immediately-due campaign; the scheduler picks it
// up on its next poll.
func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	s.createCampaign(w, r, true)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCampaigns(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.store.GetCampaign(r.Context(), id)
	if err == nil && c.TenantID != tenantFrom(r) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("invalid id")
	}
	return id, nil
}
