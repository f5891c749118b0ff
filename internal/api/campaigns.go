package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/journal"
	"github.com/foxzi/reviewdesk/internal/lifecycle"
	"github.com/foxzi/reviewdesk/internal/reconcile"
	"github.com/foxzi/reviewdesk/internal/session"
	"github.com/foxzi/reviewdesk/internal/store"
)

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []campaign.Campaign `json:"campaigns"`
	Total     int                 `json:"total"`
}

// CampaignResponse carries a campaign and the actions its status allows
type CampaignResponse struct {
	campaign.Campaign
	Allowed        []lifecycle.Action        `json:"allowed_actions"`
	Reconciliation *reconcile.Reconciliation `json:"reconciliation,omitempty"`
}

// ActionRequest is the request body for POST /campaigns/{id}/actions
type ActionRequest struct {
	Action  string            `json:"action"`
	Payload lifecycle.Payload `json:"payload"`
}

// ActionResponse is returned once an action is applied locally
type ActionResponse struct {
	Reconciliation reconcile.Reconciliation `json:"reconciliation"`
	Campaign       *campaign.Campaign       `json:"campaign,omitempty"`
	Warning        string                   `json:"warning,omitempty"`
}

// DesignerRequest is the request body for POST /designers
type DesignerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DesignerResponse is returned by POST /designers
type DesignerResponse struct {
	Designer campaign.Designer `json:"designer"`
	Warning  string            `json:"warning,omitempty"`
}

// ReconciliationsResponse is the response for GET /reconciliations
type ReconciliationsResponse struct {
	Current []reconcile.Reconciliation `json:"current"`
	History []journal.Entry            `json:"history"`
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	q := r.URL.Query()

	var statuses map[campaign.Status]bool
	if raw := q.Get("status"); raw != "" {
		statuses = make(map[campaign.Status]bool)
		for _, part := range strings.Split(raw, ",") {
			st, ok := campaign.ParseStatus(part)
			if !ok {
				s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses[st] = true
		}
	}

	var queue map[campaign.Status]bool
	if !session.Permitted(sess.User.Role, session.PermViewAll) {
		queue = make(map[campaign.Status]bool)
		for _, st := range session.DesignerQueue {
			queue[st] = true
		}
	}

	designer := strings.ToLower(strings.TrimSpace(q.Get("designer")))

	out := make([]campaign.Campaign, 0)
	for _, c := range s.ctrl.GetCampaigns() {
		if statuses != nil && !statuses[c.Status] {
			continue
		}
		if queue != nil && !queue[c.Status] {
			continue
		}
		if designer != "" && !matchesDesigner(c, designer) {
			continue
		}
		out = append(out, c)
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: out, Total: len(out)})
}

func matchesDesigner(c campaign.Campaign, q string) bool {
	return strings.EqualFold(c.DesignerID, q) ||
		strings.EqualFold(c.DesignerEmail, q) ||
		strings.EqualFold(c.DesignerName, q)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.ctrl.GetCampaign(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := CampaignResponse{Campaign: c, Allowed: lifecycle.Allowed(c.Status)}
	if rec, ok := s.ctrl.Reconciliation(c.ID); ok {
		resp.Reconciliation = &rec
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var d reconcile.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.ctrl.Create(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.RemoteErr != nil {
		status = http.StatusAccepted
	}
	s.sendJSON(w, status, actionResponse(res))
}

// handleAction handles POST /api/v1/campaigns/{id}/actions
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	action, ok := lifecycle.ParseAction(req.Action)
	if !ok {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	// file bodies only arrive through the multipart design endpoint
	if len(req.Payload.Files) > 0 || req.Payload.ThumbnailFile != "" {
		s.sendError(w, http.StatusBadRequest, "files must be uploaded as multipart to the design endpoint")
		return
	}

	s.dispatch(w, r, reconcile.Request{
		CampaignID: chi.URLParam(r, "id"),
		Action:     action,
		Payload:    req.Payload,
	})
}

// handleUploadDesign handles POST /api/v1/campaigns/{id}/design. Design
// files go in "design" parts, the thumbnail in "thumbnail". Links may be
// sent as design_url and thumbnail_url fields instead.
func (s *Server) handleUploadDesign(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	p := lifecycle.Payload{
		DesignURL:    strings.TrimSpace(r.FormValue("design_url")),
		ThumbnailURL: strings.TrimSpace(r.FormValue("thumbnail_url")),
	}

	var files []gateway.Attachment
	for _, fh := range r.MultipartForm.File["design"] {
		a, err := readAttachment("design", fh)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, a)
		p.Files = append(p.Files, fh.Filename)
	}
	if thumbs := r.MultipartForm.File["thumbnail"]; len(thumbs) > 0 {
		a, err := readAttachment("thumbnail", thumbs[0])
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, a)
		p.ThumbnailFile = thumbs[0].Filename
	}

	s.dispatch(w, r, reconcile.Request{
		CampaignID:  chi.URLParam(r, "id"),
		Action:      lifecycle.ActionSubmitDesign,
		Payload:     p,
		Attachments: files,
	})
}

func readAttachment(field string, fh *multipart.FileHeader) (gateway.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return gateway.Attachment{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return gateway.Attachment{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return gateway.Attachment{
		Field:       field,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req reconcile.Request) {
	if err := session.Authorize(sessionFrom(r.Context()), string(req.Action)); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.ctrl.Dispatch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.RemoteErr != nil || res.Reconciliation.State == reconcile.StatePending {
		status = http.StatusAccepted
	}
	s.sendJSON(w, status, actionResponse(res))
}

func actionResponse(res *reconcile.Result) ActionResponse {
	return ActionResponse{
		Reconciliation: res.Reconciliation,
		Campaign:       res.Campaign,
		Warning:        res.Warning(),
	}
}

// handleGetReconciliation handles GET /api/v1/campaigns/{id}/reconciliation
func (s *Server) handleGetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ctrl.Reconciliation(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, store.ErrNotFound)
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}

// handleCancelReconciliation handles DELETE /api/v1/campaigns/{id}/reconciliation
func (s *Server) handleCancelReconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.ctrl.Reconciliation(id)
	if !ok || rec.State.Done() {
		s.sendError(w, http.StatusNotFound, "no reconciliation in flight")
		return
	}
	// canceling needs the same right as the action being canceled
	if err := session.Authorize(sessionFrom(r.Context()), rec.Action); err != nil {
		s.writeError(w, err)
		return
	}

	if !s.ctrl.Cancel(id) {
		s.sendError(w, http.StatusNotFound, "no reconciliation in flight")
		return
	}
	s.logger.Info("reconciliation canceled", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateCaption handles POST /api/v1/campaigns/{id}/caption/generate.
// The suggestion is returned for review; nothing is written.
func (s *Server) handleGenerateCaption(w http.ResponseWriter, r *http.Request) {
	if err := session.Authorize(sessionFrom(r.Context()), string(lifecycle.ActionEditCaption)); err != nil {
		s.writeError(w, err)
		return
	}

	c, err := s.ctrl.GetCampaign(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.captions.Generate(r.Context(), c))
}

// handleListDesigners handles GET /api/v1/designers
func (s *Server) handleListDesigners(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.ctrl.GetDesigners())
}

// handleAddDesigner handles POST /api/v1/designers
func (s *Server) handleAddDesigner(w http.ResponseWriter, r *http.Request) {
	var req DesignerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	d, err := s.ctrl.AddDesigner(r.Context(), req.Name, req.Email)
	if errors.Is(err, reconcile.ErrInvalidDesigner) {
		s.writeError(w, err)
		return
	}

	resp := DesignerResponse{Designer: d}
	status := http.StatusCreated
	if err != nil {
		resp.Warning = "saved locally, backend did not confirm: " + err.Error()
		status = http.StatusAccepted
	}
	s.sendJSON(w, status, resp)
}

// handleListReconciliations handles GET /api/v1/reconciliations
func (s *Server) handleListReconciliations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := ReconciliationsResponse{
		Current: s.ctrl.Reconciliations(),
		History: []journal.Entry{},
	}

	if s.history != nil {
		limit, _ := strconv.Atoi(q.Get("limit"))
		entries, err := s.history.List(r.Context(), journal.ListFilter{
			CampaignID: q.Get("campaign_id"),
			State:      q.Get("state"),
			Limit:      limit,
		})
		if err != nil {
			s.logger.Error("failed to list reconciliations", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to list reconciliations")
			return
		}
		if entries != nil {
			resp.History = entries
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleSync handles POST /api/v1/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Sync(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	list := s.ctrl.GetCampaigns()
	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: list, Total: len(list)})
}
