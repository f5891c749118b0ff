package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/lifecycle"
	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/reconcile"
	"github.com/foxzi/reviewdesk/internal/session"
	"github.com/foxzi/reviewdesk/internal/store"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Campaigns int    `json:"campaigns"`
}

// LoginRequest is the request body for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the current login
type SessionResponse struct {
	Token     string        `json:"token,omitempty"`
	User      campaign.User `json:"user"`
	Theme     string        `json:"theme"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// PasswordRequest is the request body for POST /auth/password
type PasswordRequest struct {
	Password string `json:"password"`
}

// PreferencesRequest is the request body for PUT /auth/preferences
type PreferencesRequest struct {
	Theme string `json:"theme"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Campaigns: len(s.ctrl.GetCampaigns()),
	})
}

// handleLogin handles POST /api/v1/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	s.sendJSON(w, http.StatusOK, SessionResponse{
		Token:     sess.Token,
		User:      sess.User,
		Theme:     sess.Theme,
		ExpiresAt: sess.ExpiresAt,
	})
}

// handleMe handles GET /api/v1/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	s.sendJSON(w, http.StatusOK, SessionResponse{User: sess.User, Theme: sess.Theme, ExpiresAt: sess.ExpiresAt})
}

// handleLogout handles POST /api/v1/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(sessionFrom(r.Context()).Token); err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword handles POST /api/v1/auth/password
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.sessions.ChangePassword(r.Context(), sessionFrom(r.Context()).Token, req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreferences handles PUT /api/v1/auth/preferences
func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token := sessionFrom(r.Context()).Token
	if err := s.sessions.SetTheme(token, req.Theme); err != nil {
		s.writeError(w, err)
		return
	}

	sess, err := s.sessions.Lookup(token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{User: sess.User, Theme: sess.Theme, ExpiresAt: sess.ExpiresAt})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps domain errors to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	metrics.IncAPIErrors(kind)
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	s.sendError(w, status, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, reconcile.ErrActionInFlight):
		return http.StatusConflict, "action_in_flight"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrInvalidCredentials), errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, reconcile.ErrInvalidDraft),
		errors.Is(err, reconcile.ErrInvalidDesigner),
		errors.Is(err, session.ErrInvalidPassword),
		errors.Is(err, session.ErrInvalidTheme):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, gateway.ErrRemoteRead), errors.Is(err, gateway.ErrRemoteWrite):
		return http.StatusBadGateway, "remote"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
