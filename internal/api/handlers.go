package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"

	"github.com/mailroom/mailroom/internal/scheduler"
	"github.com/mailroom/mailroom/internal/store"
)

// ErrorResponse represents an API error. Emails is set by the registry
// endpoints so clients can resync their list on conflicts.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Emails []string `json:"emails,omitempty"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned by POST /api/login.
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

// EmailRequest is the body of the registry add and remove endpoints.
type EmailRequest struct {
	Email string `json:"email" validate:"required"`
}

// EmailsResponse lists the managed mailboxes.
type EmailsResponse struct {
	Emails []string `json:"emails"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running bool                  `json:"running"`
	Jobs    []scheduler.JobStatus `json:"jobs"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

var errBadBody = errors.New("invalid JSON body")

// decodeBody reads a JSON request body into v. An empty body leaves v at
// its zero value.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		return errBadBody
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errBadBody
	}
	return nil
}

// validationFailed reports whether v fails its struct tags. Field errors
// are expected input mistakes; anything else is a programming error and is
// logged.
func (s *Server) validationFailed(v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return false
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		s.logger.Error("validate request", "error", err)
	}
	return true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Password = strings.TrimSpace(req.Password)

	ok := !s.validationFailed(&req) &&
		constantTimeEqual(req.Username, s.cfg.Admin.Username) &&
		constantTimeEqual(req.Password, s.cfg.Admin.Password)
	if !ok {
		s.logger.Warn("failed admin login", "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, LoginResponse{Message: "Invalid username or password"})
		return
	}

	token, err := issueToken([]byte(s.cfg.Admin.SecretKey), req.Username, s.cfg.Server.TokenTTL, s.now())
	if err != nil {
		s.logger.Error("issue admin token", "error", err)
		writeError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Success: true, Token: token})
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := s.mailboxes.ListMailboxes()
	if err != nil {
		s.logger.Error("list mailboxes", "error", err)
		writeError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, EmailsResponse{Emails: emails})
}

// readEmail decodes and validates an EmailRequest, writing the 400
// response itself when the address is missing.
func (s *Server) readEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req EmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return "", false
	}
	req.Email = strings.TrimSpace(req.Email)
	if s.validationFailed(&req) {
		writeError(w, http.StatusBadRequest, "Email is required.")
		return "", false
	}
	return req.Email, true
}

func (s *Server) handleAddEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := s.readEmail(w, r)
	if !ok {
		return
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email address.")
		return
	}

	emails, err := s.mailboxes.AddMailbox(email)
	if errors.Is(err, store.ErrMailboxExists) {
		current, _ := s.mailboxes.ListMailboxes()
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Email already exists.", Emails: current})
		return
	}
	if err != nil {
		s.logger.Error("add mailbox", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
		return
	}
	s.logger.Info("mailbox added", "email", email)
	writeJSON(w, http.StatusOK, EmailsResponse{Emails: emails})
}

func (s *Server) handleRemoveEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := s.readEmail(w, r)
	if !ok {
		return
	}

	emails, err := s.mailboxes.RemoveMailbox(email)
	if errors.Is(err, store.ErrMailboxNotFound) {
		current, _ := s.mailboxes.ListMailboxes()
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Email not found.", Emails: current})
		return
	}
	if err != nil {
		s.logger.Error("remove mailbox", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
		return
	}
	s.logger.Info("mailbox removed", "email", email)
	writeJSON(w, http.StatusOK, EmailsResponse{Emails: emails})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.dashboards == nil {
		writeError(w, http.StatusServiceUnavailable, "Analytics is not configured.")
		return
	}
	d, err := s.dashboards.Latest(r.Context())
	if err != nil {
		s.logger.Error("load analytics", "error", err)
		writeError(w, http.StatusBadGateway, "Analytics error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAnalyticsRefresh(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil || s.dashboards == nil {
		writeError(w, http.StatusServiceUnavailable, "Analytics is not configured.")
		return
	}
	err := s.scheduler.Trigger(AnalyticsJob)
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "A refresh is already running.")
	case errors.Is(err, scheduler.ErrUnknownJob), errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "Analytics refresh is not scheduled.")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Unexpected error: "+err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
	}
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerStatusResponse{Jobs: []scheduler.JobStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running: s.scheduler.IsRunning(),
		Jobs:    s.scheduler.Status(),
	})
}
