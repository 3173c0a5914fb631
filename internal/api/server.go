// Package api provides the HTTP gateway between admin clients and the
// Gmail mailboxes of a Workspace domain.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/mailroom/mailroom/internal/analytics"
	"github.com/mailroom/mailroom/internal/config"
	"github.com/mailroom/mailroom/internal/scheduler"
)

// MailboxStore defines the mailbox registry operations the API needs.
type MailboxStore interface {
	ListMailboxes() ([]string, error)
	AddMailbox(address string) ([]string, error)
	RemoveMailbox(address string) ([]string, error)
}

// Dashboards serves the cached analytics dashboard.
type Dashboards interface {
	Latest(ctx context.Context) (*analytics.Dashboard, error)
}

// JobScheduler defines the scheduler operations the API needs.
type JobScheduler interface {
	Trigger(name string) error
	Status() []scheduler.JobStatus
	IsRunning() bool
}

// AnalyticsJob is the scheduler job name of the dashboard refresh.
const AnalyticsJob = "analytics"

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	mailboxes   MailboxStore
	clients     GmailClients
	dashboards  Dashboards
	scheduler   JobScheduler
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithDashboards enables the analytics endpoints.
func WithDashboards(d Dashboards) Option {
	return func(s *Server) { s.dashboards = d }
}

// WithScheduler exposes scheduler status and manual refresh.
func WithScheduler(js JobScheduler) Option {
	return func(s *Server) { s.scheduler = js }
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, mailboxes MailboxStore, clients GmailClients, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		mailboxes: mailboxes,
		clients:   clients,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	corsConfig := DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = s.cfg.Server.CORSCredentials
	r.Use(CORSMiddleware(corsConfig))

	rps := s.cfg.Server.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	s.rateLimiter = NewRateLimiter(rps, int(2*rps))
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/emails", s.handleListEmails)
			r.Post("/emails", s.handleAddEmail)
			r.Delete("/emails", s.handleRemoveEmail)

			r.Route("/mailbox/{email}", func(r chi.Router) {
				r.Get("/overview", s.handleOverview)
				r.Get("/messages", s.handleListMessages)
				r.Post("/messages/bulk", s.handleBulk)
				r.Post("/send", s.handleSend)
				r.Get("/attachments/{messageId}/{attachmentId}", s.handleAttachment)
			})

			r.Get("/analytics", s.handleAnalytics)
			r.Post("/analytics/refresh", s.handleAnalyticsRefresh)
			r.Get("/scheduler/status", s.handleSchedulerStatus)
		})
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddr()
	if s.cfg.InsecureAdmin() {
		s.logger.Warn("admin password or secret key is the built-in default; set ADMIN_PASSWORD and SECRET_KEY")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware accepts an admin token issued by /api/login or, when one
// is configured, the machine API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := r.Header.Get("X-API-Key")
		if cred == "" {
			cred = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}

		if cred != "" {
			if s.cfg.Server.APIKey != "" && constantTimeEqual(cred, s.cfg.Server.APIKey) {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := parseToken([]byte(s.cfg.Admin.SecretKey), cred, s.now); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		s.logger.Warn("unauthorized API request",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		writeError(w, http.StatusUnauthorized, "Invalid or missing credentials.")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
