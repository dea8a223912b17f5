package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/leadline/leadline/internal/api/middleware"
	"github.com/leadline/leadline/internal/config"
	"github.com/leadline/leadline/internal/database"
	"github.com/leadline/leadline/internal/telephony"
)

// Stores bundles the persistence dependencies for the HTTP server.
type Stores struct {
	Configs database.SystemConfigRepository
	Users   database.AdminUserRepository
	Leads   database.LeadRepository
	Records database.CallRecordRepository
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router      *chi.Mux
	cfg         *config.Config
	sessions    *middleware.SessionStore
	jwtSecret   []byte
	configs     database.SystemConfigRepository
	users       database.AdminUserRepository
	leads       database.LeadRepository
	records     database.CallRecordRepository
	phone       *telephony.Manager
	metrics     http.Handler
	limiter     *middleware.IPRateLimiter
	authLimiter *middleware.IPRateLimiter
	startTime   time.Time
}

// NewServer creates the HTTP handler with all routes mounted. The metrics
// handler is mounted at /metrics when non-nil.
func NewServer(cfg *config.Config, stores Stores, phone *telephony.Manager, metricsHandler http.Handler) (*Server, error) {
	secret, err := cfg.JWTSecretBytes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		sessions:    middleware.NewSessionStore(),
		jwtSecret:   secret,
		configs:     stores.Configs,
		users:       stores.Users,
		leads:       stores.Leads,
		records:     stores.Records,
		phone:       phone,
		metrics:     metricsHandler,
		limiter:     middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		authLimiter: middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
		startTime:   time.Now(),
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sessions exposes the session store so the caller can run the expiry
// cleanup ticker.
func (s *Server) Sessions() *middleware.SessionStore {
	return s.sessions
}

// Close stops the rate limiter cleanup goroutines.
func (s *Server) Close() {
	s.limiter.Stop()
	s.authLimiter.Stop()
}

// requireAuth authenticates a request by session cookie, or by bearer token
// when an Authorization header is present. Token requests skip CSRF since
// the token itself is the proof of intent.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	session := middleware.RequireAuth(s.sessions, s.cfg.TLSEnabled())(next)
	token := middleware.RequireTokenAuth(s.jwtSecret)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			token.ServeHTTP(w, r)
			return
		}
		session.ServeHTTP(w, r)
	})
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled()))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.RateLimit(s.limiter))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.Post("/setup", s.handleSetup)

		// Login carries its own tighter rate limit.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.authLimiter))
			r.Post("/auth/login", s.handleLogin)
		})

		// Everything below requires a session or a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/token", s.handleIssueToken)

			r.Route("/dialer", func(r chi.Router) {
				r.Post("/call", s.handleDialerCall)
				r.Post("/hangup", s.handleDialerHangup)
				r.Post("/hold", s.handleDialerHold)
				r.Post("/mute", s.handleDialerMute)
				r.Get("/session", s.handleDialerSession)
				r.Get("/connection", s.handleDialerConnection)
				r.Post("/connection/reset", s.handleDialerConnectionReset)
				r.Get("/events", s.handleDialerEvents)
			})

			r.Route("/records", func(r chi.Router) {
				r.Get("/", s.handleListRecords)
				r.Get("/recent", s.handleRecentRecords)
				r.Get("/export", s.handleExportRecords)
				r.Get("/stats", s.handleRecordStats)
				r.Get("/{id}", s.handleGetRecord)
			})

			r.Route("/leads", func(r chi.Router) {
				r.Get("/", s.handleListLeads)
				r.Post("/", s.handleCreateLead)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetLead)
					r.Put("/", s.handleUpdateLead)
					r.Delete("/", s.handleDeleteLead)
					r.Get("/records", s.handleLeadRecords)
				})
			})

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Get("/system/status", s.handleSystemStatus)
		})
	})

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
