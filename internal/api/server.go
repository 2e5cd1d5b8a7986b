package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/callbridge/callbridge/internal/api/middleware"
	"github.com/callbridge/callbridge/internal/config"
	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/engine"
	"github.com/callbridge/callbridge/internal/events"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	engine     *engine.Engine
	hub        *events.Hub
	callLogs   database.CallLogRepository
	agentUsers database.AgentUserRepository
	jwtSecret  []byte
	metrics    http.Handler
	logger     *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
// metricsHandler serves GET /metrics; pass nil to disable the endpoint.
func NewServer(
	cfg *config.Config,
	eng *engine.Engine,
	hub *events.Hub,
	callLogs database.CallLogRepository,
	agentUsers database.AgentUserRepository,
	jwtSecret []byte,
	metricsHandler http.Handler,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		engine:     eng,
		hub:        hub,
		callLogs:   callLogs,
		agentUsers: agentUsers,
		jwtSecret:  jwtSecret,
		metrics:    metricsHandler,
		logger:     logger.With("subsystem", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	apiLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	authLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)

		r.With(middleware.RateLimit(authLimiter)).
			Post("/auth/login", s.handleLogin)

		// Provider webhook ingress. Authenticated by obscurity of the
		// configured callback URL plus rate limiting; must always ack
		// parseable events with 2xx.
		r.With(middleware.RateLimit(apiLimiter)).
			Post("/webhooks/telco", s.handleTelcoWebhook)

		// Agent routes behind JWT auth.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAgentAuth(s.jwtSecret))

			r.Get("/auth/me", s.handleMe)
			r.Get("/events", s.hub.ServeHTTP)

			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Post("/dial", s.handleDial)
				r.Post("/{sessionID}/hangup", s.handleHangupCall)
			})
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.logger.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
