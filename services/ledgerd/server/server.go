// Package server exposes the ledger engine over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"drivechain/core/ledger"
	"drivechain/core/notify"
	gwmw "drivechain/gateway/middleware"
	ledgerdmw "drivechain/services/ledgerd/middleware"
)

const wsWriteTimeout = 10 * time.Second

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine        *ledger.Engine
	Notifier      *notify.Notifier
	DB            *gorm.DB
	Auth          gwmw.AuthConfig
	RateLimit     gwmw.RateLimit
	CORS          gwmw.CORSConfig
	Logger        *slog.Logger
	StreamBuffer  int
	StreamTimeout time.Duration
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine   *ledger.Engine
	notifier *notify.Notifier
	db       *gorm.DB
	logger   *slog.Logger

	auth          *gwmw.Authenticator
	limiter       *gwmw.RateLimiter
	obs           *gwmw.Observability
	idempotency   *ledgerdmw.Idempotency
	cors          gwmw.CORSConfig
	streamBuffer  int
	streamTimeout time.Duration

	router http.Handler
}

// New constructs a configured HTTP router with authentication and idempotency support.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 256
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = wsWriteTimeout
	}
	cfg.Auth.OptionalPaths = append(cfg.Auth.OptionalPaths, "/v1/", "/healthz", "/metrics")
	srv := &Server{
		engine:        cfg.Engine,
		notifier:      cfg.Notifier,
		db:            cfg.DB,
		logger:        logger,
		cors:          cfg.CORS,
		streamBuffer:  cfg.StreamBuffer,
		streamTimeout: cfg.StreamTimeout,
	}
	srv.auth = gwmw.NewAuthenticator(cfg.Auth, logger, srv.writeAuthError)
	srv.limiter = gwmw.NewRateLimiter(cfg.RateLimit, logger, srv.writeAuthError)
	srv.obs = gwmw.NewObservability(gwmw.ObservabilityConfig{MetricsPrefix: "ledgerd", LogRequests: true}, logger)
	srv.idempotency = ledgerdmw.NewIdempotency(cfg.DB, logger)
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Authenticator exposes the token issuer used by the server.
func (s *Server) Authenticator() *gwmw.Authenticator {
	return s.auth
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.obs.Middleware)
	r.Use(gwmw.CORS(s.cors))
	r.Use(s.auth.Middleware)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/auth/token", s.IssueToken)

		api.Get("/records", s.ListRecords)
		api.Get("/records/{id}", s.GetRecord)
		api.Get("/records/{id}/points", s.GetRecordPoints)
		api.Get("/points/balance/{address}", s.GetBalance)
		api.Get("/multipliers", s.ListMultipliers)
		api.Get("/multipliers/{serviceType}", s.GetMultiplier)
		api.Get("/verifiers/{address}", s.GetVerifier)
		api.Get("/events", s.ListEvents)
		api.Get("/events/stream", s.StreamEvents)

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.RequireCaller)
			protected.Use(s.idempotency.Middleware)
			protected.Post("/mint", s.Mint)
			protected.Post("/records/{id}/verify", s.VerifyRecord)
			protected.Post("/records/{id}/award", s.AwardRecord)
			protected.Post("/points/transfer", s.Transfer)
			protected.Post("/multipliers/{serviceType}", s.SetMultiplier)
			protected.Post("/verifiers", s.SetVerifier)
		})
	})

	return otelhttp.NewHandler(r, "ledgerd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Health reports liveness together with the change feed head.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"feedHead": s.engine.Journal().Head(),
	})
}
