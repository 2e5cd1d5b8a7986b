package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callbridge/callbridge/internal/api"
	"github.com/callbridge/callbridge/internal/api/middleware"
	"github.com/callbridge/callbridge/internal/config"
	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/database/models"
	"github.com/callbridge/callbridge/internal/engine"
	"github.com/callbridge/callbridge/internal/events"
	"github.com/callbridge/callbridge/internal/identity"
	"github.com/callbridge/callbridge/internal/metrics"
	"github.com/callbridge/callbridge/internal/provider"
	"github.com/callbridge/callbridge/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callbridge",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"record_calls", cfg.RecordCalls,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	callLogs := database.NewCallLogRepository(db)
	activities := database.NewActivityRepository(db)
	contacts := database.NewContactRepository(db)
	agentUsers := database.NewAgentUserRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	if err := bootstrapAgentUser(appCtx, agentUsers); err != nil {
		slog.Error("failed to bootstrap agent user", "error", err)
		os.Exit(1)
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	// Provider call-control client plus the caches layered on it.
	telco := provider.NewClient(cfg.ProviderAPIURL, cfg.ProviderAPIKey, logger)
	credentials := provider.NewCredentialCache(telco, cfg.CredentialID, 0)
	callerIDs := provider.NewCallerIDPool(cfg.CallerIDList())

	// In-memory session store with a background sweep for abandoned calls.
	store := session.NewStore(cfg.SessionTTL(), logger)
	store.StartSweep(appCtx, cfg.SweepInterval())

	hub := events.NewHub(logger, corsWebsocketCheck(cfg))

	eng := engine.New(engine.Config{
		Store:       store,
		Provider:    telco,
		SIPSource:   credentials,
		CallerIDs:   callerIDs,
		CallLogs:    callLogs,
		Activities:  activities,
		Resolver:    identity.NewResolver(contacts),
		Publisher:   hub,
		Logger:      logger,
		RecordCalls: cfg.RecordCalls,
	})

	// Prometheus registry with the engine collector.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(eng, hub, time.Now()),
		collectors.NewGoCollector(),
	)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	handler := api.NewServer(cfg, eng, hub, callLogs, agentUsers, jwtSecret, metricsHandler, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callbridge stopped")
}

// bootstrapAgentUser creates a first agent account on an empty database so
// the instance is usable out of the box. The generated password is logged
// once; it should be changed immediately.
func bootstrapAgentUser(ctx context.Context, agentUsers database.AgentUserRepository) error {
	count, err := agentUsers.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting agent users: %w", err)
	}
	if count > 0 {
		return nil
	}

	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := identity.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &models.AgentUser{Username: "agent", PasswordHash: hash}
	if err := agentUsers.Create(ctx, user); err != nil {
		return fmt.Errorf("creating agent user: %w", err)
	}

	slog.Warn("created initial agent user, change this password",
		"username", user.Username,
		"password", password,
	)
	return nil
}

// corsWebsocketCheck builds the websocket origin check from the configured
// CORS origins. Requests without an Origin header (non-browser clients such
// as the agent binary) are always allowed.
func corsWebsocketCheck(cfg *config.Config) func(r *http.Request) bool {
	origins := middleware.ParseCORSOrigins(cfg.CORSOrigins)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
