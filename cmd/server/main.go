package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sevaarogya/dictation-gateway/internal/config"
	"github.com/sevaarogya/dictation-gateway/internal/gateway"
	"github.com/sevaarogya/dictation-gateway/internal/observability"
	"github.com/sevaarogya/dictation-gateway/internal/session"
	"github.com/sevaarogya/dictation-gateway/internal/store"
	"github.com/sevaarogya/dictation-gateway/internal/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.DeepgramModel).
		Int("max_sessions", cfg.MaxSessions).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dictation Gateway starting")

	// Transcript persistence: PostgreSQL when configured, in-memory
	// records otherwise.
	var transcripts store.TranscriptStore
	var dbCheck observability.HealthCheckFunc
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create database pool")
		}
		defer pool.Close()
		pg := store.NewPostgresTranscriptStore(pool)
		transcripts = pg
		dbCheck = pg.Ping
		logger.Info().Msg("Transcript persistence: PostgreSQL")
	} else {
		transcripts = store.NewMemoryTranscriptStore()
		logger.Warn().Msg("DATABASE_URL not set, transcript records are in-memory only")
	}

	// Audio archival: filesystem when configured, in-memory otherwise.
	var objects store.ObjectStore
	if cfg.AudioStoreDir != "" {
		objects = &store.FileObjectStore{BaseDir: cfg.AudioStoreDir}
		logger.Info().Str("dir", cfg.AudioStoreDir).Msg("Audio archival: filesystem")
	} else {
		objects = store.NewMemoryObjectStore()
		logger.Warn().Msg("AUDIO_STORE_DIR not set, recordings are in-memory only")
	}

	identity := &store.StaticIdentity{Users: cfg.AuthTokens}
	registry := session.NewRegistry(cfg.MaxSessions, logger)
	bridge := transcribe.NewDeepgramBridge(cfg.DeepgramAPIKey,
		cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout)

	gw := gateway.New(gateway.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		SessionIdleTimeout:   cfg.SessionIdleTimeout,
		MaxRecordingDuration: cfg.MaxRecordingDuration(),
		Model:                cfg.DeepgramModel,
		Language:             cfg.DeepgramLanguage,
	}, registry, bridge, identity, objects, transcripts)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/dictation", gw.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"deepgram": func(ctx context.Context) error {
			if cfg.DeepgramAPIKey == "" {
				return fmt.Errorf("provider API key not configured")
			}
			return nil
		},
	}
	if dbCheck != nil {
		checks["database"] = dbCheck
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/v1/dictation", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := gw.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Gateway drain incomplete")
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
