package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/09okjk/AI-Chat/internal/config"
	"github.com/09okjk/AI-Chat/internal/observability"
	"github.com/09okjk/AI-Chat/internal/relay"
	"github.com/09okjk/AI-Chat/internal/upstream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("upstream_base_url", cfg.UpstreamBaseURL).
		Str("model", cfg.Model).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("AI Chat Relay Service starting")

	upstreamClient := upstream.NewClient(cfg, logger)
	handlers := relay.NewHandlers(cfg, upstreamClient, logger)
	wsHandler := relay.NewWSHandler(cfg, upstreamClient, logger)

	mux := http.NewServeMux()

	// Streaming chat relay and client support endpoints
	mux.HandleFunc("/api/chat", handlers.Chat)
	mux.HandleFunc("/api/config", handlers.Config)
	mux.HandleFunc("/api/ping", handlers.Ping)
	mux.HandleFunc("/api/upload_video", handlers.UploadVideo)

	// Voice call WebSocket endpoint
	mux.HandleFunc("/ws", wsHandler.HandleWS)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - the upstream check validates configuration
	// without spending API quota
	upstreamCheck := func(ctx context.Context) (bool, error) {
		if cfg.UpstreamAPIKey == "" {
			return false, fmt.Errorf("upstream API key is not configured")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"upstream": upstreamCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays zero: /api/chat responses stream for the length
	// of a model turn and must not be cut off by the server
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     relay.CORS(mux),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
