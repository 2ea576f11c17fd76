package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"escrowchain/gateway/middleware"
	"escrowchain/gateway/routes"
	"escrowchain/observability/logging"
	telemetry "escrowchain/observability/otel"
)

const shutdownGrace = 10 * time.Second

func runServeCommand(env *cliEnv, args []string) int {
	fs := newFlagSet("serve", env)
	listen := fs.String("listen", "", "override the configured listen address")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	l, err := env.openLedger()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	defer l.Close()
	cfg := l.cfg
	logger := l.logger

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()
	if cfg.Telemetry.Endpoint != "" {
		logger.Info("trace export enabled",
			logging.MaskField("endpoint", cfg.Telemetry.Endpoint),
			logging.MaskField("headers", cfg.Telemetry.Headers))
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.ServiceName,
		LogRequests: true,
		Enabled:     cfg.MetricsEnabled,
		Registry:    l.registry,
	}, logger)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.RateLimitKeyTransactions: {
				RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				Burst:             cfg.RateLimit.Burst,
			},
		}, logger)
	}

	router, err := routes.New(routes.Config{
		Ledger:        l.processor,
		Store:         l.state,
		Journal:       l.journal,
		RateLimiter:   limiter,
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
		Timeout:       cfg.RequestTimeoutDuration(),
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to build router", slog.String("error", err.Error()))
		return 1
	}

	addr := strings.TrimSpace(*listen)
	if addr == "" {
		addr = cfg.ListenAddress
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(router, "escrow-gateway"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeoutDuration() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("listen", addr),
			slog.String("backend", cfg.Backend))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway stopped", slog.String("error", err.Error()))
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("gateway stopped")
	return 0
}
