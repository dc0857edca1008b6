package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/giftshop/internal/auth"
	"github.com/joao-fontenele/giftshop/internal/config"
	"github.com/joao-fontenele/giftshop/internal/gateway"
	"github.com/joao-fontenele/giftshop/internal/logging"
	"github.com/joao-fontenele/giftshop/internal/telemetry"
)

const serviceName = "gateway"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		File:   cfg.LogFile,
	})
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	if cfg.OTelEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, "0.1.0", cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(ctx) }()
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	storefront := gateway.NewServiceProxy(cfg.StorefrontURL, httpClient)
	tokens := auth.NewVerifier(cfg.JWTSecret, 24*time.Hour)
	limiter := gateway.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := gateway.NewHandler(storefront, tokens, limiter, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handler.HandleProxy)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      telemetry.ServerHandler(mux, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.HTTPPort, "storefront", cfg.StorefrontURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
