package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openderm/diagnosis-api/internal/api/gemini"
	"github.com/openderm/diagnosis-api/internal/config"
	"github.com/openderm/diagnosis-api/internal/diagnosis"
	"github.com/openderm/diagnosis-api/internal/llm"
	"github.com/openderm/diagnosis-api/internal/routes"
	"github.com/openderm/diagnosis-api/internal/server"
	"github.com/openderm/diagnosis-api/internal/storage/sqlite"
	"github.com/openderm/diagnosis-api/internal/telemetry"
	"github.com/openderm/diagnosis-api/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("diagnosis-api", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer store.Close()

	var clientOpts []gemini.ClientOption
	if cfg.Gemini.BaseURL != "" {
		clientOpts = append(clientOpts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	client := gemini.NewClient(clientOpts...)

	dispatcher, err := llm.NewDispatcher(cfg.Gemini.Credentials, cfg.Gemini.Models, logger)
	if err != nil {
		log.Fatalf("Failed to build dispatcher: %v", err)
	}

	service := diagnosis.NewService(diagnosis.Config{
		Client:          client,
		Invoker:         dispatcher,
		Store:           store,
		Estimator:       tokens.NewEstimator(),
		MaxPromptTokens: cfg.Gemini.MaxPromptTokens,
		Logger:          logger,
	})

	srv := server.New(cfg.Server.Port, logger)
	routes.NewHandler(service, store, logger).Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("diagnosis API started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("credentials", len(cfg.Gemini.Credentials)),
		slog.Int("models", len(cfg.Gemini.Models)),
		slog.String("storage", cfg.Storage.Path),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	case <-sigCh:
	}

	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
