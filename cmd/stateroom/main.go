package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	httpadapter "github.com/stateroom/stateroom/internal/adapter/http"
	otelx "github.com/stateroom/stateroom/internal/adapter/otel"
	riverx "github.com/stateroom/stateroom/internal/adapter/river"
	"github.com/stateroom/stateroom/internal/adapter/sqlite"
	"github.com/stateroom/stateroom/internal/app"
	"github.com/stateroom/stateroom/internal/capability"
)

// Config holds the service configuration, parsed from the environment.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"stateroom.db"`
	LogJSON      bool   `env:"LOG_JSON" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Telemetry ---
	providers, err := otelx.Setup(ctx, otelx.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otelx.OpenDB(cfg.DatabasePath)
	if err != nil {
		return err
	}

	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		return err
	}
	defer repo.Close()

	riverClient, err := riverx.Setup(ctx, repo.DB())
	if err != nil {
		return err
	}
	if err := riverClient.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}()

	publisher := otelx.NewTracingPublisher(riverx.NewPublisher(riverClient))
	entities := otelx.NewTracingEntityRepository(repo)

	// --- Application ---
	registry := capability.Builtins()
	loader := app.NewLoader(repo, registry)
	engine := app.NewEngine(loader, repo, entities, publisher, logger)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware("stateroom", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("stateroom", "0.1.0"))
	httpadapter.Register(api, engine)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		logger.Info("stateroom listening", "port", cfg.Port)
		logger.Info("API docs", "url", "http://localhost:"+cfg.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-done:
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	logger.Info("stopped")
	return nil
}

func newLogger(cfg Config) *slog.Logger {
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
