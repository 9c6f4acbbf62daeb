package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/42012606/Memex-Neural/internal/adapters/http"
	"github.com/42012606/Memex-Neural/internal/bootstrap"
	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/observability/logging"
	"github.com/42012606/Memex-Neural/internal/observability/metrics"
)

func main() {
	envErr := godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:         logger,
		Observer:       httpMetrics,
		SearchObserver: httpMetrics,
		Detach:         true,
		Probe:          true,
	})
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Ingest:  app.Ingest,
		Docs:    app.Store,
		Search:  app.Search,
		Vectors: app.Indexer,
		Metrics: httpMetrics,
		Logger:  logger,
	}).Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.APIPort, "store", cfg.Store, "event_transport", cfg.EventTransport)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "error", err)
	}
	if err := app.Drain(shutdownCtx); err != nil {
		logger.Warn("pipeline work still running at shutdown", "error", err)
	}
}
