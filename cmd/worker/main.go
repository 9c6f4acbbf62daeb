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
	"golang.org/x/sync/errgroup"

	"github.com/42012606/Memex-Neural/internal/bootstrap"
	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/infrastructure/eventbus"
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
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipelineMetrics := metrics.NewPipelineMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:     logger,
		Observer:   pipelineMetrics,
		Middleware: []eventbus.Middleware{pipelineMetrics.Middleware},
		Consume:    true,
		Probe:      true,
	})
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", pipelineMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("worker consuming events", "event_transport", cfg.EventTransport, "subject_prefix", cfg.NATSSubjectPrefix)
		return app.Consume(gctx)
	})
	if cfg.InboxEnabled {
		watcher, err := app.InboxWatcher()
		if err != nil {
			logger.Error("inbox watcher error", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			logger.Info("inbox watcher started", "path", cfg.InboxPath)
			return watcher.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
}
