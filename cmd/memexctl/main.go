package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/42012606/Memex-Neural/internal/adapters/cli"
	"github.com/42012606/Memex-Neural/internal/bootstrap"
	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logLevel := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		logLevel = "warn"
	}
	logger := logging.NewJSONLogger("memexctl", logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap error:", err)
		os.Exit(1)
	}
	defer app.Close()

	root := cli.NewRootCommand(cli.Services{
		Search:  app.Search,
		Ingest:  app.Ingest,
		Vectors: app.Indexer,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		app.Close()
		os.Exit(1)
	}
}
