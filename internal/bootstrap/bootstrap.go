package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
	"github.com/42012606/Memex-Neural/internal/core/usecase"
	"github.com/42012606/Memex-Neural/internal/infrastructure/chunking"
	"github.com/42012606/Memex-Neural/internal/infrastructure/embedcache"
	"github.com/42012606/Memex-Neural/internal/infrastructure/eventbus"
	"github.com/42012606/Memex-Neural/internal/infrastructure/extractor"
	"github.com/42012606/Memex-Neural/internal/infrastructure/extractor/html"
	"github.com/42012606/Memex-Neural/internal/infrastructure/extractor/pdf"
	"github.com/42012606/Memex-Neural/internal/infrastructure/extractor/plaintext"
	"github.com/42012606/Memex-Neural/internal/infrastructure/extractor/spreadsheet"
	"github.com/42012606/Memex-Neural/internal/infrastructure/inbox"
	"github.com/42012606/Memex-Neural/internal/infrastructure/llm/ollama"
	"github.com/42012606/Memex-Neural/internal/infrastructure/llm/openai"
	"github.com/42012606/Memex-Neural/internal/infrastructure/queue/nats"
	"github.com/42012606/Memex-Neural/internal/infrastructure/repository/postgres"
	"github.com/42012606/Memex-Neural/internal/infrastructure/repository/sqlite"
	"github.com/42012606/Memex-Neural/internal/infrastructure/rerank"
	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
	"github.com/42012606/Memex-Neural/internal/infrastructure/storage/localfs"
)

// Observer receives the cross-cutting signals of the adapters built here.
type Observer interface {
	ObserveBreakerState(operation, state string)
	ObserveEmbedCache(result string)
}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
	// SearchObserver receives one call per hybrid search; may be nil.
	SearchObserver usecase.SearchObserver
	// Middleware decorates every pipeline handler on the local bus.
	Middleware []eventbus.Middleware
	// Consume makes this process run the pipeline for events arriving over NATS.
	Consume bool
	// Detach returns uploads before their pipeline finishes.
	Detach bool
	// Probe checks the embedder dimension before returning.
	Probe bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store    ports.ArchiveStore
	Files    *localfs.Storage
	Bus      *eventbus.Bus
	Bridge   *nats.Bridge
	Detached *eventbus.Detached

	Ingest   *usecase.IngestUseCase
	Archiver *usecase.ArchiverStage
	Indexer  *usecase.IndexerStage
	Search   *usecase.SearchUseCase
	Reranker *rerank.Selector
	Guard    *embedcache.DimensionGuard

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	if err := app.build(ctx, opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, logger := a.Config, a.Logger

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	executor := resilience.NewExecutor(
		resilience.Tuned(cfg.RetryMaxAttempts, cfg.BreakerEnabled, cfg.BreakerFailureRate, cfg.BreakerOpenTimeout),
		logger,
	)
	if opts.Observer != nil {
		executor.OnStateChange(func(op string, _, to gobreaker.State) {
			opts.Observer.ObserveBreakerState(op, to.String())
		})
	}

	if a.Store, err = openStore(ctx, cfg, a); err != nil {
		return err
	}
	if a.Files, err = localfs.New(cfg.StoragePath); err != nil {
		return fmt.Errorf("init file storage: %w", err)
	}

	ollamaClient := ollama.New(ollama.Options{
		BaseURL:           cfg.OllamaURL,
		GenModel:          cfg.OllamaGenModel,
		EmbedModel:        cfg.OllamaEmbedModel,
		VisionModel:       cfg.OllamaVisionModel,
		RerankModel:       cfg.OllamaRerankModel,
		Timeout:           cfg.OllamaTimeout,
		RequestsPerSecond: cfg.OllamaRequestsPerSecond,
		Executor:          executor,
		Logger:            logger,
	})
	openaiCfg := openai.Config{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		EmbedModel:      cfg.OpenAIEmbedModel,
		Dimensions:      cfg.EmbeddingDim,
		TranscribeModel: cfg.OpenAITranscribeModel,
		Executor:        executor,
		Logger:          logger,
	}

	embedder, err := buildEmbedder(cfg, ollamaClient, openaiCfg, opts.Observer, a, logger)
	if err != nil {
		return err
	}
	a.Guard = embedcache.NewDimensionGuard(embedder, cfg.EmbeddingDim)
	if opts.Probe {
		if err := a.Guard.Probe(ctx); err != nil {
			if errors.Is(err, domain.ErrDimensionMismatch) {
				return fmt.Errorf("embedding probe: %w", err)
			}
			logger.Warn("embedding probe failed, continuing", "error", err)
		}
	}

	a.Reranker = buildReranker(cfg, ollamaClient, executor, logger)

	a.Bus = eventbus.New(logger, eventbus.Options{
		MaxConcurrentHandlers: cfg.BusMaxConcurrentHandlers,
		Middleware:            opts.Middleware,
	})
	runPipeline := cfg.EventTransport == "inproc" || opts.Consume
	var publisher ports.EventPublisher = a.Bus
	if cfg.EventTransport == "nats" {
		a.Bridge, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return fmt.Errorf("init event bridge: %w", err)
		}
		a.closers = append(a.closers, a.Bridge.Close)
		if !opts.Consume {
			publisher = a.Bridge
		}
	}
	if opts.Detach {
		a.Detached = eventbus.NewDetached(publisher, cfg.HandlerTimeout, logger)
		publisher = a.Detached
	}

	extract := buildExtractor(cfg, a.Files, ollamaClient, openaiCfg)
	a.Ingest = usecase.NewIngestUseCase(a.Store, a.Files, publisher, cfg.DefaultOwner, logger)
	a.Archiver = usecase.NewArchiverStage(a.Store, a.Files, extract, ollama.NewAnalyzer(ollamaClient), a.Bus, logger)
	a.Indexer = usecase.NewIndexerStage(
		a.Store,
		a.Store,
		a.Guard,
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		a.Bus,
		usecase.IndexerOptions{CoarseChars: cfg.CoarseEmbedChars, Concurrency: cfg.IndexEmbedConcurrency},
		logger,
	)
	a.Search = usecase.NewSearchUseCase(
		a.Store,
		a.Store,
		a.Guard,
		a.Reranker,
		opts.SearchObserver,
		usecase.SearchOptions{
			DefaultTopK: cfg.SearchDefaultTopK,
			MaxTopK:     cfg.SearchMaxTopK,
			Location:    loc,
		},
		logger,
	)

	if runPipeline {
		a.Bus.Subscribe(domain.EventFileUploaded, "archiver", a.Archiver.HandleFileUploaded)
		a.Bus.Subscribe(domain.EventArchiveCompleted, "indexer", a.Indexer.HandleArchiveCompleted)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, app *App) (ports.ArchiveStore, error) {
	switch cfg.Store {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		app.closers = append(app.closers, func() { _ = store.Close() })
		return store, nil
	default:
		db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		store := postgres.NewStore(db, cfg.EmbeddingDim)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, nil
	}
}

type modelEmbedder interface {
	ports.Embedder
	Model() string
}

func buildEmbedder(
	cfg config.Config,
	client *ollama.Client,
	openaiCfg openai.Config,
	observer Observer,
	app *App,
	logger *slog.Logger,
) (ports.Embedder, error) {
	var base modelEmbedder = ollama.NewEmbedder(client)
	if cfg.EmbedProvider == "openai" {
		base = openai.NewEmbedder(openaiCfg)
	}
	if cfg.EmbedCacheRedisAddr == "" {
		return base, nil
	}

	store, err := embedcache.NewRedisStore(cfg.EmbedCacheRedisAddr)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	app.closers = append(app.closers, store.Close)
	var observe func(string)
	if observer != nil {
		observe = observer.ObserveEmbedCache
	}
	return embedcache.New(base, base.Model(), store, cfg.EmbedCacheTTL, observe, logger), nil
}

func buildReranker(cfg config.Config, client *ollama.Client, executor *resilience.Executor, logger *slog.Logger) *rerank.Selector {
	backends := make([]ports.RerankBackend, 0, len(cfg.RerankBackends))
	for _, name := range cfg.RerankBackends {
		switch name {
		case "tei":
			backends = append(backends, rerank.NewTEI(cfg.TEIURL, cfg.RerankTimeout, executor, logger))
		case "ollama":
			backends = append(backends, ollama.NewJudge(client))
		}
	}
	return rerank.NewSelector(logger, backends...)
}

func buildExtractor(cfg config.Config, files *localfs.Storage, client *ollama.Client, openaiCfg openai.Config) *extractor.Router {
	opts := []extractor.Option{
		extractor.WithExtension(pdf.NewExtractor(files), ".pdf"),
		extractor.WithExtension(spreadsheet.NewExtractor(files), ".xlsx"),
		extractor.WithExtension(html.NewExtractor(files), ".html", ".htm"),
		extractor.WithFallback(plaintext.NewExtractor(files)),
		extractor.WithImageDescriber(ollama.NewDescriber(client)),
	}
	if cfg.TranscribeEnabled {
		opts = append(opts, extractor.WithTranscriber(openai.NewTranscriber(openaiCfg)))
	}
	return extractor.NewRouter(files, opts...)
}

// Consume feeds events from the bridge into the local bus until ctx is done.
// Without a bridge it only waits for ctx.
func (a *App) Consume(ctx context.Context) error {
	if a.Bridge == nil {
		<-ctx.Done()
		return nil
	}
	return a.Bridge.Subscribe(ctx, a.Bus.Publish)
}

// InboxWatcher builds the drop-folder watcher. Dropped files are uploaded
// straight onto the local bus so the pipeline runs in this process.
func (a *App) InboxWatcher() (*inbox.Watcher, error) {
	uploader := usecase.NewIngestUseCase(a.Store, a.Files, a.Bus, a.Config.DefaultOwner, a.Logger)
	return inbox.New(a.Config.InboxPath, uploader, inbox.Options{DefaultOwner: a.Config.DefaultOwner}, a.Logger)
}

// Drain waits for detached pipeline work to finish.
func (a *App) Drain(ctx context.Context) error {
	if a.Detached == nil {
		return nil
	}
	return a.Detached.Wait(ctx)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
