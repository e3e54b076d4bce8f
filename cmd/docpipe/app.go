package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/breaker"
	"github.com/dshills/docpipe/internal/chunker"
	"github.com/dshills/docpipe/internal/config"
	"github.com/dshills/docpipe/internal/dedup"
	"github.com/dshills/docpipe/internal/embedder"
	"github.com/dshills/docpipe/internal/extractor"
	"github.com/dshills/docpipe/internal/guardian"
	"github.com/dshills/docpipe/internal/knowledge"
	"github.com/dshills/docpipe/internal/llm"
	"github.com/dshills/docpipe/internal/logging"
	"github.com/dshills/docpipe/internal/metrics"
	"github.com/dshills/docpipe/internal/monitor"
	"github.com/dshills/docpipe/internal/orchestrator"
	"github.com/dshills/docpipe/internal/reader"
	"github.com/dshills/docpipe/internal/searcher"
	"github.com/dshills/docpipe/internal/storage"
	"github.com/dshills/docpipe/internal/validator"
	"github.com/dshills/docpipe/internal/vectorstore"
	"github.com/dshills/docpipe/internal/versioner"
	"github.com/dshills/docpipe/pkg/types"
)

const (
	classifierCacheSize = 1024
	embeddingCacheSize  = 1024
	breakerEmbedding    = "embedding"
)

// app holds the wired pipeline for one process
type app struct {
	cfg          *config.Config
	mode         types.Mode
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	store        storage.Storage
	monitor      *monitor.Monitor
	orchestrator *orchestrator.Orchestrator
	searcher     *searcher.Searcher
	closers      []func() error
}

// newApp builds every component from cfg and starts the resource sampler.
// Close releases everything newApp opened.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	mode, err := types.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("invalid mode %q: %w", cfg.Mode, err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	a := &app{
		cfg:     cfg,
		mode:    mode,
		logger:  logger,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	a.monitor = monitor.New(monitor.NewHostSource(), monitor.Options{
		BaseWorkers: cfg.Pipeline.Workers,
		Capacity:    cfg.Monitor.RingCapacity,
		Interval:    cfg.Monitor.SampleInterval.Duration,
		Logger:      logging.Component(logger, "monitor"),
		Metrics:     a.metrics,
	})
	a.monitor.Start(ctx)
	a.closers = append(a.closers, func() error {
		a.monitor.Close()
		return nil
	})

	breakerLog := logging.Component(logger, "breaker")
	breakers := breaker.NewRegistry(breaker.Options{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown.Duration,
		OnStateChange: func(name string, from, to breaker.State) {
			breakerLog.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit state changed")
			a.metrics.SetCircuitState(name, float64(to))
		},
	})

	models, err := llm.NewSet(llm.SetConfig{
		BaseURL:    cfg.Models.BaseURL,
		Primary:    cfg.Models.Primary,
		Validation: cfg.Models.Validation,
		Reasoning:  cfg.Models.Reasoning,
		Timeout:    cfg.Models.Timeout.Duration,
		RateLimit:  cfg.Models.RateLimit,
		RateBurst:  cfg.Models.RateBurst,
	}, breakers)
	if err != nil {
		return nil, err
	}

	domains, err := guardian.NewModelClassifier(models.Validation, classifierCacheSize)
	if err != nil {
		return nil, err
	}
	planner := guardian.New(domains, a.monitor, logging.Component(logger, "guardian"), a.metrics)

	emb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, emb.Close)

	vectors, err := newVectorStore(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, vectors.Close)

	deduper := dedup.New(emb, vectors, dedup.Options{
		Threshold: cfg.Pipeline.SimilarityThreshold,
		BatchSize: cfg.Pipeline.DedupBatchSize,
		Breaker:   breakers.Get(breakerEmbedding),
		Logger:    logging.Component(logger, "dedup"),
		Metrics:   a.metrics,
	})

	inputs, err := validator.New(validator.Options{
		MaxBytes: cfg.Input.MaxDocumentBytes,
		Exclude:  cfg.Input.Exclude,
	})
	if err != nil {
		return nil, err
	}

	processors, err := newProcessorFactory(cfg, models, logger, a.metrics)
	if err != nil {
		return nil, err
	}

	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		CheckpointDir:   cfg.CheckpointDir(),
		ReportPath:      cfg.ReportPath,
		StabilityCap:    cfg.Pipeline.StabilityCap,
		CheckpointEvery: cfg.Pipeline.CheckpointEvery,
	}, orchestrator.Deps{
		Validator:  inputs,
		Versioner:  versioner.New(store, logging.Component(logger, "versioner")),
		Reader:     reader.NewRegistry(cfg.Input.MaxChars),
		Planner:    planner,
		Deduper:    deduper,
		Monitor:    a.monitor,
		Processors: processors,
		Store:      store,
		Breakers:   breakers,
		Logger:     logging.Component(logger, "orchestrator"),
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.searcher = searcher.NewSearcher(store, emb)
	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedder.Embedder, error) {
	baseURL := cfg.Embedding.BaseURL
	if baseURL == "" && strings.EqualFold(cfg.Embedding.Provider, embedder.ProviderOllama) {
		baseURL = cfg.Models.BaseURL
	}
	emb, err := embedder.New(ctx, embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   baseURL,
		APIKey:    cfg.Embedding.APIKey,
		Timeout:   cfg.Models.Timeout.Duration,
		CacheSize: embeddingCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return emb, nil
}

func newVectorStore(ctx context.Context, cfg *config.Config, store storage.Storage) (vectorstore.Store, error) {
	switch strings.ToLower(cfg.Store.Vector) {
	case "redis":
		return vectorstore.NewRedisStore(ctx, vectorstore.RedisConfig{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
	default:
		return vectorstore.NewSQLiteStore(store), nil
	}
}

// newProcessorFactory returns the per-run processor builder. Knowledge runs
// get a fresh pipeline so each run starts from an empty graph.
func newProcessorFactory(cfg *config.Config, models *llm.Set, logger zerolog.Logger, m *metrics.Metrics) (orchestrator.ProcessorFactory, error) {
	categories, err := extractor.NewDocumentClassifier(models.Validation, classifierCacheSize)
	if err != nil {
		return nil, err
	}
	engine := extractor.New(models.Primary, models.Validation, extractor.Options{
		MaxRetries: cfg.Extraction.MaxRetries,
		Logger:     logging.Component(logger, "extractor"),
		Metrics:    m,
	})
	extract := extractor.NewPipeline(categories, engine, logging.Component(logger, "extract"))

	return func(mode types.Mode) (orchestrator.Processor, error) {
		switch mode {
		case types.ModeExtract:
			return extract, nil
		case types.ModeKnowledge:
			klog := logging.Component(logger, "knowledge")
			ex := knowledge.NewExtractor(models.Primary, models.Validation, models.Reasoning, klog)
			ch := chunker.New(cfg.Chunking.Window, cfg.Chunking.Overlap, cfg.Chunking.Radius)
			return knowledge.NewPipeline(ex, ch, klog), nil
		}
		return nil, fmt.Errorf("%w: mode %q", types.ErrUnknownVariant, mode)
	}, nil
}
