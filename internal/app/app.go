// Package app wires configuration into running components for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bull/drugbot/internal/answer"
	"github.com/bull/drugbot/internal/chunker"
	"github.com/bull/drugbot/internal/config"
	"github.com/bull/drugbot/internal/drugbot"
	"github.com/bull/drugbot/internal/embedding"
	"github.com/bull/drugbot/internal/index"
	"github.com/bull/drugbot/internal/retriever"
	"github.com/bull/drugbot/internal/session"
	"github.com/bull/drugbot/internal/storage"
)

// Options replaces remote capabilities, mainly for tests.
// Nil fields are built from the configuration.
type Options struct {
	Embedder  embedding.Capability
	Generator answer.Generator
	// AllowStaleIndex tolerates a persisted index built with another
	// embedding model. Full rebuilds set it; serving never does.
	AllowStaleIndex bool
}

// HealthChecker probes a remote backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// App holds the wired components of a running process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Embedder embedding.Capability
	Store    index.Store
	Holder   *index.Holder
	Sessions *session.Manager
	Service  *drugbot.Service
	// Health probes the index backend; nil for the file backend.
	Health HealthChecker

	closers []io.Closer
}

// New wires the question-answering service. A missing index snapshot is
// logged and leaves the service not ready; an index built with another
// embedding model is a startup error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Holder: &index.Holder{}}

	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	emb := opts.Embedder
	if emb == nil {
		client, err := embedding.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL)
		if err != nil {
			return err
		}
		e, err := embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize)
		if err != nil {
			return err
		}
		emb = e
		if opts.Generator == nil {
			opts.Generator = answer.NewOpenAIGenerator(client, cfg.Generation.Model, cfg.Generation.Temperature)
		}
	}
	if opts.Generator == nil {
		return errors.New("app: a generator is required with a custom embedder")
	}
	a.Embedder = emb

	store, closer, err := OpenIndexStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.Store = store
	if closer != nil {
		a.closers = append(a.closers, closer)
		a.Health = closer
	}

	var sessionStore session.Store
	if cfg.Sessions.Path != "" {
		sqlite, err := storage.NewSQLiteStore(cfg.Sessions.Path)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		a.closers = append(a.closers, sqlite)
		sessionStore = sqlite
	}
	a.Sessions, err = session.NewManager(ctx, sessionStore, a.Logger)
	if err != nil {
		return err
	}

	// Repeated questions skip the embedding round trip.
	queryEmbedder := embedding.NewCached(emb, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	r := retriever.New(a.Holder, queryEmbedder, cfg.Retry.Policy(), a.Logger)

	idx, err := index.Open(ctx, store, a.Holder)
	switch {
	case errors.Is(err, index.ErrNoSnapshot):
		a.Logger.Warn("No index found; run drugbot-ingest first", "backend", cfg.Index.Backend)
	case err != nil:
		return fmt.Errorf("load index: %w", err)
	default:
		if err := r.Validate(); err != nil {
			if !opts.AllowStaleIndex {
				return err
			}
			a.Logger.Warn("Ignoring stale index", "error", err)
			a.Holder.Store(nil)
			break
		}
		a.Sessions.SetIndexCounts(idx.DrugCount(), idx.Len())
		a.Logger.Info("Index loaded", "model", idx.Model(), "drugs", idx.DrugCount(), "chunks", idx.Len())
	}

	synth := answer.New(r, opts.Generator, a.Sessions, answer.Config{
		TopK:           cfg.Retrieval.TopK,
		MinScore:       cfg.Retrieval.MinScore,
		MaxPromptChars: cfg.Generation.MaxPromptChars,
		MaxTokens:      cfg.Generation.MaxTokens,
		Retry:          cfg.Retry.Policy(),
	}, a.Logger)
	a.Service = drugbot.NewService(synth, a.Sessions, a.Logger)
	return nil
}

// OpenIndexStore opens the configured snapshot store. For Qdrant the
// returned closer also probes health; it is nil for the file backend.
func OpenIndexStore(ctx context.Context, cfg *config.Config) (index.Store, *storage.QdrantStorage, error) {
	if cfg.Index.Backend != config.BackendQdrant {
		return index.FileStore{Path: cfg.Index.Path}, nil, nil
	}

	q, err := storage.NewQdrantStorage(ctx, storage.QdrantConfig{
		Host:       cfg.Index.Qdrant.Host,
		Port:       cfg.Index.Qdrant.Port,
		APIKey:     cfg.Index.Qdrant.APIKey,
		UseTLS:     cfg.Index.Qdrant.UseTLS,
		Collection: cfg.Index.Qdrant.Collection,
		Retry:      cfg.Retry.Policy(),
	})
	if err != nil {
		return nil, nil, err
	}
	return q, q, nil
}

// NewIndexer builds an indexer publishing into the app's store and holder.
// With incremental set, the persisted index is seeded first so records
// absent from the new corpus are kept.
func (a *App) NewIndexer(incremental bool) (*index.Indexer, error) {
	ix := index.NewIndexer(a.Embedder, a.Store, a.Holder, a.Sessions, a.Logger, index.Config{
		Retry: a.Config.Retry.Policy(),
	})
	if incremental {
		if prev := a.Holder.Load(); prev != nil {
			if err := ix.Seed(prev); err != nil {
				return nil, err
			}
		}
	}
	return ix, nil
}

// Chunker returns a chunker sized from the configuration.
func (a *App) Chunker() *chunker.Chunker {
	return chunker.New(a.Config.Index.ChunkSize)
}

// Close releases storage connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
