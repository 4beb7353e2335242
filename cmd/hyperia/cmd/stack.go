package cmd

import (
	"path/filepath"

	"github.com/ciphermesh/hyperia/internal/cache"
	"github.com/ciphermesh/hyperia/internal/embed"
	"github.com/ciphermesh/hyperia/internal/queue"
	"github.com/ciphermesh/hyperia/internal/registry"
	"github.com/ciphermesh/hyperia/internal/store"
)

// stack bundles every component (metadata store, C2-C5) the
// serve/search/ingest commands compose on top of, plus the teardown
// needed to flush the vector indexes and close the database handle
// cleanly.
type stack struct {
	metadata *store.MetadataStore
	pipeline *embed.Pipeline
	registry *registry.Registry
	queue    *queue.Queue
	worker   *queue.Worker
	sweeper  *queue.Sweeper
}

// buildStack wires the metadata store (SQL collaborator), the cache
// (C2), the provider pool and pipeline (C3/C4), the collection registry
// and the queue (C5) from the loaded configuration.
func buildStack() (*stack, error) {
	metadata, err := store.NewMetadataStore(filepath.Join(cfg.DataDir, "metadata.db"))
	if err != nil {
		return nil, err
	}

	cacheCfg := cache.DefaultConfig()
	if cfg.Cache.MemoryMaxEntries > 0 {
		cacheCfg.Memory.MaxEntries = cfg.Cache.MemoryMaxEntries
	}
	if cfg.Cache.PersistentMaxEntries > 0 {
		cacheCfg.Persistent.MaxEntries = cfg.Cache.PersistentMaxEntries
	}
	if cfg.Cache.DatabaseMaxEntries > 0 {
		cacheCfg.Database.MaxEntries = cfg.Cache.DatabaseMaxEntries
	}
	persistentTier := cache.NewPersistentTier(metadata, cacheCfg.Persistent)
	databaseTier := cache.NewDatabaseTier(metadata, cacheCfg.Database, cfg.Embeddings.Provider, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
	embedCache := cache.New(cacheCfg, persistentTier, databaseTier, log)

	pool := embed.NewPool(log)
	pipeline := embed.NewPipeline(pool, embedCache, log)

	reg := registry.New(metadata, pipeline, cfg.DataDir, cfg.Embeddings, cfg.Search.BM25Backend)

	q := queue.New(metadata, queue.Config{
		BatchSize:         cfg.Queue.BatchSize,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		InitialBackoff:    cfg.Queue.InitialBackoff,
		MaxBackoff:        cfg.Queue.MaxBackoff,
	})

	worker := queue.NewWorker(
		q,
		&queue.PipelineEmbedder{Pipeline: pipeline, Provider: reg.ProviderConfigFor},
		reg,
		reg.Lookup,
		cfg.Queue.PollEvery,
		log,
	)

	sweeper := queue.NewSweeper(q, cfg.DataDir, cfg.Queue.SweepInterval, log)

	return &stack{metadata: metadata, pipeline: pipeline, registry: reg, queue: q, worker: worker, sweeper: sweeper}, nil
}

func (s *stack) Close() error {
	if err := s.registry.Close(); err != nil {
		return err
	}
	return s.metadata.Close()
}
