// Package registry composes the per-collection BM25 and HNSW indexes,
// the embedding pipeline (C4), and the metadata store into the
// CollectionIndex values the query strategy engine (C6), the search
// executor (C7), and the request control plane (C8) consume, so
// cmd/hyperia has one place to open, create, and tear down a
// collection's on-disk state.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ciphermesh/hyperia/internal/config"
	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/embed"
	cerrors "github.com/ciphermesh/hyperia/internal/errors"
	"github.com/ciphermesh/hyperia/internal/search"
	"github.com/ciphermesh/hyperia/internal/store"
)

// entry bundles one open collection's indexes alongside its metadata.
type entry struct {
	col      domain.Collection
	bm25     store.BM25Index
	vector   store.VectorStore
	executor *search.Executor
}

// Registry lazily opens, caches, and exposes collections' indexes. It
// implements search's DocumentStore indirectly (via Metadata),
// daemon.CollectionResolver, queue.Sink, queue.CollectionLookup, and
// queue.ProviderConfigLookup, so one value wires the whole stack.
type Registry struct {
	Metadata *store.MetadataStore
	Pipeline *embed.Pipeline
	DataDir  string
	Defaults config.EmbeddingsConfig
	BM25Cfg  store.BM25Config
	Backend  string

	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs a Registry. Collections already present in Metadata are
// not opened eagerly; Resolve/Open opens them on first use.
func New(metadata *store.MetadataStore, pipeline *embed.Pipeline, dataDir string, defaults config.EmbeddingsConfig, backend string) *Registry {
	return &Registry{
		Metadata: metadata,
		Pipeline: pipeline,
		DataDir:  dataDir,
		Defaults: defaults,
		BM25Cfg:  store.DefaultBM25Config(),
		Backend:  backend,
		entries:  make(map[string]*entry),
	}
}

func (r *Registry) collectionDir(name string) string {
	return filepath.Join(r.DataDir, "collections", name)
}

// Create registers a new collection (spec §3 invariant: dimensions and
// provider/model fixed at creation) and opens its on-disk indexes.
func (r *Registry) Create(ctx context.Context, name, providerID, modelID string, dims int) (domain.Collection, error) {
	if !domain.ValidCollectionName(name) {
		return domain.Collection{}, cerrors.ValidationError(fmt.Sprintf("invalid collection name %q", name), nil)
	}
	if !domain.SupportedDimensions[dims] {
		return domain.Collection{}, cerrors.ValidationError(fmt.Sprintf("unsupported dimensions %d", dims), nil)
	}
	now := time.Now()
	col := domain.Collection{
		Name:             name,
		ProviderID:       providerID,
		ModelID:          modelID,
		Dimensions:       dims,
		AutoGenerate:     true,
		EmbeddingStatus:  domain.EmbeddingEnabled,
		ProcessingStatus: domain.ProcessingIdle,
		SchemaVersion:    store.CurrentSchemaVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.Metadata.SaveCollection(ctx, &col); err != nil {
		return domain.Collection{}, err
	}
	if _, err := r.open(col); err != nil {
		return domain.Collection{}, err
	}
	return col, nil
}

func (r *Registry) open(col domain.Collection) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[col.Name]; ok {
		return e, nil
	}

	dir := r.collectionDir(col.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerrors.IOError(fmt.Sprintf("create collection directory for %s", col.Name), err)
	}

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dir, "bm25"), r.BM25Cfg, r.Backend)
	if err != nil {
		return nil, err
	}
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(col.Dimensions))
	if err != nil {
		_ = bm25.Close()
		return nil, err
	}
	if vecPath := filepath.Join(dir, "vector.hnsw"); fileExists(vecPath) {
		if err := vector.Load(vecPath); err != nil {
			_ = bm25.Close()
			_ = vector.Close()
			return nil, err
		}
	}

	e := &entry{
		col:    col,
		bm25:   bm25,
		vector: vector,
		executor: &search.Executor{
			FullText:  bm25,
			Vector:    vector,
			Documents: r.Metadata,
			Embedder:  r.Pipeline,
		},
	}
	r.entries[col.Name] = e
	return e, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Resolve implements daemon.CollectionResolver and the CollectionIndex
// lookup search.Engine.Search needs.
func (r *Registry) Resolve(name string) (search.CollectionIndex, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return r.toIndex(e), true
	}

	col, err := r.Metadata.GetCollection(context.Background(), name)
	if err != nil || col == nil {
		return search.CollectionIndex{}, false
	}
	opened, err := r.open(*col)
	if err != nil {
		return search.CollectionIndex{}, false
	}
	return r.toIndex(opened), true
}

// All implements daemon.CollectionResolver: every collection currently
// registered in metadata, opened on demand.
func (r *Registry) All() []search.CollectionIndex {
	names, err := r.Metadata.ListCollections(context.Background())
	if err != nil {
		return nil
	}
	out := make([]search.CollectionIndex, 0, len(names))
	for _, name := range names {
		if ci, ok := r.Resolve(name); ok {
			out = append(out, ci)
		}
	}
	return out
}

func (r *Registry) toIndex(e *entry) search.CollectionIndex {
	return search.CollectionIndex{
		Collection:   e.col,
		ProviderCfg:  r.providerConfig(e.col),
		Availability: search.IndexAvailability{HasFullText: true, HasVector: e.vector.Count() > 0 || e.col.EmbeddingStatus == domain.EmbeddingEnabled},
		Executor:     e.executor,
	}
}

func (r *Registry) providerConfig(col domain.Collection) embed.ProviderConfig {
	kind := col.ProviderID
	if kind == "" {
		kind = r.Defaults.Provider
	}
	return embed.ProviderConfig{
		ProviderID:        col.ProviderID,
		Kind:              kind,
		ModelID:           col.ModelID,
		Dimensions:        col.Dimensions,
		BaseURL:           r.Defaults.BaseURL,
		APIKey:            r.Defaults.APIKey,
		RequestsPerMinute: r.Defaults.RequestsPerMinute,
		MaxRetries:        r.Defaults.MaxRetries,
		Timeout:           r.Defaults.Timeout,
	}
}

// IndexDocument adds or replaces a document across the metadata store,
// BM25 index, and vector store in one call, used by the ingest command
// and the filesystem watcher for synchronous (non-queued) indexing.
func (r *Registry) IndexDocument(ctx context.Context, d *domain.Document, vector []float32) error {
	col, err := r.Metadata.GetCollection(ctx, d.Collection)
	if err != nil || col == nil {
		return cerrors.ValidationError(fmt.Sprintf("unknown collection %q", d.Collection), err)
	}
	e, err := r.open(*col)
	if err != nil {
		return err
	}
	if err := r.Metadata.SaveDocument(ctx, d); err != nil {
		return err
	}
	if err := e.bm25.Index(ctx, []*store.Document{{ID: d.ID, Content: d.Content}}); err != nil {
		return err
	}
	if len(vector) > 0 {
		if err := e.vector.Add(ctx, []string{d.ID}, [][]float32{vector}); err != nil {
			return err
		}
	}
	return nil
}

// StoreEmbedding implements queue.Sink: it writes a background-computed
// embedding into the collection's vector store once the worker has it.
func (r *Registry) StoreEmbedding(ctx context.Context, collection, documentID string, vector []float32) error {
	col, err := r.Metadata.GetCollection(ctx, collection)
	if err != nil || col == nil {
		return cerrors.ValidationError(fmt.Sprintf("unknown collection %q", collection), err)
	}
	e, err := r.open(*col)
	if err != nil {
		return err
	}
	return e.vector.Add(ctx, []string{documentID}, [][]float32{vector})
}

// Lookup implements queue.CollectionLookup.
func (r *Registry) Lookup(ctx context.Context, name string) (domain.Collection, error) {
	col, err := r.Metadata.GetCollection(ctx, name)
	if err != nil {
		return domain.Collection{}, err
	}
	if col == nil {
		return domain.Collection{}, cerrors.ValidationError(fmt.Sprintf("unknown collection %q", name), nil)
	}
	return *col, nil
}

// ProviderConfigFor implements queue.ProviderConfigLookup.
func (r *Registry) ProviderConfigFor(_ context.Context, col domain.Collection) embed.ProviderConfig {
	return r.providerConfig(col)
}

// Close persists every open collection's vector index and releases its
// handles.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, e := range r.entries {
		path := filepath.Join(r.collectionDir(name), "vector.hnsw")
		if err := e.vector.Save(path); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.bm25.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.entries = make(map[string]*entry)
	return firstErr
}
