package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ciphermesh/hyperia/internal/cache"
	"github.com/ciphermesh/hyperia/internal/domain"
	cerrors "github.com/ciphermesh/hyperia/internal/errors"
	"github.com/ciphermesh/hyperia/internal/textproc"
)

// DefaultQueryTimeout is the per-call timeout embedQuery races the
// provider call against (spec §4.4).
const DefaultQueryTimeout = 5 * time.Second

// QueryOptions configures one embedQuery call.
type QueryOptions struct {
	Timeout time.Duration
	Salt    string
}

// QueryResult is embedQuery's return value (spec §4.4).
type QueryResult struct {
	Vector         []float32
	Source         string
	ProcessingTime time.Duration
	Meta           map[string]any
}

// BatchRequest is one item of an embedBatch call.
type BatchRequest struct {
	ID   string
	Text string
}

// BatchResult is one item of embedBatch's output, in the same order as
// the input requests. Failed items carry Err and a nil Vector rather
// than aborting the whole batch.
type BatchResult struct {
	ID     string
	Vector []float32
	Source string
	Err    error
}

// BatchOptions configures embedBatch's sharding and progress reporting.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
	OnProgress  func(completed, total int, currentLabel string)
	AbortOnErr  bool
}

// Pipeline is the uniform façade over the text processor, cache, and
// provider pool (component C4) used by both query-time and ingest-time
// callers.
type Pipeline struct {
	pool  *Pool
	cache *cache.Cache
	log   *slog.Logger
}

// NewPipeline constructs a Pipeline over an already-built Pool and Cache.
func NewPipeline(pool *Pool, c *cache.Cache, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{pool: pool, cache: c, log: log}
}

// providerKind resolves which pool factory kind a call should use:
// providerCfg.Kind when set, falling back to a guess from ProviderID for
// callers that haven't been updated to set Kind explicitly.
func providerKind(cfg ProviderConfig) string {
	if cfg.Kind != "" {
		return cfg.Kind
	}
	if cfg.ProviderID == "local" {
		return "local"
	}
	return "remote-http"
}

func preprocessingConfig(tp domain.TextPreprocessing) textproc.Config {
	return textproc.Config{
		Lowercase:            tp.Lowercase,
		StripSpecialChars:    tp.StripSpecialChars,
		MaxCharacters:        tp.MaxCharacters,
		MaxTokens:            tp.MaxTokens,
		Strategy:             textproc.TruncationStrategy(tp.TruncationStrategy),
		PreserveWordBoundary: tp.PreserveWordBoundary,
		TruncationIndicator:  tp.TruncationIndicator,
	}
}

func preprocessingFingerprint(tp domain.TextPreprocessing) string {
	fp := fmt.Sprintf("%v\x00%v\x00%d\x00%d\x00%s\x00%v\x00%s",
		tp.Lowercase, tp.StripSpecialChars, tp.MaxCharacters, tp.MaxTokens,
		tp.TruncationStrategy, tp.PreserveWordBoundary, tp.TruncationIndicator)
	hash, _ := textproc.Hash(fp, textproc.AlgorithmSHA256)
	return hash
}

// embedQuery produces one embedding for a single text, serving it from
// whichever cache tier holds it before ever reaching the provider. A
// per-call timeout races the provider call; on timeout the provider call
// is cancelled and the error reported is Timeout. On a provider-fresh
// result, the embedding is written through to every cache tier
// fire-and-forget before returning.
func (p *Pipeline) embedQuery(ctx context.Context, text string, col domain.Collection, providerCfg ProviderConfig, opts QueryOptions) (QueryResult, error) {
	start := time.Now()

	processed, err := textproc.Process(text, preprocessingConfig(col.TextPreprocessing))
	if err != nil {
		return QueryResult{}, err
	}

	key := cache.BuildKey(domain.CacheKeyInput{
		NormalisedText:           processed.Processed,
		ProviderID:               col.ProviderID,
		ModelID:                  col.ModelID,
		Dimensions:               col.Dimensions,
		PreprocessingFingerprint: preprocessingFingerprint(col.TextPreprocessing),
		Salt:                     opts.Salt,
	})

	if p.cache != nil {
		if entry, tier, ok := p.cache.GetWithSource(ctx, key); ok {
			return QueryResult{
				Vector:         entry.Vector,
				Source:         tier.String(),
				ProcessingTime: time.Since(start),
			}, nil
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vec, err := p.pool.Embed(callCtx, providerKind(providerCfg), providerCfg, processed.Processed)
	if err != nil {
		if callCtx.Err() != nil {
			return QueryResult{}, cerrors.TimeoutError("embedding call exceeded its per-call timeout")
		}
		return QueryResult{}, err
	}

	if p.cache != nil {
		p.cache.Set(context.Background(), &domain.CacheEntry{Key: key, Vector: vec})
	}

	return QueryResult{
		Vector:         vec,
		Source:         "provider-fresh",
		ProcessingTime: time.Since(start),
	}, nil
}

// EmbedQuery is the exported form of embedQuery.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string, col domain.Collection, providerCfg ProviderConfig, opts QueryOptions) (QueryResult, error) {
	return p.embedQuery(ctx, text, col, providerCfg, opts)
}

// EmbedBatch shards requests into at most opts.Concurrency concurrent
// groups of opts.BatchSize items, embedding each item independently via
// embedQuery so cache hits within a batch are just as effective as
// isolated calls. Per-item failures are captured as failed result
// entries and do not abort the batch unless AbortOnErr is set; the
// result order always matches the input order.
func (p *Pipeline) EmbedBatch(ctx context.Context, requests []BatchRequest, col domain.Collection, providerCfg ProviderConfig, opts BatchOptions) ([]BatchResult, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	type shard struct {
		start, end int
	}
	var shards []shard
	for start := 0; start < len(requests); start += batchSize {
		end := start + batchSize
		if end > len(requests) {
			end = len(requests)
		}
		shards = append(shards, shard{start, end})
	}

	results := make([]BatchResult, len(requests))
	var (
		mu        sync.Mutex
		completed int
		aborted   bool
		abortErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			for i := sh.start; i < sh.end; i++ {
				mu.Lock()
				stop := aborted
				mu.Unlock()
				if stop {
					return nil
				}

				req := requests[i]
				res := BatchResult{ID: req.ID}
				if gctx.Err() != nil {
					res.Err = cerrors.CancelledError("batch embedding cancelled")
				} else {
					qr, err := p.embedQuery(gctx, req.Text, col, providerCfg, QueryOptions{})
					if err != nil {
						res.Err = err
					} else {
						res.Vector = qr.Vector
						res.Source = qr.Source
					}
				}
				results[i] = res

				mu.Lock()
				completed++
				n := completed
				if res.Err != nil && opts.AbortOnErr {
					aborted = true
					abortErr = res.Err
				}
				mu.Unlock()

				if opts.OnProgress != nil {
					opts.OnProgress(n, len(requests), req.ID)
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	if aborted && abortErr != nil {
		return results, abortErr
	}
	return results, nil
}

// WarmCache pre-fills the cache for a set of queries at low priority. A
// query already cached, or one that fails to embed, is skipped rather
// than aborting the whole warm pass — this is best-effort background
// work, not a request that can fail the caller.
func (p *Pipeline) WarmCache(ctx context.Context, queries []string, col domain.Collection, providerCfg ProviderConfig) {
	if p.cache == nil {
		return
	}
	// Stable order keeps warm passes deterministic for tests and logs.
	sorted := make([]string, len(queries))
	copy(sorted, queries)
	sort.Strings(sorted)

	for _, q := range sorted {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.embedQuery(ctx, q, col, providerCfg, QueryOptions{}); err != nil {
			p.log.Debug("cache warm skipped query", "error", err)
		}
	}
}
