package queue

import (
	"context"

	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/embed"
)

// ProviderConfigLookup resolves the provider configuration (API key,
// base URL, rate limits, ...) to use for a given collection. Collection
// configuration in internal/domain deliberately carries no secrets or
// pool-instance settings, so the worker needs this alongside
// CollectionLookup to drive embed.Pipeline.
type ProviderConfigLookup func(ctx context.Context, col domain.Collection) embed.ProviderConfig

// PipelineEmbedder adapts an *embed.Pipeline to the Embedder interface
// this package depends on, resolving each collection's ProviderConfig
// through a caller-supplied lookup.
type PipelineEmbedder struct {
	Pipeline *embed.Pipeline
	Provider ProviderConfigLookup
}

var _ Embedder = (*PipelineEmbedder)(nil)

// EmbedBatch implements Embedder.
func (a *PipelineEmbedder) EmbedBatch(ctx context.Context, requests []BatchRequest, col domain.Collection, opts BatchOptions) ([]BatchResult, error) {
	in := make([]embed.BatchRequest, len(requests))
	for i, r := range requests {
		in[i] = embed.BatchRequest{ID: r.ID, Text: r.Text}
	}

	out, err := a.Pipeline.EmbedBatch(ctx, in, col, a.Provider(ctx, col), embed.BatchOptions{
		BatchSize:   opts.BatchSize,
		Concurrency: opts.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(out))
	for i, r := range out {
		results[i] = BatchResult{ID: r.ID, Vector: r.Vector, Err: r.Err}
	}
	return results, nil
}
