package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/embed"
)

// CollectionIndex bundles everything the engine needs to query one
// collection: its metadata (for provider/model lookup), the availability
// of its two indexes, and the executor wired to those indexes.
type CollectionIndex struct {
	Collection   domain.Collection
	ProviderCfg  embed.ProviderConfig
	Availability IndexAvailability
	Executor     *Executor
}

// Engine is the top-level entrypoint composing the query strategy engine
// (C6: Analyse+Plan) with the search executor (C7: Execute) across one or
// many collections.
type Engine struct {
	Log *slog.Logger
}

// NewEngine constructs an Engine. A nil logger falls back to slog.Default.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{Log: log}
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Search runs one query against a single collection: analyse, plan,
// execute, in that order, with each stage's duration recorded on the
// returned Result's Observability.
func (e *Engine) Search(ctx context.Context, ci CollectionIndex, query string, pagination domain.Pagination, budgetMS int, opts Options) (Result, error) {
	analysisStart := time.Now()
	analysis := Analyse(query)
	analysisElapsed := time.Since(analysisStart)

	planStart := time.Now()
	plan := Plan(analysis, ci.Availability, pagination, budgetMS)
	planElapsed := time.Since(planStart)

	result, err := ci.Executor.Execute(ctx, ci.Collection, ci.ProviderCfg, plan, opts)
	if err != nil {
		e.log().Error("search execution failed", "collection", ci.Collection.Name, "error", err)
		return Result{}, err
	}

	result.Observability.Timings.Analysis = analysisElapsed
	result.Observability.Timings.Planning = planElapsed
	return result, nil
}

// GlobalResult is GlobalSearch's return value: the merged, re-paginated
// top results across every queried collection, plus each collection's own
// plan/observability for diagnostics.
type GlobalResult struct {
	Documents     []ResultDocument
	PerCollection map[string]Result
}

// GlobalSearch runs a query against every given collection one after
// another (each Executor.Execute already dispatches its own two-way
// concurrency, and running collections serially bounds total concurrent
// provider/index load), then merges and re-paginates the union by score.
func (e *Engine) GlobalSearch(ctx context.Context, collections []CollectionIndex, query string, pagination domain.Pagination, budgetMS int, opts Options) (GlobalResult, error) {
	perCollectionPagination := domain.Pagination{Limit: pagination.Limit + pagination.Offset, Offset: 0}

	out := GlobalResult{PerCollection: make(map[string]Result, len(collections))}
	var merged []ResultDocument
	for _, ci := range collections {
		res, err := e.Search(ctx, ci, query, perCollectionPagination, budgetMS, opts)
		if err != nil {
			e.log().Warn("collection search failed during global search", "collection", ci.Collection.Name, "error", err)
			continue
		}
		out.PerCollection[ci.Collection.Name] = res
		merged = append(merged, res.Documents...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Collection != merged[j].Collection {
			return merged[i].Collection < merged[j].Collection
		}
		return merged[i].DocID < merged[j].DocID
	})

	out.Documents = paginate(merged, pagination.Offset, pagination.Limit)
	return out, nil
}
