package search

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/embed"
	"github.com/ciphermesh/hyperia/internal/store"
)

// OverscanFactor bounds how many candidates each side retrieves relative
// to the requested page, so fusion/rerank/diversity have a real pool to
// work with (spec §4.7: "bounded by limit × overscan").
const OverscanFactor = 4

// DocumentStore is the narrow collaborator contract the executor needs to
// fetch document bodies for snippets, freshness boosts, and reranking.
// *store.MetadataStore already satisfies this.
type DocumentStore interface {
	GetDocument(ctx context.Context, collection, id string) (*domain.Document, error)
}

// QueryEmbedder is the narrow slice of *embed.Pipeline the executor
// depends on to turn a query string into a vector (spec §4.7 stage 1).
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string, col domain.Collection, providerCfg embed.ProviderConfig, opts embed.QueryOptions) (embed.QueryResult, error)
}

// Options tunes one Execute call beyond what the ExecutionPlan already
// carries: whether to run the optional reranker/diversity passes.
type Options struct {
	Rerank              bool
	RerankTopN          int
	RerankBlend         float64
	Diversify           bool
	DiversityBudget     int
	DiversitySimilarity float64
}

// DefaultOptions mirrors a reasonable zero-config deployment: no rerank,
// no diversity, pure fusion + pagination.
func DefaultOptions() Options {
	return Options{RerankBlend: 0.3, DiversitySimilarity: 0.85}
}

// StageTimings captures per-stage latency for the observability surface
// spec §4.7 requires.
type StageTimings struct {
	Analysis  time.Duration
	Planning  time.Duration
	Execution time.Duration
	Fusion    time.Duration
}

// Observability bundles per-stage timings, which indexes actually answered,
// and human-readable warnings (e.g. a requested side was unavailable).
type Observability struct {
	Timings      StageTimings
	UsedFullText bool
	UsedVector   bool
	Warnings     []string
}

// ResultDocument is one document in a search response: identity, a
// generated snippet, and the fused (and possibly reranked) score.
type ResultDocument struct {
	DocID      string
	Collection string
	Title      string
	Snippet    string
	Score      float64
}

// Result is Execute's return value: the page of documents, the plan that
// produced them, and the observability trail.
type Result struct {
	Documents     []ResultDocument
	Plan          domain.ExecutionPlan
	Observability Observability
}

// Executor is component C7: it dispatches concurrent keyword/vector
// lookups, joins and fuses candidates, and runs result post-processing.
type Executor struct {
	FullText  store.BM25Index
	Vector    store.VectorStore
	Documents DocumentStore
	Embedder  QueryEmbedder
	Log       *slog.Logger
}

// Execute runs the full C7 pipeline for one collection against an already
// planned ExecutionPlan.
func (e *Executor) Execute(ctx context.Context, col domain.Collection, providerCfg embed.ProviderConfig, plan domain.ExecutionPlan, opts Options) (Result, error) {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}

	obs := Observability{}
	wantKeyword := plan.PrimaryStrategy == domain.StrategyKeyword || plan.PrimaryStrategy == domain.StrategyHybrid || contains(plan.FallbackStrategies, domain.StrategyKeyword)
	wantVector := plan.PrimaryStrategy == domain.StrategyVector || plan.PrimaryStrategy == domain.StrategyHybrid || contains(plan.FallbackStrategies, domain.StrategyVector)

	overscan := (plan.Pagination.Limit + plan.Pagination.Offset) * OverscanFactor
	if overscan <= 0 {
		overscan = 20 * OverscanFactor
	}

	execStart := time.Now()

	var ftsResults []*store.BM25Result
	var vecResults []*store.VectorResult
	g, gctx := errgroup.WithContext(ctx)

	if wantKeyword && e.FullText != nil {
		g.Go(func() error {
			res, err := e.FullText.Search(gctx, plan.Analysis.Normalised, overscan)
			if err != nil {
				log.Warn("full-text search failed", "collection", col.Name, "error", err)
				return nil // degrade: keyword side simply contributes nothing
			}
			ftsResults = res
			return nil
		})
	} else if wantKeyword {
		obs.Warnings = append(obs.Warnings, "full-text index absent; keyword side skipped")
	}

	if wantVector && e.Vector != nil && e.Embedder != nil {
		g.Go(func() error {
			qr, err := e.Embedder.EmbedQuery(gctx, plan.Analysis.Normalised, col, providerCfg, embed.QueryOptions{})
			if err != nil {
				log.Warn("query embedding failed; vector side skipped", "collection", col.Name, "error", err)
				obs.Warnings = append(obs.Warnings, "vector index absent; fell back to keyword")
				return nil
			}
			res, err := e.Vector.Search(gctx, qr.Vector, overscan)
			if err != nil {
				log.Warn("vector search failed", "collection", col.Name, "error", err)
				return nil
			}
			vecResults = res
			return nil
		})
	} else if wantVector {
		obs.Warnings = append(obs.Warnings, "vector index absent; fell back to keyword")
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	obs.UsedFullText = len(ftsResults) > 0
	obs.UsedVector = len(vecResults) > 0
	obs.Timings.Execution = time.Since(execStart)

	fusionStart := time.Now()
	candidates, order := joinCandidates(ftsResults, vecResults)

	now := time.Now()
	boosts := make(map[string]boost, len(candidates))
	docs := make(map[string]*domain.Document, len(candidates))
	for _, docID := range order {
		d, err := e.Documents.GetDocument(ctx, col.Name, docID)
		if err != nil {
			continue // joined candidate whose document vanished since indexing
		}
		docs[docID] = d
		boosts[docID] = boost{
			freshness:  freshnessScore(d.CreatedAt, now),
			popularity: popularityScore(d),
		}
	}

	fused := Fuse(candidates, plan, boosts)
	obs.Timings.Fusion = time.Since(fusionStart)

	terms := queryTerms(plan.Analysis.Normalised)
	rerankCandidates := make([]RerankCandidate, 0, len(fused))
	for _, f := range fused {
		d, ok := docs[f.DocID]
		if !ok {
			continue
		}
		rerankCandidates = append(rerankCandidates, RerankCandidate{DocID: f.DocID, Content: d.Content, Score: f.Score})
	}

	if opts.Rerank && len(rerankCandidates) > 0 {
		topN := opts.RerankTopN
		if topN == 0 {
			topN = overscan
		}
		rerankCandidates = Rerank(rerankCandidates, terms, topN, opts.RerankBlend)
	}
	if opts.Diversify && len(rerankCandidates) > 0 {
		budget := opts.DiversityBudget
		if budget == 0 {
			budget = DiversityBudget
		}
		rerankCandidates = Diversify(rerankCandidates, budget, opts.DiversitySimilarity)
	}

	limit, offset := plan.Pagination.Limit, plan.Pagination.Offset
	if limit <= 0 {
		limit = 20
	}
	page := paginate(rerankCandidates, offset, limit)

	out := make([]ResultDocument, 0, len(page))
	for _, c := range page {
		d := docs[c.DocID]
		out = append(out, ResultDocument{
			DocID:      c.DocID,
			Collection: col.Name,
			Title:      d.Title,
			Snippet:    Snippet(d.Content, terms, MaxSnippetLength),
			Score:      c.Score,
		})
	}

	return Result{Documents: out, Plan: plan, Observability: obs}, nil
}

func contains(strats []domain.Strategy, target domain.Strategy) bool {
	for _, s := range strats {
		if s == target {
			return true
		}
	}
	return false
}

// joinCandidates merges the two result sets by document id, preserving
// per-side scores and 1-based ranks. order is the stable candidate
// iteration order (first seen wins), used so document fetches and the
// final Candidate slice line up deterministically.
func joinCandidates(fts []*store.BM25Result, vec []*store.VectorResult) ([]Candidate, []string) {
	byID := map[string]*Candidate{}
	var order []string

	get := func(id string) *Candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &Candidate{DocID: id}
		byID[id] = c
		order = append(order, id)
		return c
	}

	for i, r := range fts {
		c := get(r.DocID)
		score := r.Score
		c.FTSScore = &score
		c.FTSRank = i + 1
	}
	for i, r := range vec {
		c := get(r.ID)
		score := float64(r.Score)
		c.VectorScore = &score
		c.VectorRank = i + 1
	}

	out := make([]Candidate, len(order))
	for i, id := range order {
		out[i] = *byID[id]
	}
	return out, order
}

// freshnessDecayHalfLife is the age at which freshnessScore halves.
const freshnessDecayHalfLife = 30 * 24 * time.Hour

func freshnessScore(createdAt time.Time, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	halflives := float64(age) / float64(freshnessDecayHalfLife)
	return math.Exp2(-halflives)
}

func popularityScore(d *domain.Document) float64 {
	if d.Metadata == nil {
		return 0
	}
	v, ok := d.Metadata["popularity"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return clamp01(n)
	case int:
		return clamp01(float64(n))
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
