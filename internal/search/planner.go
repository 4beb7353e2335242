package search

import (
	"github.com/ciphermesh/hyperia/internal/domain"
)

// DefaultRRFConstant is the reciprocal-rank-fusion smoothing constant spec
// §4.6 names (k=60, the Azure AI Search / OpenSearch convention).
const DefaultRRFConstant = 60

// IndexAvailability tells the planner which side(s) of a hybrid search a
// collection can actually serve. A collection with no embedding provider,
// or whose provider is currently unavailable, reports HasVector=false and
// rule 4 forces a pure keyword plan.
type IndexAvailability struct {
	HasFullText bool
	HasVector   bool
}

// Plan evaluates the spec §4.6 strategy rules, in order, against an
// already-computed QueryAnalysis and returns a complete ExecutionPlan.
// The first matching rule wins; FiredRule records which one for the debug
// trail.
func Plan(analysis domain.QueryAnalysis, avail IndexAvailability, pagination domain.Pagination, budgetMS int) domain.ExecutionPlan {
	f := analysis.Features

	plan := domain.ExecutionPlan{
		Pagination:          pagination,
		PerformanceBudgetMS: budgetMS,
	}

	switch {
	// Rule 4: no embeddings available at all forces keyword regardless of
	// query shape. Checked first because it's an availability constraint,
	// not a query-shape preference — a phrase-heavy query with no vector
	// index still only has one viable side.
	case !avail.HasVector:
		plan.PrimaryStrategy = domain.StrategyKeyword
		plan.FallbackStrategies = nil
		plan.FusionMethod = domain.FusionWeightedSum
		plan.Weights = domain.Weights{FTS: 1.0}
		plan.ScoreNormalisation = domain.NormaliseMinMax
		analysis.FiredRule = "rule-4-no-vector-index"

	// Rule 1: exact-phrase-heavy or operator-bearing queries prefer
	// keyword when a full-text index exists.
	case avail.HasFullText && (f.HasQuotes || f.HasBooleanOps || f.HasWildcards):
		plan.PrimaryStrategy = domain.StrategyKeyword
		plan.FallbackStrategies = []domain.Strategy{domain.StrategyVector}
		plan.FusionMethod = domain.FusionWeightedSum
		plan.Weights = domain.Weights{FTS: 0.8, Vector: 0.2, ExactMatch: 0.2, Phrase: 0.2}
		plan.ScoreNormalisation = domain.NormaliseMinMax
		analysis.FiredRule = "rule-1-keyword-operators"

	// Rule 2: short conceptual natural-language queries prefer vector.
	case avail.HasVector && f.WordCount <= 6 && !f.HasBooleanOps && !f.HasQuotes && !f.HasWildcards:
		plan.PrimaryStrategy = domain.StrategyVector
		if avail.HasFullText {
			plan.FallbackStrategies = []domain.Strategy{domain.StrategyKeyword}
		}
		plan.FusionMethod = domain.FusionWeightedSum
		plan.Weights = domain.Weights{Vector: 0.8, FTS: 0.2}
		plan.ScoreNormalisation = domain.NormaliseSigmoid
		analysis.FiredRule = "rule-2-vector-conceptual"

	// Rule 3: mixed-signal queries, or collections with both indexes that
	// didn't match rules 1/2, go hybrid with feature-derived weights:
	// boolean operators raise the keyword weight.
	case avail.HasFullText && avail.HasVector:
		ftsWeight := 0.5
		if f.HasBooleanOps || f.HasQuotes {
			ftsWeight = 0.65
		}
		plan.PrimaryStrategy = domain.StrategyHybrid
		plan.FallbackStrategies = []domain.Strategy{domain.StrategyKeyword, domain.StrategyVector}
		plan.FusionMethod = domain.FusionRRF
		plan.Weights = domain.Weights{FTS: ftsWeight, Vector: 1 - ftsWeight}
		plan.ScoreNormalisation = domain.NormaliseNone // RRF operates on ranks
		analysis.FiredRule = "rule-3-hybrid-mixed-signal"

	case avail.HasVector && !avail.HasFullText:
		// Vector is the only index and the query was too long/operator-laden
		// to match rule 2's short-conceptual case; it's still the only side
		// that can serve it.
		plan.PrimaryStrategy = domain.StrategyVector
		plan.FusionMethod = domain.FusionWeightedSum
		plan.Weights = domain.Weights{Vector: 1.0}
		plan.ScoreNormalisation = domain.NormaliseSigmoid
		analysis.FiredRule = "rule-4-vector-only-index"

	default:
		// Not reached by any availability combination: a full-text-only
		// index is caught by the no-vector case above.
		plan.PrimaryStrategy = domain.StrategyKeyword
		plan.FusionMethod = domain.FusionWeightedSum
		plan.Weights = domain.Weights{FTS: 1.0}
		plan.ScoreNormalisation = domain.NormaliseMinMax
		analysis.FiredRule = "rule-4-keyword-only-index"
	}

	plan.Analysis = analysis
	return plan
}
