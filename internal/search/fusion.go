package search

import (
	"math"
	"sort"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// Candidate is one document surfaced by either side of the executor's
// dispatch (or both), carrying whatever raw score/rank each side produced.
// A nil pointer means that side did not return this document.
type Candidate struct {
	DocID       string
	FTSScore    *float64
	FTSRank     int // 1-based; 0 if absent
	VectorScore *float64
	VectorRank  int // 1-based; 0 if absent
}

// FusedResult is one post-fusion, pre-postprocessing result.
type FusedResult struct {
	DocID string
	Score float64
}

// normalise rescales raw to the plan's chosen normalisation, treating raw
// as one complete side's score list so min/mean/stddev are computed over
// the actual candidate population rather than a fixed range.
func normalise(raw []float64, method domain.ScoreNormalisation) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	switch method {
	case domain.NormaliseMinMax:
		min, max := raw[0], raw[0]
		for _, v := range raw {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		span := max - min
		for i, v := range raw {
			if span == 0 {
				out[i] = 0.5
				continue
			}
			out[i] = (v - min) / span
		}
	case domain.NormaliseZScore:
		var sum float64
		for _, v := range raw {
			sum += v
		}
		mean := sum / float64(len(raw))
		var variance float64
		for _, v := range raw {
			variance += (v - mean) * (v - mean)
		}
		stddev := math.Sqrt(variance / float64(len(raw)))
		for i, v := range raw {
			if stddev == 0 {
				out[i] = 0
				continue
			}
			out[i] = (v - mean) / stddev
		}
	case domain.NormaliseSigmoid:
		for i, v := range raw {
			out[i] = 1 / (1 + math.Exp(-v))
		}
	default: // NormaliseNone
		copy(out, raw)
	}
	return out
}

// Fuse combines per-side candidate scores into one ranked list per the
// plan's FusionMethod, then applies freshness/popularity boosts and a
// stable descending sort with document-id tie-break.
func Fuse(candidates []Candidate, plan domain.ExecutionPlan, boosts map[string]boost) []FusedResult {
	var ftsRaw, vecRaw []float64
	ftsIdx := map[int]int{} // candidate index -> position within ftsRaw
	vecIdx := map[int]int{}
	for i, c := range candidates {
		if c.FTSScore != nil {
			ftsIdx[i] = len(ftsRaw)
			ftsRaw = append(ftsRaw, *c.FTSScore)
		}
		if c.VectorScore != nil {
			vecIdx[i] = len(vecRaw)
			vecRaw = append(vecRaw, *c.VectorScore)
		}
	}
	ftsNorm := normalise(ftsRaw, plan.ScoreNormalisation)
	vecNorm := normalise(vecRaw, plan.ScoreNormalisation)

	results := make([]FusedResult, len(candidates))
	for i, c := range candidates {
		var score float64
		switch plan.FusionMethod {
		case domain.FusionRRF:
			if c.FTSRank > 0 {
				score += 1.0 / float64(DefaultRRFConstant+c.FTSRank)
			}
			if c.VectorRank > 0 {
				score += 1.0 / float64(DefaultRRFConstant+c.VectorRank)
			}
		case domain.FusionMax:
			if pos, ok := ftsIdx[i]; ok && ftsNorm[pos] > score {
				score = ftsNorm[pos]
			}
			if pos, ok := vecIdx[i]; ok && vecNorm[pos] > score {
				score = vecNorm[pos]
			}
		case domain.FusionNormalisedWeighted:
			score = weightedSum(i, ftsIdx, ftsNorm, vecIdx, vecNorm, plan.Weights)
		default: // FusionWeightedSum
			score = weightedSum(i, ftsIdx, ftsNorm, vecIdx, vecNorm, plan.Weights)
		}

		if b, ok := boosts[c.DocID]; ok {
			score += plan.Weights.Freshness*b.freshness + plan.Weights.Popularity*b.popularity
		}
		results[i] = FusedResult{DocID: c.DocID, Score: score}
	}

	if plan.FusionMethod == domain.FusionNormalisedWeighted {
		renormaliseInPlace(results)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	return results
}

func weightedSum(i int, ftsIdx, vecIdx map[int]int, ftsNorm, vecNorm []float64, w domain.Weights) float64 {
	var score float64
	if pos, ok := ftsIdx[i]; ok {
		score += w.FTS * ftsNorm[pos]
	}
	if pos, ok := vecIdx[i]; ok {
		score += w.Vector * vecNorm[pos]
	}
	return score
}

// renormaliseInPlace min-max rescales the final fused scores to [0,1],
// the extra step that distinguishes normalised-weighted from weighted-sum.
func renormaliseInPlace(results []FusedResult) {
	if len(results) == 0 {
		return
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	span := max - min
	for i := range results {
		if span == 0 {
			results[i].Score = 0.5
			continue
		}
		results[i].Score = (results[i].Score - min) / span
	}
}

// boost carries the precomputed freshness/popularity contributions for one
// document, so Fuse stays a pure function of its inputs.
type boost struct {
	freshness  float64
	popularity float64
}
