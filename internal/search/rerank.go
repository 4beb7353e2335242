package search

import (
	"sort"
	"strings"
)

// RerankCandidate is one top-N result the optional reranker/diversity
// passes operate on.
type RerankCandidate struct {
	DocID   string
	Content string
	Score   float64
}

// Rerank applies a small, deterministic content-aware reranker over the
// top-N fused results: it recomputes a term-overlap score against the
// query and blends it with the fusion score, so two runs over identical
// inputs always produce identical output (spec §4.7).
func Rerank(candidates []RerankCandidate, queryTerms []string, topN int, blend float64) []RerankCandidate {
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	head := candidates[:topN]
	tail := candidates[topN:]

	terms := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		terms[t] = true
	}

	for i := range head {
		overlap := termOverlapScore(head[i].Content, terms)
		head[i].Score = blend*overlap + (1-blend)*head[i].Score
	}

	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Score != head[j].Score {
			return head[i].Score > head[j].Score
		}
		return head[i].DocID < head[j].DocID
	})

	return append(head, tail...)
}

func termOverlapScore(content string, terms map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := strings.Fields(strings.ToLower(content))
	seen := make(map[string]bool, len(terms))
	for _, w := range words {
		clean := strings.Trim(w, `.,!?;:"'`)
		if terms[clean] {
			seen[clean] = true
		}
	}
	return float64(len(seen)) / float64(len(terms))
}

// DiversityBudget is the default number of results the MMR-style diversity
// pass keeps when enabled.
const DiversityBudget = 20

// Diversify runs a maximal-marginal-relevance-style pass: it walks the
// candidates in the order given and keeps each one whose content is not a
// near-duplicate (token-Jaccard similarity at or above threshold) of any
// already-kept candidate, until budget results are chosen or the pool is
// exhausted. It does not re-sort by score.
func Diversify(candidates []RerankCandidate, budget int, similarityThreshold float64) []RerankCandidate {
	if budget <= 0 {
		budget = DiversityBudget
	}
	tokenSets := make([]map[string]bool, len(candidates))
	for i, c := range candidates {
		tokenSets[i] = tokenSet(c.Content)
	}

	var picked []RerankCandidate
	pickedIdx := make([]int, 0, budget)
	for _, c := range candidates {
		if len(picked) >= budget {
			break
		}
		idx := len(pickedIdx)
		_ = idx
		i := indexOf(candidates, c)
		isDup := false
		for _, p := range pickedIdx {
			if jaccard(tokenSets[i], tokenSets[p]) >= similarityThreshold {
				isDup = true
				break
			}
		}
		if isDup {
			continue
		}
		picked = append(picked, c)
		pickedIdx = append(pickedIdx, i)
	}
	return picked
}

func indexOf(candidates []RerankCandidate, target RerankCandidate) int {
	for i, c := range candidates {
		if c.DocID == target.DocID {
			return i
		}
	}
	return -1
}

func tokenSet(content string) map[string]bool {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, `.,!?;:"'`)] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
