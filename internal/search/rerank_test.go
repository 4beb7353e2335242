package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRerankBlendsTermOverlap(t *testing.T) {
	candidates := []RerankCandidate{
		{DocID: "low-overlap", Content: "a story about gardening", Score: 0.9},
		{DocID: "high-overlap", Content: "raft paxos distributed consensus algorithms", Score: 0.5},
	}
	out := Rerank(candidates, []string{"raft", "paxos", "consensus"}, 2, 0.8)
	assert.Equal(t, "high-overlap", out[0].DocID)
}

func TestRerankLeavesTailUnranked(t *testing.T) {
	candidates := []RerankCandidate{
		{DocID: "a", Content: "raft consensus", Score: 0.1},
		{DocID: "b", Content: "unrelated content", Score: 0.9},
		{DocID: "c", Content: "tail item", Score: 0.05},
	}
	out := Rerank(candidates, []string{"raft"}, 2, 0.5)
	assert.Equal(t, "c", out[2].DocID)
}

func TestDiversifyDropsNearDuplicates(t *testing.T) {
	candidates := []RerankCandidate{
		{DocID: "a", Content: "the quick brown fox jumps over the lazy dog", Score: 1.0},
		{DocID: "b", Content: "the quick brown fox jumps over the lazy dog today", Score: 0.9},
		{DocID: "c", Content: "completely different unrelated topic entirely", Score: 0.8},
	}
	out := Diversify(candidates, 10, 0.7)
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.DocID
	}
	assert.Contains(t, ids, "a")
	assert.NotContains(t, ids, "b")
	assert.Contains(t, ids, "c")
}

func TestDiversifyRespectsBudget(t *testing.T) {
	candidates := []RerankCandidate{
		{DocID: "a", Content: "alpha topic one"},
		{DocID: "b", Content: "beta topic two"},
		{DocID: "c", Content: "gamma topic three"},
	}
	out := Diversify(candidates, 2, 0.99)
	assert.Len(t, out, 2)
}
