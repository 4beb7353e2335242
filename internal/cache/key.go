// Package cache implements the three-tier embedding cache (component C2):
// an in-memory LRU tier, a persistent key-value tier, and a backing
// database tier, composed behind one read-through/write-through Cache.
package cache

import (
	"fmt"

	"github.com/ciphermesh/hyperia/internal/domain"
	"github.com/ciphermesh/hyperia/internal/textproc"
)

// BuildKey derives a deterministic cache key from a CacheKeyInput. Field
// order in the input struct never matters: the fields are concatenated in
// a fixed order before hashing, so two equal inputs always produce the
// same key regardless of how the caller assembled them.
func BuildKey(in domain.CacheKeyInput) string {
	fingerprint := fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%s\x00%s",
		in.NormalisedText, in.ProviderID, in.ModelID, in.Dimensions,
		in.PreprocessingFingerprint, in.Salt)
	hash, _ := textproc.Hash(fingerprint, textproc.AlgorithmSHA256)
	return hash
}
