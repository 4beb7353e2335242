package domain

import "time"

// CacheTier identifies one of the three cache tiers (fastest to slowest).
type CacheTier int

const (
	TierMemory CacheTier = iota
	TierPersistent
	TierDatabase
)

func (t CacheTier) String() string {
	switch t {
	case TierMemory:
		return "cache-memory"
	case TierPersistent:
		return "cache-persistent"
	case TierDatabase:
		return "cache-database"
	default:
		return "unknown"
	}
}

// EvictionPolicy selects the admission/eviction strategy a cache tier uses.
type EvictionPolicy string

const (
	EvictionLRU             EvictionPolicy = "lru"
	EvictionLFU             EvictionPolicy = "lfu"
	EvictionPriorityWeighted EvictionPolicy = "priority-weighted"
	EvictionHybrid          EvictionPolicy = "hybrid"
)

// HybridEvictionCoefficients tunes the hybrid eviction score:
// α·priority + β·accessCount − γ·ageSeconds − δ·bytes.
type HybridEvictionCoefficients struct {
	Alpha, Beta, Gamma, Delta float64
}

// DefaultHybridCoefficients mirrors the weights a reasonable default
// deployment would pick: favour priority and recency, lightly penalise size.
var DefaultHybridCoefficients = HybridEvictionCoefficients{
	Alpha: 1.0, Beta: 0.5, Gamma: 0.01, Delta: 0.0001,
}

// CacheEntry is the per-tier stored value plus its bookkeeping metadata.
type CacheEntry struct {
	Key        string
	Vector     []float32
	CreatedAt  time.Time
	LastUsedAt time.Time
	HitCount   int64
	ByteSize   int64
	ExpiresAt  *time.Time
	Compressed bool
	Tags       []string
	Priority   int
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// CacheKeyInput is the tuple hashed to produce a deterministic cache key.
// Field order in the struct does not matter: cache.BuildKey concatenates
// the fields in a fixed order before hashing so semantically equal inputs always produce the same key.
type CacheKeyInput struct {
	NormalisedText          string
	ProviderID              string
	ModelID                 string
	Dimensions              int
	PreprocessingFingerprint string
	Salt                    string
}

// TierConfig configures one cache tier's capacity and TTL.
type TierConfig struct {
	MaxEntries      int
	MaxBytes        int64
	TTL             time.Duration
	Eviction        EvictionPolicy
	CleanupInterval time.Duration
}

// DefaultMemoryTierConfig returns the tier-1 defaults (spec §4.2).
func DefaultMemoryTierConfig() TierConfig {
	return TierConfig{MaxEntries: 10_000, MaxBytes: 256 << 20, TTL: 5 * time.Minute, Eviction: EvictionLRU, CleanupInterval: time.Minute}
}

// DefaultPersistentTierConfig returns the tier-2 defaults.
func DefaultPersistentTierConfig() TierConfig {
	return TierConfig{MaxEntries: 200_000, MaxBytes: 2 << 30, TTL: 24 * time.Hour, Eviction: EvictionLRU, CleanupInterval: 10 * time.Minute}
}

// DefaultDatabaseTierConfig returns the tier-3 defaults.
func DefaultDatabaseTierConfig() TierConfig {
	return TierConfig{MaxEntries: 2_000_000, MaxBytes: 20 << 30, TTL: 7 * 24 * time.Hour, Eviction: EvictionLRU, CleanupInterval: time.Hour}
}

// EvictionHighWaterFraction is the fraction of a tier's cap that a
// synchronous eviction pass reduces occupancy to once crossed (spec: ~80%).
const EvictionHighWaterFraction = 0.8

// CacheStats captures per-tier observability counters (spec §4.2).
type CacheStats struct {
	Hits, Misses, Evictions int64
	BytesUsed               int64
	AvgAccessTime           time.Duration
}
