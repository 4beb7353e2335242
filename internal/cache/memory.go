package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// MemoryTier is the tier-1 cache: fast, volatile, capacity-bounded.
// Pure-LRU eviction rides on hashicorp/golang-lru's O(1) container; the
// other three policies (spec §4.2) fall back to a linear scan over a plain
// map, since they need a scoring pass the library's container doesn't
// expose.
type MemoryTier struct {
	cfg   domain.TierConfig
	coefs domain.HybridEvictionCoefficients

	mu      sync.Mutex
	lru     *lru.Cache[string, *domain.CacheEntry] // used only when cfg.Eviction == EvictionLRU
	entries map[string]*domain.CacheEntry          // used for every other policy
	bytes   int64
	stats   domain.CacheStats
}

// NewMemoryTier constructs a tier-1 cache from cfg.
func NewMemoryTier(cfg domain.TierConfig, coefs domain.HybridEvictionCoefficients) *MemoryTier {
	t := &MemoryTier{cfg: cfg, coefs: coefs}
	if cfg.Eviction == domain.EvictionLRU {
		// One slot of headroom so the container never evicts on its own:
		// crossing the cap is left to evictIfNeeded, which trims to the
		// high-water mark.
		c, _ := lru.New[string, *domain.CacheEntry](maxInt(cfg.MaxEntries, 1) + 1)
		t.lru = c
	} else {
		t.entries = make(map[string]*domain.CacheEntry)
	}
	return t
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Get returns the entry for key if present and unexpired. Expired entries
// are evicted lazily on read.
func (t *MemoryTier) Get(_ context.Context, key string, now time.Time) (*domain.CacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(key)
	if !ok {
		t.stats.Misses++
		return nil, false
	}
	if e.Expired(now) {
		t.removeLocked(key, e)
		t.stats.Misses++
		return nil, false
	}
	e.LastUsedAt = now
	e.HitCount++
	t.stats.Hits++
	return cloneEntry(e), true
}

func (t *MemoryTier) lookup(key string) (*domain.CacheEntry, bool) {
	if t.lru != nil {
		return t.lru.Get(key)
	}
	e, ok := t.entries[key]
	return e, ok
}

// Set inserts or replaces an entry, running eviction if the tier crosses
// its high-water mark.
func (t *MemoryTier) Set(_ context.Context, e *domain.CacheEntry, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.ExpiresAt == nil && t.cfg.TTL > 0 {
		exp := now.Add(t.cfg.TTL)
		e.ExpiresAt = &exp
	}
	e.LastUsedAt = now
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	if existing, ok := t.lookup(e.Key); ok {
		t.bytes -= existing.ByteSize
	}
	t.bytes += e.ByteSize

	if t.lru != nil {
		t.lru.Add(e.Key, cloneEntry(e))
	} else {
		t.entries[e.Key] = cloneEntry(e)
	}

	t.evictIfNeeded(now)
}

// Delete removes one entry.
func (t *MemoryTier) Delete(_ context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.lookup(key); ok {
		t.removeLocked(key, e)
	}
}

func (t *MemoryTier) removeLocked(key string, e *domain.CacheEntry) {
	t.bytes -= e.ByteSize
	if t.lru != nil {
		t.lru.Remove(key)
	} else {
		delete(t.entries, key)
	}
}

// Len reports the current entry count.
func (t *MemoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lru != nil {
		return t.lru.Len()
	}
	return len(t.entries)
}

// Stats returns a snapshot of tier-1 counters.
func (t *MemoryTier) Stats() domain.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.BytesUsed = t.bytes
	return s
}

// evictIfNeeded runs once the entry count or byte budget crosses its cap
// and evicts down to the high-water mark (~80% of the entry cap).
// Pure-LRU drops the container's oldest entries; the remaining policies
// score and sort.
func (t *MemoryTier) evictIfNeeded(now time.Time) {
	limit := t.cfg.MaxEntries
	if limit <= 0 {
		return
	}

	var n int
	if t.lru != nil {
		n = t.lru.Len()
	} else {
		n = len(t.entries)
	}
	if n <= limit && (t.cfg.MaxBytes <= 0 || t.bytes <= t.cfg.MaxBytes) {
		return
	}

	target := int(float64(limit) * domain.EvictionHighWaterFraction)
	if target < 1 {
		target = 1
	}

	if t.lru != nil {
		for t.lru.Len() > target {
			if _, e, ok := t.lru.RemoveOldest(); ok {
				t.bytes -= e.ByteSize
				t.stats.Evictions++
			}
		}
		return
	}

	// Score every entry; evict the lowest scorers first (LFU / priority /
	// hybrid all reduce to "sort ascending by score, drop the tail").
	candidates := make([]scoredEntry, 0, len(t.entries))
	for k, e := range t.entries {
		candidates = append(candidates, scoredEntry{key: k, score: t.score(e, now)})
	}
	sortByScoreAscending(candidates)

	toEvict := n - target
	for i := 0; i < toEvict && i < len(candidates); i++ {
		e := t.entries[candidates[i].key]
		t.bytes -= e.ByteSize
		delete(t.entries, candidates[i].key)
		t.stats.Evictions++
	}
}

func (t *MemoryTier) score(e *domain.CacheEntry, now time.Time) float64 {
	switch t.cfg.Eviction {
	case domain.EvictionLFU:
		return float64(e.HitCount)
	case domain.EvictionPriorityWeighted:
		return float64(e.Priority)*1000 + float64(e.HitCount)
	case domain.EvictionHybrid:
		age := now.Sub(e.LastUsedAt).Seconds()
		c := t.coefs
		return c.Alpha*float64(e.Priority) + c.Beta*float64(e.HitCount) - c.Gamma*age - c.Delta*float64(e.ByteSize)
	default:
		return float64(-now.Sub(e.LastUsedAt))
	}
}

// scoredEntry pairs a tier-1 key with its eviction score.
type scoredEntry struct {
	key   string
	score float64
}

func sortByScoreAscending(s []scoredEntry) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score < s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func cloneEntry(e *domain.CacheEntry) *domain.CacheEntry {
	cp := *e
	cp.Vector = append([]float32(nil), e.Vector...)
	cp.Tags = append([]string(nil), e.Tags...)
	if e.ExpiresAt != nil {
		exp := *e.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}
