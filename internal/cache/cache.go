package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// Config bundles the three tiers' individual configs plus the hybrid
// eviction coefficients tier 1 may use.
type Config struct {
	Memory     domain.TierConfig
	Persistent domain.TierConfig
	Database   domain.TierConfig
	Hybrid     domain.HybridEvictionCoefficients
}

// DefaultConfig mirrors spec §4.2's three tier defaults.
func DefaultConfig() Config {
	return Config{
		Memory:     domain.DefaultMemoryTierConfig(),
		Persistent: domain.DefaultPersistentTierConfig(),
		Database:   domain.DefaultDatabaseTierConfig(),
		Hybrid:     domain.DefaultHybridCoefficients,
	}
}

// Cache is the three-tier embedding cache (component C2): a fast
// in-memory tier, a persistent key-value tier, and a backing database
// tier, composed so a caller sees one logical key-value store regardless
// of which tier actually answers.
type Cache struct {
	memory     *MemoryTier
	persistent *PersistentTier
	database   *DatabaseTier
	log        *slog.Logger
}

// New constructs a Cache over the three tiers. persistent/database may be
// nil, in which case the corresponding tier is skipped (useful for tests
// exercising only the in-memory tier, or deployments with no durable
// collaborator configured).
func New(cfg Config, persistent *PersistentTier, database *DatabaseTier, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		memory:     NewMemoryTier(cfg.Memory, cfg.Hybrid),
		persistent: persistent,
		database:   database,
		log:        log,
	}
}

// Get performs a read-through lookup: tier 1, then tier 2, then tier 3.
// A hit on a lower tier is promoted to every faster tier above it before
// returning, so the next lookup for the same key is served from memory.
func (c *Cache) Get(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	now := time.Now()

	if e, ok := c.memory.Get(ctx, key, now); ok {
		return e, true
	}

	if c.persistent != nil {
		if e, ok := c.persistent.Get(ctx, key, now); ok {
			c.memory.Set(ctx, cloneEntry(e), now)
			return e, true
		}
	}

	if c.database != nil {
		if e, ok := c.database.Get(ctx, key, now); ok {
			c.memory.Set(ctx, cloneEntry(e), now)
			if c.persistent != nil {
				c.persistent.Set(ctx, cloneEntry(e), now)
			}
			return e, true
		}
	}

	return nil, false
}

// GetWithSource behaves like Get but also reports which tier answered,
// so callers (the embedding pipeline's embedQuery) can surface the
// `source` field spec §4.4 requires.
func (c *Cache) GetWithSource(ctx context.Context, key string) (*domain.CacheEntry, domain.CacheTier, bool) {
	now := time.Now()

	if e, ok := c.memory.Get(ctx, key, now); ok {
		return e, domain.TierMemory, true
	}

	if c.persistent != nil {
		if e, ok := c.persistent.Get(ctx, key, now); ok {
			c.memory.Set(ctx, cloneEntry(e), now)
			return e, domain.TierPersistent, true
		}
	}

	if c.database != nil {
		if e, ok := c.database.Get(ctx, key, now); ok {
			c.memory.Set(ctx, cloneEntry(e), now)
			if c.persistent != nil {
				c.persistent.Set(ctx, cloneEntry(e), now)
			}
			return e, domain.TierDatabase, true
		}
	}

	return nil, domain.TierMemory, false
}

// Set performs a write-through: tier 1 is updated synchronously (it is
// the tier every subsequent Get checks first), while tiers 2 and 3 are
// written on background goroutines so a slow persistent write never adds
// latency to the caller's embedding request.
func (c *Cache) Set(ctx context.Context, e *domain.CacheEntry) {
	now := time.Now()
	c.memory.Set(ctx, cloneEntry(e), now)

	if c.persistent != nil {
		entry := cloneEntry(e)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("panic in persistent cache write-through", "panic", r)
				}
			}()
			c.persistent.Set(context.Background(), entry, now)
		}()
	}
	if c.database != nil {
		entry := cloneEntry(e)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("panic in database cache write-through", "panic", r)
				}
			}()
			c.database.Set(context.Background(), entry, now)
		}()
	}
}

// Invalidate removes key from tiers 1 and 2. Tier 3 has no delete
// operation, so a tier-3 row for key is left in place until it expires
// and a later Get can still find it there and promote it again.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.memory.Delete(ctx, key)
	if c.persistent != nil {
		if err := c.persistent.Delete(ctx, key); err != nil {
			c.log.Warn("persistent cache invalidate failed", "error", err)
		}
	}
}

// Stats returns tier-1 observability counters only; tiers 2 and 3 report
// no counters through it.
func (c *Cache) Stats() domain.CacheStats {
	return c.memory.Stats()
}

// SweepExpired runs the periodic expiry sweep across tiers 2 and 3. It is
// meant to be called on a ticker by whatever owns the Cache's lifecycle.
func (c *Cache) SweepExpired(ctx context.Context) {
	now := time.Now()
	if c.persistent != nil {
		if n, err := c.persistent.SweepExpired(ctx, now); err != nil {
			c.log.Warn("persistent cache sweep failed", "error", err)
		} else if n > 0 {
			c.log.Debug("swept expired persistent cache entries", "count", n)
		}
	}
	if c.database != nil {
		if n, err := c.database.SweepExpired(ctx, now); err != nil {
			c.log.Warn("database cache sweep failed", "error", err)
		} else if n > 0 {
			c.log.Debug("swept expired database cache entries", "count", n)
		}
	}
}
