package cache

import (
	"context"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// persistentCollaborator is the narrow surface PersistentTier and
// DatabaseTier consume from the SQL collaborator (store.MetadataStore in
// production, a fake in tests).
type persistentCollaborator interface {
	PersistentCacheGet(ctx context.Context, key string) (*domain.CacheEntry, bool, error)
	PersistentCacheSet(ctx context.Context, e *domain.CacheEntry) error
	PersistentCacheDelete(ctx context.Context, key string) error
	PersistentCacheCount(ctx context.Context) (int, error)
	PersistentCacheEvictLRU(ctx context.Context, n int) (int64, error)
	PersistentCacheDeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PersistentTier is the tier-2 cache: survives process restarts, bounded
// by entry count rather than held entirely in memory.
type PersistentTier struct {
	store persistentCollaborator
	cfg   domain.TierConfig
}

// NewPersistentTier wraps a collaborator with tier-2 policy.
func NewPersistentTier(store persistentCollaborator, cfg domain.TierConfig) *PersistentTier {
	return &PersistentTier{store: store, cfg: cfg}
}

// Get reads one entry, returning false on a miss or an error.
func (t *PersistentTier) Get(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, bool) {
	e, ok, err := t.store.PersistentCacheGet(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	if e.Expired(now) {
		_ = t.store.PersistentCacheDelete(ctx, key)
		return nil, false
	}
	return e, true
}

// Set writes one entry and runs eviction if the tier is over capacity.
// Failures here are non-fatal: the caller already has its answer from a
// higher tier or from the provider, this write is a best-effort promotion.
func (t *PersistentTier) Set(ctx context.Context, e *domain.CacheEntry, now time.Time) {
	if e.ExpiresAt == nil && t.cfg.TTL > 0 {
		exp := now.Add(t.cfg.TTL)
		e.ExpiresAt = &exp
	}
	e.LastUsedAt = now
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	_ = t.store.PersistentCacheSet(ctx, e)

	if t.cfg.MaxEntries <= 0 {
		return
	}
	n, err := t.store.PersistentCacheCount(ctx)
	if err != nil || n <= t.cfg.MaxEntries {
		return
	}
	target := int(float64(t.cfg.MaxEntries) * domain.EvictionHighWaterFraction)
	if excess := n - target; excess > 0 {
		_, _ = t.store.PersistentCacheEvictLRU(ctx, excess)
	}
}

// SweepExpired deletes every expired tier-2 row.
func (t *PersistentTier) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return t.store.PersistentCacheDeleteExpired(ctx, now)
}

// Delete removes one entry.
func (t *PersistentTier) Delete(ctx context.Context, key string) error {
	return t.store.PersistentCacheDelete(ctx, key)
}

// databaseCollaborator is the narrow surface DatabaseTier consumes.
type databaseCollaborator interface {
	DatabaseCacheGet(ctx context.Context, key string) (*domain.CacheEntry, bool, error)
	DatabaseCacheSet(ctx context.Context, e *domain.CacheEntry, provider, model string, dims int) error
	DatabaseCacheDeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DatabaseTier is the tier-3 cache: the system of record, longest TTL,
// largest capacity. A miss here is a true cache miss for the whole chain.
type DatabaseTier struct {
	store      databaseCollaborator
	cfg        domain.TierConfig
	providerID string
	modelID    string
	dimensions int
}

// NewDatabaseTier wraps a collaborator with tier-3 policy.
func NewDatabaseTier(store databaseCollaborator, cfg domain.TierConfig, providerID, modelID string, dims int) *DatabaseTier {
	return &DatabaseTier{store: store, cfg: cfg, providerID: providerID, modelID: modelID, dimensions: dims}
}

// Get reads one entry, returning false on a miss or an error.
func (t *DatabaseTier) Get(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, bool) {
	e, ok, err := t.store.DatabaseCacheGet(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	if e.Expired(now) {
		return nil, false
	}
	return e, true
}

// Set writes one entry. Tier 3 has the largest capacity in every default
// configuration, so it is not synchronously evicted on write; a periodic
// sweep (SweepExpired) reclaims expired rows instead.
func (t *DatabaseTier) Set(ctx context.Context, e *domain.CacheEntry, now time.Time) {
	if e.ExpiresAt == nil && t.cfg.TTL > 0 {
		exp := now.Add(t.cfg.TTL)
		e.ExpiresAt = &exp
	}
	e.LastUsedAt = now
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	_ = t.store.DatabaseCacheSet(ctx, e, t.providerID, t.modelID, t.dimensions)
}

// SweepExpired deletes every expired tier-3 row.
func (t *DatabaseTier) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return t.store.DatabaseCacheDeleteExpired(ctx, now)
}
