package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// encodeVector packs a []float32 into a little-endian byte slice, the wire
// form both cache tables store embeddings in.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return v
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return strings.Join(tags, ",")
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func expiresAtString(e *time.Time) sql.NullString {
	if e == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: e.Format(time.RFC3339), Valid: true}
}

func parseExpiresAt(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// PersistentCacheGet reads one tier-2 entry. The second return is false on
// a clean miss (no row).
func (s *MetadataStore) PersistentCacheGet(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, embedding, tags, last_used_at, created_at, expires_at
		FROM persistent_cache WHERE key = ?`, key)
	return scanCacheEntry(row)
}

// PersistentCacheSet upserts one tier-2 entry.
func (s *MetadataStore) PersistentCacheSet(ctx context.Context, e *domain.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persistent_cache (key, embedding, tags, last_used_at, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			embedding=excluded.embedding, tags=excluded.tags,
			last_used_at=excluded.last_used_at, expires_at=excluded.expires_at
	`, e.Key, encodeVector(e.Vector), encodeTags(e.Tags), e.LastUsedAt.Format(time.RFC3339),
		e.CreatedAt.Format(time.RFC3339), expiresAtString(e.ExpiresAt))
	if err != nil {
		return cerrors.CacheErrorFn("failed to write persistent cache entry", err)
	}
	return nil
}

// PersistentCacheDelete removes one tier-2 entry.
func (s *MetadataStore) PersistentCacheDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM persistent_cache WHERE key = ?`, key)
	if err != nil {
		return cerrors.CacheErrorFn("failed to delete persistent cache entry", err)
	}
	return nil
}

// PersistentCacheCount reports the current row count, used by the eviction
// high-water check.
func (s *MetadataStore) PersistentCacheCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persistent_cache`).Scan(&n); err != nil {
		return 0, cerrors.CacheErrorFn("failed to count persistent cache entries", err)
	}
	return n, nil
}

// PersistentCacheEvictLRU deletes the n least-recently-used rows.
func (s *MetadataStore) PersistentCacheEvictLRU(ctx context.Context, n int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM persistent_cache WHERE key IN (
			SELECT key FROM persistent_cache ORDER BY last_used_at ASC LIMIT ?
		)`, n)
	if err != nil {
		return 0, cerrors.CacheErrorFn("failed to evict persistent cache entries", err)
	}
	return res.RowsAffected()
}

// PersistentCacheDeleteExpired removes every expired row and reports how
// many were removed.
func (s *MetadataStore) PersistentCacheDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM persistent_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.Format(time.RFC3339))
	if err != nil {
		return 0, cerrors.CacheErrorFn("failed to sweep expired persistent cache entries", err)
	}
	return res.RowsAffected()
}

// DatabaseCacheGet reads one tier-3 entry.
func (s *MetadataStore) DatabaseCacheGet(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, embedding, tags, created_at, created_at, expires_at
		FROM embedding_cache WHERE key = ?`, key)
	return scanCacheEntry(row)
}

// DatabaseCacheSet upserts one tier-3 entry, recording provider/model for
// later audit/debugging.
func (s *MetadataStore) DatabaseCacheSet(ctx context.Context, e *domain.CacheEntry, provider, model string, dims int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (key, embedding, provider, model, dimensions, tags, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			embedding=excluded.embedding, tags=excluded.tags, expires_at=excluded.expires_at
	`, e.Key, encodeVector(e.Vector), provider, model, dims, encodeTags(e.Tags),
		e.CreatedAt.Format(time.RFC3339), expiresAtString(e.ExpiresAt))
	if err != nil {
		return cerrors.CacheErrorFn("failed to write database cache entry", err)
	}
	return nil
}

// DatabaseCacheDeleteExpired removes every expired tier-3 row.
func (s *MetadataStore) DatabaseCacheDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.Format(time.RFC3339))
	if err != nil {
		return 0, cerrors.CacheErrorFn("failed to sweep expired database cache entries", err)
	}
	return res.RowsAffected()
}

func scanCacheEntry(row *sql.Row) (*domain.CacheEntry, bool, error) {
	var (
		key, tagsStr, createdAt, lastUsedAt string
		embedding                           []byte
		expiresAt                           sql.NullString
	)
	if err := row.Scan(&key, &embedding, &tagsStr, &lastUsedAt, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, cerrors.CacheErrorFn("failed to read cache entry", err)
	}
	e := &domain.CacheEntry{
		Key:      key,
		Vector:   decodeVector(embedding),
		Tags:     decodeTags(tagsStr),
		ByteSize: int64(len(embedding)),
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.LastUsedAt, _ = time.Parse(time.RFC3339, lastUsedAt)
	e.ExpiresAt = parseExpiresAt(expiresAt)
	return e, true, nil
}
