// Package store adapts the narrow SQL collaborator contract (spec §6) onto
// a concrete, pure-Go backend. MetadataStore owns collections, documents,
// the embedding queue, and the tier-3 embedding cache table; BM25Index and
// VectorStore (sqlite_bm25.go, hnsw.go) own the FTS and vector side tables
// respectively. All three are "external collaborators" from the core's
// point of view: narrow interfaces the search/queue/cache components
// consume without knowing the storage technology behind them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ciphermesh/hyperia/internal/domain"
	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// MetadataStore is the SQL collaborator consumed by collections/documents,
// the embedding queue (C5), and the tier-3 embedding cache (C2).
type MetadataStore struct {
	db   *sql.DB
	path string
}

// NewMetadataStore opens (or creates) the SQLite-backed collaborator at
// path. An empty path opens an in-memory database, useful for tests.
func NewMetadataStore(path string) (*MetadataStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cerrors.StorageErrorFn("failed to open metadata store", err)
	}
	// Single-writer discipline (spec §5): the collaborator serialises
	// mutating operations per handle.
	db.SetMaxOpenConns(1)

	s := &MetadataStore{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MetadataStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			config TEXT NOT NULL,
			embedding_provider TEXT,
			embedding_model TEXT,
			embedding_dimensions INTEGER,
			embedding_status TEXT NOT NULL,
			processing_status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT,
			content TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE TABLE IF NOT EXISTS embedding_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			document_id TEXT NOT NULL,
			text_content TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			started_at TEXT,
			processed_at TEXT,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_reserve ON embedding_queue (status, priority DESC, created_at ASC)`,
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			key TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			provider TEXT,
			model TEXT,
			dimensions INTEGER,
			tags TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS persistent_cache (
			key TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			tags TEXT,
			last_used_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return cerrors.StorageErrorFn("metadata schema migration failed", err)
		}
	}
	return nil
}

// Close releases the underlying handle.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}

// --- Collections -----------------------------------------------------

// SaveCollection inserts or updates a collection row.
func (s *MetadataStore) SaveCollection(ctx context.Context, c *domain.Collection) error {
	cfg, err := json.Marshal(c.TextPreprocessing)
	if err != nil {
		return cerrors.ValidationError("collection config is not JSON-serialisable", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (name, created_at, updated_at, schema_version, config,
			embedding_provider, embedding_model, embedding_dimensions, embedding_status, processing_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			updated_at=excluded.updated_at, schema_version=excluded.schema_version, config=excluded.config,
			embedding_status=excluded.embedding_status, processing_status=excluded.processing_status
	`, c.Name, c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339), c.SchemaVersion, string(cfg),
		c.ProviderID, c.ModelID, c.Dimensions, string(c.EmbeddingStatus), string(c.ProcessingStatus))
	if err != nil {
		return cerrors.StorageErrorFn("failed to save collection", err)
	}
	return nil
}

// GetCollection loads a collection by name.
func (s *MetadataStore) GetCollection(ctx context.Context, name string) (*domain.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, created_at, updated_at, schema_version, config,
			embedding_provider, embedding_model, embedding_dimensions, embedding_status, processing_status
		FROM collections WHERE name = ?`, name)

	var (
		createdAt, updatedAt, cfgJSON                       string
		embeddingStatus, processingStatus                   string
		providerID, modelID                                 sql.NullString
	)
	c := &domain.Collection{}
	if err := row.Scan(&c.Name, &createdAt, &updatedAt, &c.SchemaVersion, &cfgJSON,
		&providerID, &modelID, &c.Dimensions, &embeddingStatus, &processingStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, cerrors.New(cerrors.ErrCodeFileNotFound, fmt.Sprintf("collection %q not found", name), err)
		}
		return nil, cerrors.StorageErrorFn("failed to load collection", err)
	}
	c.ProviderID = providerID.String
	c.ModelID = modelID.String
	c.EmbeddingStatus = domain.EmbeddingStatus(embeddingStatus)
	c.ProcessingStatus = domain.ProcessingStatus(processingStatus)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	_ = json.Unmarshal([]byte(cfgJSON), &c.TextPreprocessing)
	return c, nil
}

// ListCollections returns every known collection name.
func (s *MetadataStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, cerrors.StorageErrorFn("failed to list collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, cerrors.StorageErrorFn("failed to scan collection row", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- Documents ---------------------------------------------------------

// SaveDocument upserts one document. Documents commit independently of
// any FTS/vector sync (spec §6/§9: document writes commit first).
func (s *MetadataStore) SaveDocument(ctx context.Context, d *domain.Document) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return cerrors.ValidationError("document metadata is not JSON-serialisable", err)
	}
	if len(meta) > 1<<20 {
		return cerrors.ValidationError("document metadata exceeds 1 MiB serialised", nil)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, title, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			title=excluded.title, content=excluded.content, metadata=excluded.metadata
	`, d.Collection, d.ID, d.Title, d.Content, string(meta), d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return cerrors.StorageErrorFn("failed to save document", err)
	}
	return nil
}

// GetDocument loads one document by (collection, id).
func (s *MetadataStore) GetDocument(ctx context.Context, collection, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection, id, title, content, metadata, created_at
		FROM documents WHERE collection = ? AND id = ?`, collection, id)

	var (
		title, content, metaJSON, createdAt sql.NullString
		d                                    = &domain.Document{}
	)
	if err := row.Scan(&d.Collection, &d.ID, &title, &content, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, cerrors.New(cerrors.ErrCodeFileNotFound, "document not found", err)
		}
		return nil, cerrors.StorageErrorFn("failed to load document", err)
	}
	d.Title = title.String
	d.Content = content.String
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &d.Metadata)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	return d, nil
}

// DeleteDocument removes a document row.
func (s *MetadataStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return cerrors.StorageErrorFn("failed to delete document", err)
	}
	return nil
}

// DB exposes the underlying handle for collaborators that need raw
// transactional access (the embedding queue, tier-3 cache).
func (s *MetadataStore) DB() *sql.DB {
	return s.db
}
