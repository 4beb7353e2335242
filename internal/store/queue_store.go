package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// EnqueueEmbedding inserts a pending queue row and returns its ID.
func (s *MetadataStore) EnqueueEmbedding(ctx context.Context, collection, documentID, text string, priority int, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_queue (collection, document_id, text_content, priority, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, collection, documentID, text, priority, string(domain.QueuePending), now.Format(time.RFC3339Nano))
	if err != nil {
		return 0, cerrors.StorageErrorFn("failed to enqueue embedding item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, cerrors.StorageErrorFn("failed to read inserted queue id", err)
	}
	return id, nil
}

// ReserveBatch atomically moves up to batchSize pending rows (highest
// priority first, oldest first within a priority) into the processing
// state with started_at set to now. It returns the reserved rows in that
// order; the query does not group them by collection (the worker
// partitions a batch by collection before embedding).
func (s *MetadataStore) ReserveBatch(ctx context.Context, batchSize int, now time.Time) ([]domain.QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerrors.StorageErrorFn("failed to begin reserve transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, collection, document_id, text_content, priority, attempts
		FROM embedding_queue
		WHERE status = ?
		ORDER BY
			priority DESC,
			created_at ASC
		LIMIT ?
	`, string(domain.QueuePending), batchSize)
	if err != nil {
		return nil, cerrors.StorageErrorFn("failed to query reservation candidates", err)
	}

	var (
		ids   []int64
		items []domain.QueueItem
	)
	for rows.Next() {
		var it domain.QueueItem
		if err := rows.Scan(&it.ID, &it.Collection, &it.DocumentID, &it.Text, &it.Priority, &it.Attempts); err != nil {
			_ = rows.Close()
			return nil, cerrors.StorageErrorFn("failed to scan reservation candidate", err)
		}
		it.Status = domain.QueueProcessing
		it.StartedAt = &now
		ids = append(ids, it.ID)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, cerrors.StorageErrorFn("failed to iterate reservation candidates", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.Format(time.RFC3339Nano))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	stmt := fmt.Sprintf(`UPDATE embedding_queue SET status = '%s', started_at = ? WHERE id IN (%s)`,
		string(domain.QueueProcessing), strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return nil, cerrors.StorageErrorFn("failed to mark items processing", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, cerrors.StorageErrorFn("failed to commit reservation", err)
	}
	return items, nil
}

// CompleteQueueItem marks a reserved item completed.
func (s *MetadataStore) CompleteQueueItem(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE embedding_queue SET status = ?, processed_at = ?, error_message = NULL WHERE id = ?
	`, string(domain.QueueCompleted), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return cerrors.StorageErrorFn("failed to complete queue item", err)
	}
	return nil
}

// RequeueQueueItem returns an item to pending after a retryable failure,
// incrementing attempts and recording the error.
func (s *MetadataStore) RequeueQueueItem(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE embedding_queue SET status = ?, attempts = attempts + 1, started_at = NULL, error_message = ?
		WHERE id = ?
	`, string(domain.QueuePending), errMsg, id)
	if err != nil {
		return cerrors.StorageErrorFn("failed to requeue item", err)
	}
	return nil
}

// FailQueueItem marks an item permanently failed after exhausting
// retries.
func (s *MetadataStore) FailQueueItem(ctx context.Context, id int64, errMsg string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE embedding_queue SET status = ?, processed_at = ?, attempts = attempts + 1, error_message = ?
		WHERE id = ?
	`, string(domain.QueueFailed), now.Format(time.RFC3339Nano), errMsg, id)
	if err != nil {
		return cerrors.StorageErrorFn("failed to fail queue item", err)
	}
	return nil
}

// SweepStaleProcessing returns processing items whose started_at is
// older than the visibility deadline back to pending, incrementing
// attempts (a crashed worker's reservation never got completed). It
// returns the number of rows recovered.
func (s *MetadataStore) SweepStaleProcessing(ctx context.Context, deadline time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE embedding_queue
		SET status = ?, attempts = attempts + 1, started_at = NULL
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
	`, string(domain.QueuePending), string(domain.QueueProcessing), deadline.Format(time.RFC3339Nano))
	if err != nil {
		return 0, cerrors.StorageErrorFn("failed to sweep stale processing items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cerrors.StorageErrorFn("failed to read sweep row count", err)
	}
	return int(n), nil
}

// QueueStatusCounts returns per-state counts, optionally scoped to one
// collection, plus the oldest pending item's age relative to now.
func (s *MetadataStore) QueueStatusCounts(ctx context.Context, collection string, now time.Time) (domain.QueueStatusCounts, error) {
	where := ""
	args := []any{}
	if collection != "" {
		where = "WHERE collection = ?"
		args = append(args, collection)
	}

	var counts domain.QueueStatusCounts
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT status, COUNT(*) FROM embedding_queue %s GROUP BY status
	`, where), args...)
	if err != nil {
		return counts, cerrors.StorageErrorFn("failed to query queue status counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, cerrors.StorageErrorFn("failed to scan queue status row", err)
		}
		switch domain.QueueStatus(status) {
		case domain.QueuePending:
			counts.Pending = n
		case domain.QueueProcessing:
			counts.Processing = n
		case domain.QueueCompleted:
			counts.Completed = n
		case domain.QueueFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, cerrors.StorageErrorFn("failed to iterate queue status rows", err)
	}

	oldestArgs := append([]any{}, args...)
	oldestQuery := fmt.Sprintf(`SELECT MIN(created_at) FROM embedding_queue %s`, where)
	if where == "" {
		oldestQuery = fmt.Sprintf(`SELECT MIN(created_at) FROM embedding_queue WHERE status = ?`)
		oldestArgs = []any{string(domain.QueuePending)}
	} else {
		oldestQuery = fmt.Sprintf(`SELECT MIN(created_at) FROM embedding_queue WHERE status = ? AND collection = ?`)
		oldestArgs = []any{string(domain.QueuePending), collection}
	}
	var oldest sql.NullString
	if err := s.db.QueryRowContext(ctx, oldestQuery, oldestArgs...).Scan(&oldest); err != nil && err != sql.ErrNoRows {
		return counts, cerrors.StorageErrorFn("failed to query oldest pending item", err)
	}
	if oldest.Valid {
		if t, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
			counts.OldestPendingAge = now.Sub(t)
		}
	}
	return counts, nil
}

// ClearQueue deletes queue rows matching collection (optional) and
// statuses. Callers must explicitly include QueueProcessing in statuses
// to delete in-flight items; the queue package's default predicate never
// does. It returns the number of rows removed.
func (s *MetadataStore) ClearQueue(ctx context.Context, collection string, statuses []domain.QueueStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	where := fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ","))
	if collection != "" {
		where += " AND collection = ?"
		args = append(args, collection)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM embedding_queue WHERE "+where, args...)
	if err != nil {
		return 0, cerrors.StorageErrorFn("failed to clear queue items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cerrors.StorageErrorFn("failed to read cleared row count", err)
	}
	return int(n), nil
}
