// Package queue implements the persistent background embedding queue
// (component C5): reservation, completion, retry-with-backoff, the
// crash-recovery sweeper, and the worker loop that drains reserved
// batches through the embedding pipeline (C4).
package queue

import (
	"context"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
	cerrors "github.com/ciphermesh/hyperia/internal/errors"
)

// Store is the narrow SQL collaborator contract the queue consumes,
// satisfied by *store.MetadataStore. Keeping it narrow here (rather than
// importing the store package's concrete type) lets tests substitute an
// in-memory fake without pulling in SQLite.
type Store interface {
	EnqueueEmbedding(ctx context.Context, collection, documentID, text string, priority int, now time.Time) (int64, error)
	ReserveBatch(ctx context.Context, batchSize int, now time.Time) ([]domain.QueueItem, error)
	CompleteQueueItem(ctx context.Context, id int64, now time.Time) error
	RequeueQueueItem(ctx context.Context, id int64, errMsg string) error
	FailQueueItem(ctx context.Context, id int64, errMsg string, now time.Time) error
	SweepStaleProcessing(ctx context.Context, deadline time.Time) (int, error)
	QueueStatusCounts(ctx context.Context, collection string, now time.Time) (domain.QueueStatusCounts, error)
	ClearQueue(ctx context.Context, collection string, statuses []domain.QueueStatus) (int, error)
}

// Config controls reservation size, visibility, and retry behaviour.
type Config struct {
	BatchSize         int
	VisibilityTimeout time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// DefaultConfig matches the provider pool's own batch/backoff defaults
// (spec §4.5 leaves the exact numbers to the implementation).
func DefaultConfig() Config {
	return Config{
		BatchSize:         32,
		VisibilityTimeout: 2 * time.Minute,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
	}
}

// Queue is the public operations layer over Store: enqueue, reserve,
// complete, fail, status, clear. It holds no embeddings or provider
// logic itself — that lives in the Worker, which composes a Queue with
// an *embed.Pipeline.
type Queue struct {
	store Store
	cfg   Config
}

// New constructs a Queue over a Store with the given config. A zero
// Config is replaced with DefaultConfig.
func New(store Store, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Queue{store: store, cfg: cfg}
}

// Enqueue adds one document's text for background embedding at the
// given priority (higher values are dequeued first).
func (q *Queue) Enqueue(ctx context.Context, collection, documentID, text string, priority int) (int64, error) {
	return q.store.EnqueueEmbedding(ctx, collection, documentID, text, priority, time.Now())
}

// Reserve dequeues up to the configured batch size of pending items,
// highest priority and then oldest first, moving them to processing.
// The reservation is held for cfg.VisibilityTimeout; call Complete or
// Fail before it expires or the sweeper will return the item to pending.
func (q *Queue) Reserve(ctx context.Context) ([]domain.QueueItem, error) {
	return q.store.ReserveBatch(ctx, q.cfg.BatchSize, time.Now())
}

// Complete marks a reserved item's embedding as written and the item
// done.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	return q.store.CompleteQueueItem(ctx, id, time.Now())
}

// Fail records a per-item failure. An item with attempts still below
// MaxAttempts is set back to pending with no delay, so the next Reserve
// can pick it up again at once (Backoff's delay is not applied here);
// once attempts reaches MaxAttempts the item becomes permanently
// failed with the given error message.
func (q *Queue) Fail(ctx context.Context, item domain.QueueItem, causeErr error) error {
	msg := ""
	if causeErr != nil {
		msg = causeErr.Error()
	}
	if item.Attempts+1 >= q.cfg.MaxAttempts {
		return q.store.FailQueueItem(ctx, item.ID, msg, time.Now())
	}
	return q.store.RequeueQueueItem(ctx, item.ID, msg)
}

// Backoff computes the exponential backoff delay for an item's next
// retry attempt: InitialBackoff doubled once per prior attempt, capped
// at cfg.MaxBackoff. Neither Fail nor the worker applies this delay.
func (q *Queue) Backoff(attempts int) time.Duration {
	d := q.cfg.InitialBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d > q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return d
}

// Status returns per-state counts and the oldest pending item's age,
// optionally scoped to one collection.
func (q *Queue) Status(ctx context.Context, collection string) (domain.QueueStatusCounts, error) {
	return q.store.QueueStatusCounts(ctx, collection, time.Now())
}

// ClearPredicate selects which queue rows Clear removes.
type ClearPredicate struct {
	Collection string
	Statuses   []domain.QueueStatus
	// IncludeProcessing must be set explicitly to allow deleting
	// in-flight items; the zero value refuses to.
	IncludeProcessing bool
}

// defaultClearStatuses is every terminal/pending state, deliberately
// excluding processing.
var defaultClearStatuses = []domain.QueueStatus{domain.QueuePending, domain.QueueCompleted, domain.QueueFailed}

// Clear removes items matching predicate. An empty Statuses list clears
// pending/completed/failed items (never processing) for the given
// collection (or all collections if unset); processing items are only
// removed when IncludeProcessing is true.
func (q *Queue) Clear(ctx context.Context, predicate ClearPredicate) (int, error) {
	statuses := predicate.Statuses
	if len(statuses) == 0 {
		statuses = defaultClearStatuses
		if predicate.IncludeProcessing {
			statuses = append(append([]domain.QueueStatus{}, statuses...), domain.QueueProcessing)
		}
	} else if !predicate.IncludeProcessing {
		filtered := statuses[:0:0]
		for _, st := range statuses {
			if st != domain.QueueProcessing {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}
	if len(statuses) == 0 {
		return 0, cerrors.ValidationError("clear predicate resolves to no removable statuses", nil)
	}
	return q.store.ClearQueue(ctx, predicate.Collection, statuses)
}

// Sweep returns processing items whose reservation has exceeded
// VisibilityTimeout back to pending (attempts incremented), recovering
// work orphaned by a crashed worker. It returns the number of items
// recovered.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	deadline := time.Now().Add(-q.cfg.VisibilityTimeout)
	return q.store.SweepStaleProcessing(ctx, deadline)
}
