package domain

import "time"

// QueueStatus is a queue item's lifecycle state.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is one row of the background embedding queue (spec §3/§4.5).
type QueueItem struct {
	ID           int64
	Collection   string
	DocumentID   string
	Text         string
	Priority     int
	Status       QueueStatus
	Attempts     int
	EnqueuedAt   time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// QueueStatusCounts summarises per-state counts for status(collection?).
type QueueStatusCounts struct {
	Pending, Processing, Completed, Failed int
	OldestPendingAge                       time.Duration
}
