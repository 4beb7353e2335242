package queue

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// Embedder is the narrow slice of embed.Pipeline the worker depends on —
// batch-embedding reserved texts. Declared locally so this package
// never imports internal/embed just for one method.
type Embedder interface {
	EmbedBatch(ctx context.Context, requests []BatchRequest, col domain.Collection, opts BatchOptions) ([]BatchResult, error)
}

// BatchRequest mirrors embed.BatchRequest's shape; the caller supplies
// an adapter (or the pipeline itself, if its method signature matches)
// satisfying Embedder.
type BatchRequest struct {
	ID   string
	Text string
}

// BatchResult mirrors embed.BatchResult's shape.
type BatchResult struct {
	ID     string
	Vector []float32
	Err    error
}

// BatchOptions mirrors the subset of embed.BatchOptions the worker uses.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
}

// Sink persists a freshly computed embedding for one document, writing
// it through the SQL collaborator (or whichever vector/cache store the
// caller wires up) before the worker marks the item completed.
type Sink interface {
	StoreEmbedding(ctx context.Context, collection, documentID string, vector []float32) error
}

// CollectionLookup resolves the domain.Collection configuration (text
// preprocessing, provider, dimensions) for a queue item's collection
// name, needed to drive the embedding pipeline correctly per collection.
type CollectionLookup func(ctx context.Context, name string) (domain.Collection, error)

// Worker drains the queue in a loop: reserve a batch, embed it via the
// pipeline, write each result through Sink, and mark every item
// completed or failed. Its lifecycle (Start/Stop/Wait, stop/done
// channel pair) follows the same shape as the teacher's background
// indexer.
type Worker struct {
	queue      *Queue
	embedder   Embedder
	sink       Sink
	collection CollectionLookup
	pollEvery  time.Duration
	log        *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewWorker constructs a Worker. pollEvery controls how long it sleeps
// when a reservation comes back empty.
func NewWorker(q *Queue, embedder Embedder, sink Sink, lookup CollectionLookup, pollEvery time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &Worker{
		queue:      q,
		embedder:   embedder,
		sink:       sink,
		collection: lookup,
		pollEvery:  pollEvery,
		log:        log,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the drain loop in a background goroutine. Non-blocking;
// use Wait to block until it stops, Stop to request a stop and wait.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := w.drainOnce(ctx)
		if err != nil {
			w.log.Error("queue drain pass failed", "error", err)
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
		}
		if n == 0 {
			select {
			case <-time.After(w.pollEvery):
			case <-ctx.Done():
				return
			}
		}
	}
}

// drainOnce reserves and fully processes one batch, returning how many
// items it handled.
func (w *Worker) drainOnce(ctx context.Context) (int, error) {
	items, err := w.queue.Reserve(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	byCollection := make(map[string][]domain.QueueItem)
	order := make([]string, 0, 4)
	for _, it := range items {
		if _, ok := byCollection[it.Collection]; !ok {
			order = append(order, it.Collection)
		}
		byCollection[it.Collection] = append(byCollection[it.Collection], it)
	}

	for _, collName := range order {
		w.processCollectionBatch(ctx, collName, byCollection[collName])
	}
	return len(items), nil
}

func (w *Worker) processCollectionBatch(ctx context.Context, collName string, items []domain.QueueItem) {
	col, err := w.collection(ctx, collName)
	if err != nil {
		for _, it := range items {
			w.failItem(ctx, it, err)
		}
		return
	}

	requests := make([]BatchRequest, len(items))
	for i, it := range items {
		requests[i] = BatchRequest{ID: idKey(it.ID), Text: it.Text}
	}

	results, err := w.embedder.EmbedBatch(ctx, requests, col, BatchOptions{BatchSize: len(requests), Concurrency: 4})
	if err != nil && results == nil {
		for _, it := range items {
			w.failItem(ctx, it, err)
		}
		return
	}

	byID := make(map[string]BatchResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	for _, it := range items {
		r, ok := byID[idKey(it.ID)]
		if !ok || r.Err != nil {
			cause := err
			if r.Err != nil {
				cause = r.Err
			}
			w.failItem(ctx, it, cause)
			continue
		}
		if storeErr := w.sink.StoreEmbedding(ctx, it.Collection, it.DocumentID, r.Vector); storeErr != nil {
			w.failItem(ctx, it, storeErr)
			continue
		}
		if err := w.queue.Complete(ctx, it.ID); err != nil {
			w.log.Error("failed to mark queue item completed", "id", it.ID, "error", err)
		}
	}
}

func (w *Worker) failItem(ctx context.Context, it domain.QueueItem, cause error) {
	if err := w.queue.Fail(ctx, it, cause); err != nil {
		w.log.Error("failed to record queue item failure", "id", it.ID, "error", err)
	}
}

// Stop signals the worker to stop and waits for it to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// Wait blocks until the worker stops and returns its last error, if any.
func (w *Worker) Wait() error {
	<-w.doneCh
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func idKey(id int64) string {
	return "q" + strconv.FormatInt(id, 10)
}
