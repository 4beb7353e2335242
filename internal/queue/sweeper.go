package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// SweeperLock guards the visibility-timeout sweep with a cross-process
// exclusive file lock, so two daemon instances pointed at the same data
// directory never run the sweep concurrently and double-increment
// attempts on the same stale item.
type SweeperLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewSweeperLock creates a sweeper lock for the given data directory.
// The lock file is created at <dir>/.queue-sweep.lock.
func NewSweeperLock(dir string) *SweeperLock {
	lockPath := filepath.Join(dir, ".queue-sweep.lock")
	return &SweeperLock{path: lockPath, flock: flock.New(lockPath)}
}

// TryLock attempts to acquire the sweep lock without blocking. Returns
// false if another process (or another sweeper goroutine in this
// process) currently holds it — the caller should simply skip this
// sweep tick rather than wait.
func (l *SweeperLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("create sweeper lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire sweeper lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the sweep lock. Safe to call when not held.
func (l *SweeperLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release sweeper lock: %w", err)
	}
	l.locked = false
	return nil
}

// Sweeper periodically recovers processing items orphaned by a crashed
// worker (spec §4.5: visibilityTimeout expiry). It runs on its own
// interval, independent of the worker's reserve/process cycle, and
// serialises across process instances via SweeperLock.
type Sweeper struct {
	queue    *Queue
	lock     *SweeperLock
	interval time.Duration
	log      *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper constructs a Sweeper. dataDir is the directory holding the
// cross-process lock file; interval is how often the sweep runs.
func NewSweeper(q *Queue, dataDir string, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		queue:    q,
		lock:     NewSweeperLock(dataDir),
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in a background goroutine. Non-blocking;
// use Stop to terminate it.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		s.log.Warn("sweeper lock attempt failed", "error", err)
		return
	}
	if !acquired {
		// Another instance is sweeping this data directory right now.
		return
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("sweeper lock release failed", "error", err)
		}
	}()

	n, err := s.queue.Sweep(ctx)
	if err != nil {
		s.log.Error("queue sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("recovered stale processing items", "count", n)
	}
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
