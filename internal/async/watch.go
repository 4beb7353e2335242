package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EnqueueFunc submits one changed file's contents for background
// embedding (component C5). The watcher doesn't know how a file maps to
// a document ID or collection beyond what the caller's closure decides.
type EnqueueFunc func(ctx context.Context, path string) error

// WatchConfig configures the Watcher.
type WatchConfig struct {
	Paths    []string
	Debounce time.Duration
}

// Watcher wires fsnotify into the ingest pipeline (C5 trigger): it
// watches a set of directories, debounces rapid-fire write events per
// path, and calls Enqueue once per settled change instead of once per
// raw filesystem event.
type Watcher struct {
	cfg     WatchConfig
	enqueue EnqueueFunc
	log     *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher constructs a Watcher. It does not start watching until
// Start is called.
func NewWatcher(cfg WatchConfig, enqueue EnqueueFunc, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Paths {
		if err := addRecursive(fw, p); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return &Watcher{
		cfg:     cfg,
		enqueue: enqueue,
		log:     log,
		watcher: fw,
		pending: make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// Start runs the event loop in a background goroutine.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(ev.Name); err != nil {
				w.log.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if err := w.enqueue(ctx, path); err != nil {
			w.log.Error("failed to enqueue changed file", "path", path, "error", err)
		}
	})
}

// Stop terminates the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}
