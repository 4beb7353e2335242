package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ciphermesh/hyperia/internal/async"
	"github.com/ciphermesh/hyperia/internal/domain"
)

func newIngestCmd() *cobra.Command {
	var collection, provider, model string
	var dims int

	c := &cobra.Command{
		Use:   "ingest <directory>",
		Short: "Bulk-ingest files under a directory into a collection's embedding queue (C5)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], collection, provider, model, dims)
		},
	}
	c.Flags().StringVar(&collection, "collection", "default", "target collection name")
	c.Flags().StringVar(&provider, "provider", "local", "embedding provider id for a newly created collection")
	c.Flags().StringVar(&model, "model", "local-static", "embedding model id for a newly created collection")
	c.Flags().IntVar(&dims, "dimensions", 768, "embedding dimensionality for a newly created collection")
	return c
}

func runIngest(ctx context.Context, root, collection, provider, model string, dims int) error {
	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("failed to build component stack: %w", err)
	}
	defer func() { _ = st.Close() }()

	if _, err := st.registry.Lookup(ctx, collection); err != nil {
		if _, cerr := st.registry.Create(ctx, collection, provider, model, dims); cerr != nil {
			return fmt.Errorf("failed to create collection %q: %w", collection, cerr)
		}
		log.Info("created collection", "collection", collection, "dimensions", dims)
	}

	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: cfg.DataDir})

	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		return walkAndEnqueue(ctx, root, collection, st, progress)
	}

	indexer.Start(ctx)
	if err := indexer.Wait(); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	snap := indexer.Progress().Snapshot()
	fmt.Printf("ingested %d files (%d chunks queued) in %ds\n", snap.FilesProcessed, snap.ChunksIndexed, snap.ElapsedSeconds)
	return nil
}

func walkAndEnqueue(ctx context.Context, root, collection string, st *stack, progress *async.IndexProgress) error {
	progress.SetStage(async.StageScanning, 0)

	var files []string
	if err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		progress.SetError(err.Error())
		return err
	}

	progress.SetStage(async.StageEmbedding, len(files))
	for i, path := range files {
		if err := enqueueFile(ctx, st, collection, path); err != nil {
			progress.SetError(err.Error())
			return err
		}
		progress.UpdateFiles(i + 1)
		progress.UpdateChunks(i + 1)
	}
	progress.SetReady()
	return nil
}

func enqueueFile(ctx context.Context, st *stack, collection, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	id := documentID(path)
	if _, err := st.queue.Enqueue(ctx, collection, id, string(content), 0); err != nil {
		return err
	}
	doc := &domain.Document{
		ID:         id,
		Collection: collection,
		Title:      filepath.Base(path),
		Content:    string(content),
		CreatedAt:  time.Now(),
	}
	return st.metadata.SaveDocument(ctx, doc)
}

// enqueueChangedFile adapts the filesystem watcher's EnqueueFunc to the
// same queue-plus-metadata write enqueueFile performs, defaulting to the
// "default" collection since the watcher doesn't carry per-path routing.
func enqueueChangedFile(st *stack) func(ctx context.Context, path string) error {
	return func(ctx context.Context, path string) error {
		return enqueueFile(ctx, st, "default", path)
	}
}

func documentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:32]
}
