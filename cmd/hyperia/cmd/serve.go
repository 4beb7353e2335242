package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ciphermesh/hyperia/internal/async"
	"github.com/ciphermesh/hyperia/internal/daemon"
	"github.com/ciphermesh/hyperia/internal/search"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search daemon (C7 engine + C5 queue worker + C8 control plane)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack()
	if err != nil {
		return fmt.Errorf("failed to build component stack: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close component stack", "error", err)
		}
	}()

	engine := search.NewEngine(log)

	st.worker.Start(ctx)
	defer st.worker.Stop()
	st.sweeper.Start(ctx)
	defer st.sweeper.Stop()

	var watcher *async.Watcher
	if cfg.Watch.Enabled && len(cfg.Watch.Paths) > 0 {
		watcher, err = async.NewWatcher(async.WatchConfig{Paths: cfg.Watch.Paths, Debounce: cfg.Watch.Debounce}, enqueueChangedFile(st), log)
		if err != nil {
			return fmt.Errorf("failed to start filesystem watcher: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv := daemon.NewServer(cfg.Server.SocketPath, engine, st.registry, queueDepthFunc(ctx, st), log)
	log.Info("hyperia daemon listening", "socket", cfg.Server.SocketPath, "data_dir", cfg.DataDir)
	return srv.ListenAndServe(ctx)
}

func queueDepthFunc(ctx context.Context, st *stack) func() int {
	return func() int {
		counts, err := st.queue.Status(ctx, "")
		if err != nil {
			return 0
		}
		return counts.Pending + counts.Processing
	}
}
