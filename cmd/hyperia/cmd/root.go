// Package cmd provides the CLI commands for hyperia.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ciphermesh/hyperia/internal/config"
	"github.com/ciphermesh/hyperia/internal/logging"
	"github.com/ciphermesh/hyperia/pkg/version"
)

var (
	dataDirFlag   string
	projectFlag   string
	debugMode     bool
	loggingCleanup func()

	cfg *config.Config
	log *slog.Logger
)

// NewRootCmd creates the root command for the hyperia CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hyperia",
		Short:   "In-process hybrid search engine (BM25 + vector retrieval)",
		Version: version.Version,
		Long: `hyperia combines BM25-style keyword search and vector/ANN
retrieval over user-defined document collections, with automatic
embedding generation, a three-tier cache, and a background embedding
queue.`,
	}
	cmd.SetVersionTemplate("hyperia version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&projectFlag, "project", ".", "project directory to load .hyperia.yaml from")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override the configured data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	cmd.PersistentPreRunE = loadConfigAndLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newCollectionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfigAndLogging(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(projectFlag)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if dataDirFlag != "" {
		loaded.DataDir = dataDirFlag
	}
	cfg = loaded

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.WriteToStderr,
	}
	if debugMode {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	log = logger
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}
