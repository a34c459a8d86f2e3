// Package cmd provides the CLI commands for the ecmem engine host.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ecmem/engine/internal/cluster"
	"github.com/ecmem/engine/internal/config"
	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/logging"
	"github.com/ecmem/engine/internal/search"
	"github.com/ecmem/engine/internal/secure"
	"github.com/ecmem/engine/pkg/memory"
	"github.com/ecmem/engine/pkg/version"
)

var (
	debugMode  bool
	configFlag string

	loggingCleanup func()
)

// NewRootCmd creates the root command for the ecmem CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ecmem",
		Short:   "Episodic conversational memory engine",
		Version: version.Version,
		Long: `ecmem ingests AI coding-assistant session transcripts into a local
episodic memory store and serves hybrid search, causal-chain recall,
and forward prediction over them.`,
	}
	cmd.SetVersionTemplate("ecmem version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.ecmem/logs/")
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a project directory to load .ecmem.yaml from (default: cwd)")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRecallCmd())
	cmd.AddCommand(newPredictCmd())
	cmd.AddCommand(newReclusterCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig loads the layered project config for the directory named by
// --config, defaulting to the current working directory.
func loadConfig() (*config.Config, error) {
	dir := configFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		dir = wd
	}
	return config.Load(dir)
}

// openEngine opens a memory.Engine from a loaded Config, wiring an
// embedder and, when enabled, at-rest encryption via an environment
// variable-backed secret store.
func openEngine(ctx context.Context, cfg *config.Config) (*memory.Engine, error) {
	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(cfg.Embedding.Provider), cfg.Embedding.Model, cfg.Embedding.Host)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	opts := memory.Options{
		DBPath:           cfg.Paths.Database,
		KeywordIndexPath: cfg.Paths.KeywordIndex,
		Embedder:         embedder,
		SearchConfig: search.Config{
			RRFConstant:   cfg.Search.RRFConstant,
			VectorWeight:  cfg.Search.VectorWeight,
			KeywordWeight: cfg.Search.KeywordWeight,
			MMRLambda:     cfg.Search.MMRLambda,
			TokenBudget:   cfg.Search.TokenBudget,
		},
		ClusterConfig: cluster.Config{
			MinClusterSize: cfg.Cluster.MinClusterSize,
			ApproximateKNN: cfg.Cluster.ApproximateKNN,
		},
	}

	if cfg.Security.Enabled {
		opts.Encryption = &memory.EncryptionOptions{
			Cipher:      secure.Cipher(cfg.Security.Cipher),
			SecretStore: secure.NewEnvSecretStore(os.LookupEnv),
			KeyName:     cfg.Security.KeyName,
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return memory.Open(ctx, opts)
}

// slugify turns a project path into a stable project slug, mirroring
// what index-time project detection would derive from a working
// directory name.
func slugify(path string) string {
	base := filepath.Base(filepath.Clean(path))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "default"
	}
	return base
}
