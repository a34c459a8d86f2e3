// Package main is the entry point for ecmem's MCP server adapter. It
// opens one memory.Engine scoped to the current working directory and
// serves its ingest/search/recall/predict/recluster/prune operations to
// an MCP client (Claude Code, Cursor) over stdio.
//
// The MCP stdio transport requires stdout to carry JSON-RPC exclusively:
// nothing may write to stdout before or during serving, so all
// diagnostics go to the debug log file instead.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ecmem/engine/internal/cluster"
	"github.com/ecmem/engine/internal/config"
	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/logging"
	"github.com/ecmem/engine/internal/mcp"
	"github.com/ecmem/engine/internal/search"
	"github.com/ecmem/engine/internal/secure"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/pkg/memory"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ecmem-mcp exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}

	cfg, err := config.Load(rootPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	projectInfo := mcp.NewProjectDetector(rootPath, slog.Default()).Detect()
	projectID := projectInfo.Name

	engine, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open memory engine: %w", err)
	}
	defer engine.Close()

	if err := engine.EnsureProject(ctx, &store.Project{ID: projectID, Slug: projectID, Name: projectID}); err != nil {
		return fmt.Errorf("ensure project: %w", err)
	}

	server, err := mcp.NewServer(engine, projectID, rootPath)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}
	defer server.Close()

	return server.Serve(ctx, "stdio", "")
}

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
