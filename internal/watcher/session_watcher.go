package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ecmem/engine/internal/ingest"
)

// TranscriptExtensions are the file suffixes SessionWatcher treats as
// session transcripts worth ingesting.
var TranscriptExtensions = []string{".jsonl", ".json"}

// SessionWatcher wraps a HybridWatcher, narrowing its generic file
// events down to transcript creates/modifies and triggering a session
// ingest for each, implementing watch mode.
type SessionWatcher struct {
	hw        *HybridWatcher
	orch      *ingest.Orchestrator
	projectID string
	opts      ingest.Options
}

// NewSessionWatcher builds a SessionWatcher. ingestOpts.SkipIfExists
// should normally be left false: re-ingesting a modified transcript is
// idempotent (chunks/edges upsert), which is how a growing session file
// picks up its later turns without a separate incremental-append path.
func NewSessionWatcher(opts Options, orch *ingest.Orchestrator, projectID string, ingestOpts ingest.Options) (*SessionWatcher, error) {
	hw, err := NewHybridWatcher(opts)
	if err != nil {
		return nil, err
	}
	return &SessionWatcher{hw: hw, orch: orch, projectID: projectID, opts: ingestOpts}, nil
}

// Run starts watching root and ingests every new or modified transcript
// file until ctx is cancelled or Stop is called. It blocks; call it
// from its own goroutine.
func (s *SessionWatcher) Run(ctx context.Context, root string) error {
	startErr := make(chan error, 1)
	go func() { startErr <- s.hw.Start(ctx, root) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-startErr:
			if err != nil {
				return err
			}
		case batch, ok := <-s.hw.Events():
			if !ok {
				return nil
			}
			s.handleBatch(ctx, root, batch)
		case err, ok := <-s.hw.Errors():
			if !ok {
				return nil
			}
			slog.Warn("session watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *SessionWatcher) handleBatch(ctx context.Context, root string, batch []FileEvent) {
	for _, ev := range batch {
		if ev.IsDir || (ev.Operation != OpCreate && ev.Operation != OpModify) {
			continue
		}
		if !isTranscript(ev.Path) {
			continue
		}

		path := filepath.Join(root, ev.Path)
		res, err := s.orch.IngestSession(ctx, s.projectID, path, s.opts)
		if err != nil {
			slog.Error("ingest on watch event failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if res.Skipped {
			continue
		}
		slog.Info("ingested session from watch event",
			slog.String("path", path),
			slog.Int("chunks", res.ChunkCount),
			slog.Int("edges", res.EdgeCount))
	}
}

func isTranscript(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range TranscriptExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Stop stops the underlying watcher.
func (s *SessionWatcher) Stop() error {
	return s.hw.Stop()
}
