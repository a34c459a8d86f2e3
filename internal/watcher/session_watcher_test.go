package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecmem/engine/internal/embed"
	"github.com/ecmem/engine/internal/ingest"
	"github.com/ecmem/engine/internal/store"
)

func newTestOrchestrator(t *testing.T) (*ingest.Orchestrator, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	kw, err := store.OpenBleveKeywordIndex(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { kw.Close() })

	o := ingest.NewOrchestrator(ingest.NewJSONLProvider(), s, kw, embed.NewStaticEmbedder(embed.DefaultDimensions))
	return o, s
}

func TestSessionWatcher_IngestsNewTranscriptFile(t *testing.T) {
	orch, s := newTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, s.SaveProject(ctx, &store.Project{ID: "p1", Slug: "p1", Name: "p1"}))

	root := t.TempDir()
	sw, err := NewSessionWatcher(DefaultOptions(), orch, "p1", ingest.Options{})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- sw.Run(ctx, root) }()
	time.Sleep(50 * time.Millisecond) // let Start() register the watch

	path := filepath.Join(root, "session.jsonl")
	content := `{"agent_id":"main","type":"user","content":"hello from the watcher","timestamp":"2026-01-01T00:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.Eventually(t, func() bool {
		ids, err := s.AllChunkIDs(ctx, "p1")
		return err == nil && len(ids) > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, sw.Stop())
	cancel()
	<-runDone
}

func TestIsTranscript_FiltersByExtension(t *testing.T) {
	require.True(t, isTranscript("session.jsonl"))
	require.True(t, isTranscript("sub/dir/session.json"))
	require.False(t, isTranscript("notes.txt"))
	require.False(t, isTranscript(".ecmem/state.db"))
}
