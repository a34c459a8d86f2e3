// Package watcher provides real-time file system watching with automatic
// debouncing and gitignore-aware filtering, and SessionWatcher, which
// narrows that generic event stream down to session transcript
// creates/modifies for watch mode.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid writes as a transcript file grows,
// and filtered against .gitignore patterns to skip irrelevant files.
//
// Usage:
//
//	orch := ingest.NewOrchestrator(...)
//	sw, err := watcher.NewSessionWatcher(watcher.DefaultOptions(), orch, projectID, ingest.Options{})
//	if err != nil {
//	    return err
//	}
//	defer sw.Stop()
//
//	if err := sw.Run(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
package watcher
