// Package pruner reclaims edges whose decayed weight has fallen to zero
// and marks the chunks they leave behind as orphaned (component G). It
// runs in two modes: a debounced lazy queue fed by edge reads elsewhere
// in the engine, and a cooperative full background scan.
package pruner

import (
	"context"
	"sync"
	"time"

	"github.com/ecmem/engine/internal/decay"
	"github.com/ecmem/engine/internal/store"
	"github.com/ecmem/engine/internal/vclock"
	"github.com/ecmem/engine/internal/xerrors"
)

// DefaultFlushInterval is the lazy queue's debounce window.
const DefaultFlushInterval = time.Second

// DefaultYieldEvery is how many edges the full scan processes between
// cooperative yields back to the caller's scheduler.
const DefaultYieldEvery = 500

type edgeKey struct {
	source, target string
	edgeType        store.EdgeType
}

// Pruner owns both the lazy deletion queue and the full background scan
// for one project.
type Pruner struct {
	meta          store.MetadataStore
	projectID     string
	flushInterval time.Duration

	mu        sync.Mutex
	queue     map[edgeKey]struct{}
	flushTimer *time.Timer

	fullMu  sync.Mutex
	running bool
}

// New constructs a Pruner scoped to one project.
func New(meta store.MetadataStore, projectID string) *Pruner {
	return &Pruner{
		meta:          meta,
		projectID:     projectID,
		flushInterval: DefaultFlushInterval,
		queue:         make(map[edgeKey]struct{}),
	}
}

// Enqueue marks an edge for lazy deletion. Safe for concurrent use; a
// debounced timer schedules Flush DefaultFlushInterval after the first
// enqueue since the last flush.
func (p *Pruner) Enqueue(source, target string, edgeType store.EdgeType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue[edgeKey{source, target, edgeType}] = struct{}{}
	if p.flushTimer == nil {
		p.flushTimer = time.AfterFunc(p.flushInterval, func() {
			_ = p.Flush(context.Background())
		})
	}
}

// Flush drains the lazy queue: each queued edge is deleted, then each
// endpoint chunk with no remaining edges is marked orphaned. Idempotent
// — an edge already gone or a chunk already orphaned is a no-op.
func (p *Pruner) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.queue
	p.queue = make(map[edgeKey]struct{})
	p.flushTimer = nil
	p.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	endpoints := make(map[string]struct{}, len(pending)*2)
	for key := range pending {
		if err := p.meta.DeleteEdge(ctx, key.source, key.target, key.edgeType); err != nil {
			return xerrors.New(xerrors.CodeEdgeUpsertFailed, "failed to flush lazy-pruned edge", err)
		}
		endpoints[key.source] = struct{}{}
		endpoints[key.target] = struct{}{}
	}

	now := time.Now().UTC()
	for chunkID := range endpoints {
		if err := p.markIfOrphaned(ctx, chunkID, now); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pruner) markIfOrphaned(ctx context.Context, chunkID string, at time.Time) error {
	has, err := p.meta.HasRemainingEdges(ctx, chunkID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	return p.meta.MarkChunkOrphaned(ctx, chunkID, at)
}

// IsRunning reports whether a full background prune is in progress.
func (p *Pruner) IsRunning() bool {
	p.fullMu.Lock()
	defer p.fullMu.Unlock()
	return p.running
}

// StartBackgroundPrune launches a full scan in a goroutine and returns
// immediately. If one is already running, it returns the existing
// progress instead of starting a second (spec's idempotence
// requirement for repeated start_background_prune calls).
func (p *Pruner) StartBackgroundPrune(ctx context.Context) (*store.PruneProgress, error) {
	p.fullMu.Lock()
	if p.running {
		p.fullMu.Unlock()
		return p.meta.LoadPruneProgress(ctx)
	}
	p.running = true
	p.fullMu.Unlock()

	started := time.Now().UTC()
	progress := &store.PruneProgress{Status: "running", StartedAt: &started}
	if err := p.meta.SavePruneProgress(ctx, progress); err != nil {
		p.fullMu.Lock()
		p.running = false
		p.fullMu.Unlock()
		return nil, xerrors.New(xerrors.CodeChunkFailed, "failed to record prune start", err)
	}

	go p.runFullScan(context.WithoutCancel(ctx))

	return progress, nil
}

func (p *Pruner) runFullScan(ctx context.Context) {
	defer func() {
		p.fullMu.Lock()
		p.running = false
		p.fullMu.Unlock()
	}()

	progress := &store.PruneProgress{Status: "running"}
	started := time.Now().UTC()
	progress.StartedAt = &started

	fail := func(err error) {
		progress.Status = "failed"
		progress.Error = err.Error()
		completed := time.Now().UTC()
		progress.CompletedAt = &completed
		_ = p.meta.SavePruneProgress(ctx, progress)
	}

	projectClock, err := p.meta.GetProjectClock(ctx, p.projectID)
	if err != nil {
		fail(err)
		return
	}

	edges, err := p.meta.AllEdges(ctx, p.projectID)
	if err != nil {
		fail(err)
		return
	}

	affected := make(map[string]struct{})
	for i, e := range edges {
		progress.EdgesScanned++

		if edgeIsDead(e, projectClock) {
			if err := p.meta.DeleteEdge(ctx, e.SourceChunkID, e.TargetChunkID, e.EdgeType); err != nil {
				fail(err)
				return
			}
			progress.EdgesDeleted++
			affected[e.SourceChunkID] = struct{}{}
			affected[e.TargetChunkID] = struct{}{}
		}

		if (i+1)%DefaultYieldEvery == 0 {
			if err := p.meta.SavePruneProgress(ctx, progress); err != nil {
				fail(err)
				return
			}
			select {
			case <-ctx.Done():
				fail(ctx.Err())
				return
			default:
			}
		}
	}

	now := time.Now().UTC()
	for chunkID := range affected {
		progress.ChunksScanned++
		has, err := p.meta.HasRemainingEdges(ctx, chunkID)
		if err != nil {
			fail(err)
			return
		}
		if has {
			continue
		}
		if err := p.meta.MarkChunkOrphaned(ctx, chunkID, now); err != nil {
			fail(err)
			return
		}
		progress.ChunksOrphaned++
	}

	progress.Status = "complete"
	completed := time.Now().UTC()
	progress.CompletedAt = &completed
	_ = p.meta.SavePruneProgress(ctx, progress)
}

// edgeIsDead reports whether an edge's weight has decayed to zero under
// both the backward and forward curve, i.e. it is exhausted regardless
// of which walk direction would have read it. A full sweep is
// conservative: an edge still useful to the slower-dying direction
// survives until that direction also dies.
func edgeIsDead(e *store.Edge, projectClock vclock.Clock) bool {
	hops := vclock.HopCount(e.VectorClock, projectClock)
	backward := decay.EffectiveWeight(e.Weight, hops, decay.LinearBackward)
	forward := decay.EffectiveWeight(e.Weight, hops, decay.DelayedLinearForward)
	return backward <= 0 && forward <= 0
}
