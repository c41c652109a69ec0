package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/twinindex/twinindex/pkg/types"
)

// DefaultDebounceWindow is how long a project's change queue settles
// before a flush. Editor save storms collapse into one re-index.
const DefaultDebounceWindow = 500 * time.Millisecond

// ChangeApplier applies a settled set of changes to the index.
// Indexer satisfies this interface.
type ChangeApplier interface {
	DeletePaths(ctx context.Context, projectID string, paths []string) error
	UpsertPaths(ctx context.Context, projectID string, paths []string) error
}

// PipelineConfig configures the incremental change pipeline.
type PipelineConfig struct {
	DebounceWindow time.Duration // Default: 500ms
}

// Pipeline turns raw file change events into ordered index updates.
// Changes are debounced per project, and each project's updates run
// strictly one at a time: changes arriving while an update is in flight
// queue up and are applied in a follow-up pass. Within one pass,
// deletions are applied before creations and modifications so a rename
// never leaves both the old and new path indexed.
type Pipeline struct {
	applier  ChangeApplier
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]*projectQueue
	closed bool
	wg     sync.WaitGroup
}

// projectQueue holds per-project pipeline state. All fields are guarded
// by Pipeline.mu.
type projectQueue struct {
	pending    []types.FileChange
	timer      *time.Timer
	processing bool
}

// NewPipeline creates an incremental change pipeline.
func NewPipeline(applier ChangeApplier, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		applier:  applier,
		debounce: cfg.DebounceWindow,
		logger:   logger.With("component", "pipeline"),
		queues:   make(map[string]*projectQueue),
	}
}

// Enqueue records a change for a project and restarts its debounce
// timer. Changes for different projects never delay each other.
func (p *Pipeline) Enqueue(projectID string, change types.FileChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	q, ok := p.queues[projectID]
	if !ok {
		q = &projectQueue{}
		p.queues[projectID] = q
	}
	q.pending = append(q.pending, change)

	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(p.debounce, func() { p.flush(projectID) })
}

// Consume feeds a change channel into the pipeline until the channel
// closes or the context is canceled. The watcher's event channel plugs
// in here directly.
func (p *Pipeline) Consume(ctx context.Context, projectID string, changes <-chan types.FileChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			p.Enqueue(projectID, change)
		}
	}
}

// Close stops all timers and waits for in-flight updates to finish.
// Pending changes that have not yet flushed are dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	for _, q := range p.queues {
		if q.timer != nil {
			q.timer.Stop()
		}
		q.pending = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// flush starts an update pass for a project if none is running. If one
// is already in flight the pending changes stay queued; the running
// pass drains them when it finishes.
func (p *Pipeline) flush(projectID string) {
	p.mu.Lock()
	q, ok := p.queues[projectID]
	if !ok || p.closed || q.processing || len(q.pending) == 0 {
		p.mu.Unlock()
		return
	}
	pass := q.pending
	q.pending = nil
	q.processing = true
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(projectID, q, pass)
}

func (p *Pipeline) run(projectID string, q *projectQueue, pass []types.FileChange) {
	defer p.wg.Done()

	p.apply(projectID, pass)

	p.mu.Lock()
	q.processing = false
	more := !p.closed && len(q.pending) > 0
	p.mu.Unlock()

	// Changes that arrived during the pass are applied immediately; they
	// already waited out at least one debounce window.
	if more {
		p.flush(projectID)
	}
}

// apply collapses a pass to one effective change per path, then applies
// deletions before creations and modifications. A failure in either
// phase is logged and isolated to this project.
func (p *Pipeline) apply(projectID string, pass []types.FileChange) {
	effective := make(map[string]types.FileChange, len(pass))
	order := make([]string, 0, len(pass))
	for _, change := range pass {
		if _, seen := effective[change.Path]; !seen {
			order = append(order, change.Path)
		}
		effective[change.Path] = change
	}

	var deletions, upserts []string
	for _, path := range order {
		if effective[path].IsDeletion() {
			deletions = append(deletions, path)
		} else {
			upserts = append(upserts, path)
		}
	}

	ctx := context.Background()
	if len(deletions) > 0 {
		if err := p.applier.DeletePaths(ctx, projectID, deletions); err != nil {
			p.logger.Error("incremental delete failed",
				"project_id", projectID, "files", len(deletions), "error", err)
		}
	}
	if len(upserts) > 0 {
		if err := p.applier.UpsertPaths(ctx, projectID, upserts); err != nil {
			p.logger.Error("incremental update failed",
				"project_id", projectID, "files", len(upserts), "error", err)
		}
	}
}
