package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/twinindex/twinindex/internal/txn"
	"github.com/twinindex/twinindex/pkg/types"
)

// transactionFailedMessage is the summarized error surfaced to callers
// when a coordinated write fails and compensation has run.
const transactionFailedMessage = "Transaction failed"

// ProjectResources binds the two store capabilities to one project's
// scoped storage. Created lazily on first access, cached for the process
// lifetime, removed only by explicit project deletion. Owned exclusively
// by the Coordinator.
type ProjectResources struct {
	ProjectID   string
	VectorScope ProjectScope
	GraphScope  ProjectScope
	CreatedAt   time.Time
}

// Coordinator presents a single logical store/delete/search API over the
// vector and graph stores, wrapping every mutating call that touches
// more than zero chunks in exactly one saga transaction. Reads bypass
// the transaction machinery entirely.
type Coordinator struct {
	vectors VectorStore
	graphs  GraphStore
	txns    *txn.Coordinator
	logger  *slog.Logger

	mu        sync.RWMutex
	resources map[string]*ProjectResources
	initGroup singleflight.Group
}

// NewCoordinator creates a storage coordinator over the two stores.
func NewCoordinator(vectors VectorStore, graphs GraphStore, txns *txn.Coordinator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		vectors:   vectors,
		graphs:    graphs,
		txns:      txns,
		logger:    logger,
		resources: make(map[string]*ProjectResources),
	}
}

// InitializeProject binds project-scoped storage on both stores.
// Idempotent: repeated calls return the cached resources, and concurrent
// first access performs the underlying binding at most once.
func (c *Coordinator) InitializeProject(ctx context.Context, projectID string) (*ProjectResources, error) {
	c.mu.RLock()
	res, ok := c.resources[projectID]
	c.mu.RUnlock()
	if ok {
		return res, nil
	}

	v, err, _ := c.initGroup.Do(projectID, func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have filled
		// the cache between the miss and this call.
		c.mu.RLock()
		res, ok := c.resources[projectID]
		c.mu.RUnlock()
		if ok {
			return res, nil
		}

		vectorScope, err := c.vectors.InitializeProjectScope(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("%w: vector store: %v", types.ErrResourceInitFailed, err)
		}
		graphScope, err := c.graphs.InitializeProjectScope(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("%w: graph store: %v", types.ErrResourceInitFailed, err)
		}

		res = &ProjectResources{
			ProjectID:   projectID,
			VectorScope: vectorScope,
			GraphScope:  graphScope,
			CreatedAt:   time.Now(),
		}
		c.mu.Lock()
		c.resources[projectID] = res
		c.mu.Unlock()

		c.logger.Info("project resources initialized",
			"project_id", projectID,
			"vector_collection", vectorScope.Collection,
			"graph_collection", graphScope.Collection)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProjectResources), nil
}

// GetProjectResources returns the cached resources for a project,
// initializing lazily on first access.
func (c *Coordinator) GetProjectResources(ctx context.Context, projectID string) (*ProjectResources, error) {
	return c.InitializeProject(ctx, projectID)
}

// Store writes all chunks from the given files to both stores under one
// transaction. An empty input succeeds trivially without opening a
// transaction. On transaction failure compensation has already been
// attempted and the result carries the summarized error.
func (c *Coordinator) Store(ctx context.Context, files []types.CodeFile, projectID string) (*types.StoreResult, error) {
	chunks := types.FlattenChunks(files)
	if len(chunks) == 0 {
		return &types.StoreResult{Success: true}, nil
	}

	res, err := c.GetProjectResources(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ids := types.ChunkIDs(chunks)
	txID := c.txns.Begin()

	if err := c.txns.AddVectorStep(txID,
		txn.Operation{Type: txn.OpStoreChunks, Apply: func(ctx context.Context) error {
			return c.vectors.UpsertChunks(ctx, res.VectorScope, chunks)
		}},
		txn.Operation{Type: txn.OpDeleteChunks, Apply: func(ctx context.Context) error {
			return c.vectors.DeleteChunks(ctx, res.VectorScope, ids)
		}},
	); err != nil {
		return nil, err
	}

	if err := c.txns.AddGraphStep(txID,
		txn.Operation{Type: txn.OpStoreChunks, Apply: func(ctx context.Context) error {
			return c.graphs.StoreChunks(ctx, res.GraphScope, chunks)
		}},
		txn.Operation{Type: txn.OpDeleteNodes, Apply: func(ctx context.Context) error {
			return c.graphs.DeleteNodes(ctx, res.GraphScope, ids)
		}},
	); err != nil {
		return nil, err
	}

	if err := c.txns.Commit(ctx, txID); err != nil {
		c.logger.Error("coordinated store failed",
			"txn_id", txID,
			"project_id", projectID,
			"chunks", len(chunks),
			"error", err)
		return &types.StoreResult{Success: false, Errors: []string{transactionFailedMessage}}, nil
	}

	return &types.StoreResult{Success: true, ChunksStored: len(chunks)}, nil
}

// DeleteFiles removes every chunk owned by the given files from both
// stores under one transaction. Chunk content is snapshotted before the
// delete so the compensating operations can restore it. When the files
// own no chunks the call succeeds trivially without a transaction.
func (c *Coordinator) DeleteFiles(ctx context.Context, filePaths []string, projectID string) (*types.DeleteResult, error) {
	res, err := c.GetProjectResources(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ids, err := c.vectors.ChunkIDsByFiles(ctx, res.VectorScope, filePaths)
	if err != nil {
		c.logger.Error("chunk id lookup failed",
			"project_id", projectID,
			"files", len(filePaths),
			"error", err)
		return &types.DeleteResult{Success: false, Errors: []string{err.Error()}}, nil
	}
	if len(ids) == 0 {
		return &types.DeleteResult{Success: true, FilesDeleted: len(filePaths)}, nil
	}

	result, err := c.deleteChunkSet(ctx, res, ids, projectID)
	if err != nil {
		return nil, err
	}
	result.FilesDeleted = len(filePaths)
	return result, nil
}

// DeleteProject removes the whole project's chunk set from both stores,
// then drops the project scopes and evicts the cached resources.
func (c *Coordinator) DeleteProject(ctx context.Context, projectID string) (*types.DeleteResult, error) {
	res, err := c.GetProjectResources(ctx, projectID)
	if err != nil {
		return nil, err
	}

	ids, err := c.vectors.ChunkIDsByProject(ctx, res.VectorScope)
	if err != nil {
		c.logger.Error("project chunk id lookup failed", "project_id", projectID, "error", err)
		return &types.DeleteResult{Success: false, Errors: []string{err.Error()}}, nil
	}

	result := &types.DeleteResult{Success: true}
	if len(ids) > 0 {
		result, err = c.deleteChunkSet(ctx, res, ids, projectID)
		if err != nil || !result.Success {
			return result, err
		}
	}

	if err := c.vectors.DropProjectScope(ctx, res.VectorScope); err != nil {
		return &types.DeleteResult{Success: false, Errors: []string{err.Error()}}, nil
	}
	if err := c.graphs.DropProjectScope(ctx, res.GraphScope); err != nil {
		return &types.DeleteResult{Success: false, Errors: []string{err.Error()}}, nil
	}

	c.mu.Lock()
	delete(c.resources, projectID)
	c.mu.Unlock()

	c.logger.Info("project deleted", "project_id", projectID, "chunks_deleted", result.ChunksDeleted)
	return result, nil
}

// deleteChunkSet runs the two-step deletion transaction for a resolved
// chunk ID set, with snapshot-based restore as compensation.
func (c *Coordinator) deleteChunkSet(ctx context.Context, res *ProjectResources, ids []string, projectID string) (*types.DeleteResult, error) {
	snapshot, err := c.vectors.GetChunks(ctx, res.VectorScope, ids)
	if err != nil {
		c.logger.Error("pre-delete snapshot failed", "project_id", projectID, "error", err)
		return &types.DeleteResult{Success: false, Errors: []string{err.Error()}}, nil
	}

	txID := c.txns.Begin()

	if err := c.txns.AddVectorStep(txID,
		txn.Operation{Type: txn.OpDeleteChunks, Apply: func(ctx context.Context) error {
			return c.vectors.DeleteChunks(ctx, res.VectorScope, ids)
		}},
		txn.Operation{Type: txn.OpRestoreChunks, Apply: func(ctx context.Context) error {
			return c.vectors.UpsertChunks(ctx, res.VectorScope, snapshot)
		}},
	); err != nil {
		return nil, err
	}

	if err := c.txns.AddGraphStep(txID,
		txn.Operation{Type: txn.OpDeleteNodes, Apply: func(ctx context.Context) error {
			return c.graphs.DeleteNodes(ctx, res.GraphScope, ids)
		}},
		txn.Operation{Type: txn.OpRestoreNodes, Apply: func(ctx context.Context) error {
			return c.graphs.StoreChunks(ctx, res.GraphScope, snapshot)
		}},
	); err != nil {
		return nil, err
	}

	if err := c.txns.Commit(ctx, txID); err != nil {
		c.logger.Error("coordinated delete failed",
			"txn_id", txID,
			"project_id", projectID,
			"chunks", len(ids),
			"error", err)
		return &types.DeleteResult{Success: false, Errors: []string{transactionFailedMessage}}, nil
	}

	return &types.DeleteResult{Success: true, ChunksDeleted: len(ids)}, nil
}

// SearchVectors runs a similarity query. Pure read: no transaction.
func (c *Coordinator) SearchVectors(ctx context.Context, query []float32, opts SearchOptions) ([]types.SearchResult, error) {
	res, err := c.GetProjectResources(ctx, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	return c.vectors.SearchVectors(ctx, res.VectorScope, query, opts)
}

// SearchGraph runs a structural query. Pure read: no transaction.
func (c *Coordinator) SearchGraph(ctx context.Context, query string, opts GraphSearchOptions) ([]types.SearchResult, error) {
	res, err := c.GetProjectResources(ctx, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	return c.graphs.Search(ctx, res.GraphScope, query, opts)
}

// Projects returns the IDs of all projects with cached resources.
func (c *Coordinator) Projects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.resources))
	for id := range c.resources {
		out = append(out, id)
	}
	return out
}

// Close closes both underlying stores.
func (c *Coordinator) Close() error {
	vErr := c.vectors.Close()
	gErr := c.graphs.Close()
	if vErr != nil {
		return vErr
	}
	return gErr
}
