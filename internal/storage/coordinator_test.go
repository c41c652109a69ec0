package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinindex/twinindex/internal/txn"
	"github.com/twinindex/twinindex/pkg/types"
)

// fakeVectorStore records calls and keeps chunk state in memory.
type fakeVectorStore struct {
	mu        sync.Mutex
	initCalls int
	upserts   [][]types.Chunk
	deletes   [][]string
	chunks    map[string]types.Chunk

	failInit   error
	failUpsert error
	failLookup error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{chunks: make(map[string]types.Chunk)}
}

func (f *fakeVectorStore) InitializeProjectScope(ctx context.Context, projectID string) (ProjectScope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInit != nil {
		return ProjectScope{}, f.failInit
	}
	f.initCalls++
	return ProjectScope{ProjectID: projectID, Collection: "vec_" + projectID}, nil
}

func (f *fakeVectorStore) UpsertChunks(ctx context.Context, scope ProjectScope, chunks []types.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.upserts = append(f.upserts, chunks)
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeVectorStore) DeleteChunks(ctx context.Context, scope ProjectScope, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ids)
	for _, id := range ids {
		delete(f.chunks, id)
	}
	return nil
}

func (f *fakeVectorStore) GetChunks(ctx context.Context, scope ProjectScope, ids []string) ([]types.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeVectorStore) ChunkIDsByFiles(ctx context.Context, scope ProjectScope, filePaths []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLookup != nil {
		return nil, f.failLookup
	}
	var ids []string
	for _, c := range f.chunks {
		for _, p := range filePaths {
			if c.FilePath == p {
				ids = append(ids, c.ID)
			}
		}
	}
	return ids, nil
}

func (f *fakeVectorStore) ChunkIDsByProject(ctx context.Context, scope ProjectScope) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.chunks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeVectorStore) SearchVectors(ctx context.Context, scope ProjectScope, query []float32, opts SearchOptions) ([]types.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectorStore) DropProjectScope(ctx context.Context, scope ProjectScope) error {
	return nil
}

func (f *fakeVectorStore) Close() error { return nil }

// fakeGraphStore records calls and keeps node IDs in memory.
type fakeGraphStore struct {
	mu        sync.Mutex
	initCalls int
	stores    [][]types.Chunk
	deletes   [][]string
	nodes     map[string]bool

	failStore  error
	failDelete error
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{nodes: make(map[string]bool)}
}

func (f *fakeGraphStore) InitializeProjectScope(ctx context.Context, projectID string) (ProjectScope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return ProjectScope{ProjectID: projectID, Collection: "graph_" + projectID}, nil
}

func (f *fakeGraphStore) StoreChunks(ctx context.Context, scope ProjectScope, chunks []types.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStore != nil {
		return f.failStore
	}
	f.stores = append(f.stores, chunks)
	for _, c := range chunks {
		f.nodes[c.ID] = true
	}
	return nil
}

func (f *fakeGraphStore) DeleteNodes(ctx context.Context, scope ProjectScope, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	f.deletes = append(f.deletes, ids)
	for _, id := range ids {
		delete(f.nodes, id)
	}
	return nil
}

func (f *fakeGraphStore) Search(ctx context.Context, scope ProjectScope, query string, opts GraphSearchOptions) ([]types.SearchResult, error) {
	return nil, nil
}

func (f *fakeGraphStore) DropProjectScope(ctx context.Context, scope ProjectScope) error {
	return nil
}

func (f *fakeGraphStore) Close() error { return nil }

func testChunk(id, path string) types.Chunk {
	return types.Chunk{
		ID:        id,
		FilePath:  path,
		StartLine: 1,
		EndLine:   10,
		Content:   "func " + id + "() {}",
	}
}

func newTestCoordinator(vectors VectorStore, graphs GraphStore) (*Coordinator, *txn.Coordinator) {
	txns := txn.NewCoordinator(txn.Config{}, nil)
	return NewCoordinator(vectors, graphs, txns, nil), txns
}

func TestStoreBothStoresSucceed(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, txns := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	c1 := testChunk("c1", "a.go")
	c2 := testChunk("c2", "a.go")
	files := []types.CodeFile{{Path: "a.go", Chunks: []types.Chunk{c1, c2}}}

	result, err := coord.Store(ctx, files, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ChunksStored)

	require.Len(t, vectors.upserts, 1)
	assert.Equal(t, []types.Chunk{c1, c2}, vectors.upserts[0])
	require.Len(t, graphs.stores, 1)

	// No compensation ran.
	assert.Empty(t, vectors.deletes)
	assert.Empty(t, graphs.deletes)
	assert.Len(t, txns.History(0), 1)
}

func TestStoreGraphFailureCompensatesVector(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	graphs.failStore = errors.New("graph store down")
	coord, _ := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	files := []types.CodeFile{{Path: "a.go", Chunks: []types.Chunk{
		testChunk("c1", "a.go"), testChunk("c2", "a.go"),
	}}}

	result, err := coord.Store(ctx, files, "p1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Transaction failed"}, result.Errors)

	// The vector write is undone exactly once, even though the graph
	// write never executed.
	require.Len(t, vectors.deletes, 1)
	assert.ElementsMatch(t, []string{"c1", "c2"}, vectors.deletes[0])
	assert.Empty(t, graphs.deletes)
	assert.Empty(t, vectors.chunks)
}

func TestStoreNoOpFastPath(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, txns := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	result, err := coord.Store(ctx, nil, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ChunksStored)

	// Files with no chunks take the same fast path.
	result, err = coord.Store(ctx, []types.CodeFile{{Path: "empty.go"}}, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ChunksStored)

	// No transaction was ever opened.
	assert.Empty(t, txns.History(0))
	assert.Empty(t, txns.Active())
	assert.Zero(t, vectors.initCalls)
}

func TestInitializeProjectIdempotent(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, _ := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	first, err := coord.InitializeProject(ctx, "p1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := coord.GetProjectResources(ctx, "p1")
		require.NoError(t, err)
		assert.Same(t, first, res)
	}

	assert.Equal(t, 1, vectors.initCalls)
	assert.Equal(t, 1, graphs.initCalls)
}

func TestInitializeProjectConcurrentFirstAccess(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, _ := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.GetProjectResources(ctx, "p1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, vectors.initCalls)
	assert.Equal(t, 1, graphs.initCalls)
}

func TestInitializeProjectFailurePropagates(t *testing.T) {
	vectors := newFakeVectorStore()
	vectors.failInit = errors.New("disk full")
	graphs := newFakeGraphStore()
	coord, _ := newTestCoordinator(vectors, graphs)

	_, err := coord.InitializeProject(context.Background(), "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrResourceInitFailed)
}

func TestDeleteFilesNoChunksFound(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, txns := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	result, err := coord.DeleteFiles(ctx, []string{"a.ts"}, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Empty(t, txns.History(0))
}

func TestDeleteFilesRemovesFromBothStores(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, _ := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	files := []types.CodeFile{{Path: "a.go", Chunks: []types.Chunk{
		testChunk("c1", "a.go"), testChunk("c2", "a.go"),
	}}}
	_, err := coord.Store(ctx, files, "p1")
	require.NoError(t, err)

	result, err := coord.DeleteFiles(ctx, []string{"a.go"}, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, 2, result.ChunksDeleted)

	assert.Empty(t, vectors.chunks)
	assert.Empty(t, graphs.nodes)
}

func TestDeleteFilesGraphFailureRestoresVectorChunks(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, _ := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	c1 := testChunk("c1", "a.go")
	c2 := testChunk("c2", "a.go")
	files := []types.CodeFile{{Path: "a.go", Chunks: []types.Chunk{c1, c2}}}
	_, err := coord.Store(ctx, files, "p1")
	require.NoError(t, err)

	graphs.failDelete = errors.New("graph delete down")

	result, err := coord.DeleteFiles(ctx, []string{"a.go"}, "p1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Transaction failed"}, result.Errors)

	// The vector delete executed, then compensation re-upserted the
	// snapshot taken before the transaction started.
	require.Len(t, vectors.deletes, 1)
	assert.ElementsMatch(t, []string{"c1", "c2"}, vectors.deletes[0])
	assert.Equal(t, c1, vectors.chunks["c1"])
	assert.Equal(t, c2, vectors.chunks["c2"])
	assert.Contains(t, graphs.nodes, "c1")
	assert.Contains(t, graphs.nodes, "c2")
}

func TestDeleteFilesLookupErrorReported(t *testing.T) {
	vectors := newFakeVectorStore()
	vectors.failLookup = errors.New("lookup down")
	graphs := newFakeGraphStore()
	coord, txns := newTestCoordinator(vectors, graphs)

	result, err := coord.DeleteFiles(context.Background(), []string{"a.go"}, "p1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, txns.History(0))
}

func TestDeleteProjectEvictsResources(t *testing.T) {
	vectors := newFakeVectorStore()
	graphs := newFakeGraphStore()
	coord, _ := newTestCoordinator(vectors, graphs)
	ctx := context.Background()

	files := []types.CodeFile{{Path: "a.go", Chunks: []types.Chunk{testChunk("c1", "a.go")}}}
	_, err := coord.Store(ctx, files, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, coord.Projects())

	result, err := coord.DeleteProject(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ChunksDeleted)
	assert.Empty(t, coord.Projects())

	// Re-access re-initializes from scratch.
	_, err = coord.GetProjectResources(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, vectors.initCalls)
}
