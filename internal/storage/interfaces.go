package storage

import (
	"context"

	"github.com/twinindex/twinindex/pkg/types"
)

// ProjectScope is the tenant-isolation handle binding a project to its
// namespace inside one store.
type ProjectScope struct {
	ProjectID  string
	Collection string // Store-side namespace derived from the project ID
}

// SearchOptions narrows a vector similarity search.
type SearchOptions struct {
	ProjectID   string
	Limit       int
	MinScore    float64
	FilePattern string // SQL LIKE pattern on file path, empty for all files
}

// GraphSearchOptions narrows a structural graph search.
type GraphSearchOptions struct {
	ProjectID string
	Limit     int
	Kinds     []string // Node kinds to include (function, type, file, ...), empty for all
}

// VectorStore is the opaque vector-similarity capability consumed by the
// coordinator. Implementations must make UpsertChunks and DeleteChunks
// idempotent: the write path delivers at least once.
type VectorStore interface {
	// InitializeProjectScope binds project-scoped storage, creating the
	// collection if absent.
	InitializeProjectScope(ctx context.Context, projectID string) (ProjectScope, error)

	// UpsertChunks stores chunks with their embeddings, replacing by ID.
	UpsertChunks(ctx context.Context, scope ProjectScope, chunks []types.Chunk) error

	// DeleteChunks removes chunks by ID. Missing IDs are not an error.
	DeleteChunks(ctx context.Context, scope ProjectScope, ids []string) error

	// GetChunks loads full chunk records by ID, used to snapshot content
	// before a deletion so its compensation can restore it.
	GetChunks(ctx context.Context, scope ProjectScope, ids []string) ([]types.Chunk, error)

	// ChunkIDsByFiles resolves the chunk IDs owned by the given files.
	ChunkIDsByFiles(ctx context.Context, scope ProjectScope, filePaths []string) ([]string, error)

	// ChunkIDsByProject resolves every chunk ID in the scope.
	ChunkIDsByProject(ctx context.Context, scope ProjectScope) ([]string, error)

	// SearchVectors runs a similarity query against the scope.
	SearchVectors(ctx context.Context, scope ProjectScope, query []float32, opts SearchOptions) ([]types.SearchResult, error)

	// DropProjectScope removes the scope and everything in it.
	DropProjectScope(ctx context.Context, scope ProjectScope) error

	Close() error
}

// GraphStore is the opaque structural-graph capability consumed by the
// coordinator. StoreChunks derives nodes and relationships (file,
// symbol, import) from chunk metadata.
type GraphStore interface {
	// InitializeProjectScope binds project-scoped storage, creating the
	// namespace if absent.
	InitializeProjectScope(ctx context.Context, projectID string) (ProjectScope, error)

	// StoreChunks upserts graph nodes and edges derived from the chunks.
	StoreChunks(ctx context.Context, scope ProjectScope, chunks []types.Chunk) error

	// DeleteNodes removes the nodes for the given chunk IDs along with
	// their edges. Missing IDs are not an error.
	DeleteNodes(ctx context.Context, scope ProjectScope, ids []string) error

	// Search runs a structural query (symbol name, file, relationship)
	// against the scope.
	Search(ctx context.Context, scope ProjectScope, query string, opts GraphSearchOptions) ([]types.SearchResult, error)

	// DropProjectScope removes the scope and everything in it.
	DropProjectScope(ctx context.Context, scope ProjectScope) error

	Close() error
}
