package types

// StoreResult reports the outcome of a coordinated store operation.
// A successful result always accounts for every chunk flattened from the
// input; partial success is never reported as success.
type StoreResult struct {
	Success      bool
	ChunksStored int
	Errors       []string
}

// DeleteResult reports the outcome of a coordinated delete operation.
type DeleteResult struct {
	Success       bool
	FilesDeleted  int
	ChunksDeleted int
	Errors        []string
}

// SearchResult is a single hit from either store's read path.
type SearchResult struct {
	ChunkID   string
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Score     float64
	Metadata  map[string]string
}
