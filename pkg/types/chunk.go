package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Chunk is the atomic unit stored in both the vector and the graph store.
// Chunks are immutable once created; an update replaces the chunk by ID.
type Chunk struct {
	// Identification
	ID       string
	FilePath string // Relative to project root

	// Location
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int

	// Content
	Content   string
	Embedding []float32 // Populated by the embedding stage before storage

	// Free-form metadata (symbol name, kind, package, imports, ...)
	Metadata map[string]string
}

// CodeFile is a parsed source file with its extracted chunks.
type CodeFile struct {
	Path     string // Relative to project root
	Language string
	Hash     string // Hex-encoded SHA-256 of file content
	Chunks   []Chunk
}

// ComputeChunkID derives a stable chunk identifier from the file path,
// span and content. Re-parsing unchanged code yields the same ID, which
// keeps store writes idempotent.
func ComputeChunkID(filePath string, startLine, endLine int, content string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d:", filePath, startLine, endLine)
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Validate checks structural validity of the chunk.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk ID is required")
	}
	if c.FilePath == "" {
		return errors.New("chunk file path is required")
	}
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	return nil
}

// ChunkIDs returns the IDs of the given chunks in order.
func ChunkIDs(chunks []Chunk) []string {
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	return ids
}

// FlattenChunks collects all chunks from the given files in file order.
func FlattenChunks(files []CodeFile) []Chunk {
	var chunks []Chunk
	for i := range files {
		chunks = append(chunks, files[i].Chunks...)
	}
	return chunks
}
