package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrBatchTooLarge  = errors.New("batch size exceeds limit")
	ErrProviderFailed = errors.New("embedding provider failed")
)

// MaxBatchSize bounds one provider call.
const MaxBatchSize = 100

// Embedding is a vector with its provenance.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// Embedder turns text into vectors. The coordination layer treats it as
// an opaque external capability and never invents vectors itself.
type Embedder interface {
	// Embed generates a single embedding for the given text.
	Embed(ctx context.Context, text string) (*Embedding, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error)

	// Dimension returns the embedding dimension for this provider.
	Dimension() int

	// Provider returns the provider name.
	Provider() string

	// Close releases any resources held by the embedder.
	Close() error
}

// ComputeHash returns the cache key for a text.
func ComputeHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ValidateBatch rejects empty or oversized batch inputs.
func ValidateBatch(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyText
	}
	if len(texts) > MaxBatchSize {
		return fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}
	for _, t := range texts {
		if t == "" {
			return ErrEmptyText
		}
	}
	return nil
}

// Cache provides in-memory LRU caching of embeddings by content hash.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		// Only reachable with an invalid size parameter.
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Cache{cache: cache}
}

// Get returns the cached embedding for a content hash.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	return c.cache.Get(hash)
}

// Set stores an embedding under its content hash.
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	return c.cache.Len()
}
