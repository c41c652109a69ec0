package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// MockEmbedder produces deterministic vectors derived from content
// hashes. Identical text always yields the identical vector, so tests
// and offline runs get stable similarity behavior without a provider.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 64
	}
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	return &Embedding{
		Vector:    m.vectorFor(text),
		Dimension: m.dimension,
		Provider:  m.Provider(),
		Model:     "mock",
		Hash:      ComputeHash(text),
	}, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}
	out := make([]*Embedding, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// vectorFor expands the content hash into a unit vector.
func (m *MockEmbedder) vectorFor(text string) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, m.dimension)
	var norm float64
	for i := range vec {
		bits := binary.LittleEndian.Uint32(seed[(i*4)%28:])
		// Map into [-1, 1), mixing the index in so long vectors do not
		// repeat the 32-byte seed verbatim.
		v := float64(bits^uint32(i*2654435761)) / float64(math.MaxUint32)
		vec[i] = float32(v*2 - 1)
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (m *MockEmbedder) Dimension() int { return m.dimension }

func (m *MockEmbedder) Provider() string { return "mock" }

func (m *MockEmbedder) Close() error { return nil }
