package embedding

import (
	"context"
	"hash/fnv"
)

// HashEmbedder is a deterministic test embedder: identical content always
// produces an identical vector, and distinct content produces vectors
// with low cosine similarity. It exercises the dedup and
// consolidation-scoping paths in tests without a real embedding provider.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 16
	}
	return &HashEmbedder{dimension: dimension}
}

// Dimension implements Embedder.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Embed implements Embedder by deriving each vector from a seeded hash of
// the input text: deterministic and content-sensitive, with every
// component in [-1, 1). The vectors are not normalized to unit length.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string, opts ...Option) (*Response, error) {
	if err := ValidateInputs(texts); err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = vectorFor(text, e.dimension)
	}
	return &Response{Vectors: vectors, Model: "hash"}, nil
}

func vectorFor(text string, dimension int) []float64 {
	vec := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		h := fnv.New64a()
		h.Write([]byte(text))
		// Mix in the dimension index so components differ across the vector.
		h.Write([]byte{byte(i), byte(i >> 8)})
		sum := h.Sum64()
		// Map to [-1, 1].
		vec[i] = (float64(sum%2000) / 1000.0) - 1.0
	}
	return vec
}
