package embedding

import "context"

// NullEmbedder returns an all-zero vector for every input. Used when no
// real embedding provider is configured; the reflection and recall
// pipelines detect the resulting all-zero query vector and fall back to
// "no semantic signal" behavior.
type NullEmbedder struct {
	dimension int
}

// NewNullEmbedder returns a NullEmbedder producing vectors of the given dimension.
func NewNullEmbedder(dimension int) *NullEmbedder {
	if dimension <= 0 {
		dimension = 8
	}
	return &NullEmbedder{dimension: dimension}
}

// Dimension implements Embedder.
func (e *NullEmbedder) Dimension() int { return e.dimension }

// Embed implements Embedder, returning a zero vector per input text.
func (e *NullEmbedder) Embed(ctx context.Context, texts []string, opts ...Option) (*Response, error) {
	if err := ValidateInputs(texts); err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = make([]float64, e.dimension)
	}
	return &Response{Vectors: vectors, Model: "null"}, nil
}
