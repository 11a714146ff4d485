// Package similarity holds image embeddings and the cosine scorer used to compare them.
package similarity

import (
	"math"

	"reportdedup/types"
)

// Embedding is a fixed-length feature vector. It is never mutated after creation.
type Embedding struct {
	values []float32
}

// NewEmbedding copies values into a new Embedding
func NewEmbedding(values []float32) Embedding {
	v := make([]float32, len(values))
	copy(v, values)
	return Embedding{values: v}
}

// Len returns the embedding dimension
func (e Embedding) Len() int {
	return len(e.values)
}

// At returns the i-th component
func (e Embedding) At(i int) float32 {
	return e.values[i]
}

// Values returns a copy of the components
func (e Embedding) Values() []float32 {
	out := make([]float32, len(e.values))
	copy(out, e.values)
	return out
}

// SizeBytes approximates the memory held by the vector
func (e Embedding) SizeBytes() int {
	return len(e.values) * 4
}

// CosineSimilarity computes dot(a,b) / (|a| * |b|).
// A zero-norm input yields 0 instead of a division error.
func CosineSimilarity(a, b Embedding) (float64, error) {
	if len(a.values) != len(b.values) {
		return 0, &types.DimensionMismatchError{Got: len(b.values), Want: len(a.values)}
	}

	var dot, normA, normB float64
	for i := range a.values {
		x := float64(a.values[i])
		y := float64(b.values[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))

	// rounding can push |sim| a hair past 1
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
