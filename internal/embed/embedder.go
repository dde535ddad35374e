// Package embed defines the embedder boundary: an external collaborator
// treated as a pure function text -> unit vector, plus the resilience
// wrappers (cache, rate limiter, circuit breaker, retry) placed around
// it since the real embedding service is a network call out of process.
package embed

import (
	"context"
	"math"
)

// Embedder generates unit-normalised embeddings for chunk text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	HealthCheck(ctx context.Context) error
}

// Normalize rescales v to unit length in place and returns it. The zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return v
}
