package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"ecm/pkg/types"
)

// HashEmbedder is a deterministic, dependency-free Embedder: it derives
// a unit vector from repeated SHA-256 hashing of the normalised text. It
// has no semantic meaning but is stable and reproducible, which is all
// the test suite and the CLI (which always embeds with it) need.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder builds a HashEmbedder producing vectors of the given
// dimensionality.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Dimensions() int { return h.dimensions }

func (h *HashEmbedder) HealthCheck(_ context.Context) error { return nil }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	normalized := types.NormalizeText(text)
	v := make([]float32, h.dimensions)

	seed := []byte(normalized)
	block := sha256.Sum256(seed)
	for i := 0; i < h.dimensions; i++ {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		offset := (i % 8) * 4
		bits := binary.BigEndian.Uint32(block[offset : offset+4])
		// Map to [-1, 1).
		v[i] = float32(int32(bits))/float32(1<<31)
	}
	return Normalize(v)
}
