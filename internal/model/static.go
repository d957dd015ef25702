package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// StaticDimensions is the embedding dimension of the static embedder.
const StaticDimensions = 256

// StaticEmbedder produces deterministic embeddings from word hashes, with
// no subprocess and no model download. It exists for tests and as a
// degraded fallback when no worker command is configured: same text,
// same vector, and related texts share components, which is enough for
// exercising the indexing and search plumbing.
type StaticEmbedder struct {
	dims int
}

// NewStaticEmbedder creates a static embedder with the default dimension.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dims: StaticDimensions}
}

// NewStaticEmbedderWithDimensions creates a static embedder with a custom
// dimension, for tests that need to match a catalog model's shape.
func NewStaticEmbedderWithDimensions(dims int) *StaticEmbedder {
	return &StaticEmbedder{dims: dims}
}

// Embed generates a deterministic embedding for text.
func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dims)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()

		// Each word contributes to a few positions so different texts
		// with shared vocabulary land near each other.
		for i := 0; i < 4; i++ {
			idx := int((sum >> (i * 16)) & 0xFFFF) % s.dims
			sign := float32(1)
			if (sum>>(i*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	normalizeStatic(vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int { return s.dims }

// ModelName returns the model identifier. The dimension is part of the
// name so embedders of different shapes read as different models.
func (s *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", s.dims)
}

// Close releases resources (none for the static embedder).
func (s *StaticEmbedder) Close() error { return nil }

func normalizeStatic(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
