package model

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "the quarterly budget report")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the quarterly budget report")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "alpha")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "omega")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "some words to embed")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 0.001)
}

func TestStaticEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	base, _ := e.Embed(ctx, "annual financial report for the board")
	near, _ := e.Embed(ctx, "annual financial summary for the board")
	far, _ := e.Embed(ctx, "kitchen renovation ideas and paint colors")

	assert.Greater(t, dot(base, near), dot(base, far))
}

func TestStaticEmbedder_Batch(t *testing.T) {
	e := NewStaticEmbedderWithDimensions(64)

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 64)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
