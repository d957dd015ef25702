package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndex_AddAndSearch(t *testing.T) {
	v := NewVectorIndex(3)
	defer v.Close()

	require.NoError(t, v.Add(
		[]string{"a", "b", "c"},
		[][]float32{
			{1, 0, 0},
			{0, 1, 0},
			{0.9, 0.1, 0},
		}))

	results, err := v.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	v := NewVectorIndex(3)
	defer v.Close()

	err := v.Add([]string{"a"}, [][]float32{{1, 0}})
	assert.Error(t, err)

	_, err = v.Search([]float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestVectorIndex_Replace(t *testing.T) {
	v := NewVectorIndex(2)
	defer v.Close()

	require.NoError(t, v.Add([]string{"a"}, [][]float32{{1, 0}}))
	require.NoError(t, v.Add([]string{"a"}, [][]float32{{0, 1}}))
	assert.Equal(t, 1, v.Count())

	results, err := v.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
}

func TestVectorIndex_Delete_HidesFromResults(t *testing.T) {
	v := NewVectorIndex(2)
	defer v.Close()

	require.NoError(t, v.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	v.Delete([]string{"a"})

	assert.False(t, v.Contains("a"))
	assert.Equal(t, 1, v.Count())

	results, err := v.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestVectorIndex_EmptySearch(t *testing.T) {
	v := NewVectorIndex(2)
	defer v.Close()

	results, err := v.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	v := NewVectorIndex(2)
	require.NoError(t, v.Add([]string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, v.Save(path))
	require.NoError(t, v.Close())

	dims, err := SavedDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	loaded := NewVectorIndex(0)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Dimensions())
	assert.Equal(t, 2, loaded.Count())

	results, err := loaded.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSavedDimensions_FreshStart(t *testing.T) {
	dims, err := SavedDimensions(filepath.Join(t.TempDir(), "missing.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}
