package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind_KnownModel(t *testing.T) {
	info, err := Find("all-MiniLM-L6-v2")
	require.NoError(t, err)
	assert.Equal(t, 384, info.Dimensions)
	assert.True(t, info.Default)
}

func TestFind_UnknownModel(t *testing.T) {
	_, err := Find("made-up-model")
	assert.Error(t, err)
}

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, "all-MiniLM-L6-v2", DefaultModel().ID)
}

func TestRecommend_EnglishOnly_PicksSmallest(t *testing.T) {
	got := Recommend([]string{"en"}, Hardware{})
	assert.Equal(t, "all-MiniLM-L6-v2", got.ID)
}

func TestRecommend_Multilingual(t *testing.T) {
	got := Recommend([]string{"en", "de", "ja"}, Hardware{})
	assert.Equal(t, "paraphrase-multilingual-MiniLM-L12-v2", got.ID)
}

func TestRecommend_GPUModelsExcludedOnCPU(t *testing.T) {
	// hi is only covered by the GPU model.
	got := Recommend([]string{"hi"}, Hardware{HasGPU: false})
	assert.Equal(t, DefaultModel().ID, got.ID, "falls back to default")

	got = Recommend([]string{"hi"}, Hardware{HasGPU: true})
	assert.Equal(t, "bge-m3", got.ID)
}

func TestRecommend_NoLanguages_PicksSmallest(t *testing.T) {
	got := Recommend(nil, Hardware{})
	assert.Equal(t, "all-MiniLM-L6-v2", got.ID)
}
