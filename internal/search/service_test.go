package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/filestate"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/store"
)

// newTestService indexes a small corpus across the SQLite store, the
// vector index, and an in-memory keyword index.
func newTestService(t *testing.T, embedder model.Embedder, docs map[string]string) *Service {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vectors := store.NewVectorIndex(embedder.Dimensions())
	keywords, err := store.NewKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keywords.Close() })

	i := 0
	for path, content := range docs {
		rec := filestate.NewRecord(path, fmt.Sprintf("hash-%d", i), int64(len(content)), time.Now())
		require.NoError(t, st.UpsertDocument(ctx, rec))

		vec, err := embedder.Embed(ctx, content)
		require.NoError(t, err)

		chunk := &store.ChunkRecord{
			ID:         fmt.Sprintf("chunk-%s", path),
			Path:       path,
			Total:      1,
			Content:    content,
			TokenCount: len(content) / 4,
			ParamsJSON: []byte(`{"type":"text"}`),
			Embedding:  vec,
			Model:      embedder.ModelName(),
		}
		_, err = st.ReplaceChunks(ctx, path, []*store.ChunkRecord{chunk})
		require.NoError(t, err)
		require.NoError(t, vectors.Add([]string{chunk.ID}, [][]float32{vec}))
		require.NoError(t, keywords.Index(ctx, []*store.ChunkRecord{chunk}))
		i++
	}

	return NewService(st, vectors, keywords, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var testDocs = map[string]string{
	"hr/travel.md":    "the travel policy covers flight and hotel reimbursement for employees",
	"hr/vacation.md":  "vacation days accrue monthly and roll over at year end",
	"eng/release.md":  "the release checklist includes smoke tests and changelog updates",
	"eng/oncall.md":   "oncall rotation swaps every monday morning",
	"fin/expenses.md": "expense reports need receipts for anything over fifty dollars",
}

func TestService_HybridSearchFindsRelevantChunk(t *testing.T) {
	embedder := model.NewStaticEmbedder()
	svc := newTestService(t, embedder, testDocs)

	results, err := svc.Search(context.Background(), "travel policy reimbursement", embedder, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "hr/travel.md", results[0].Chunk.Path)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.True(t, results[0].InBoth, "keyword and vector agree on the top hit")
}

func TestService_KeywordOnlySkipsEmbedding(t *testing.T) {
	embedder := model.NewStaticEmbedder()
	svc := newTestService(t, embedder, testDocs)

	results, err := svc.Search(context.Background(), "oncall rotation", nil, Options{KeywordOnly: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "eng/oncall.md", results[0].Chunk.Path)
	assert.Zero(t, results[0].VectorScore)
}

func TestService_NilEmbedderDegradesToKeyword(t *testing.T) {
	embedder := model.NewStaticEmbedder()
	svc := newTestService(t, embedder, testDocs)

	results, err := svc.Search(context.Background(), "expense receipts", nil, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "fin/expenses.md", results[0].Chunk.Path)
}

func TestService_EmptyQueryRejected(t *testing.T) {
	embedder := model.NewStaticEmbedder()
	svc := newTestService(t, embedder, testDocs)

	_, err := svc.Search(context.Background(), "   ", embedder, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestService_LimitCapsResults(t *testing.T) {
	embedder := model.NewStaticEmbedder()
	svc := newTestService(t, embedder, testDocs)

	results, err := svc.Search(context.Background(), "the", embedder, Options{Limit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}
