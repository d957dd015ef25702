package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/search"
	"github.com/folder-mcp/foldermcp/internal/store"
)

type fakeBackend struct {
	folders   []FolderSummary
	results   []search.Result
	searchErr error
	document  string
	docErr    error

	lastFolder string
	lastQuery  string
	lastLimit  int
}

func (f *fakeBackend) Folders() []FolderSummary { return f.folders }

func (f *fakeBackend) Search(ctx context.Context, folder, query string, limit int) ([]search.Result, error) {
	f.lastFolder, f.lastQuery, f.lastLimit = folder, query, limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeBackend) Document(ctx context.Context, folder, path string) (string, error) {
	if f.docErr != nil {
		return "", f.docErr
	}
	return f.document, nil
}

func newTestMCP(t *testing.T, backend *fakeBackend) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(backend, logger)
	require.NoError(t, err)
	return s
}

func chunkResult(path, content string, index int, score float64) search.Result {
	return search.Result{
		Chunk: &store.ChunkRecord{
			Path:        path,
			Content:     content,
			Index:       index,
			StartOffset: 0,
			EndOffset:   len(content),
		},
		Score:  score,
		InBoth: true,
	}
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
}

func TestSearchTool(t *testing.T) {
	backend := &fakeBackend{results: []search.Result{
		chunkResult("hr/travel.md", "Travel must be booked two weeks ahead.", 0, 1.0),
		chunkResult("hr/expenses.md", "Expenses are reimbursed monthly.", 2, 0.7),
	}}
	s := newTestMCP(t, backend)

	_, out, err := s.searchHandler(context.Background(), nil, SearchInput{
		Folder: "/docs",
		Query:  "travel policy",
		Limit:  5,
	})
	require.NoError(t, err)

	assert.Equal(t, "/docs", backend.lastFolder)
	assert.Equal(t, "travel policy", backend.lastQuery)
	assert.Equal(t, 5, backend.lastLimit)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "hr/travel.md", out.Results[0].Path)
	assert.Equal(t, 1.0, out.Results[0].Score)
	assert.True(t, out.Results[0].InBoth)
	assert.Equal(t, 2, out.Results[1].ChunkIndex)
}

func TestSearchTool_ValidatesInput(t *testing.T) {
	s := newTestMCP(t, &fakeBackend{})

	_, _, err := s.searchHandler(context.Background(), nil, SearchInput{Folder: "/docs", Query: "   "})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidParams, errors.GetCode(err))

	_, _, err = s.searchHandler(context.Background(), nil, SearchInput{Query: "travel"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidParams, errors.GetCode(err))
}

func TestSearchTool_PropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{searchErr: errors.New(errors.ErrCodeInvalidPath, "folder is not managed", nil)}
	s := newTestMCP(t, backend)

	_, _, err := s.searchHandler(context.Background(), nil, SearchInput{Folder: "/nope", Query: "q"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))
}

func TestSearchTool_SkipsResultsWithoutChunks(t *testing.T) {
	backend := &fakeBackend{results: []search.Result{
		{Score: 0.5},
		chunkResult("a.txt", "body", 0, 0.4),
	}}
	s := newTestMCP(t, backend)

	_, out, err := s.searchHandler(context.Background(), nil, SearchInput{Folder: "/docs", Query: "q"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "a.txt", out.Results[0].Path)
}

func TestListFoldersTool(t *testing.T) {
	backend := &fakeBackend{folders: []FolderSummary{
		{Path: "/docs", Model: "bge-m3", Status: "active"},
	}}
	s := newTestMCP(t, backend)

	_, out, err := s.listFoldersHandler(context.Background(), nil, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, backend.folders, out.Folders)
}

func TestListFoldersTool_EmptyIsNotNil(t *testing.T) {
	s := newTestMCP(t, &fakeBackend{})

	_, out, err := s.listFoldersHandler(context.Background(), nil, struct{}{})
	require.NoError(t, err)
	assert.NotNil(t, out.Folders)
	assert.Empty(t, out.Folders)
}

func TestGetDocumentTool(t *testing.T) {
	backend := &fakeBackend{document: "Full extracted text."}
	s := newTestMCP(t, backend)

	_, out, err := s.getDocumentHandler(context.Background(), nil, GetDocumentInput{
		Folder: "/docs",
		Path:   "hr/travel.md",
	})
	require.NoError(t, err)
	assert.Equal(t, "hr/travel.md", out.Path)
	assert.Equal(t, "Full extracted text.", out.Content)

	_, _, err = s.getDocumentHandler(context.Background(), nil, GetDocumentInput{Folder: "/docs"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidParams, errors.GetCode(err))
}
