package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/search"
)

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Folder string `json:"folder" jsonschema:"absolute path of the folder to search, from list_folders"`
	Query  string `json:"query" jsonschema:"the search query to execute"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 100"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Results []SearchResult `json:"results" jsonschema:"ranked search results"`
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	Path        string  `json:"path" jsonschema:"document path relative to the folder root"`
	Content     string  `json:"content" jsonschema:"matched chunk text"`
	Score       float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	ChunkIndex  int     `json:"chunkIndex" jsonschema:"position of the chunk within its document"`
	StartOffset int     `json:"startOffset" jsonschema:"byte offset of the chunk start in the source text"`
	EndOffset   int     `json:"endOffset" jsonschema:"byte offset of the chunk end in the source text"`
	InBoth      bool    `json:"inBoth,omitempty" jsonschema:"true when both keyword and semantic search matched"`
}

// ListFoldersOutput is the list_folders tool's output schema.
type ListFoldersOutput struct {
	Folders []FolderSummary `json:"folders" jsonschema:"folders managed by the daemon"`
}

// GetDocumentInput is the get_document tool's input schema.
type GetDocumentInput struct {
	Folder string `json:"folder" jsonschema:"absolute path of the folder, from list_folders"`
	Path   string `json:"path" jsonschema:"document path relative to the folder root"`
}

// GetDocumentOutput is the get_document tool's output schema.
type GetDocumentOutput struct {
	Path    string `json:"path" jsonschema:"document path relative to the folder root"`
	Content string `json:"content" jsonschema:"full extracted text of the document"`
}

func (s *Server) searchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, errors.New(errors.ErrCodeInvalidParams, "query is required", nil)
	}
	if input.Folder == "" {
		return nil, SearchOutput{}, errors.New(errors.ErrCodeInvalidParams, "folder is required", nil)
	}

	results, err := s.backend.Search(ctx, input.Folder, input.Query, input.Limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]SearchResult, 0, len(results))}
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		out.Results = append(out.Results, toSearchResult(r))
	}
	return nil, out, nil
}

func (s *Server) listFoldersHandler(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (
	*mcp.CallToolResult,
	ListFoldersOutput,
	error,
) {
	folders := s.backend.Folders()
	if folders == nil {
		folders = []FolderSummary{}
	}
	return nil, ListFoldersOutput{Folders: folders}, nil
}

func (s *Server) getDocumentHandler(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentInput) (
	*mcp.CallToolResult,
	GetDocumentOutput,
	error,
) {
	if input.Folder == "" || input.Path == "" {
		return nil, GetDocumentOutput{}, errors.New(errors.ErrCodeInvalidParams, "folder and path are required", nil)
	}

	content, err := s.backend.Document(ctx, input.Folder, input.Path)
	if err != nil {
		return nil, GetDocumentOutput{}, err
	}
	return nil, GetDocumentOutput{Path: input.Path, Content: content}, nil
}

func toSearchResult(r search.Result) SearchResult {
	return SearchResult{
		Path:        r.Chunk.Path,
		Content:     r.Chunk.Content,
		Score:       r.Score,
		ChunkIndex:  r.Chunk.Index,
		StartOffset: r.Chunk.StartOffset,
		EndOffset:   r.Chunk.EndOffset,
		InBoth:      r.InBoth,
	}
}
