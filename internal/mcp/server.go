// Package mcp exposes the daemon's search surface to AI agents over the
// Model Context Protocol. The tool layer stays thin: it validates input,
// delegates to the daemon, and formats results.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/search"
	"github.com/folder-mcp/foldermcp/pkg/version"
)

// FolderSummary is one managed folder as reported by list_folders.
type FolderSummary struct {
	Path   string `json:"path" jsonschema:"absolute path of the monitored folder"`
	Model  string `json:"model" jsonschema:"embedding model id assigned to the folder"`
	Status string `json:"status" jsonschema:"indexing status: pending, scanning, indexing, active, error"`
}

// Backend is the daemon surface the tools call into. Search runs through
// the daemon so indexing pauses while an agent is active.
type Backend interface {
	Folders() []FolderSummary
	Search(ctx context.Context, folder, query string, limit int) ([]search.Result, error)
	Document(ctx context.Context, folder, path string) (string, error)
}

// Server is the MCP server for folder-mcp.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	logger  *slog.Logger
}

// NewServer creates an MCP server over the given backend.
func NewServer(backend Backend, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeInvalidParams, "backend is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		backend: backend,
		logger:  logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "folder-mcp",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Serve runs the server over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// Handler returns the streamable-HTTP transport handler for mounting on
// the daemon's HTTP listener.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid keyword and semantic search over one indexed folder. Returns ranked chunks with their source paths and offsets.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_folders",
		Description: "List the folders this daemon indexes, with their embedding model and current status. Call this first to pick a folder for search.",
	}, s.listFoldersHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_document",
		Description: "Fetch the full extracted text of one indexed document, identified by its path relative to the folder root.",
	}, s.getDocumentHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 3))
}
