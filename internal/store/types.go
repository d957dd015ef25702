// Package store is the per-folder persistence layer: document state and
// chunk metadata in SQLite, vectors in an HNSW graph, and keyword search
// in a Bleve index. Everything lives under the folder's .folder-mcp/
// directory so removing a folder removes its index with it.
package store

import (
	"path/filepath"

	"github.com/folder-mcp/foldermcp/internal/filestate"
)

// Index artifact locations inside a monitored folder.
const (
	// IndexDirName is the per-folder directory that holds all index data.
	IndexDirName = ".folder-mcp"

	// DBFileName is the SQLite database inside IndexDirName.
	DBFileName = "embeddings.db"

	// VectorFileName is the persisted HNSW graph inside IndexDirName.
	VectorFileName = "vectors.hnsw"

	// KeywordDirName is the Bleve index directory inside IndexDirName.
	KeywordDirName = "keyword.bleve"
)

// IndexDir returns the index directory for a monitored folder.
func IndexDir(folder string) string {
	return filepath.Join(folder, IndexDirName)
}

// DBPath returns the SQLite database path for a monitored folder.
func DBPath(folder string) string {
	return filepath.Join(folder, IndexDirName, DBFileName)
}

// VectorPath returns the HNSW graph path for a monitored folder.
func VectorPath(folder string) string {
	return filepath.Join(folder, IndexDirName, VectorFileName)
}

// KeywordPath returns the Bleve index path for a monitored folder.
func KeywordPath(folder string) string {
	return filepath.Join(folder, IndexDirName, KeywordDirName)
}

// ChunkRecord is one stored chunk with its embedding and the extraction
// params needed to re-read the content from the source file.
type ChunkRecord struct {
	ID          string // content-addressed: SHA-256(path + content hash + index)
	Path        string // document path, relative to the folder root
	Index       int
	Total       int
	Content     string
	TokenCount  int
	StartOffset int
	EndOffset   int
	ParamsJSON  []byte // tagged params envelope
	KeyPhrases  []string
	Topics      []string
	Readability float64
	Embedding   []float32
	Model       string // embedding model that produced Embedding
}

// StateCounts breaks down tracked documents by lifecycle state.
type StateCounts map[filestate.State]int

// FolderStats summarizes one folder's index.
type FolderStats struct {
	DocumentCount int
	ChunkCount    int
	States        StateCounts
	TotalBytes    int64 // sum of tracked document sizes
}
