// Package lifecycle drives a folder end to end: scan the tree, decide per
// file whether work is due, parse, chunk, embed, and persist, keeping the
// vector and keyword indexes in step with the store.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/folder-mcp/foldermcp/internal/chunk"
	"github.com/folder-mcp/foldermcp/internal/content"
	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/search"
	"github.com/folder-mcp/foldermcp/internal/store"
	"github.com/folder-mcp/foldermcp/internal/watcher"
)

// Folder is one managed folder's open index handles.
type Folder struct {
	Root string
	dims int

	store    *store.Store
	vectors  *store.VectorIndex
	keywords *store.KeywordIndex
	filter   *watcher.Filter
	searcher *search.Service
}

// Store exposes the folder's document store.
func (f *Folder) Store() *store.Store { return f.store }

// Searcher exposes the folder's hybrid search service.
func (f *Folder) Searcher() *search.Service { return f.searcher }

// Stats reports document and chunk counts for the folder.
func (f *Folder) Stats(ctx context.Context) (*store.FolderStats, error) {
	return f.store.Stats(ctx)
}

func (f *Folder) close() {
	_ = f.vectors.Close()
	_ = f.keywords.Close()
	_ = f.store.Close()
}

// Manager opens and indexes folders. It implements the queue's Indexer.
type Manager struct {
	parsers *content.Registry
	chunker *chunk.Chunker
	logger  *slog.Logger

	mu      sync.Mutex
	folders map[string]*Folder
}

// NewManager creates a lifecycle manager.
func NewManager(parsers *content.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		parsers: parsers,
		chunker: chunk.NewDefaultChunker(),
		logger:  logger,
		folders: make(map[string]*Folder),
	}
}

// Open prepares a folder for indexing and search: the SQLite store, the
// vector index (loaded from disk when its dimensions still match,
// rebuilt from stored embeddings otherwise), and the keyword index.
func (m *Manager) Open(ctx context.Context, root string, include, exclude []string, dimensions int) (*Folder, error) {
	root = filepath.Clean(root)

	m.mu.Lock()
	if f, ok := m.folders[root]; ok {
		if f.dims == dimensions {
			m.mu.Unlock()
			return f, nil
		}
		// Dimension change means a model switch: reopen so the vector
		// index is rebuilt at the new shape.
		m.mu.Unlock()
		if err := m.Close(root); err != nil {
			return nil, err
		}
	} else {
		m.mu.Unlock()
	}

	st, err := store.Open(root)
	if err != nil {
		return nil, err
	}

	vectors, err := m.openVectors(ctx, st, root, dimensions)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	keywords, err := store.NewKeywordIndex(store.KeywordPath(root))
	if err != nil {
		_ = vectors.Close()
		_ = st.Close()
		return nil, err
	}

	f := &Folder{
		Root:     root,
		dims:     dimensions,
		store:    st,
		vectors:  vectors,
		keywords: keywords,
		filter:   watcher.NewFilter(include, exclude),
	}
	f.searcher = search.NewService(st, vectors, keywords, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.folders[root]; ok {
		f.close()
		return existing, nil
	}
	m.folders[root] = f
	return f, nil
}

// openVectors loads the saved index when dimensions match, otherwise
// rebuilds from the embeddings persisted in SQLite. A model switch shows
// up here as a dimension change.
func (m *Manager) openVectors(ctx context.Context, st *store.Store, root string, dimensions int) (*store.VectorIndex, error) {
	vectors := store.NewVectorIndex(dimensions)
	vectorPath := store.VectorPath(root)

	saved, err := store.SavedDimensions(vectorPath)
	if err == nil && saved == dimensions {
		if err := vectors.Load(vectorPath); err == nil {
			return vectors, nil
		}
		m.logger.Warn("vector_index_load_failed, rebuilding", slog.String("folder", root))
		vectors = store.NewVectorIndex(dimensions)
	}

	ids, vecs, err := st.AllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	var keepIDs []string
	var keepVecs [][]float32
	for i, vec := range vecs {
		if len(vec) == dimensions {
			keepIDs = append(keepIDs, ids[i])
			keepVecs = append(keepVecs, vec)
		}
	}
	if len(keepIDs) > 0 {
		if err := vectors.Add(keepIDs, keepVecs); err != nil {
			return nil, err
		}
		m.logger.Info("vector_index_rebuilt",
			slog.String("folder", root),
			slog.Int("vectors", len(keepIDs)))
	}
	return vectors, nil
}

// Get returns the open handle for root, if any.
func (m *Manager) Get(root string) (*Folder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[filepath.Clean(root)]
	return f, ok
}

// Folders lists the open folder roots.
func (m *Manager) Folders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	roots := make([]string, 0, len(m.folders))
	for root := range m.folders {
		roots = append(roots, root)
	}
	return roots
}

// Close persists the folder's vector index and releases its handles.
func (m *Manager) Close(root string) error {
	m.mu.Lock()
	f, ok := m.folders[filepath.Clean(root)]
	delete(m.folders, filepath.Clean(root))
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := f.vectors.Save(store.VectorPath(f.Root)); err != nil {
		m.logger.Warn("vector_index_save_failed",
			slog.String("folder", f.Root),
			slog.String("error", err.Error()))
	}
	f.close()
	return nil
}

// Remove closes the folder and deletes its index directory. Source files
// are untouched.
func (m *Manager) Remove(root string) error {
	if err := m.Close(root); err != nil {
		return err
	}
	dir := store.IndexDir(filepath.Clean(root))
	if err := os.RemoveAll(dir); err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to delete index directory", err)
	}
	m.logger.Info("folder_removed", slog.String("folder", root))
	return nil
}

// CloseAll shuts every open folder down.
func (m *Manager) CloseAll() {
	for _, root := range m.Folders() {
		_ = m.Close(root)
	}
}
