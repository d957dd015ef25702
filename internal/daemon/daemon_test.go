package daemon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/foldermcp/internal/config"
	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/fmdm"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/queue"
	"github.com/folder-mcp/foldermcp/internal/store"
)

// staticProvider serves the static embedder for every model id, so tests
// run without a worker subprocess.
type staticProvider struct {
	embedder *model.StaticEmbedder
}

func (p staticProvider) EnsureModel(ctx context.Context, modelID string) (model.Embedder, error) {
	return p.embedder, nil
}

func (p staticProvider) Unload(ctx context.Context) error { return nil }

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	home := t.TempDir()
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := New(cfg, Options{
		Home:       home,
		ConfigPath: filepath.Join(home, "config.yaml"),
		Models:     staticProvider{model.NewStaticEmbedder()},
		Logger:     logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d.queue.Start(ctx)
	go d.pumpQueueEvents(ctx)
	t.Cleanup(func() {
		d.shutdown()
		cancel()
	})
	return d
}

func writeDoc(t *testing.T, root, rel, topic string) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString("The " + topic + " document describes policies in plain detail. ")
		b.WriteString("Each section adds more " + topic + " background for the reader.\n\n")
	}
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
}

func waitForStatus(t *testing.T, d *Daemon, folder string, status fmdm.FolderStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		entry, ok := d.state.Current().Folder(folder)
		return ok && entry.Status == status
	}, 10*time.Second, 20*time.Millisecond, "folder %s never reached %s", folder, status)
}

func TestValidateFolder_Rejections(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()

	err := d.ValidateFolder(ctx, "relative/path", "")
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))

	err = d.ValidateFolder(ctx, filepath.Join(root, "missing"), "")
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))

	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	err = d.ValidateFolder(ctx, file, "")
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))

	err = d.ValidateFolder(ctx, root, "no-such-model")
	assert.Equal(t, errors.ErrCodeUnsupportedModel, errors.GetCode(err))

	assert.NoError(t, d.ValidateFolder(ctx, root, "all-MiniLM-L6-v2"))
}

func TestAddFolder_PersistsAndTracks(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()

	warnings, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	entries := d.FoldersConfig()
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Clean(root), entries[0].Path)
	assert.Equal(t, d.cfg.Embeddings.DefaultModel, entries[0].Model, "default model applied")

	// Persisted for the next daemon start.
	loaded, err := config.Load(d.configPath)
	require.NoError(t, err)
	require.Len(t, loaded.Folders, 1)
	assert.Equal(t, filepath.Clean(root), loaded.Folders[0].Path)

	_, ok := d.state.Current().Folder(filepath.Clean(root))
	assert.True(t, ok, "folder appears in the snapshot")
}

func TestAddFolder_RejectsOverlap(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	child := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(child, 0755))

	_, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)

	_, err = d.AddFolder(ctx, root, "")
	assert.Equal(t, errors.ErrCodeFolderOverlap, errors.GetCode(err))

	_, err = d.AddFolder(ctx, child, "")
	assert.Equal(t, errors.ErrCodeFolderOverlap, errors.GetCode(err))
}

func TestAddFolder_AncestorReplacesDescendants(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	childA := filepath.Join(root, "a")
	childB := filepath.Join(root, "b")
	require.NoError(t, os.MkdirAll(childA, 0755))
	require.NoError(t, os.MkdirAll(childB, 0755))

	_, err := d.AddFolder(ctx, childA, "")
	require.NoError(t, err)
	_, err = d.AddFolder(ctx, childB, "")
	require.NoError(t, err)

	warnings, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	assert.Len(t, warnings, 2)

	entries := d.FoldersConfig()
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Clean(root), entries[0].Path)

	snap := d.state.Current()
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, filepath.Clean(root), snap.Folders[0].Path)
}

func TestRemoveFolder(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "doc.txt", "removal")

	_, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	waitForStatus(t, d, filepath.Clean(root), fmdm.StatusActive)

	require.NoError(t, d.RemoveFolder(ctx, root))
	assert.Empty(t, d.FoldersConfig())

	_, err = os.Stat(store.IndexDir(root))
	assert.True(t, os.IsNotExist(err), "index directory deleted")
	_, err = os.Stat(filepath.Join(root, "doc.txt"))
	assert.NoError(t, err, "source files untouched")

	err = d.RemoveFolder(ctx, root)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))
}

func TestIndexingLifecycleReachesActive(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "travel.txt", "travel reimbursement")
	writeDoc(t, root, "oncall.txt", "oncall rotation")

	_, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	waitForStatus(t, d, filepath.Clean(root), fmdm.StatusActive)

	entry, ok := d.state.Current().Folder(filepath.Clean(root))
	require.True(t, ok)
	assert.Equal(t, 100, entry.Progress)
	assert.Equal(t, 2, entry.TotalFiles)
	assert.Equal(t, 2, entry.IndexedFiles)
}

func TestSearchThroughQueue(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "travel.txt", "travel reimbursement")
	writeDoc(t, root, "oncall.txt", "oncall rotation")

	_, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	waitForStatus(t, d, filepath.Clean(root), fmdm.StatusActive)

	results, err := d.Search(ctx, root, "travel reimbursement policies", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "travel.txt", results[0].Chunk.Path)

	// The agent keep-alive holds the queue paused after the search.
	assert.Equal(t, queue.StatePaused, d.queue.State())

	_, err = d.Search(ctx, "/not/managed", "query", 5)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))
}

func TestDocument(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "notes/doc.txt", "notes")

	_, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)

	text, err := d.Document(ctx, root, "notes/doc.txt")
	require.NoError(t, err)
	assert.Contains(t, text, "notes document")

	_, err = d.Document(ctx, root, "../outside.txt")
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))

	_, err = d.Document(ctx, "/not/managed", "doc.txt")
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))
}

func TestFolderInfoAndServerInfo(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "doc.txt", "stats")

	_, err := d.FolderInfo(ctx, root)
	assert.Equal(t, errors.ErrCodeInvalidPath, errors.GetCode(err))

	_, err = d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	waitForStatus(t, d, filepath.Clean(root), fmdm.StatusActive)

	info, err := d.FolderInfo(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, fmdm.StatusActive, info.Status)
	require.NotNil(t, info.Stats)
	assert.Equal(t, 1, info.Stats.DocumentCount)

	srv := d.ServerInfo()
	assert.Equal(t, os.Getpid(), srv.PID)
	assert.Equal(t, 1, srv.FolderCount)
}

func TestWatcherReenqueuesOnChange(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	root := t.TempDir()
	writeDoc(t, root, "doc.txt", "first")

	_, err := d.AddFolder(ctx, root, "")
	require.NoError(t, err)
	waitForStatus(t, d, filepath.Clean(root), fmdm.StatusActive)

	writeDoc(t, root, "doc2.txt", "second revision")

	require.Eventually(t, func() bool {
		entry, ok := d.state.Current().Folder(filepath.Clean(root))
		return ok && entry.Status == fmdm.StatusActive && entry.TotalFiles == 2
	}, 15*time.Second, 50*time.Millisecond, "change batch triggers a reindex")
}

func TestRunStartsAndStops(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	// Ephemeral ports so parallel test runs do not collide.
	cfg.Daemon.WSPort = 0
	cfg.Daemon.HTTPPort = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := New(cfg, Options{
		Home:       home,
		ConfigPath: filepath.Join(home, "config.yaml"),
		Models:     staticProvider{model.NewStaticEmbedder()},
		Logger:     logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := ReadRegistry(home)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	_, err = ReadRegistry(home)
	assert.Error(t, err, "registry record removed on shutdown")
}

func TestIsDescendant(t *testing.T) {
	assert.True(t, isDescendant("/a/b/c", "/a/b"))
	assert.True(t, isDescendant("/a/b/c/d", "/a"))
	assert.False(t, isDescendant("/a/b", "/a/b"))
	assert.False(t, isDescendant("/a", "/a/b"))
	assert.False(t, isDescendant("/ab", "/a"))
}
