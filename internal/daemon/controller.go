package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/folder-mcp/foldermcp/internal/config"
	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/fmdm"
	"github.com/folder-mcp/foldermcp/internal/mcp"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/queue"
	"github.com/folder-mcp/foldermcp/internal/search"
	"github.com/folder-mcp/foldermcp/internal/ws"
	"github.com/folder-mcp/foldermcp/pkg/version"
)

// ValidateFolder checks a folder.add request without applying it.
func (d *Daemon) ValidateFolder(ctx context.Context, path, modelID string) error {
	_, err := d.checkFolder(path, modelID)
	return err
}

// checkFolder validates path and model and returns the managed folders
// that are descendants of path, which an add would replace.
func (d *Daemon) checkFolder(path, modelID string) ([]string, error) {
	if path == "" || !filepath.IsAbs(path) {
		return nil, errors.New(errors.ErrCodeInvalidPath, "folder path must be absolute", nil)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeInvalidPath, "folder does not exist: "+path, err)
		}
		return nil, errors.New(errors.ErrCodeInvalidPath, "folder is not accessible: "+path, err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidPath, "not a directory: "+path, nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodePermissionDenied, "folder is not readable: "+path, err)
	}
	_ = f.Close()

	if modelID != "" {
		if _, err := model.Find(modelID); err != nil {
			return nil, errors.New(errors.ErrCodeUnsupportedModel, "unsupported model: "+modelID, err)
		}
	}

	var descendants []string
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fc := range d.cfg.Folders {
		switch {
		case fc.Path == path:
			return nil, errors.New(errors.ErrCodeFolderOverlap, "folder is already managed: "+path, nil)
		case isDescendant(path, fc.Path):
			return nil, errors.New(errors.ErrCodeFolderOverlap,
				fmt.Sprintf("folder %s is inside managed folder %s", path, fc.Path), nil)
		case isDescendant(fc.Path, path):
			descendants = append(descendants, fc.Path)
		}
	}
	return descendants, nil
}

// isDescendant reports whether child is strictly inside parent.
func isDescendant(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AddFolder registers a folder for indexing. Adding an ancestor of
// already-managed folders replaces them; the replacements are reported
// as warnings, not errors.
func (d *Daemon) AddFolder(ctx context.Context, path, modelID string) ([]string, error) {
	if modelID == "" {
		modelID = d.cfg.Embeddings.DefaultModel
	}
	descendants, err := d.checkFolder(path, modelID)
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)

	var warnings []string
	for _, desc := range descendants {
		if err := d.removeFolder(desc); err != nil {
			d.logger.Warn("descendant_remove_failed",
				slog.String("folder", desc),
				slog.String("error", err.Error()))
		}
		warnings = append(warnings, fmt.Sprintf("removed %s: now covered by %s", desc, path))
	}

	d.mu.Lock()
	d.cfg.Folders = append(d.cfg.Folders, config.FolderConfig{Path: path, Model: modelID})
	runCtx := d.runCtx
	d.mu.Unlock()

	d.saveConfig()
	d.state.AddFolder(path, modelID)
	d.queue.AddFolder(path, modelID, queue.PriorityNormal)
	d.startWatcher(runCtx, path, modelID)

	d.logger.Info("folder_added",
		slog.String("folder", path),
		slog.String("model", modelID),
		slog.Int("replaced", len(descendants)))
	return warnings, nil
}

// RemoveFolder stops indexing a folder and deletes its index directory.
func (d *Daemon) RemoveFolder(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if !d.isManaged(path) {
		return errors.New(errors.ErrCodeInvalidPath, "folder is not managed: "+path, nil)
	}
	if err := d.removeFolder(path); err != nil {
		return err
	}
	d.saveConfig()
	d.logger.Info("folder_removed_by_request", slog.String("folder", path))
	return nil
}

// removeFolder tears one folder down: watcher, queue entry, indexes,
// config entry, snapshot entry.
func (d *Daemon) removeFolder(path string) error {
	d.stopWatcher(path)
	d.queue.RemoveFolder(path)

	d.mu.Lock()
	kept := d.cfg.Folders[:0]
	for _, fc := range d.cfg.Folders {
		if fc.Path != path {
			kept = append(kept, fc)
		}
	}
	d.cfg.Folders = kept
	d.mu.Unlock()

	d.state.RemoveFolder(path)
	return d.lifecycle.Remove(path)
}

func (d *Daemon) isManaged(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fc := range d.cfg.Folders {
		if fc.Path == path {
			return true
		}
	}
	return false
}

func (d *Daemon) folderModel(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fc := range d.cfg.Folders {
		if fc.Path == path {
			return fc.Model, true
		}
	}
	return "", false
}

func (d *Daemon) saveConfig() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.cfg.Save(d.configPath); err != nil {
		d.logger.Error("config_save_failed",
			slog.String("path", d.configPath),
			slog.String("error", err.Error()))
	}
}

// FoldersConfig lists the persisted folder entries.
func (d *Daemon) FoldersConfig() []ws.FolderEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ws.FolderEntry, 0, len(d.cfg.Folders))
	for _, fc := range d.cfg.Folders {
		out = append(out, ws.FolderEntry{Path: fc.Path, Model: fc.Model})
	}
	return out
}

// ServerInfo answers get_server_info.
func (d *Daemon) ServerInfo() ws.ServerInfo {
	snap := d.state.Current()
	return ws.ServerInfo{
		Version:     version.Version,
		PID:         os.Getpid(),
		UptimeSec:   int64(time.Since(d.started).Seconds()),
		FolderCount: len(snap.Folders),
		Hardware:    snap.Hardware,
	}
}

// FolderInfo answers get_folder_info. Stats are included when the
// folder's indexes are open.
func (d *Daemon) FolderInfo(ctx context.Context, path string) (*ws.FolderInfo, error) {
	path = filepath.Clean(path)
	modelID, ok := d.folderModel(path)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidPath, "folder is not managed: "+path, nil)
	}

	info := &ws.FolderInfo{Path: path, Model: modelID, Status: fmdm.StatusPending}
	if entry, ok := d.state.Current().Folder(path); ok {
		info.Status = entry.Status
	}
	if f, ok := d.lifecycle.Get(path); ok {
		stats, err := f.Stats(ctx)
		if err != nil {
			return nil, err
		}
		info.Stats = stats
	}
	return info, nil
}

// Folders lists managed folders for MCP clients.
func (d *Daemon) Folders() []mcp.FolderSummary {
	snap := d.state.Current()
	out := make([]mcp.FolderSummary, 0, len(snap.Folders))
	for _, f := range snap.Folders {
		out = append(out, mcp.FolderSummary{
			Path:   f.Path,
			Model:  f.Model,
			Status: string(f.Status),
		})
	}
	return out
}

// Search runs a hybrid query against one folder. It goes through the
// queue so indexing pauses while the agent is active and the folder's
// model is loaded for the query embedding.
func (d *Daemon) Search(ctx context.Context, folder, query string, limit int) ([]search.Result, error) {
	folder = filepath.Clean(folder)
	modelID, ok := d.folderModel(folder)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidPath, "folder is not managed: "+folder, nil)
	}

	var results []search.Result
	err := d.queue.ProcessSemanticSearch(ctx, modelID, func(embedder model.Embedder) error {
		f, err := d.lifecycle.Open(ctx, folder, d.cfg.Watcher.Include, d.cfg.Watcher.Exclude, embedder.Dimensions())
		if err != nil {
			return err
		}
		results, err = f.Searcher().Search(ctx, query, embedder, search.Options{Limit: limit})
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Document returns the full extracted text of one indexed document.
func (d *Daemon) Document(ctx context.Context, folder, relPath string) (string, error) {
	folder = filepath.Clean(folder)
	if !d.isManaged(folder) {
		return "", errors.New(errors.ErrCodeInvalidPath, "folder is not managed: "+folder, nil)
	}

	abs := filepath.Join(folder, relPath)
	if !isDescendant(abs, folder) {
		return "", errors.New(errors.ErrCodeInvalidPath, "document path escapes the folder: "+relPath, nil)
	}

	doc, err := d.parsers.Parse(ctx, abs)
	if err != nil {
		return "", err
	}
	return doc.Text(), nil
}
