package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FolderWatcher watches one folder tree recursively and emits coalesced
// event batches. fsnotify watches are per-directory, so directories are
// added as they are discovered and again as they are created.
type FolderWatcher struct {
	root      string
	filter    *Filter
	coalescer *Coalescer
	logger    *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopped bool
	done    chan struct{}
}

// NewFolderWatcher creates a watcher for root with the given filter,
// debounce window, and batch size.
func NewFolderWatcher(root string, filter *Filter, window time.Duration, batchSize int, logger *slog.Logger) *FolderWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderWatcher{
		root:      root,
		filter:    filter,
		coalescer: NewCoalescer(window, batchSize),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins watching. It returns once the initial directory tree is
// registered; events flow on Batches until Stop or context cancellation.
func (w *FolderWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = fsw.Close()
		return fmt.Errorf("watcher already stopped")
	}
	w.fsw = fsw
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.run(ctx)
	return nil
}

// addTree registers fsnotify watches for root and every non-pruned
// subdirectory.
func (w *FolderWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are reported, not fatal.
			w.coalescer.AddError(fmt.Sprintf("cannot walk %s: %v", path, err))
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		if w.filter.SkipDir(rel) {
			return fs.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			w.coalescer.AddError(fmt.Sprintf("cannot watch %s: %v", path, err))
		}
		return nil
	})
}

func (w *FolderWatcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.coalescer.AddError(err.Error())
		}
	}
}

func (w *FolderWatcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	// New directories need their own watch before files inside them
	// produce events.
	if event.Op.Has(fsnotify.Create) {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if !w.filter.SkipDir(rel) {
				if addErr := w.addTree(event.Name); addErr != nil {
					w.coalescer.AddError(addErr.Error())
				}
			}
			return
		}
	}

	if !w.filter.ShouldIndex(rel) {
		return
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		// A rename away from the watched name looks like a delete; if
		// the file reappears the create re-registers it.
		op = OpDelete
	default:
		// Chmod and friends carry no content change.
		return
	}

	w.logger.Debug("file_event",
		slog.String("path", rel),
		slog.String("op", op.String()))

	w.coalescer.Add(Event{
		Path:      filepath.ToSlash(rel),
		Operation: op,
		Timestamp: time.Now(),
	})
}

// Batches returns the channel of coalesced event batches.
func (w *FolderWatcher) Batches() <-chan Batch {
	return w.coalescer.Output()
}

// Stop tears down the watches and discards pending events.
// Safe to call multiple times.
func (w *FolderWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	fsw := w.fsw
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
		<-w.done
	}
	w.coalescer.Stop()
}
