// Package daemon is the process kernel. It owns the configuration, the
// shared state snapshot, the model registry, the indexing queue, folder
// lifecycles, file watchers, and the control surfaces: the WebSocket
// protocol for UI clients and MCP for AI agents.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/folder-mcp/foldermcp/internal/config"
	"github.com/folder-mcp/foldermcp/internal/content"
	"github.com/folder-mcp/foldermcp/internal/filestate"
	"github.com/folder-mcp/foldermcp/internal/fmdm"
	"github.com/folder-mcp/foldermcp/internal/lifecycle"
	"github.com/folder-mcp/foldermcp/internal/mcp"
	"github.com/folder-mcp/foldermcp/internal/model"
	"github.com/folder-mcp/foldermcp/internal/queue"
	"github.com/folder-mcp/foldermcp/internal/watcher"
	"github.com/folder-mcp/foldermcp/internal/ws"
	"github.com/folder-mcp/foldermcp/pkg/version"
)

// shutdownTimeout bounds graceful shutdown of listeners and the queue.
const shutdownTimeout = 10 * time.Second

// Options tunes daemon construction. Zero values pick production
// defaults; tests override Home and Models.
type Options struct {
	// Home is the daemon state directory, default ~/.folder-mcp.
	Home string
	// ConfigPath is where folder changes are persisted.
	ConfigPath string
	// Models overrides the embedding provider, default is the JSON-RPC
	// worker registry from the configured worker command.
	Models queue.ModelProvider
	Logger *slog.Logger
}

// Daemon wires the subsystems together and implements the control
// surfaces (ws.Controller, mcp.Backend).
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	registry   *Registry
	started    time.Time

	state     *fmdm.Manager
	models    queue.ModelProvider
	worker    *model.Registry // set when we own the worker process
	parsers   *content.Registry
	lifecycle *lifecycle.Manager
	queue     *queue.Queue
	ws        *ws.Server
	mcp       *mcp.Server

	mu       sync.Mutex
	runCtx   context.Context
	watchers map[string]*watcher.FolderWatcher
}

// New builds a daemon from configuration. Run starts it.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	home := opts.Home
	if home == "" {
		home = config.DefaultDir()
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		registry:   NewRegistry(home),
		started:    time.Now(),
		parsers:    content.NewRegistry(),
		watchers:   make(map[string]*watcher.FolderWatcher),
		runCtx:     context.Background(),
	}

	d.models = opts.Models
	if d.models == nil {
		d.worker = model.NewRegistry(cfg.Embeddings.WorkerCommand, logger)
		d.models = d.worker
	}

	d.state = fmdm.NewManager(
		fmdm.Daemon{PID: os.Getpid(), Version: version.Version},
		model.DetectHardware(),
	)
	d.lifecycle = lifecycle.NewManager(d.parsers, logger)
	d.queue = queue.New(d.models, indexerAdapter{d}, logger)
	d.ws = ws.NewServer(d, d.state, cfg.Broadcast.UpdatesPerSecond, cfg.Broadcast.Debounce, logger)

	srv, err := mcp.NewServer(d, logger)
	if err != nil {
		return nil, err
	}
	d.mcp = srv
	return d, nil
}

// Run registers the instance, restores configured folders, and serves
// until ctx is canceled or a listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	info := RegistryInfo{
		PID:       os.Getpid(),
		HTTPPort:  d.cfg.Daemon.HTTPPort,
		WSPort:    d.cfg.Daemon.WSPort,
		StartTime: d.started,
		Version:   version.Version,
		Host:      d.cfg.Daemon.Host,
	}
	if err := d.registry.Acquire(info); err != nil {
		return err
	}
	defer d.registry.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.runCtx = ctx
	d.mu.Unlock()

	d.queue.Start(ctx)
	d.restoreFolders(ctx)

	wsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.cfg.Daemon.Host, d.cfg.Daemon.WSPort),
		Handler: d.ws,
	}
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.cfg.Daemon.Host, d.cfg.Daemon.HTTPPort),
		Handler: d.httpMux(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { d.ws.Run(gctx); return nil })
	g.Go(func() error { return listenAndServe(gctx, wsSrv) })
	g.Go(func() error { return listenAndServe(gctx, httpSrv) })
	g.Go(func() error { d.pumpQueueEvents(gctx); return nil })
	g.Go(func() error { d.reap(gctx); return nil })

	d.logger.Info("daemon_started",
		slog.Int("pid", info.PID),
		slog.Int("ws_port", info.WSPort),
		slog.Int("http_port", info.HTTPPort),
		slog.Int("folders", len(d.cfg.Folders)))

	err := g.Wait()
	d.shutdown()
	return err
}

// httpMux serves health and the MCP streamable-HTTP transport.
func (d *Daemon) httpMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/mcp", d.mcp.Handler())
	return mux
}

// restoreFolders re-registers folders from the last run's config.
func (d *Daemon) restoreFolders(ctx context.Context) {
	for _, fc := range d.cfg.Folders {
		d.state.AddFolder(fc.Path, fc.Model)
		d.queue.AddFolder(fc.Path, fc.Model, queue.PriorityNormal)
		d.startWatcher(ctx, fc.Path, fc.Model)
	}
}

// startWatcher begins watching one folder and re-enqueues it as an
// immediate item whenever a change batch lands. Watch failures degrade
// to scan-on-demand, they do not fail the folder.
func (d *Daemon) startWatcher(ctx context.Context, root, modelID string) {
	filter := watcher.NewFilter(d.cfg.Watcher.Include, d.cfg.Watcher.Exclude)
	w := watcher.NewFolderWatcher(root, filter, d.cfg.Watcher.DebounceWindow, d.cfg.Watcher.BatchSize, d.logger)
	if err := w.Start(ctx); err != nil {
		d.logger.Warn("watcher_start_failed",
			slog.String("folder", root),
			slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	d.watchers[root] = w
	d.mu.Unlock()

	go func() {
		for batch := range w.Batches() {
			d.logger.Debug("watch_batch",
				slog.String("folder", root),
				slog.Int("events", len(batch.Events)))
			d.queue.AddFolder(root, modelID, queue.PriorityImmediate)
		}
	}()
}

func (d *Daemon) stopWatcher(root string) {
	d.mu.Lock()
	w, ok := d.watchers[root]
	delete(d.watchers, root)
	d.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// pumpQueueEvents projects queue events onto the shared snapshot.
func (d *Daemon) pumpQueueEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue.Events():
			if !ok {
				return
			}
			d.applyQueueEvent(ev)
		}
	}
}

func (d *Daemon) applyQueueEvent(ev queue.Event) {
	switch ev.Kind {
	case queue.EventStarted:
		d.state.SetStatus(ev.Folder, fmdm.StatusScanning)
	case queue.EventProgress:
		d.state.UpdateFolder(ev.Folder, func(f *fmdm.Folder) {
			f.Status = fmdm.StatusIndexing
			f.IndexedFiles = ev.Done
			f.TotalFiles = ev.Total
			if ev.Total > 0 {
				f.Progress = ev.Done * 100 / ev.Total
			}
		})
	case queue.EventCompleted:
		d.state.UpdateFolder(ev.Folder, func(f *fmdm.Folder) {
			f.Status = fmdm.StatusActive
			f.Progress = 100
			f.Error = ""
		})
	case queue.EventFailed:
		d.state.UpdateFolder(ev.Folder, func(f *fmdm.Folder) {
			f.Status = fmdm.StatusError
			f.Error = ev.Err
		})
	}
}

// reap periodically flips documents stuck in processing back to pending
// so a crashed pass does not pin them forever.
func (d *Daemon) reap(ctx context.Context) {
	ticker := time.NewTicker(filestate.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, root := range d.lifecycle.Folders() {
				f, ok := d.lifecycle.Get(root)
				if !ok {
					continue
				}
				n, err := f.Store().ReclaimStuck(ctx, filestate.StuckThreshold, time.Now())
				if err != nil {
					d.logger.Warn("reaper_failed",
						slog.String("folder", root),
						slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					d.logger.Info("reaper_reclaimed",
						slog.String("folder", root),
						slog.Int("documents", n))
				}
			}
		}
	}
}

func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.mu.Lock()
	watchers := make([]*watcher.FolderWatcher, 0, len(d.watchers))
	for _, w := range d.watchers {
		watchers = append(watchers, w)
	}
	d.watchers = make(map[string]*watcher.FolderWatcher)
	d.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}

	d.queue.Stop(ctx)
	d.lifecycle.CloseAll()
	if d.worker != nil {
		if err := d.worker.Close(ctx); err != nil {
			d.logger.Warn("worker_close_failed", slog.String("error", err.Error()))
		}
	}
	d.logger.Info("daemon_stopped")
}

// listenAndServe runs srv until ctx is done, then shuts it down
// gracefully.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// indexerAdapter opens the folder's indexes at the embedder's dimensions
// before each pass, so a model switch rebuilds the vector index.
type indexerAdapter struct{ d *Daemon }

func (a indexerAdapter) IndexFolder(ctx context.Context, folder string, embedder model.Embedder, progress func(done, total int)) error {
	cfg := a.d.cfg
	if _, err := a.d.lifecycle.Open(ctx, folder, cfg.Watcher.Include, cfg.Watcher.Exclude, embedder.Dimensions()); err != nil {
		return err
	}
	return a.d.lifecycle.IndexFolder(ctx, folder, embedder, progress)
}
