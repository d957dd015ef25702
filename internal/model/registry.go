package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/folder-mcp/foldermcp/internal/errors"
)

// Registry owns the single embedding worker and hands out Embedders bound
// to whichever model a folder needs. Requesting a different model than the
// resident one unloads first; the indexing queue serializes work so two
// folders never fight over the worker.
//
// A crashed worker is respawned once per request. A respawn that also
// crashes surfaces the error to the caller instead of looping.
type Registry struct {
	command []string
	logger  *slog.Logger

	mu     sync.Mutex
	worker *Worker
}

// NewRegistry creates a registry that spawns workers with command.
func NewRegistry(command []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{command: command, logger: logger}
}

// EnsureModel returns an Embedder with the requested model loaded,
// starting or respawning the worker as needed.
func (r *Registry) EnsureModel(ctx context.Context, modelID string) (Embedder, error) {
	info, err := Find(modelID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnsupportedModel, "model not in catalog", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureModelLocked(ctx, modelID); err != nil {
		if errors.GetCategory(err) != errors.CategoryWorker {
			return nil, err
		}
		// One respawn attempt for a crashed worker.
		r.logger.Warn("worker_respawn",
			slog.String("model", modelID),
			slog.String("cause", err.Error()))
		r.worker = nil
		if err := r.ensureModelLocked(ctx, modelID); err != nil {
			return nil, err
		}
	}

	return &workerEmbedder{registry: r, model: modelID, dims: info.Dimensions}, nil
}

func (r *Registry) ensureModelLocked(ctx context.Context, modelID string) error {
	if r.worker == nil || r.worker.State() == StateCrashed {
		w := NewWorker(r.command, r.logger)
		if err := w.Start(ctx); err != nil {
			return err
		}
		r.worker = w
	}

	w := r.worker
	if w.State() == StateReady && w.Model() != modelID {
		if err := w.UnloadModel(ctx); err != nil {
			return err
		}
	}
	return w.LoadModel(ctx, modelID)
}

// CurrentModel returns the resident model ID, or "" when none is loaded.
func (r *Registry) CurrentModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.worker == nil {
		return ""
	}
	return r.worker.Model()
}

// WorkerState returns the worker lifecycle state for status reporting.
func (r *Registry) WorkerState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.worker == nil {
		return StateUninitialized
	}
	return r.worker.State()
}

// Unload unloads the resident model but keeps the worker alive. Called
// when the keep-alive window expires with no pending work.
func (r *Registry) Unload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.worker == nil {
		return nil
	}
	return r.worker.UnloadModel(ctx)
}

// HealthCheck pings the worker if one is running.
func (r *Registry) HealthCheck(ctx context.Context) error {
	r.mu.Lock()
	w := r.worker
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.HealthCheck(ctx)
}

// Close shuts the worker down.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	w := r.worker
	r.worker = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Shutdown(ctx)
}

func (r *Registry) embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	r.mu.Lock()
	w := r.worker
	r.mu.Unlock()

	if w == nil || w.State() != StateReady || w.Model() != modelID {
		return nil, errors.New(errors.ErrCodeWorkerBusy,
			fmt.Sprintf("model %s is not loaded", modelID), nil)
	}
	return w.Embed(ctx, texts)
}

// workerEmbedder is the Embedder handed to indexing and search, bound to
// one model on the shared worker.
type workerEmbedder struct {
	registry *Registry
	model    string
	dims     int
}

func (e *workerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *workerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("batch of %d exceeds maximum %d", len(texts), MaxBatchSize), nil)
	}
	return e.registry.embed(ctx, e.model, texts)
}

func (e *workerEmbedder) Dimensions() int   { return e.dims }
func (e *workerEmbedder) ModelName() string { return e.model }
func (e *workerEmbedder) Close() error      { return nil }
