package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/folder-mcp/foldermcp/internal/errors"
	"github.com/folder-mcp/foldermcp/internal/logging"
)

// Worker manages one embedding worker subprocess. The process speaks
// newline-delimited JSON-RPC on stdin/stdout; its stderr goes to the
// worker log file. A load or unload that overruns its timeout marks the
// worker crashed, because a backend wedged mid-load cannot be trusted
// with further requests.
type Worker struct {
	command []string
	logger  *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	model string
	dims  int

	cmd      *exec.Cmd
	conn     *rpcConn
	stderr   *os.File
	exited   chan struct{}
	shutdown bool
}

// NewWorker creates a worker that will run the given command.
func NewWorker(command []string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		command: command,
		logger:  logger,
		state:   StateUninitialized,
		exited:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start spawns the subprocess and performs the initialize handshake.
// On success the worker is idle and ready for LoadModel.
func (w *Worker) Start(ctx context.Context) error {
	if len(w.command) == 0 {
		return errors.New(errors.ErrCodeWorkerSpawnFailed, "no worker command configured", nil)
	}

	cmd := exec.Command(w.command[0], w.command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.New(errors.ErrCodeWorkerSpawnFailed, "failed to open worker stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.New(errors.ErrCodeWorkerSpawnFailed, "failed to open worker stdout", err)
	}

	_ = logging.EnsureLogDir()
	if stderr, logErr := os.OpenFile(logging.WorkerLogPath(),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); logErr == nil {
		cmd.Stderr = stderr
		w.stderr = stderr
	} else {
		w.logger.Warn("worker_stderr_log_unavailable", slog.String("error", logErr.Error()))
	}

	if err := cmd.Start(); err != nil {
		return errors.New(errors.ErrCodeWorkerSpawnFailed, "failed to start worker process", err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.conn = newRPCConn(stdin, stdout)
	w.mu.Unlock()

	go w.watchExit()

	initCtx, cancel := context.WithTimeout(ctx, LoadTimeout)
	defer cancel()

	var res initializeResult
	if err := w.conn.call(initCtx, methodInitialize,
		initializeParams{ProtocolVersion: protocolVersion}, &res); err != nil {
		w.crash("initialize failed: " + err.Error())
		return errors.New(errors.ErrCodeWorkerSpawnFailed, "worker initialize failed", err)
	}
	if res.ProtocolVersion != protocolVersion {
		w.crash(fmt.Sprintf("protocol version mismatch: %d", res.ProtocolVersion))
		return errors.New(errors.ErrCodeWorkerProtocol,
			fmt.Sprintf("worker speaks protocol %d, daemon speaks %d", res.ProtocolVersion, protocolVersion), nil)
	}

	w.setState(StateIdle)
	w.logger.Info("worker_started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("backend", res.Backend))
	return nil
}

func (w *Worker) watchExit() {
	err := w.cmd.Wait()
	close(w.exited)

	w.mu.Lock()
	clean := w.shutdown
	w.mu.Unlock()

	if clean {
		return
	}
	reason := "worker process exited"
	if err != nil {
		reason = fmt.Sprintf("worker process exited: %v", err)
	}
	w.crash(reason)
}

// LoadModel loads the model and transitions idle -> loading -> ready.
// Loading a model while another is resident is a caller bug; unload first.
func (w *Worker) LoadModel(ctx context.Context, modelID string) error {
	w.mu.Lock()
	switch w.state {
	case StateReady:
		if w.model == modelID {
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()
		return errors.New(errors.ErrCodeWorkerBusy,
			fmt.Sprintf("model %s is loaded, unload it before loading %s", w.model, modelID), nil)
	case StateIdle:
		w.state = StateLoading
		w.cond.Broadcast()
		w.mu.Unlock()
	default:
		state := w.state
		w.mu.Unlock()
		return errors.New(errors.ErrCodeWorkerBusy,
			fmt.Sprintf("cannot load model in state %s", state), nil)
	}

	loadCtx, cancel := context.WithTimeout(ctx, LoadTimeout)
	defer cancel()

	var res loadModelResult
	err := w.conn.call(loadCtx, methodLoadModel, loadModelParams{Model: modelID}, &res)
	if err != nil {
		// A timed-out load leaves the backend in an unknown state.
		w.crash("load_model failed: " + err.Error())
		return errors.New(errors.ErrCodeModelLoadFailed,
			fmt.Sprintf("failed to load model %s", modelID), err)
	}

	w.mu.Lock()
	w.model = modelID
	w.dims = res.Dimensions
	w.state = StateReady
	w.cond.Broadcast()
	w.mu.Unlock()

	w.logger.Info("model_loaded",
		slog.String("model", modelID),
		slog.Int("dimensions", res.Dimensions))
	return nil
}

// UnloadModel unloads the resident model: ready -> unloading -> idle.
func (w *Worker) UnloadModel(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateReady {
		state := w.state
		w.mu.Unlock()
		if state == StateIdle {
			return nil
		}
		return errors.New(errors.ErrCodeWorkerBusy,
			fmt.Sprintf("cannot unload model in state %s", state), nil)
	}
	unloading := w.model
	w.state = StateUnloading
	w.cond.Broadcast()
	w.mu.Unlock()

	unloadCtx, cancel := context.WithTimeout(ctx, UnloadTimeout)
	defer cancel()

	if err := w.conn.call(unloadCtx, methodUnloadModel, nil, nil); err != nil {
		w.crash("unload_model failed: " + err.Error())
		return errors.New(errors.ErrCodeModelLoadFailed,
			fmt.Sprintf("failed to unload model %s", unloading), err)
	}

	w.mu.Lock()
	w.model = ""
	w.dims = 0
	w.state = StateIdle
	w.cond.Broadcast()
	w.mu.Unlock()

	w.logger.Info("model_unloaded", slog.String("model", unloading))
	return nil
}

// Embed generates embeddings for texts with the resident model.
func (w *Worker) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	w.mu.Lock()
	if w.state != StateReady {
		state := w.state
		w.mu.Unlock()
		return nil, errors.New(errors.ErrCodeWorkerBusy,
			fmt.Sprintf("cannot embed in state %s", state), nil)
	}
	modelID := w.model
	w.mu.Unlock()

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	var res generateResult
	err := w.conn.call(embedCtx, methodGenerateEmbeddings,
		generateParams{Model: modelID, Texts: texts}, &res)
	if err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "generate_embeddings failed", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, errors.New(errors.ErrCodeWorkerProtocol,
			fmt.Sprintf("worker returned %d embeddings for %d texts", len(res.Embeddings), len(texts)), nil)
	}
	return res.Embeddings, nil
}

// HealthCheck pings the worker.
func (w *Worker) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	var res healthResult
	if err := w.conn.call(healthCtx, methodHealthCheck, nil, &res); err != nil {
		return errors.New(errors.ErrCodeWorkerUnhealthy, "health check failed", err)
	}
	if res.Status != "ok" {
		return errors.New(errors.ErrCodeWorkerUnhealthy,
			fmt.Sprintf("worker reports status %q", res.Status), nil)
	}
	return nil
}

// Shutdown asks the worker to exit and kills it if it lingers.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateCrashed {
		w.mu.Unlock()
		return nil
	}
	w.shutdown = true
	conn := w.conn
	cmd := w.cmd
	w.mu.Unlock()

	if conn == nil || cmd == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownGrace)
	defer cancel()
	_ = conn.call(shutdownCtx, methodShutdown, nil, nil)

	select {
	case <-w.exited:
	case <-time.After(ShutdownGrace):
		w.logger.Warn("worker_shutdown_timeout, killing")
		_ = cmd.Process.Kill()
		<-w.exited
	}

	w.closeStderr()
	w.setState(StateUninitialized)
	return nil
}

// crash marks the worker dead, kills the process, and fails callers.
func (w *Worker) crash(reason string) {
	w.mu.Lock()
	if w.state == StateCrashed {
		w.mu.Unlock()
		return
	}
	w.state = StateCrashed
	w.cond.Broadcast()
	cmd := w.cmd
	conn := w.conn
	w.mu.Unlock()

	w.logger.Error("worker_crashed", slog.String("reason", reason))

	if conn != nil {
		conn.fail(fmt.Errorf("worker crashed: %s", reason))
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	w.closeStderr()
}

func (w *Worker) closeStderr() {
	if w.stderr != nil {
		_ = w.stderr.Close()
		w.stderr = nil
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.cond.Broadcast()
	w.mu.Unlock()
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Model returns the resident model ID, or "" when none is loaded.
func (w *Worker) Model() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// Dimensions returns the resident model's embedding dimension.
func (w *Worker) Dimensions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dims
}

// WaitForState blocks until the worker reaches target, the worker
// crashes, or the timeout elapses.
func (w *Worker) WaitForState(target State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	wake := time.AfterFunc(timeout, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer wake.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.state != target {
		if w.state == StateCrashed && target != StateCrashed {
			return errors.New(errors.ErrCodeWorkerCrashed, "worker crashed while waiting", nil)
		}
		if !time.Now().Before(deadline) {
			return errors.New(errors.ErrCodeWorkerTimeout,
				fmt.Sprintf("timed out waiting for worker state %s (current: %s)", target, w.state), nil)
		}
		w.cond.Wait()
	}
	return nil
}
