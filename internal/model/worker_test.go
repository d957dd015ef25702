package model

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWorkerConn builds a Worker whose connection is wired to a fake
// instead of a real subprocess, already past the initialize handshake.
func newTestWorkerConn(t *testing.T, handle func(method string, params json.RawMessage) (any, *rpcError)) *Worker {
	t.Helper()
	conn, stop := startFakeWorker(handle)
	t.Cleanup(stop)

	w := &Worker{
		state:  StateIdle,
		conn:   conn,
		exited: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.logger = testLogger()
	return w
}

func TestWorker_LoadModel_TransitionsToReady(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))
	assert.Equal(t, StateReady, w.State())
	assert.Equal(t, "all-MiniLM-L6-v2", w.Model())
	assert.Equal(t, 384, w.Dimensions())
}

func TestWorker_LoadModel_SameModelIsNoop(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))
	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))
	assert.Equal(t, StateReady, w.State())
}

func TestWorker_LoadModel_DifferentModelRejected(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))
	err := w.LoadModel(context.Background(), "all-mpnet-base-v2")
	assert.Error(t, err)
	assert.Equal(t, StateReady, w.State(), "resident model untouched")
}

func TestWorker_LoadModel_FailureCrashesWorker(t *testing.T) {
	w := newTestWorkerConn(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "out of memory"}
	})

	err := w.LoadModel(context.Background(), "all-MiniLM-L6-v2")
	require.Error(t, err)
	assert.Equal(t, StateCrashed, w.State())
}

func TestWorker_UnloadModel_ReturnsToIdle(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))
	require.NoError(t, w.UnloadModel(context.Background()))
	assert.Equal(t, StateIdle, w.State())
	assert.Empty(t, w.Model())
}

func TestWorker_UnloadModel_IdleIsNoop(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)
	require.NoError(t, w.UnloadModel(context.Background()))
}

func TestWorker_Embed(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)
	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))

	vecs, err := w.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestWorker_Embed_RequiresLoadedModel(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	_, err := w.Embed(context.Background(), []string{"text"})
	assert.Error(t, err)
}

func TestWorker_Embed_CountMismatchIsProtocolError(t *testing.T) {
	w := newTestWorkerConn(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method == methodGenerateEmbeddings {
			return generateResult{Embeddings: [][]float32{{1}}}, nil
		}
		return echoHandler(method, params)
	})
	require.NoError(t, w.LoadModel(context.Background(), "all-MiniLM-L6-v2"))

	_, err := w.Embed(context.Background(), []string{"one", "two"})
	assert.Error(t, err)
}

func TestWorker_WaitForState(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = w.LoadModel(context.Background(), "all-MiniLM-L6-v2")
	}()

	require.NoError(t, w.WaitForState(StateReady, 2*time.Second))
	assert.Equal(t, StateReady, w.State())
}

func TestWorker_WaitForState_Timeout(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	err := w.WaitForState(StateReady, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestWorker_WaitForState_CrashUnblocks(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.crash("simulated")
	}()

	err := w.WaitForState(StateReady, 2*time.Second)
	require.Error(t, err)
	assert.Equal(t, StateCrashed, w.State())
}

func TestWorker_HealthCheck(t *testing.T) {
	w := newTestWorkerConn(t, echoHandler)
	require.NoError(t, w.HealthCheck(context.Background()))
}

func TestWorker_HealthCheck_Degraded(t *testing.T) {
	w := newTestWorkerConn(t, func(method string, _ json.RawMessage) (any, *rpcError) {
		return healthResult{Status: "degraded"}, nil
	})
	assert.Error(t, w.HealthCheck(context.Background()))
}
