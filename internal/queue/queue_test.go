package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/foldermcp/internal/model"
)

type fakeModels struct {
	mu      sync.Mutex
	current string
	loads   []string
	unloads int
	loadErr error
}

func (f *fakeModels) EnsureModel(ctx context.Context, modelID string) (model.Embedder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.current = modelID
	f.loads = append(f.loads, modelID)
	return model.NewStaticEmbedder(), nil
}

func (f *fakeModels) Unload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
	f.unloads++
	return nil
}

func (f *fakeModels) unloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads
}

func (f *fakeModels) currentModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeModels) loadOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	fail    map[string]error
}

func (f *fakeIndexer) IndexFolder(ctx context.Context, folder string, embedder model.Embedder, progress func(done, total int)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	progress(1, 1)
	f.mu.Lock()
	f.indexed = append(f.indexed, folder)
	err := f.fail[folder]
	f.mu.Unlock()
	return err
}

func (f *fakeIndexer) indexedFolders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

func newTestQueue(t *testing.T) (*Queue, *fakeModels, *fakeIndexer) {
	t.Helper()
	models := &fakeModels{}
	indexer := &fakeIndexer{fail: map[string]error{}}
	q := New(models, indexer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return q, models, indexer
}

func waitEvent(t *testing.T, q *Queue, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-q.Events():
			require.True(t, ok, "event channel closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

func TestQueue_IndexesFolderAndEmitsEvents(t *testing.T) {
	q, models, indexer := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(context.Background())

	require.True(t, q.AddFolder("/docs", "all-MiniLM-L6-v2", PriorityNormal))

	waitEvent(t, q, EventStarted)
	waitEvent(t, q, EventProgress)
	ev := waitEvent(t, q, EventCompleted)

	assert.Equal(t, "/docs", ev.Folder)
	assert.Equal(t, []string{"/docs"}, indexer.indexedFolders())
	assert.Equal(t, []string{"all-MiniLM-L6-v2"}, models.loadOrder())
}

func TestQueue_AddFolderDedupesByPath(t *testing.T) {
	q, _, _ := newTestQueue(t)

	assert.True(t, q.AddFolder("/docs", "all-MiniLM-L6-v2", PriorityNormal))
	assert.False(t, q.AddFolder("/docs", "all-MiniLM-L6-v2", PriorityNormal))
	assert.Len(t, q.Items(), 1)
}

func TestQueue_ImmediateJumpsAheadOfNormals(t *testing.T) {
	q, _, _ := newTestQueue(t)

	q.AddFolder("/a", "m", PriorityNormal)
	q.AddFolder("/b", "m", PriorityNormal)
	q.AddFolder("/urgent1", "m", PriorityImmediate)
	q.AddFolder("/urgent2", "m", PriorityImmediate)

	items := q.Items()
	require.Len(t, items, 4)
	assert.Equal(t, "/urgent1", items[0].Folder)
	assert.Equal(t, "/urgent2", items[1].Folder, "immediates stay FIFO among themselves")
	assert.Equal(t, "/a", items[2].Folder)
	assert.Equal(t, "/b", items[3].Folder)
}

func TestQueue_ModelSwitchBetweenFolders(t *testing.T) {
	q, models, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue both before starting so ordering is fixed.
	q.AddFolder("/en", "all-MiniLM-L6-v2", PriorityNormal)
	q.AddFolder("/multi", "bge-m3", PriorityNormal)
	q.Start(ctx)
	defer q.Stop(context.Background())

	waitEvent(t, q, EventCompleted)
	waitEvent(t, q, EventCompleted)

	assert.Equal(t, []string{"all-MiniLM-L6-v2", "bge-m3"}, models.loadOrder())
}

func TestQueue_FailureDoesNotBlockNextFolder(t *testing.T) {
	q, _, indexer := newTestQueue(t)
	indexer.fail["/bad"] = errors.New("parse exploded")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.AddFolder("/bad", "m", PriorityNormal)
	q.AddFolder("/good", "m", PriorityNormal)
	q.Start(ctx)
	defer q.Stop(context.Background())

	failed := waitEvent(t, q, EventFailed)
	assert.Equal(t, "/bad", failed.Folder)
	assert.Contains(t, failed.Err, "parse exploded")

	completed := waitEvent(t, q, EventCompleted)
	assert.Equal(t, "/good", completed.Folder)
}

func TestQueue_PausedQueueDoesNotDequeue(t *testing.T) {
	q, _, indexer := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(context.Background())

	q.Pause(ctx, PauseAgentActive)
	q.AddFolder("/docs", "m", PriorityNormal)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, indexer.indexedFolders())
	assert.Equal(t, StatePaused, q.State())

	q.Resume(PauseAgentActive)
	waitEvent(t, q, EventCompleted)
}

func TestQueue_SemanticSearchPauseUnloadsModel(t *testing.T) {
	q, models, _ := newTestQueue(t)
	ctx := context.Background()

	q.Pause(ctx, PauseSemanticSearch)
	assert.Equal(t, 1, models.unloadCount())

	q.Resume(PauseSemanticSearch)
	assert.Equal(t, StateIdle, q.State())
}

func TestQueue_ResumeWaitsForAllReasons(t *testing.T) {
	q, models, _ := newTestQueue(t)
	ctx := context.Background()

	q.Pause(ctx, PauseSemanticSearch)
	q.Pause(ctx, PauseAgentActive)
	assert.Equal(t, 1, models.unloadCount(), "agent-active keeps the model warm")

	q.Resume(PauseSemanticSearch)
	assert.Equal(t, StatePaused, q.State(), "agent-active still holds the queue")

	q.Resume(PauseAgentActive)
	assert.Equal(t, StateIdle, q.State())
}

func TestQueue_ProcessSemanticSearch(t *testing.T) {
	q, models, _ := newTestQueue(t)
	ctx := context.Background()

	var gotModel string
	err := q.ProcessSemanticSearch(ctx, "bge-m3", func(e model.Embedder) error {
		gotModel = models.currentModel()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "bge-m3", gotModel, "model is current while the search runs")
	assert.Equal(t, StatePaused, q.State(), "queue stays paused through the keep-alive window")
	assert.False(t, q.LastActivity().IsZero())
}

func TestQueue_KeepAliveExpiryResumesAndUnloads(t *testing.T) {
	q, models, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	err := q.ProcessSemanticSearch(ctx, "bge-m3", func(model.Embedder) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StatePaused, q.State())

	q.keepAliveExpired()

	assert.Equal(t, StateIdle, q.State())
	assert.Equal(t, 1, models.unloadCount(), "idle queue frees the model on expiry")
}

func TestQueue_SearchErrorStillRefreshesKeepAlive(t *testing.T) {
	q, _, _ := newTestQueue(t)

	searchErr := errors.New("no results backend")
	err := q.ProcessSemanticSearch(context.Background(), "bge-m3", func(model.Embedder) error {
		return searchErr
	})
	assert.ErrorIs(t, err, searchErr)
	assert.Equal(t, StatePaused, q.State())
}

// gatedIndexer holds its first pass open on gate and fails any pass that
// runs while its model is not the current one, like a worker that keeps a
// single model resident.
type gatedIndexer struct {
	models  *fakeModels
	want    string
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedIndexer) IndexFolder(ctx context.Context, folder string, _ model.Embedder, progress func(done, total int)) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.gate
	}
	if cur := g.models.currentModel(); cur != g.want {
		return errors.New("model " + g.want + " is not loaded")
	}
	progress(1, 1)
	return nil
}

func TestQueue_SearchPreemptionRequeuesActiveFolder(t *testing.T) {
	models := &fakeModels{}
	indexer := &gatedIndexer{
		models:  models,
		want:    "mA",
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	q := New(models, indexer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(context.Background())

	require.True(t, q.AddFolder("/a", "mA", PriorityNormal))
	<-indexer.entered

	// A search switches the worker to another model mid-run.
	err := q.ProcessSemanticSearch(ctx, "mB", func(model.Embedder) error { return nil })
	require.NoError(t, err)
	require.Equal(t, "mB", models.currentModel())
	close(indexer.gate)

	// The dying pass goes back to pending instead of failed.
	require.Eventually(t, func() bool {
		items := q.Items()
		return len(items) == 1 && items[0].Folder == "/a" && items[0].Status == StatusPending
	}, 5*time.Second, 10*time.Millisecond)

	// Keep-alive expiry resumes the queue and the folder completes.
	q.keepAliveExpired()
	deadline := time.After(5 * time.Second)
	for {
		var done bool
		select {
		case ev, ok := <-q.Events():
			require.True(t, ok)
			require.NotEqual(t, EventFailed, ev.Kind, "preempted folder must not fail: %s", ev.Err)
			done = ev.Kind == EventCompleted && ev.Folder == "/a"
		case <-deadline:
			t.Fatal("folder never completed after resume")
		}
		if done {
			break
		}
	}
	assert.Equal(t, []string{"mA", "mB", "mA"}, models.loadOrder(), "folder model reloads on the rerun")
}

func TestQueue_RemoveFolderPendingOnly(t *testing.T) {
	q, _, _ := newTestQueue(t)

	q.AddFolder("/a", "m", PriorityNormal)
	assert.True(t, q.RemoveFolder("/a"))
	assert.False(t, q.RemoveFolder("/a"))
	assert.Empty(t, q.Items())
}

func TestQueue_StopCancelsPendingAndClosesEvents(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Pause(ctx, PauseAgentActive)
	q.AddFolder("/never", "m", PriorityNormal)
	q.Stop(context.Background())

	_, ok := <-drain(q.Events())
	assert.False(t, ok, "events channel closes on stop")
	assert.Empty(t, q.Items())

	// Stop is idempotent.
	q.Stop(context.Background())
}

// drain discards buffered events and returns the channel once empty or closed.
func drain(ch <-chan Event) <-chan Event {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				closed := make(chan Event)
				close(closed)
				return closed
			}
		default:
			return ch
		}
	}
}
