// Package queue serializes folder indexing so exactly one folder is being
// embedded at any instant. The queue coordinates model switches through the
// registry, yields to on-demand search traffic via pause reasons, and keeps
// the active model warm for a short window after agent activity.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/folder-mcp/foldermcp/internal/model"
)

const (
	// KeepAlive is how long the model stays warm after the last search.
	KeepAlive = 3 * time.Minute

	// FolderTimeout caps one folder's indexing run.
	FolderTimeout = time.Hour

	// progressInterval throttles progress events per folder.
	progressInterval = time.Second
)

// Priority orders work items. All immediates run before any normal item.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityImmediate
)

// ItemStatus is one work item's phase.
type ItemStatus string

const (
	StatusPending      ItemStatus = "pending"
	StatusLoadingModel ItemStatus = "loading-model"
	StatusIndexing     ItemStatus = "indexing"
	StatusCompleted    ItemStatus = "completed"
	StatusFailed       ItemStatus = "failed"
)

// State is the queue-level state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StatePaused     State = "paused"
)

// PauseReason says why the queue is paused. Semantic search frees the
// model for the query; agent activity keeps it warm instead.
type PauseReason string

const (
	PauseSemanticSearch PauseReason = "semantic-search"
	PauseAgentActive    PauseReason = "agent-active"
)

// Item is one queued folder.
type Item struct {
	Folder   string
	Model    string
	Priority Priority

	AddedAt     time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Status      ItemStatus
	Err         string
}

// EventKind tags queue events.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
)

// Event is one queue notification.
type Event struct {
	Kind   EventKind
	Folder string
	Reason PauseReason
	Done   int
	Total  int
	Err    string
}

// ModelProvider is the slice of the model registry the queue needs.
type ModelProvider interface {
	EnsureModel(ctx context.Context, modelID string) (model.Embedder, error)
	Unload(ctx context.Context) error
}

// Indexer runs one folder's indexing pass. Progress callbacks report
// files done out of total; the queue throttles them into events.
type Indexer interface {
	IndexFolder(ctx context.Context, folder string, embedder model.Embedder, progress func(done, total int)) error
}

// Queue is the folder indexing queue.
type Queue struct {
	models  ModelProvider
	indexer Indexer
	logger  *slog.Logger

	mu           sync.Mutex
	items        []*Item
	active       *Item
	pauseReasons map[PauseReason]bool
	cancelActive context.CancelFunc
	keepAlive    *time.Timer
	lastActivity time.Time
	stopped      bool

	events chan Event
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// New creates a queue. Call Start before adding work.
func New(models ModelProvider, indexer Indexer, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		models:       models,
		indexer:      indexer,
		logger:       logger,
		pauseReasons: make(map[PauseReason]bool),
		events:       make(chan Event, 64),
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the scheduler loop.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Events returns the queue's notification channel. Events are dropped,
// not blocked on, when the consumer falls behind.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// AddFolder enqueues a folder. Idempotent while the folder is queued or
// active; returns false on a duplicate. Immediate items slot in after
// existing immediates and before any normal item.
func (q *Queue) AddFolder(folder, modelID string, priority Priority) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	if q.active != nil && q.active.Folder == folder {
		q.mu.Unlock()
		return false
	}
	for _, it := range q.items {
		if it.Folder == folder {
			q.mu.Unlock()
			return false
		}
	}

	item := &Item{
		Folder:   folder,
		Model:    modelID,
		Priority: priority,
		AddedAt:  time.Now(),
		Status:   StatusPending,
	}
	if priority == PriorityImmediate {
		pos := 0
		for pos < len(q.items) && q.items[pos].Priority == PriorityImmediate {
			pos++
		}
		q.items = append(q.items, nil)
		copy(q.items[pos+1:], q.items[pos:])
		q.items[pos] = item
	} else {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()

	q.logger.Info("queue_add",
		slog.String("folder", folder),
		slog.String("model", modelID),
		slog.Int("priority", int(priority)))
	q.signalWake()
	return true
}

// RemoveFolder drops a folder from the pending list. An active folder is
// not interrupted; returns false in that case.
func (q *Queue) RemoveFolder(folder string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.Folder == folder {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Pause sets a pause reason. A semantic-search pause unloads the resident
// model to free memory for the query's model; agent-active retains it.
func (q *Queue) Pause(ctx context.Context, reason PauseReason) {
	q.mu.Lock()
	q.pauseReasons[reason] = true
	q.mu.Unlock()

	if reason == PauseSemanticSearch {
		if err := q.models.Unload(ctx); err != nil {
			q.logger.Warn("queue_pause_unload_failed", slog.String("error", err.Error()))
		}
	}
	q.emit(Event{Kind: EventPaused, Reason: reason})
}

// Resume clears one pause reason. The queue only resumes when no reason
// remains; processing begins on the next scheduler tick.
func (q *Queue) Resume(reason PauseReason) {
	q.mu.Lock()
	delete(q.pauseReasons, reason)
	cleared := len(q.pauseReasons) == 0
	q.mu.Unlock()

	if cleared {
		q.emit(Event{Kind: EventResumed, Reason: reason})
		q.signalWake()
	}
}

// ProcessSemanticSearch runs a search with indexing held off: it records
// agent activity, pauses with reason agent-active, makes modelID current,
// runs doSearch, and refreshes the keep-alive window. Indexing resumes
// when the window expires with no further searches.
func (q *Queue) ProcessSemanticSearch(ctx context.Context, modelID string, doSearch func(model.Embedder) error) error {
	q.mu.Lock()
	q.lastActivity = time.Now()
	q.mu.Unlock()

	q.Pause(ctx, PauseAgentActive)

	embedder, err := q.models.EnsureModel(ctx, modelID)
	if err != nil {
		q.refreshKeepAlive(KeepAlive)
		return err
	}

	searchErr := doSearch(embedder)
	q.refreshKeepAlive(KeepAlive)
	return searchErr
}

// refreshKeepAlive (re)arms the keep-alive timer.
func (q *Queue) refreshKeepAlive(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	if q.keepAlive != nil {
		q.keepAlive.Stop()
	}
	q.keepAlive = time.AfterFunc(d, q.keepAliveExpired)
}

// keepAliveExpired clears the agent-active pause. If that was the only
// reason the queue resumes; if nothing is queued either, the model is
// unloaded to free memory.
func (q *Queue) keepAliveExpired() {
	q.mu.Lock()
	if q.stopped || !q.pauseReasons[PauseAgentActive] {
		q.mu.Unlock()
		return
	}
	delete(q.pauseReasons, PauseAgentActive)
	cleared := len(q.pauseReasons) == 0
	idle := q.active == nil && len(q.items) == 0
	q.mu.Unlock()

	if !cleared {
		return
	}
	q.emit(Event{Kind: EventResumed, Reason: PauseAgentActive})
	if idle {
		if err := q.models.Unload(context.Background()); err != nil {
			q.logger.Warn("keepalive_unload_failed", slog.String("error", err.Error()))
		}
	}
	q.signalWake()
}

// State reports the queue-level state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.active != nil:
		return StateProcessing
	case len(q.pauseReasons) > 0:
		return StatePaused
	default:
		return StateIdle
	}
}

// Items returns a snapshot of pending items in execution order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

// Active returns the item being processed, if any.
func (q *Queue) Active() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return Item{}, false
	}
	return *q.active, true
}

// LastActivity returns the most recent agent-activity timestamp.
func (q *Queue) LastActivity() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastActivity
}

// Stop cancels pending work, interrupts the active item at its next
// cancellation point, and unloads the current model.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.items = nil
	if q.keepAlive != nil {
		q.keepAlive.Stop()
	}
	cancel := q.cancelActive
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(q.quit)
	<-q.done

	if err := q.models.Unload(ctx); err != nil {
		q.logger.Warn("queue_stop_unload_failed", slog.String("error", err.Error()))
	}
	close(q.events)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case <-q.wake:
		}

		item := q.next()
		if item == nil {
			continue
		}
		q.runItem(ctx, item)

		// Deferred tick: go back through the select so an immediate item
		// added during this run slots in before the next dequeue.
		q.signalWake()
	}
}

// next dequeues the head item, or nil when paused, empty, or stopped.
func (q *Queue) next() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.pauseReasons) > 0 || len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	item.Status = StatusLoadingModel
	item.StartedAt = time.Now()
	q.active = item
	return item
}

func (q *Queue) runItem(ctx context.Context, item *Item) {
	itemCtx, cancel := context.WithTimeout(ctx, FolderTimeout)
	q.mu.Lock()
	q.cancelActive = cancel
	q.mu.Unlock()
	defer func() {
		cancel()
		q.mu.Lock()
		q.cancelActive = nil
		q.active = nil
		q.mu.Unlock()
	}()

	q.emit(Event{Kind: EventStarted, Folder: item.Folder})

	embedder, err := q.models.EnsureModel(itemCtx, item.Model)
	if err != nil {
		if q.requeuePreempted(item) {
			return
		}
		q.fail(item, fmt.Errorf("load model %s: %w", item.Model, err))
		return
	}

	q.mu.Lock()
	item.Status = StatusIndexing
	q.mu.Unlock()

	var lastProgress time.Time
	progress := func(done, total int) {
		now := time.Now()
		if done < total && now.Sub(lastProgress) < progressInterval {
			return
		}
		lastProgress = now
		q.emit(Event{Kind: EventProgress, Folder: item.Folder, Done: done, Total: total})
	}

	if err := q.indexer.IndexFolder(itemCtx, item.Folder, embedder, progress); err != nil {
		if q.requeuePreempted(item) {
			return
		}
		q.fail(item, err)
		return
	}

	q.mu.Lock()
	item.Status = StatusCompleted
	item.CompletedAt = time.Now()
	q.mu.Unlock()

	q.logger.Info("queue_completed", slog.String("folder", item.Folder))
	q.emit(Event{Kind: EventCompleted, Folder: item.Folder})
}

// requeuePreempted returns a dying item to the head of the pending list
// when a pause reason is set. A search that arrives mid-run makes its own
// model current, so the active pass fails through no fault of the folder;
// it runs again from the top once the queue resumes. Returns false when
// the queue is not paused (a genuine folder failure) or is stopping.
func (q *Queue) requeuePreempted(item *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.pauseReasons) == 0 {
		return false
	}
	item.Status = StatusPending
	item.Err = ""
	item.StartedAt = time.Time{}
	q.items = append([]*Item{item}, q.items...)
	q.logger.Info("queue_preempted", slog.String("folder", item.Folder))
	return true
}

// fail marks one item failed. A folder failure never blocks the rest of
// the queue.
func (q *Queue) fail(item *Item, err error) {
	q.mu.Lock()
	item.Status = StatusFailed
	item.Err = err.Error()
	item.CompletedAt = time.Now()
	q.mu.Unlock()

	q.logger.Error("queue_failed",
		slog.String("folder", item.Folder),
		slog.String("error", err.Error()))
	q.emit(Event{Kind: EventFailed, Folder: item.Folder, Err: err.Error()})
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// emit sends without blocking. Holding the lock across the send keeps
// Stop from closing the channel between the stopped check and the send.
func (q *Queue) emit(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("queue_event_dropped", slog.String("kind", string(ev.Kind)))
	}
}
