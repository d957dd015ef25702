package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Coalescer merges rapid file events so each flush carries at most one
// event per path. Merge rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// A quiet period of one debounce window triggers the flush; every new
// event pushes the deadline out again.
type Coalescer struct {
	window    time.Duration
	batchSize int

	mu      sync.Mutex
	pending map[string]*pendingEvent
	errs    []string
	timer   *time.Timer
	output  chan Batch
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Operation
}

// NewCoalescer creates a coalescer that flushes after window of quiet and
// splits flushes into batches of at most batchSize events.
func NewCoalescer(window time.Duration, batchSize int) *Coalescer {
	return &Coalescer{
		window:    window,
		batchSize: batchSize,
		pending:   make(map[string]*pendingEvent),
		output:    make(chan Batch, 16),
	}
}

// Add records an event, merging it with any pending event for the same path.
func (c *Coalescer) Add(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if existing, ok := c.pending[event.Path]; ok {
		merged := merge(existing, event)
		if merged == nil {
			delete(c.pending, event.Path)
		} else {
			// Keep the first-seen timestamp for ordering.
			merged.Timestamp = existing.event.Timestamp
			existing.event = *merged
		}
	} else {
		c.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
	}

	c.scheduleFlush()
}

// AddError records a non-fatal problem to ride along with the next batch.
func (c *Coalescer) AddError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.errs = append(c.errs, msg)
	c.scheduleFlush()
}

func merge(existing *pendingEvent, next Event) *Event {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &next
		}
	case OpModify:
		return &next
	case OpDelete:
		if next.Operation == OpCreate {
			replaced := next
			replaced.Operation = OpModify
			return &replaced
		}
		return &next
	default:
		return &next
	}
}

func (c *Coalescer) scheduleFlush() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.flush)
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || (len(c.pending) == 0 && len(c.errs) == 0) {
		return
	}

	events := make([]Event, 0, len(c.pending))
	for _, pe := range c.pending {
		events = append(events, pe.event)
	}
	c.pending = make(map[string]*pendingEvent)

	errs := c.errs
	c.errs = nil

	// Deterministic delivery order: by path, then by arrival time.
	sort.Slice(events, func(i, j int) bool {
		if events[i].Path != events[j].Path {
			return events[i].Path < events[j].Path
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	for len(events) > 0 || errs != nil {
		n := len(events)
		if c.batchSize > 0 && n > c.batchSize {
			n = c.batchSize
		}
		batch := Batch{Events: events[:n], Errors: errs}
		events = events[n:]
		errs = nil

		select {
		case c.output <- batch:
		default:
			slog.Warn("coalescer output full, dropping batch",
				slog.Int("batch_size", len(batch.Events)))
		}
	}
}

// Output returns the channel of flushed batches.
func (c *Coalescer) Output() <-chan Batch {
	return c.output
}

// Stop discards pending events and closes the output channel.
// Safe to call multiple times.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.output)
}
