package ws

import (
	"sync"
	"time"

	"github.com/folder-mcp/foldermcp/internal/fmdm"
)

// Throttler rate-limits snapshot fan-out. A request emits immediately
// when the rate allows, otherwise it replaces the pending snapshot and
// waits for the next rate tick. Every request also re-arms a debounce
// timer, so the last snapshot of a burst always goes out even when the
// burst ends between ticks.
type Throttler struct {
	period   time.Duration
	debounce time.Duration
	emit     func(*fmdm.Snapshot)

	mu       sync.Mutex
	last     time.Time
	pending  *fmdm.Snapshot
	tick     *time.Timer
	debTimer *time.Timer
	stopped  bool
}

// NewThrottler creates a throttler capped at rate emissions per second.
func NewThrottler(rate float64, debounce time.Duration, emit func(*fmdm.Snapshot)) *Throttler {
	if rate <= 0 {
		rate = 1
	}
	return &Throttler{
		period:   time.Duration(float64(time.Second) / rate),
		debounce: debounce,
		emit:     emit,
	}
}

// Request asks for snap to be broadcast, subject to throttling. Later
// requests supersede earlier pending ones.
func (t *Throttler) Request(snap *fmdm.Snapshot) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(t.last) >= t.period {
		t.last = now
		t.pending = nil
		t.mu.Unlock()
		t.emit(snap)
		return
	}

	t.pending = snap
	if t.tick == nil {
		t.tick = time.AfterFunc(t.last.Add(t.period).Sub(now), t.flushTick)
	}
	if t.debTimer != nil {
		t.debTimer.Stop()
	}
	t.debTimer = time.AfterFunc(t.debounce, t.flushDebounce)
	t.mu.Unlock()
}

// Force bypasses both timers.
func (t *Throttler) Force(snap *fmdm.Snapshot) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.last = time.Now()
	t.pending = nil
	t.mu.Unlock()
	t.emit(snap)
}

func (t *Throttler) flushTick() {
	t.flush(true)
}

func (t *Throttler) flushDebounce() {
	t.flush(false)
}

func (t *Throttler) flush(clearTick bool) {
	t.mu.Lock()
	if clearTick {
		t.tick = nil
	}
	snap := t.pending
	t.pending = nil
	if snap == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	t.last = time.Now()
	t.mu.Unlock()
	t.emit(snap)
}

// Stop cancels timers and drops any pending snapshot.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	if t.tick != nil {
		t.tick.Stop()
	}
	if t.debTimer != nil {
		t.debTimer.Stop()
	}
}
