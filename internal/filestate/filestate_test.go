package filestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func record(state State, mutate ...func(*Record)) *Record {
	rec := &Record{
		Path:        "docs/report.md",
		ContentHash: "abc123",
		State:       state,
	}
	for _, m := range mutate {
		m(rec)
	}
	return rec
}

func TestDecide_UnseenFile_Processes(t *testing.T) {
	assert.Equal(t, DecisionProcess, Decide(nil, "abc123", now))
}

func TestDecide_HashChange_AlwaysProcesses(t *testing.T) {
	for _, state := range []State{
		StatePending, StateProcessing, StateIndexed,
		StateFailed, StateSkipped, StateCorrupted,
	} {
		rec := record(state, func(r *Record) { r.Attempts = MaxAttempts })
		assert.Equal(t, DecisionProcess, Decide(rec, "changed", now),
			"state %s with new content", state)
	}
}

func TestDecide_SameHash(t *testing.T) {
	cases := []struct {
		name string
		rec  *Record
		want Decision
	}{
		{"pending processes", record(StatePending), DecisionProcess},
		{"indexed skips", record(StateIndexed), DecisionSkip},
		{"skipped stays skipped", record(StateSkipped), DecisionSkip},
		{"corrupted is terminal", record(StateCorrupted), DecisionSkip},
		{
			"failed retries after delay",
			record(StateFailed, func(r *Record) {
				r.Attempts = 1
				r.LastAttemptAt = now.Add(-RetryDelay - time.Minute)
			}),
			DecisionRetry,
		},
		{
			"failed waits out delay",
			record(StateFailed, func(r *Record) {
				r.Attempts = 1
				r.LastAttemptAt = now.Add(-time.Hour)
			}),
			DecisionSkip,
		},
		{
			"failed gives up after max attempts",
			record(StateFailed, func(r *Record) {
				r.Attempts = MaxAttempts
				r.LastAttemptAt = now.Add(-48 * time.Hour)
			}),
			DecisionSkip,
		},
		{
			"processing in flight skips",
			record(StateProcessing, func(r *Record) {
				r.StartedAt = now.Add(-5 * time.Minute)
			}),
			DecisionSkip,
		},
		{
			"processing stuck over an hour retries",
			record(StateProcessing, func(r *Record) {
				r.StartedAt = now.Add(-StuckThreshold - time.Minute)
			}),
			DecisionRetry,
		},
		{
			"stuck file out of attempts gives up",
			record(StateProcessing, func(r *Record) {
				r.StartedAt = now.Add(-StuckThreshold - time.Minute)
				r.Attempts = MaxAttempts
			}),
			DecisionSkip,
		},
		{
			"reclaimed pending out of attempts gives up",
			record(StatePending, func(r *Record) {
				r.Attempts = MaxAttempts
			}),
			DecisionSkip,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.rec, "abc123", now))
		})
	}
}

func TestTransitions(t *testing.T) {
	rec := NewRecord("a.txt", "h1", 42, now)
	assert.Equal(t, StatePending, rec.State)

	StartProcessing(rec, now)
	assert.Equal(t, StateProcessing, rec.State)
	assert.Equal(t, now, rec.StartedAt)
	assert.Equal(t, 1, rec.Attempts, "the attempt is counted when processing begins")

	MarkFailure(rec, "parse timeout", false, now)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "parse timeout", rec.FailureReason)

	StartProcessing(rec, now.Add(25*time.Hour))
	assert.Equal(t, 2, rec.Attempts)
	MarkSuccess(rec, 7, now.Add(25*time.Hour))
	assert.Equal(t, StateIndexed, rec.State)
	assert.Equal(t, 7, rec.ChunkCount)
	assert.Zero(t, rec.Attempts)
	assert.Empty(t, rec.FailureReason)
}

func TestMarkFailure_Corrupted(t *testing.T) {
	rec := record(StateProcessing)
	MarkFailure(rec, "invalid zip container", true, now)
	assert.Equal(t, StateCorrupted, rec.State)
	assert.Equal(t, DecisionSkip, Decide(rec, rec.ContentHash, now.Add(100*time.Hour)))
}

func TestWedgedFileBurnsRetryBudget(t *testing.T) {
	rec := NewRecord("big.pdf", "h1", 42, now)
	at := now
	for i := 0; i < MaxAttempts; i++ {
		require.Equal(t, DecisionProcess, Decide(rec, "h1", at), "attempt %d", i+1)
		StartProcessing(rec, at)
		// The process dies mid-file; the record stays in processing
		// until reclaimed back to pending.
		at = at.Add(StuckThreshold + time.Minute)
		rec.State = StatePending
	}
	assert.Equal(t, MaxAttempts, rec.Attempts)
	assert.Equal(t, DecisionSkip, Decide(rec, "h1", at), "no unbounded retries for wedging files")
}

func TestMarkSkipped(t *testing.T) {
	rec := record(StateProcessing)
	MarkSkipped(rec, "no indexable content", now)
	assert.Equal(t, StateSkipped, rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "no indexable content", rec.FailureReason)
	assert.Equal(t, DecisionSkip, Decide(rec, rec.ContentHash, now.Add(48*time.Hour)))
}

func TestHashBytes_Stable(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	c := HashBytes([]byte("hello!"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
