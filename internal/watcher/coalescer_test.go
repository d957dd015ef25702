package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(path string, op Operation) Event {
	return Event{Path: path, Operation: op, Timestamp: time.Now()}
}

func collectBatch(t *testing.T, c *Coalescer) Batch {
	t.Helper()
	select {
	case batch := <-c.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return Batch{}
	}
}

func TestCoalescer_SingleEvent(t *testing.T) {
	c := NewCoalescer(20*time.Millisecond, 10)
	defer c.Stop()

	c.Add(event("a.txt", OpModify))

	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "a.txt", batch.Events[0].Path)
	assert.Equal(t, OpModify, batch.Events[0].Operation)
}

func TestCoalescer_RapidSavesCollapse(t *testing.T) {
	c := NewCoalescer(30*time.Millisecond, 10)
	defer c.Stop()

	// Given an editor save storm on one file
	for i := 0; i < 5; i++ {
		c.Add(event("notes.md", OpModify))
	}

	// Then one event survives
	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, OpModify, batch.Events[0].Operation)
}

func TestCoalescer_CreateThenDelete_Drops(t *testing.T) {
	c := NewCoalescer(20*time.Millisecond, 10)
	defer c.Stop()

	c.Add(event("tmp.txt", OpCreate))
	c.Add(event("tmp.txt", OpDelete))
	c.Add(event("kept.txt", OpCreate))

	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, "kept.txt", batch.Events[0].Path)
}

func TestCoalescer_CreateThenModify_StaysCreate(t *testing.T) {
	c := NewCoalescer(20*time.Millisecond, 10)
	defer c.Stop()

	c.Add(event("new.txt", OpCreate))
	c.Add(event("new.txt", OpModify))

	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, OpCreate, batch.Events[0].Operation)
}

func TestCoalescer_DeleteThenCreate_BecomesModify(t *testing.T) {
	c := NewCoalescer(20*time.Millisecond, 10)
	defer c.Stop()

	c.Add(event("swap.txt", OpDelete))
	c.Add(event("swap.txt", OpCreate))

	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 1)
	assert.Equal(t, OpModify, batch.Events[0].Operation)
}

func TestCoalescer_SortsByPath(t *testing.T) {
	c := NewCoalescer(30*time.Millisecond, 10)
	defer c.Stop()

	c.Add(event("z.txt", OpModify))
	c.Add(event("a.txt", OpModify))
	c.Add(event("m.txt", OpModify))

	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 3)
	assert.Equal(t, "a.txt", batch.Events[0].Path)
	assert.Equal(t, "m.txt", batch.Events[1].Path)
	assert.Equal(t, "z.txt", batch.Events[2].Path)
}

func TestCoalescer_SplitsAtBatchSize(t *testing.T) {
	c := NewCoalescer(30*time.Millisecond, 2)
	defer c.Stop()

	for _, p := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		c.Add(event(p, OpCreate))
	}

	var total int
	for total < 5 {
		batch := collectBatch(t, c)
		assert.LessOrEqual(t, len(batch.Events), 2)
		total += len(batch.Events)
	}
	assert.Equal(t, 5, total)
}

func TestCoalescer_ErrorsRideAlong(t *testing.T) {
	c := NewCoalescer(20*time.Millisecond, 10)
	defer c.Stop()

	c.Add(event("a.txt", OpModify))
	c.AddError("cannot watch sub/dir: permission denied")

	batch := collectBatch(t, c)
	require.Len(t, batch.Events, 1)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0], "permission denied")
}

func TestCoalescer_StopDiscardsPending(t *testing.T) {
	c := NewCoalescer(time.Hour, 10)

	c.Add(event("a.txt", OpModify))
	c.Stop()
	c.Stop() // idempotent

	_, ok := <-c.Output()
	assert.False(t, ok, "output closes without delivering")
}
