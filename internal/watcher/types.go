// Package watcher turns raw filesystem notifications into debounced,
// filtered batches of per-file change events, one watcher per monitored
// folder. Rapid editor save sequences collapse into a single event per
// path before the indexing queue ever sees them.
package watcher

import (
	"time"
)

// Operation is the kind of change a file event describes.
type Operation int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file's content changed.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is one coalesced file change.
type Event struct {
	// Path is relative to the watched folder root.
	Path string

	// Operation is the net effect of everything seen in the window.
	Operation Operation

	// Timestamp is when the first raw event for this path arrived.
	Timestamp time.Time
}

// Batch is a group of coalesced events delivered together, capped at the
// configured batch size. Errors carries non-fatal problems observed while
// the batch accumulated (an unreadable subdirectory, an overflowed OS
// queue) so consumers can surface them without losing the events.
type Batch struct {
	Events []Event
	Errors []string
}
