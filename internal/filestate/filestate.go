// Package filestate tracks per-file indexing state and decides, for each
// file a scan or watch event surfaces, whether it needs (re)processing.
// Identity is the SHA-256 of file content, so touch-only saves and
// mtime-preserving copies never trigger re-indexing.
package filestate

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"
)

// State is the lifecycle state of a tracked file.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateIndexed    State = "indexed"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
	StateCorrupted  State = "corrupted"
)

// Retry policy.
const (
	// MaxAttempts is the number of processing attempts before a file is
	// left in failed state for good.
	MaxAttempts = 3

	// RetryDelay is the minimum wait between failed attempts.
	RetryDelay = 24 * time.Hour

	// StuckThreshold is how long a file may sit in processing before it
	// is presumed orphaned by a crash and reclaimed.
	StuckThreshold = time.Hour

	// ReaperInterval is how often stuck processing entries are swept.
	ReaperInterval = 10 * time.Minute
)

// Record is the persisted state of one file within a folder.
type Record struct {
	Path          string // relative to the folder root
	ContentHash   string // SHA-256 hex of file content
	Size          int64
	ModTime       time.Time
	State         State
	Attempts      int       // processing attempts so far
	LastAttemptAt time.Time // when the last attempt finished
	StartedAt     time.Time // when processing last began
	IndexedAt     time.Time
	FailureReason string
	ChunkCount    int
}

// Decision is the outcome of comparing a file on disk against its record.
type Decision int

const (
	// DecisionProcess means the file is new or its content changed.
	DecisionProcess Decision = iota

	// DecisionRetry means an earlier attempt failed or stalled and the
	// retry conditions are met.
	DecisionRetry

	// DecisionSkip means the file is up to date, waiting out its retry
	// delay, or permanently excluded.
	DecisionSkip
)

// Decide returns what to do with a file whose current content hash is hash.
// rec is nil when the file has never been seen.
func Decide(rec *Record, hash string, now time.Time) Decision {
	if rec == nil {
		return DecisionProcess
	}

	// Content change always wins, regardless of prior state. A corrupted
	// or exhausted file that has since been rewritten gets a fresh start.
	if rec.ContentHash != hash {
		return DecisionProcess
	}

	switch rec.State {
	case StatePending:
		// A reclaimed record comes back as pending with its attempt
		// count intact; the retry budget still applies.
		if rec.Attempts >= MaxAttempts {
			return DecisionSkip
		}
		return DecisionProcess
	case StateIndexed, StateSkipped, StateCorrupted:
		return DecisionSkip
	case StateFailed:
		if rec.Attempts >= MaxAttempts {
			return DecisionSkip
		}
		if now.Sub(rec.LastAttemptAt) < RetryDelay {
			return DecisionSkip
		}
		return DecisionRetry
	case StateProcessing:
		if now.Sub(rec.StartedAt) > StuckThreshold {
			if rec.Attempts >= MaxAttempts {
				return DecisionSkip
			}
			return DecisionRetry
		}
		return DecisionSkip
	default:
		return DecisionProcess
	}
}

// StartProcessing transitions the record into processing and counts the
// attempt up front, so a file that wedges mid-processing burns through
// its retry budget the same as one that fails outright.
func StartProcessing(rec *Record, now time.Time) {
	rec.State = StateProcessing
	rec.StartedAt = now
	rec.Attempts++
}

// MarkSuccess transitions the record to indexed and clears failure bookkeeping.
func MarkSuccess(rec *Record, chunkCount int, now time.Time) {
	rec.State = StateIndexed
	rec.ChunkCount = chunkCount
	rec.IndexedAt = now
	rec.LastAttemptAt = now
	rec.Attempts = 0
	rec.FailureReason = ""
}

// MarkFailure records a failed attempt. Corrupted files are terminal: they
// are never retried until their content changes.
func MarkFailure(rec *Record, reason string, corrupted bool, now time.Time) {
	if corrupted {
		rec.State = StateCorrupted
	} else {
		rec.State = StateFailed
	}
	rec.LastAttemptAt = now
	rec.FailureReason = reason
}

// MarkSkipped records a file that was seen but deliberately not indexed.
func MarkSkipped(rec *Record, reason string, now time.Time) {
	rec.State = StateSkipped
	rec.Attempts = 1
	rec.LastAttemptAt = now
	rec.FailureReason = reason
}

// NewRecord creates a pending record for a newly discovered file.
func NewRecord(path, hash string, size int64, modTime time.Time) *Record {
	return &Record{
		Path:        path,
		ContentHash: hash,
		Size:        size,
		ModTime:     modTime,
		State:       StatePending,
	}
}

// HashFile computes the SHA-256 content hash of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the SHA-256 content hash of data already in memory.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
