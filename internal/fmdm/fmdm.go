// Package fmdm maintains the daemon's shared state snapshot: the list of
// monitored folders with their indexing status, plus daemon and hardware
// facts. Snapshots are copy-on-write with a monotonic revision, so readers
// hold an immutable view and the broadcaster can tell stale from fresh
// without locks.
package fmdm

import (
	"sync"
	"sync/atomic"

	"github.com/folder-mcp/foldermcp/internal/model"
)

// FolderStatus is the lifecycle phase of a monitored folder.
type FolderStatus string

const (
	StatusPending          FolderStatus = "pending"
	StatusDownloadingModel FolderStatus = "downloading-model"
	StatusScanning         FolderStatus = "scanning"
	StatusIndexing         FolderStatus = "indexing"
	StatusActive           FolderStatus = "active"
	StatusError            FolderStatus = "error"
)

// Folder is one monitored folder's public state.
type Folder struct {
	Path     string       `json:"path"`
	Model    string       `json:"model"`
	Status   FolderStatus `json:"status"`
	Progress int          `json:"progress"` // 0-100, meaningful while indexing

	IndexedFiles int    `json:"indexedFiles"`
	TotalFiles   int    `json:"totalFiles"`
	FailedFiles  int    `json:"failedFiles"`
	Error        string `json:"error,omitempty"`
}

// Daemon is the daemon's own facts in the snapshot.
type Daemon struct {
	PID     int    `json:"pid"`
	Version string `json:"version"`
}

// Snapshot is one immutable state view. Consumers must not mutate it.
type Snapshot struct {
	Revision int64          `json:"revision"`
	Folders  []Folder       `json:"folders"`
	Daemon   Daemon         `json:"daemon"`
	Hardware model.Hardware `json:"hardware"`
}

// Folder returns the entry for path, if present.
func (s *Snapshot) Folder(path string) (Folder, bool) {
	for _, f := range s.Folders {
		if f.Path == path {
			return f, true
		}
	}
	return Folder{}, false
}

// Manager owns the current snapshot. Every mutation clones, applies, bumps
// the revision, publishes, and pokes the change channel.
type Manager struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	changes chan struct{}
}

// NewManager creates a manager with an initial empty snapshot.
func NewManager(daemon Daemon, hw model.Hardware) *Manager {
	m := &Manager{changes: make(chan struct{}, 1)}
	m.current.Store(&Snapshot{
		Revision: 1,
		Folders:  []Folder{},
		Daemon:   daemon,
		Hardware: hw,
	})
	return m
}

// Current returns the latest snapshot.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Changes signals after each mutation. The channel carries at most one
// pending signal; consumers re-read Current and catch up on everything
// since their last read.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes
}

// mutate clones the snapshot, applies fn to the clone, and publishes it.
func (m *Manager) mutate(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current.Load()
	next := &Snapshot{
		Revision: old.Revision + 1,
		Folders:  make([]Folder, len(old.Folders)),
		Daemon:   old.Daemon,
		Hardware: old.Hardware,
	}
	copy(next.Folders, old.Folders)

	fn(next)
	m.current.Store(next)

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// AddFolder appends a folder entry.
func (m *Manager) AddFolder(path, modelID string) {
	m.mutate(func(s *Snapshot) {
		s.Folders = append(s.Folders, Folder{
			Path:   path,
			Model:  modelID,
			Status: StatusPending,
		})
	})
}

// RemoveFolder drops a folder entry. Returns true if it was present.
func (m *Manager) RemoveFolder(path string) bool {
	removed := false
	m.mutate(func(s *Snapshot) {
		kept := s.Folders[:0]
		for _, f := range s.Folders {
			if f.Path == path {
				removed = true
				continue
			}
			kept = append(kept, f)
		}
		s.Folders = kept
	})
	return removed
}

// UpdateFolder applies fn to the folder entry for path, if present.
func (m *Manager) UpdateFolder(path string, fn func(*Folder)) {
	m.mutate(func(s *Snapshot) {
		for i := range s.Folders {
			if s.Folders[i].Path == path {
				fn(&s.Folders[i])
				return
			}
		}
	})
}

// SetStatus is shorthand for updating one folder's status.
func (m *Manager) SetStatus(path string, status FolderStatus) {
	m.UpdateFolder(path, func(f *Folder) {
		f.Status = status
		if status != StatusError {
			f.Error = ""
		}
	})
}
