package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/folder-mcp/foldermcp/internal/errors"
)

const (
	registryFileName = "daemon.pid"
	lockFileName     = "daemon.lock"
)

// RegistryInfo is the daemon registry record, written as JSON so other
// processes can discover the running daemon and its ports.
type RegistryInfo struct {
	PID       int       `json:"pid"`
	HTTPPort  int       `json:"httpPort"`
	WSPort    int       `json:"wsPort"`
	StartTime time.Time `json:"startTime"`
	Version   string    `json:"version,omitempty"`
	Host      string    `json:"host,omitempty"`
}

// Alive reports whether the recorded process still exists.
func (i *RegistryInfo) Alive() bool {
	if i.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(i.PID)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Registry owns the daemon.pid file and the cross-process lock that
// enforces a single daemon instance per home directory.
type Registry struct {
	dir  string
	lock *flock.Flock
}

// NewRegistry creates a registry rooted at dir (~/.folder-mcp).
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return filepath.Join(r.dir, registryFileName)
}

// Acquire takes the instance lock and writes the registry record. It
// fails with ERR_901 when another live daemon holds the lock.
func (r *Registry) Acquire(info RegistryInfo) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to create daemon directory", err)
	}

	locked, err := r.lock.TryLock()
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to acquire instance lock", err)
	}
	if !locked {
		msg := "another daemon instance is already running"
		if prev, readErr := ReadRegistry(r.dir); readErr == nil {
			msg = fmt.Sprintf("another daemon instance is already running (pid %d)", prev.PID)
		}
		return errors.New(errors.ErrCodeAlreadyRunning, msg, nil)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		r.release()
		return errors.New(errors.ErrCodeInternal, "failed to encode registry record", err)
	}

	// Write-then-rename so readers never see a partial record.
	tmp := r.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.release()
		return errors.New(errors.ErrCodeInternal, "failed to write registry record", err)
	}
	if err := os.Rename(tmp, r.Path()); err != nil {
		r.release()
		return errors.New(errors.ErrCodeInternal, "failed to publish registry record", err)
	}
	return nil
}

// Release removes the registry record and drops the instance lock.
func (r *Registry) Release() {
	_ = os.Remove(r.Path())
	r.release()
}

func (r *Registry) release() {
	_ = r.lock.Unlock()
}

// ReadRegistry loads the registry record from dir. A missing file means
// no daemon has registered.
func ReadRegistry(dir string) (*RegistryInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, registryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, "no daemon registry record", err)
		}
		return nil, errors.New(errors.ErrCodeInternal, "failed to read daemon registry", err)
	}

	var info RegistryInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "daemon registry record is malformed", err)
	}
	return &info, nil
}
