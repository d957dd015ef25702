package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.folder-mcp/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".folder-mcp", "logs")
	}
	return filepath.Join(home, ".folder-mcp", "logs")
}

// DefaultLogPath returns the default daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// WorkerLogPath returns the embedding worker log path.
// The worker writes its own stderr here so that JSON-RPC stdio stays clean.
func WorkerLogPath() string {
	return filepath.Join(DefaultLogDir(), "worker.log")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
