// Package config loads daemon configuration.
//
// Precedence, lowest to highest: compiled defaults, the YAML file at
// ~/.folder-mcp/config.yaml, then FOLDER_MCP_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Daemon     DaemonConfig     `yaml:"daemon" json:"daemon"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Broadcast  BroadcastConfig  `yaml:"broadcast" json:"broadcast"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Folders    []FolderConfig   `yaml:"folders" json:"folders"`
}

// FolderConfig is one monitored folder entry.
type FolderConfig struct {
	Path  string `yaml:"path" json:"path"`
	Model string `yaml:"model" json:"model"`
}

// DaemonConfig configures process-level behavior.
type DaemonConfig struct {
	// Host the WebSocket and HTTP listeners bind to.
	Host string `yaml:"host" json:"host"`
	// HTTPPort serves health and the MCP transport.
	HTTPPort int `yaml:"http_port" json:"http_port"`
	// WSPort serves the WebSocket control protocol.
	WSPort int `yaml:"ws_port" json:"ws_port"`
}

// QueueConfig configures the folder indexing queue.
type QueueConfig struct {
	// KeepAlive is the window the queue stays paused after a search so the
	// model remains loaded for follow-up queries.
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
	// FolderTimeout caps indexing of a single folder.
	FolderTimeout time.Duration `yaml:"folder_timeout" json:"folder_timeout"`
}

// WatcherConfig configures per-folder file watching.
type WatcherConfig struct {
	// DebounceWindow is how long to wait after the last event before
	// emitting a batch.
	DebounceWindow time.Duration `yaml:"debounce_window" json:"debounce_window"`
	// BatchSize is the maximum number of files per emitted batch.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BatchingEnabled turns batching off for debugging; when false every
	// debounce tick emits a single batch regardless of size.
	BatchingEnabled bool `yaml:"batching_enabled" json:"batching_enabled"`
	// Include patterns (doublestar syntax). Empty means all supported files.
	Include []string `yaml:"include" json:"include"`
	// Exclude patterns (doublestar syntax).
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	MinTokens         int     `yaml:"min_tokens" json:"min_tokens"`
	MaxTokens         int     `yaml:"max_tokens" json:"max_tokens"`
	OverlapPercent    float64 `yaml:"overlap_percent" json:"overlap_percent"`
	PreserveSentences bool    `yaml:"preserve_sentences" json:"preserve_sentences"`
}

// EmbeddingsConfig configures the embedding worker.
type EmbeddingsConfig struct {
	// WorkerCommand is the command that starts the model worker process.
	// The worker speaks JSON-RPC 2.0 over stdio.
	WorkerCommand []string `yaml:"worker_command" json:"worker_command"`
	// DefaultModel is the model id assigned to new folders when the client
	// does not pick one.
	DefaultModel string `yaml:"default_model" json:"default_model"`
	// BatchSize is texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// PoolSize is the ONNX worker pool size inside the worker process.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
	// ThreadsPerWorker is threads per ONNX worker.
	ThreadsPerWorker int `yaml:"threads_per_worker" json:"threads_per_worker"`
	// MaxConcurrentFiles bounds files being parsed while one is embedded.
	MaxConcurrentFiles int `yaml:"max_concurrent_files" json:"max_concurrent_files"`
	// CacheSize is the query-embedding LRU cache capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// BroadcastConfig configures snapshot fan-out throttling.
type BroadcastConfig struct {
	// UpdatesPerSecond caps the broadcast rate.
	UpdatesPerSecond float64 `yaml:"updates_per_second" json:"updates_per_second"`
	// Debounce guarantees final-state delivery after a burst.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the compiled-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Daemon: DaemonConfig{
			Host:     "127.0.0.1",
			HTTPPort: 3002,
			WSPort:   31849,
		},
		Queue: QueueConfig{
			KeepAlive:     3 * time.Minute,
			FolderTimeout: time.Hour,
		},
		Watcher: WatcherConfig{
			DebounceWindow:  1000 * time.Millisecond,
			BatchSize:       10,
			BatchingEnabled: true,
		},
		Chunking: ChunkingConfig{
			MinTokens:         200,
			MaxTokens:         500,
			OverlapPercent:    0.10,
			PreserveSentences: true,
		},
		Embeddings: EmbeddingsConfig{
			DefaultModel:       "all-MiniLM-L6-v2",
			BatchSize:          32,
			PoolSize:           2,
			ThreadsPerWorker:   4,
			MaxConcurrentFiles: 4,
			CacheSize:          1000,
		},
		Broadcast: BroadcastConfig{
			UpdatesPerSecond: 2,
			Debounce:         500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultDir returns the daemon's home directory (~/.folder-mcp).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".folder-mcp")
	}
	return filepath.Join(home, ".folder-mcp")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads configuration from the given path, applies environment
// overrides, and validates. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file, defaults stand
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies FOLDER_MCP_* environment overrides.
// These mirror the worker tunables named in the docs: pool size, threads per
// worker, batch size, and max concurrent files.
func (c *Config) applyEnv() {
	if v, ok := envInt("FOLDER_MCP_WORKER_POOL_SIZE"); ok {
		c.Embeddings.PoolSize = v
	}
	if v, ok := envInt("FOLDER_MCP_THREADS_PER_WORKER"); ok {
		c.Embeddings.ThreadsPerWorker = v
	}
	if v, ok := envInt("FOLDER_MCP_EMBED_BATCH_SIZE"); ok {
		c.Embeddings.BatchSize = v
	}
	if v, ok := envInt("FOLDER_MCP_MAX_CONCURRENT_FILES"); ok {
		c.Embeddings.MaxConcurrentFiles = v
	}
	if v := os.Getenv("FOLDER_MCP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v, ok := envInt("FOLDER_MCP_WS_PORT"); ok {
		c.Daemon.WSPort = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.MinTokens <= 0 || c.Chunking.MaxTokens <= c.Chunking.MinTokens {
		return fmt.Errorf("chunking: min_tokens (%d) must be positive and less than max_tokens (%d)",
			c.Chunking.MinTokens, c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapPercent < 0 || c.Chunking.OverlapPercent > 0.2 {
		return fmt.Errorf("chunking: overlap_percent %.2f outside [0, 0.2]", c.Chunking.OverlapPercent)
	}
	if c.Watcher.BatchSize <= 0 {
		return fmt.Errorf("watcher: batch_size must be positive, got %d", c.Watcher.BatchSize)
	}
	if c.Watcher.DebounceWindow <= 0 {
		return fmt.Errorf("watcher: debounce_window must be positive")
	}
	if c.Broadcast.UpdatesPerSecond <= 0 {
		return fmt.Errorf("broadcast: updates_per_second must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings: batch_size must be positive")
	}
	return nil
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
