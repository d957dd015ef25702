package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 31849, cfg.Daemon.WSPort)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.Embeddings.DefaultModel)
	assert.Equal(t, 3*time.Minute, cfg.Queue.KeepAlive)
	assert.Empty(t, cfg.Folders)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
daemon:
  ws_port: 4100
embeddings:
  default_model: bge-m3
folders:
  - path: /data/docs
    model: all-mpnet-base-v2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Daemon.WSPort)
	assert.Equal(t, "bge-m3", cfg.Embeddings.DefaultModel)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3002, cfg.Daemon.HTTPPort)
	assert.Equal(t, 500, cfg.Chunking.MaxTokens)
	require.Len(t, cfg.Folders, 1)
	assert.Equal(t, "/data/docs", cfg.Folders[0].Path)
	assert.Equal(t, "all-mpnet-base-v2", cfg.Folders[0].Model)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FOLDER_MCP_WORKER_POOL_SIZE", "8")
	t.Setenv("FOLDER_MCP_EMBED_BATCH_SIZE", "64")
	t.Setenv("FOLDER_MCP_LOG_LEVEL", "debug")
	t.Setenv("FOLDER_MCP_WS_PORT", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Embeddings.PoolSize)
	assert.Equal(t, 64, cfg.Embeddings.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unparseable values are ignored.
	assert.Equal(t, 31849, cfg.Daemon.WSPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults valid", func(c *Config) {}, ""},
		{"min over max", func(c *Config) { c.Chunking.MinTokens = 600 }, "min_tokens"},
		{"overlap too big", func(c *Config) { c.Chunking.OverlapPercent = 0.5 }, "overlap_percent"},
		{"zero batch", func(c *Config) { c.Watcher.BatchSize = 0 }, "batch_size"},
		{"zero debounce", func(c *Config) { c.Watcher.DebounceWindow = 0 }, "debounce_window"},
		{"zero rate", func(c *Config) { c.Broadcast.UpdatesPerSecond = 0 }, "updates_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Folders = append(cfg.Folders, FolderConfig{Path: "/data/notes", Model: "all-MiniLM-L6-v2"})
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Folders, loaded.Folders)
	assert.Equal(t, cfg.Daemon, loaded.Daemon)
}
