package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folder-mcp/foldermcp/internal/errors"
)

func testInfo() RegistryInfo {
	return RegistryInfo{
		PID:       os.Getpid(),
		HTTPPort:  3002,
		WSPort:    31849,
		StartTime: time.Now().UTC().Truncate(time.Second),
		Version:   "test",
		Host:      "127.0.0.1",
	}
}

func TestRegistry_AcquireWritesRecord(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	info := testInfo()

	require.NoError(t, r.Acquire(info))
	defer r.Release()

	got, err := ReadRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, info.PID, got.PID)
	assert.Equal(t, info.WSPort, got.WSPort)
	assert.Equal(t, info.HTTPPort, got.HTTPPort)
	assert.Equal(t, info.Version, got.Version)
	assert.True(t, got.Alive())
}

func TestRegistry_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	first := NewRegistry(dir)
	require.NoError(t, first.Acquire(testInfo()))
	defer first.Release()

	second := NewRegistry(dir)
	err := second.Acquire(testInfo())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyRunning, errors.GetCode(err))
}

func TestRegistry_ReleaseFreesTheLock(t *testing.T) {
	dir := t.TempDir()
	first := NewRegistry(dir)
	require.NoError(t, first.Acquire(testInfo()))
	first.Release()

	_, err := os.Stat(filepath.Join(dir, registryFileName))
	assert.True(t, os.IsNotExist(err), "record removed on release")

	second := NewRegistry(dir)
	require.NoError(t, second.Acquire(testInfo()))
	second.Release()
}

func TestReadRegistry_MissingRecord(t *testing.T) {
	_, err := ReadRegistry(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetCode(err))
}

func TestReadRegistry_MalformedRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, registryFileName), []byte("{broken"), 0o644))

	_, err := ReadRegistry(dir)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(err))
}

func TestRegistryInfo_AliveForDeadPID(t *testing.T) {
	info := &RegistryInfo{PID: 1 << 30}
	assert.False(t, info.Alive())

	info = &RegistryInfo{}
	assert.False(t, info.Alive())
}
