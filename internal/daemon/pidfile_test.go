package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteAndRead(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nested", "ait-serve.pid"))

	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number\n"), 0o644))

	_, err := NewPIDFile(path).Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID file content")
}

func TestPIDFile_Remove_Idempotent(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "ait-serve.pid"))
	require.NoError(t, pf.WritePID(1))

	require.NoError(t, pf.Remove())
	require.NoError(t, pf.Remove())
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_IsRunning(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "ait-serve.pid"))

	pid, running := pf.IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running, "no file")

	require.NoError(t, pf.Write())
	pid, running = pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	// A very high PID almost certainly doesn't exist.
	require.NoError(t, pf.WritePID(999999))
	pid, running = pf.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)
}

func TestPIDFile_Claim(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "ait-serve.pid"))

	require.NoError(t, pf.WritePID(999999))
	require.NoError(t, pf.Claim(), "stale file is reclaimed")
	_, err := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, pf.Write())
	assert.NoError(t, pf.Claim(), "the owning process may reclaim its own file")
}

func TestPIDFile_Stop_NotRunning(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "ait-serve.pid"))
	require.NoError(t, pf.WritePID(999999))

	_, err := pf.Stop(0)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr), "stale file removed")
}
