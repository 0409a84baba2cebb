//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	c := exec.Command("sleep", "30")
	require.NoError(t, c.Start())
	// Reap the child so it does not linger as a zombie that still answers signal 0.
	go func() { _ = c.Wait() }()
	t.Cleanup(func() { _ = c.Process.Kill() })
	return c
}

func TestPIDFile_Claim_LiveProcess(t *testing.T) {
	c := startSleeper(t)
	pf := NewPIDFile(filepath.Join(t.TempDir(), "ait-serve.pid"))
	require.NoError(t, pf.WritePID(c.Process.Pid))

	err := pf.Claim()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPIDFile_Stop(t *testing.T) {
	c := startSleeper(t)
	pf := NewPIDFile(filepath.Join(t.TempDir(), "ait-serve.pid"))
	require.NoError(t, pf.WritePID(c.Process.Pid))

	pid, err := pf.Stop(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, c.Process.Pid, pid)

	_, running := pf.IsRunning()
	assert.False(t, running)
	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr))
}
