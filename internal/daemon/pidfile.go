// Package daemon tracks the background `ait serve` process through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Claim when a live process owns the file.
	ErrAlreadyRunning = errors.New("server is already running")
	// ErrNotRunning is returned by Stop when no live process owns the file.
	ErrNotRunning = errors.New("server is not running")
)

// PIDFile records the PID of the background server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile for path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid, creating the parent directory if needed.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o700); err != nil {
		return fmt.Errorf("create PID dir: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsRunning returns the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

// Claim prepares the file for a new server. It fails when another live
// process owns it and removes a stale one.
func (p *PIDFile) Claim() error {
	pid, running := p.IsRunning()
	if running && pid != os.Getpid() {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	return p.Remove()
}

// Stop asks the recorded process to exit and kills it if it is still alive
// after timeout. The file is removed either way. It returns the stopped PID.
func (p *PIDFile) Stop(timeout time.Duration) (int, error) {
	pid, running := p.IsRunning()
	if !running {
		_ = p.Remove()
		return 0, ErrNotRunning
	}

	if err := signal(pid, terminateSignal); err != nil {
		return pid, fmt.Errorf("signal %d: %w", pid, err)
	}
	if !waitExit(pid, timeout) {
		if err := signal(pid, killSignal); err != nil && alive(pid) {
			return pid, fmt.Errorf("kill %d: %w", pid, err)
		}
		waitExit(pid, timeout)
	}
	return pid, p.Remove()
}

func waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !alive(pid)
}
