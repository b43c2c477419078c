// Package pidfile records the backend's process id and keeps a second
// backend from starting on the same file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunning is returned when the pid file names another live process.
var ErrRunning = errors.New("backend already running")

// Pidfile is a pid file owned by this process.
type Pidfile struct {
	path string
	pid  int
}

// Acquire writes the current pid to path. A pid file left by a process
// that is gone is taken over.
func Acquire(path string) (*Pidfile, error) {
	pid := os.Getpid()
	if existing, err := Read(path); err == nil && existing != pid && alive(existing) {
		return nil, fmt.Errorf("%w: pid %d in %s", ErrRunning, existing, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pidfile: %w", err)
	}
	return &Pidfile{path: path, pid: pid}, nil
}

// Read returns the pid stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}
	return pid, nil
}

// Path returns the pid file path.
func (p *Pidfile) Path() string {
	return p.path
}

// Release removes the file unless another process has replaced it.
func (p *Pidfile) Release() error {
	if pid, err := Read(p.path); err != nil || pid != p.pid {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

// alive reports whether pid answers signal 0. Where signal 0 is unsupported
// the process counts as gone.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
