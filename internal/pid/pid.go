// Package pid guards against two live sessions driving the same backend
// from one machine.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/posturectl/internal/errors"
)

const (
	pidFile = "posturectl.pid"
)

// File is a PID file in a directory.
type File struct {
	path string
}

// New returns the PID file in dir, or in the temp directory when dir is empty.
func New(dir string) *File {
	if dir == "" {
		dir = os.TempDir()
	}
	return &File{path: filepath.Join(dir, pidFile)}
}

func (f *File) Path() string {
	return f.path
}

// Write writes the current process ID to the PID file. A file left by a
// process that is no longer running is overwritten.
func (f *File) Write() error {
	errFactory := errors.New()

	if bytes, err := os.ReadFile(f.path); err == nil {
		// PID file exists, check if the process is running
		if pid, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && pid != os.Getpid() && running(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, struct {
				PID  int
				Path string
			}{
				PID:  pid,
				Path: f.path,
			})
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func (f *File) Remove() error {
	errFactory := errors.New()

	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(f.path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
