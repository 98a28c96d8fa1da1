// Package health enforces single-instance ownership of a project
// directory via a PID sentinel file, and probes whether a recorded PID
// still names a live process.
package health

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrPIDHeld is returned by Acquire when the sentinel names a live
// process: another orchestrator already owns the project directory.
var ErrPIDHeld = errors.New("another aurelia instance holds this project's PID sentinel")

// Acquire enforces exclusive ownership of the project directory at
// path. If the sentinel is absent, it is written with the current
// process's PID and nil is returned. If it is present and names a live
// process, ErrPIDHeld is returned. If it is present but stale (dead
// PID, or unreadable), it is removed and the current PID is written.
func Acquire(path string) error {
	pid, ok, err := readPID(path)
	if err != nil {
		return fmt.Errorf("health: read pid sentinel %s: %w", path, err)
	}
	if ok {
		if IsAlive(pid) {
			return ErrPIDHeld
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("health: remove stale pid sentinel %s: %w", path, err)
		}
	}
	return writePID(path)
}

// Release removes the PID sentinel at path. Called during graceful
// shutdown; a missing file is not an error.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("health: remove pid sentinel %s: %w", path, err)
	}
	return nil
}

// IsAlive reports whether pid currently names a live process, using
// the signal-0 probe: sending the null signal never actually signals
// the process, but fails if it doesn't exist or isn't ours to signal.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func readPID(path string) (int, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Corrupt sentinel: treat as stale rather than propagating a
		// parse error that would block every future startup.
		return 0, false, nil
	}
	return pid, true, nil
}

func writePID(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("health: create pid sentinel %s: %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}
