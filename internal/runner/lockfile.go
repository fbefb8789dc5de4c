package runner

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by acquireLock when the lock file names
// a process that is still alive.
var ErrAlreadyRunning = fmt.Errorf("runner: another instance is already running")

// acquireLock writes the current process id to path, after checking
// whether an existing lock file names a live process. A lock file
// naming a dead process (or one that fails to parse) is treated as
// stale and replaced.
func acquireLock(path string) error {
	data, err := os.ReadFile(path)
	if err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && processAlive(pid) {
			return ErrAlreadyRunning
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("runner: read lock file: %w", err)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// releaseLock removes the lock file if present.
func releaseLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runner: remove lock file: %w", err)
	}
	return nil
}

// processAlive reports whether pid names a live process, using a
// signal-0 probe that checks existence without actually signaling it.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
