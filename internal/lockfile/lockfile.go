// Package lockfile guards a governor state directory so that only one process
// writes its SQLite database at a time.
//
// The lock is an flock on a file inside the directory. The kernel drops it
// when the process exits, cleanly or not; the file content only helps a human
// diagnose a conflict.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "growthgovernor.lock"

// Lock represents an active directory lock
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed. A conflict is reported as *LockError.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lockPath", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: only the lock holder may rewrite the file.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile.AcquireLock: state directory is locked by another governor", "lockPath", lockPath, "holder", holder, "error", err)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	if err := writeLockInfo(file); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lockPath", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

func writeLockInfo(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	info := fmt.Sprintf("pid=%d\nstarted_at=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeLockInfo: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. It is safe to call twice.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}

	// Remove before unlocking: a waiter must never lock a file that is about to vanish.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "lockPath", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: failed to unlock", "lockPath", l.path, "error", err)
	}
	err := l.file.Close()

	l.acquired = false
	l.file = nil
	slog.Info("lockfile.Release: state directory unlocked", "lockPath", l.path)
	if err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	return nil
}

// LockError represents an error when failing to acquire a lock due to another process
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another GrowthGovernor process holds the state directory lock %s", e.LockPath)
	if e.Holder != "" {
		fmt.Fprintf(&b, " (%s)", e.Holder)
	}
	b.WriteString("; point --state-dir elsewhere or use a shared PostgreSQL DATABASE_URL to run several instances")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// parseLockInfo reads key=value lines, ignoring anything else.
func parseLockInfo(content string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok && k != "" {
			info[k] = v
		}
	}
	return info
}

// describeHolder summarizes the lock file of the current holder.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unreadable lock file"
	}
	info := parseLockInfo(string(data))
	if len(info) == 0 {
		return ""
	}

	pid, _ := strconv.Atoi(info["pid"])
	parts := make([]string, 0, len(info))
	if pid > 0 {
		state := "not running"
		if isProcessRunning(pid) {
			state = "running"
		}
		parts = append(parts, fmt.Sprintf("pid %d %s", pid, state))
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		if k != "pid" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+" "+info[k])
	}
	return strings.Join(parts, ", ")
}

// isProcessRunning sends signal 0, which checks for existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
