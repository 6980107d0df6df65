package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	info := parseLockInfo(string(content))
	if info["pid"] != fmt.Sprint(os.Getpid()) {
		t.Errorf("expected our pid in lock file, got %q", content)
	}
	if info["started_at"] == "" {
		t.Errorf("expected started_at in lock file, got %q", content)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir)
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if !strings.Contains(lockErr.Holder, "running") {
		t.Errorf("expected holder to be described as running, got %q", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("Error message should contain the lock path: %s", err)
	}

	// The losing attempt must not clobber the holder's info.
	content, _ := os.ReadFile(lock1.Path())
	if parseLockInfo(string(content))["pid"] == "" {
		t.Errorf("holder info was truncated: %q", content)
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer again.Release()
}

func TestParseLockInfo(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantPID string
	}{
		{"valid pid", "pid=12345\n", "12345"},
		{"pid with extra content", "pid=67890\nstarted_at=2026-01-01T00:00:00Z", "67890"},
		{"no pid", "other=info", ""},
		{"empty content", "", ""},
		{"no equals", "pid12345", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLockInfo(tt.content)["pid"]; got != tt.wantPID {
				t.Errorf("parseLockInfo(%q)[pid] = %q, want %q", tt.content, got, tt.wantPID)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}
