package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("lock file not created: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("lock file not removed after release")
	}

	// Release must be idempotent.
	if err := lock.Release(); err != nil {
		t.Errorf("second release should be a no-op: %v", err)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("failed to acquire first lock: %v", err)
	}
	defer first.Release()

	_, err = AcquireLock(dir)
	if err == nil {
		t.Fatal("second acquire should fail while first lock is held")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError, got %T: %v", err, err)
	}
	if lockErr.LockPath != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path: %s", lockErr.LockPath)
	}
}

func TestAcquireLockAfterRelease(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("failed to acquire first lock: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("failed to release: %v", err)
	}

	second, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("acquire after release should succeed: %v", err)
	}
	second.Release()
}

func TestExtractPIDFromLockInfo(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{fmt.Sprintf("pid=%d\n", 12345), 12345},
		{"pid=", 0},
		{"garbage", 0},
		{"", 0},
	}
	for _, c := range cases {
		if got := extractPIDFromLockInfo(c.content); got != c.want {
			t.Errorf("extractPIDFromLockInfo(%q) = %d, want %d", c.content, got, c.want)
		}
	}
}
