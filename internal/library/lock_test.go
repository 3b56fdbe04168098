package library

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "library.lock")

	first, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock error: %v", err)
	}
	if _, err := AcquireLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	second, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("reacquire error: %v", err)
	}
	defer second.Release()

	var none *Lock
	if err := none.Release(); err != nil {
		t.Errorf("nil Release: %v", err)
	}
}
