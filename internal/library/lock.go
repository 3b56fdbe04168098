package library

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is an exclusive advisory lock held while a cascade rewrites the
// library. It guards against a second process interleaving its own writes.
type Lock struct {
	file *os.File
}

// AcquireLock takes the lock at path without blocking. It returns ErrLocked
// if another process holds it.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open library lock: %w", err)
	}

	if err := lockFileExclusiveNonBlocking(file); err != nil {
		file.Close()
		if isWouldBlockError(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire library lock: %w", err)
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. A nil Lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
