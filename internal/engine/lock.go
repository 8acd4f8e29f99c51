package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const lockFileName = "LOCK"

// dirLock is an advisory, single-process lock over a data directory: a
// second Open against the same directory while this one is live fails
// fast instead of silently corrupting state through concurrent access.
type dirLock struct {
	path string
}

// acquireLock creates the lock file exclusively, stamping it with a
// fresh token so a stale lock left behind by a crash can be told apart
// from a live owner by an operator inspecting the file.
func acquireLock(dataDir string) (*dirLock, error) {
	path := filepath.Join(dataDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, path)
		}
		return nil, fmt.Errorf("engine: create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(uuid.NewString()); err != nil {
		return nil, fmt.Errorf("engine: write lock token: %w", err)
	}
	return &dirLock{path: path}, nil
}

// release removes the lock file, allowing a future Open to succeed.
func (l *dirLock) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("engine: release lock: %w", err)
	}
	return nil
}
