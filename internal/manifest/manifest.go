// Package manifest persists the monotonic generation counter that
// orders SSTables, so restart and crash recovery never reuse a
// generation number that was already handed out.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flint-kv/flintkv/internal/diskmanager"
)

const fileName = "MANIFEST"

// Manifest hands out strictly increasing generation numbers and keeps
// the highest one ever issued durable across restarts.
type Manifest struct {
	mu     sync.Mutex
	dm     diskmanager.DiskManager
	path   string
	dir    string
	handle diskmanager.FileHandle
	next   uint64
}

// Open loads the manifest under dir, creating it at generation 0 if it
// does not yet exist. dm is shared with the rest of the engine so the
// manifest's file handle sits in the same cache as the SSTable and
// directory-listing traffic going through it.
func Open(dir string, dm diskmanager.DiskManager) (*Manifest, error) {
	path := filepath.Join(dir, fileName)

	handle, err := dm.Open(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("manifest: open: %w", err)
	}

	m := &Manifest{dm: dm, path: path, dir: dir, handle: handle}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) load() error {
	var buf [8]byte
	n, err := m.handle.ReadAt(buf[:], 0)
	if err != nil && n == 0 {
		// Freshly created, empty manifest: start from generation 0.
		return m.persistLocked(0)
	}
	if n < 8 {
		return m.persistLocked(0)
	}
	m.next = binary.BigEndian.Uint64(buf[:])
	return nil
}

// Next returns the next unused generation number and durably persists
// the advance before returning it, so a crash can never hand the same
// generation out twice.
func (m *Manifest) Next() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.next
	if err := m.persistLocked(gen + 1); err != nil {
		return 0, err
	}
	m.next = gen + 1
	return gen, nil
}

// Bump advances the counter so the next generation issued is strictly
// greater than maxSeen. Used during recovery, where the data directory
// may contain SSTable generations written after the last clean Next()
// call (e.g. a compacted output that itself bumped past the tracked
// value before a crash).
func (m *Manifest) Bump(maxSeen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxSeen+1 <= m.next {
		return nil
	}
	if err := m.persistLocked(maxSeen + 1); err != nil {
		return err
	}
	m.next = maxSeen + 1
	return nil
}

func (m *Manifest) persistLocked(next uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if _, err := m.handle.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("manifest: write: %w", err)
	}
	if err := m.handle.Sync(); err != nil {
		return fmt.Errorf("manifest: sync: %w", err)
	}
	return nil
}

// Close releases the manifest's underlying file handle.
func (m *Manifest) Close() error {
	return m.dm.Close(m.path)
}
