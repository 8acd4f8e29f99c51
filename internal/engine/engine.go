// Package engine coordinates the WAL, MemTable, and flat SSTable list
// into the five durable key-value operations: Put, Delete, BatchPut,
// Get, and Range.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/flint-kv/flintkv/internal/config"
	"github.com/flint-kv/flintkv/internal/diskmanager"
	"github.com/flint-kv/flintkv/internal/manifest"
	"github.com/flint-kv/flintkv/internal/memtable"
	"github.com/flint-kv/flintkv/internal/sstable"
	"github.com/flint-kv/flintkv/internal/store"
	"github.com/flint-kv/flintkv/internal/wal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const walFileName = "wal.log"

// Engine is the storage engine: a WAL-backed MemTable overlaying a
// flat, generation-ordered list of immutable SSTables.
type Engine struct {
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool

	dataDir  string
	cfg      *config.Config
	log      *logrus.Logger
	lock     *dirLock
	dm       diskmanager.DiskManager
	manifest *manifest.Manifest
	wal      *wal.WAL
	memtable *memtable.MemTable
	tables   []*sstable.Reader // ascending by generation: oldest first

	flushGroup   errgroup.Group
	compactGroup errgroup.Group
}

// Open opens or creates an engine rooted at dataDir, replaying any WAL
// left behind by an unclean shutdown.
func Open(dataDir string, cfg *config.Config, log *logrus.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		cfg.FillDefaults()
	}
	if log == nil {
		log = logrus.New()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	lock, err := acquireLock(dataDir)
	if err != nil {
		return nil, err
	}

	dm := diskmanager.NewDiskManager()

	m, err := manifest.Open(dataDir, dm)
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	tables, maxGen, err := loadTables(dataDir, dm)
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	if err := m.Bump(maxGen); err != nil {
		_ = lock.release()
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dataDir, walFileName))
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	mt := memtable.New(cfg.MaxMemtableEntries)
	replayed, err := w.Replay()
	if err != nil {
		_ = lock.release()
		return nil, fmt.Errorf("%w: %v", ErrStorageCorruption, err)
	}
	for _, re := range replayed {
		if re.Deleted {
			mt.Delete(re.Key)
		} else {
			mt.Put(re.Key, re.Value)
		}
	}

	e := &Engine{
		dataDir:  dataDir,
		cfg:      cfg,
		log:      log,
		lock:     lock,
		dm:       dm,
		manifest: m,
		wal:      w,
		memtable: mt,
		tables:   tables,
	}

	e.log.WithFields(logrus.Fields{
		"data_dir":       dataDir,
		"tables":         len(tables),
		"replayed_count": len(replayed),
	}).Info("engine opened")

	return e, nil
}

// loadTables scans dataDir for flushed and compacted SSTables, opening
// a Reader for each through dm, ascending by generation.
func loadTables(dataDir string, dm diskmanager.DiskManager) ([]*sstable.Reader, uint64, error) {
	names, err := dm.List(dataDir, "")
	if err != nil {
		return nil, 0, fmt.Errorf("engine: scan data dir: %w", err)
	}

	var tables []*sstable.Reader
	var maxGen uint64
	for _, name := range names {
		gen, ok := sstable.ParseGeneration(name)
		if !ok {
			continue
		}
		r, err := sstable.NewReader(filepath.Join(dataDir, name), dm)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrStorageCorruption, err)
		}
		tables = append(tables, r)
		if gen > maxGen {
			maxGen = gen
		}
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Generation() < tables[j].Generation()
	})
	return tables, maxGen, nil
}

// Put inserts or overwrites key with value, durably.
func (e *Engine) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrInvalidArgument
	}
	return e.apply(store.Put(key, value))
}

// Delete inserts a tombstone for key, durably. Deleting an absent key
// is not an error: the operation is idempotent.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidArgument
	}
	return e.apply(store.Tombstone(key))
}

// BatchPut applies every entry as a single atomic WAL record: replay
// after a crash either sees all of them or none.
func (e *Engine) BatchPut(entries []store.Entry) error {
	for _, en := range entries {
		if len(en.Key) == 0 {
			return ErrInvalidArgument
		}
	}
	if len(entries) == 0 {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err := e.wal.AppendBatch(entries); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}
	for _, en := range entries {
		if en.Deleted {
			e.memtable.Delete(en.Key)
		} else {
			e.memtable.Put(en.Key, en.Value)
		}
	}
	needsFlush := e.memtable.IsFull()
	e.mu.Unlock()

	if needsFlush {
		e.scheduleFlush()
	}
	return nil
}

func (e *Engine) apply(entry store.Entry) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	var err error
	if entry.Deleted {
		err = e.wal.AppendDelete(entry.Key)
	} else {
		err = e.wal.AppendPut(entry.Key, entry.Value)
	}
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	if entry.Deleted {
		e.memtable.Delete(entry.Key)
	} else {
		e.memtable.Put(entry.Key, entry.Value)
	}
	needsFlush := e.memtable.IsFull()
	e.mu.Unlock()

	if needsFlush {
		e.scheduleFlush()
	}
	return nil
}

// Get looks up key across the MemTable and every SSTable, newest
// layer first. The second return is true only for a live value; an
// absent key and a deleted key both report nil, false.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if entry, ok := e.memtable.Get(key); ok {
		if entry.Deleted {
			return nil, false
		}
		return entry.Value, true
	}

	for i := len(e.tables) - 1; i >= 0; i-- {
		entry, found, err := e.tables[i].Get(key)
		if err != nil {
			e.log.WithError(err).WithField("table", e.tables[i].Path()).Warn("sstable read error")
			continue
		}
		if found {
			if entry.Deleted {
				return nil, false
			}
			return entry.Value, true
		}
	}
	return nil, false
}

// Range returns ascending, non-tombstoned entries with lo <= key <=
// hi, overlaying every SSTable (oldest to newest) and finally the
// MemTable, the same precedence order the WAL replay itself builds.
func (e *Engine) Range(lo, hi []byte) ([]store.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	merged := make(map[string]store.Entry)
	for _, t := range e.tables {
		entries, err := t.Range(lo, hi)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageCorruption, err)
		}
		for _, en := range entries {
			merged[string(en.Key)] = en
		}
	}
	for _, en := range e.memtable.RangeAll(lo, hi) {
		merged[string(en.Key)] = en
	}

	result := make([]store.Entry, 0, len(merged))
	for _, en := range merged {
		if !en.Deleted {
			result = append(result, en)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return store.CompareKeys(result[i].Key, result[j].Key) < 0
	})
	return result, nil
}

// scheduleFlush dispatches a flush attempt on a supervised goroutine.
// The goroutine re-checks fullness once it holds the lock, so
// redundant dispatches from concurrent callers collapse into a single
// flush.
func (e *Engine) scheduleFlush() {
	e.flushGroup.Go(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || !e.memtable.IsFull() {
			return nil
		}
		return e.flushLocked()
	})
}

// flushLocked drains the MemTable into a new SSTable generation and
// truncates the WAL. The caller must hold e.mu for writing.
//
// The entire drain-write-truncate sequence runs under the single
// engine lock, so no mutation can be appended to the WAL between the
// drain and the truncate — the WAL's single-file Truncate has no
// notion of segments, so that window is the only way to guarantee the
// log never loses a record that was never captured in the new
// SSTable.
func (e *Engine) flushLocked() error {
	entries := e.memtable.Drain()
	if len(entries) == 0 {
		return nil
	}

	gen, err := e.manifest.Next()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	path := filepath.Join(e.dataDir, sstable.FlushedName(gen))
	w, err := sstable.NewWriter(path, e.cfg.IndexInterval, e.dm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}
	for _, en := range entries {
		if en.Deleted {
			err = w.DeleteEntry(en.Key)
		} else {
			err = w.PutEntry(en.Key, en.Value)
		}
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("%w: %v", ErrDurability, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	r, err := sstable.NewReader(path, e.dm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageCorruption, err)
	}
	e.tables = append(e.tables, r)

	if err := e.wal.Truncate(); err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	e.log.WithFields(logrus.Fields{"generation": gen, "entries": len(entries)}).Info("flushed memtable")

	if !e.closed && len(e.tables) > e.cfg.CompactionThreshold {
		e.scheduleCompact()
	}
	return nil
}

// scheduleCompact dispatches a full-merge compaction on a supervised
// goroutine.
func (e *Engine) scheduleCompact() {
	e.compactGroup.Go(e.compact)
}

// Close flushes any remaining MemTable contents, waits for every
// in-flight background flush or compaction to finish, and releases the
// engine's resources. It fails loudly if background work errored,
// rather than only logging it.
func (e *Engine) Close() error {
	var finalErr error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		if err := e.flushGroup.Wait(); err != nil {
			finalErr = fmt.Errorf("background flush: %w", err)
		}
		if err := e.compactGroup.Wait(); err != nil {
			if finalErr == nil {
				finalErr = fmt.Errorf("background compaction: %w", err)
			}
		}

		e.mu.Lock()
		if err := e.flushLocked(); err != nil && finalErr == nil {
			finalErr = err
		}
		for _, t := range e.tables {
			_ = t.Close()
		}
		e.mu.Unlock()

		if err := e.wal.Close(); err != nil && finalErr == nil {
			finalErr = fmt.Errorf("close wal: %w", err)
		}
		if err := e.manifest.Close(); err != nil && finalErr == nil {
			finalErr = err
		}
		if err := e.lock.release(); err != nil && finalErr == nil {
			finalErr = err
		}

		e.log.Info("engine closed")
	})
	return finalErr
}
