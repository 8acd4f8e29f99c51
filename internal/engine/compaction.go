package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flint-kv/flintkv/internal/sstable"
	"github.com/sirupsen/logrus"
)

// compact performs a full merge of every current SSTable into a single
// new generation, dropping tombstones since no older layer survives to
// need them. Tables appended by a concurrent flush while the merge was
// running are left untouched.
func (e *Engine) compact() error {
	e.mu.Lock()
	if e.closed || len(e.tables) <= e.cfg.CompactionThreshold {
		e.mu.Unlock()
		return nil
	}
	inputs := append([]*sstable.Reader(nil), e.tables...)

	// Next() must be called before releasing e.mu: a flush that slips in
	// between the inputs snapshot and generation allocation would
	// otherwise be able to claim a lower generation than this
	// compaction's output while holding newer data for an overlapping
	// key, and the older-data output would then sort as the newest
	// table.
	gen, err := e.manifest.Next()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}
	e.mu.Unlock()

	if len(inputs) == 0 {
		return nil
	}

	outPath := filepath.Join(e.dataDir, sstable.CompactedName(gen))
	w, err := sstable.NewWriter(outPath, e.cfg.IndexInterval, e.dm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	merger := sstable.NewMerger(inputs, w)
	resultPath, err := merger.Merge()
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: %v", ErrDurability, err)
	}

	output, err := sstable.NewReader(resultPath, e.dm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageCorruption, err)
	}

	consumed := make(map[*sstable.Reader]bool, len(inputs))
	for _, r := range inputs {
		consumed[r] = true
	}

	e.mu.Lock()
	survivors := make([]*sstable.Reader, 0, len(e.tables)-len(inputs)+1)
	survivors = append(survivors, output)
	for _, r := range e.tables {
		if !consumed[r] {
			survivors = append(survivors, r)
		}
	}
	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Generation() < survivors[j].Generation()
	})
	e.tables = survivors
	e.mu.Unlock()

	for _, r := range inputs {
		path := r.Path()
		_ = r.Close()
		if err := e.dm.Delete(path); err != nil && !os.IsNotExist(err) {
			e.log.WithError(err).WithField("path", path).Warn("failed to remove compacted input")
		}
	}

	e.log.WithFields(logrus.Fields{
		"generation": gen,
		"inputs":     len(inputs),
	}).Info("compacted tables")
	return nil
}
