// Package memtable implements the in-memory, bounded, ordered buffer
// that absorbs writes before they are flushed to an SSTable.
package memtable

import "github.com/flint-kv/flintkv/internal/store"

// MemTable is a bounded, ordered, mutable map from key to
// value-or-tombstone, backed by a skip list.
type MemTable struct {
	sl         *skipList
	maxEntries int
}

// New creates an empty MemTable bounded at maxEntries entries.
func New(maxEntries int) *MemTable {
	return &MemTable{sl: newSkipList(), maxEntries: maxEntries}
}

// Put inserts or overwrites key with value.
func (m *MemTable) Put(key, value []byte) {
	m.sl.put(store.Put(key, value))
}

// Delete inserts a tombstone for key. A put that follows a delete on
// the same key restores it; a delete that follows a put masks it —
// the skip list's overwrite-in-place semantics give this for free.
func (m *MemTable) Delete(key []byte) {
	m.sl.put(store.Tombstone(key))
}

// Get reports the entry for key. The second return distinguishes
// "absent" from "present" (entry.Deleted further distinguishes a
// tombstone from a live value).
func (m *MemTable) Get(key []byte) (store.Entry, bool) {
	return m.sl.get(key)
}

// Range returns ascending, non-tombstoned entries with lo <= key <= hi.
func (m *MemTable) Range(lo, hi []byte) []store.Entry {
	entries := m.sl.rangeEntries(lo, hi)
	result := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Deleted {
			result = append(result, e)
		}
	}
	return result
}

// RangeAll returns ascending entries with lo <= key <= hi, tombstones
// included — used by the Engine to overlay this table over SSTables.
func (m *MemTable) RangeAll(lo, hi []byte) []store.Entry {
	return m.sl.rangeEntries(lo, hi)
}

// IsFull reports whether the table has reached its configured entry
// count threshold.
func (m *MemTable) IsFull() bool {
	return m.sl.size >= m.maxEntries
}

// Len returns the number of entries currently held (live and
// tombstoned).
func (m *MemTable) Len() int {
	return m.sl.size
}

// Drain returns every entry ascending, tombstones included, and resets
// the table to empty. Used to hand the table's contents to a flush.
func (m *MemTable) Drain() []store.Entry {
	entries := m.sl.entries()
	m.sl.clear()
	return entries
}
