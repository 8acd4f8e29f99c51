package sstable

import (
	"container/heap"
	"fmt"

	"github.com/flint-kv/flintkv/internal/store"
)

// Merger performs a full, heap-based k-way merge of a set of SSTables
// into a single new one. It is the mechanism behind compaction: since
// no older layer survives a full merge, tombstones are dropped rather
// than carried forward — there is nothing left for them to shadow.
type Merger struct {
	sources []*Reader
	output  *Writer
}

// NewMerger builds a merger that reads sources and writes the merged
// result through output. Sources are ranked by position: on a
// duplicate key the later source wins, so callers pass them oldest
// generation first.
func NewMerger(sources []*Reader, output *Writer) *Merger {
	return &Merger{sources: sources, output: output}
}

// mergeItem is one source's current front-of-iterator entry, tracked
// in the merge heap.
type mergeItem struct {
	entry    store.Entry
	iter     *Iterator
	priority int // index into sources; higher index wins key ties
}

// mergeHeap orders items by key ascending, and by priority descending
// on key ties so the newest source's value for a duplicate key wins.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	cmp := store.CompareKeys(h[i].entry.Key, h[j].entry.Key)
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].priority > h[j].priority
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge drains all sources in ascending key order, keeping only the
// highest-priority (newest) entry for any duplicate key, dropping
// tombstones, and writing the survivors to the output writer. It
// finishes the output and returns its path.
func (m *Merger) Merge() (string, error) {
	h := &mergeHeap{}
	heap.Init(h)

	for i, src := range m.sources {
		it := src.NewIterator()
		if it.Next() {
			heap.Push(h, &mergeItem{entry: it.Entry(), iter: it, priority: i})
		} else if err := it.Err(); err != nil {
			return "", fmt.Errorf("sstable: merge read %s: %w", src.Path(), err)
		}
	}

	var lastKey []byte
	haveLastKey := false

	for h.Len() > 0 {
		item := heap.Pop(h).(*mergeItem)
		entry := item.entry

		isDuplicate := haveLastKey && store.CompareKeys(entry.Key, lastKey) == 0
		if !isDuplicate {
			if !entry.Deleted {
				if err := m.output.PutEntry(entry.Key, entry.Value); err != nil {
					return "", err
				}
			}
			lastKey = entry.Key
			haveLastKey = true
		}

		if item.iter.Next() {
			item.entry = item.iter.Entry()
			heap.Push(h, item)
		} else if err := item.iter.Err(); err != nil {
			return "", fmt.Errorf("sstable: merge read: %w", err)
		}
	}

	if err := m.output.Finish(); err != nil {
		return "", err
	}
	return m.output.Path(), nil
}
