package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/flint-kv/flintkv/internal/diskmanager"
	"github.com/flint-kv/flintkv/internal/store"
)

// Reader provides indexed random access and ascending iteration over
// an immutable SSTable file.
type Reader struct {
	dm         diskmanager.DiskManager
	file       diskmanager.FileHandle
	path       string
	generation uint64
	compacted  bool
	index      []indexEntry
	indexBase  int64
}

// NewReader opens path through dm and loads its sparse index into
// memory. If dm already has path open (e.g. the writer that just
// produced it hasn't closed it yet), the cached handle is reused.
func NewReader(path string, dm diskmanager.DiskManager) (*Reader, error) {
	file, err := dm.Open(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("sstable: open: %w", err)
	}

	gen, ok := ParseGeneration(filepath.Base(path))
	if !ok {
		_ = dm.Close(path)
		return nil, fmt.Errorf("sstable: unrecognized file name %q", path)
	}

	r := &Reader{
		dm:         dm,
		file:       file,
		path:       path,
		generation: gen,
		compacted:  isCompactedName(filepath.Base(path)),
	}
	if err := r.loadIndex(); err != nil {
		_ = dm.Close(path)
		return nil, fmt.Errorf("sstable: load index: %w", err)
	}
	return r, nil
}

func (r *Reader) loadIndex() error {
	stat, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if stat.Size() < FooterSize {
		return nil
	}

	footerOffset := stat.Size() - FooterSize
	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(io.NewSectionReader(r.file, footerOffset, FooterSize), footer); err != nil {
		return fmt.Errorf("read footer: %w", err)
	}

	indexOffset := int64(binary.BigEndian.Uint64(footer[:indexOffsetSize]))
	indexSize := int64(binary.BigEndian.Uint64(footer[indexOffsetSize:]))
	r.indexBase = indexOffset

	indexBuf := make([]byte, indexSize)
	if _, err := io.ReadFull(io.NewSectionReader(r.file, indexOffset, indexSize), indexBuf); err != nil {
		return fmt.Errorf("read index section: %w", err)
	}

	var offset int64
	for offset < indexSize {
		entry, n, err := store.Decode(indexBuf[offset:])
		if err != nil {
			return fmt.Errorf("decode index entry: %w", err)
		}
		if offset+int64(n)+8 > indexSize {
			return fmt.Errorf("corrupt index: missing data offset")
		}
		dataOffset := int64(binary.BigEndian.Uint64(indexBuf[offset+int64(n) : offset+int64(n)+8]))
		r.index = append(r.index, indexEntry{Key: entry.Key, Offset: dataOffset})
		offset += int64(n) + 8
	}
	return nil
}

// blockBounds returns the [start, end) data-section span that may
// contain key, based on the sparse index. ok is false if key precedes
// every indexed key (so it cannot be present).
func (r *Reader) blockBounds(key []byte) (start, end int64, ok bool) {
	pos := sort.Search(len(r.index), func(i int) bool {
		return store.CompareKeys(r.index[i].Key, key) > 0
	}) - 1
	if pos < 0 {
		return 0, 0, false
	}
	end = r.indexBase
	if pos+1 < len(r.index) {
		end = r.index[pos+1].Offset
	}
	return r.index[pos].Offset, end, true
}

// Get looks up key. found is false when no layer in this table has
// the key at all; when found is true, entry.Deleted distinguishes a
// tombstone from a live value.
func (r *Reader) Get(key []byte) (entry store.Entry, found bool, err error) {
	start, end, ok := r.blockBounds(key)
	if !ok {
		return store.Entry{}, false, nil
	}

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(r.file, start, end-start), buf); err != nil {
		return store.Entry{}, false, fmt.Errorf("sstable: read block: %w", err)
	}

	var cursor []byte = buf
	for len(cursor) > 0 {
		e, n, derr := store.Decode(cursor)
		if derr != nil {
			break
		}
		cmp := store.CompareKeys(e.Key, key)
		if cmp == 0 {
			return e, true, nil
		}
		if cmp > 0 {
			break
		}
		cursor = cursor[n:]
	}
	return store.Entry{}, false, nil
}

// Range yields ascending (key, entry) pairs with lo <= key <= hi,
// tombstones included — the Engine performs cross-layer tombstone
// resolution, not this layer.
func (r *Reader) Range(lo, hi []byte) ([]store.Entry, error) {
	it := r.NewIterator()
	var result []store.Entry
	for it.Next() {
		k := it.Entry().Key
		if store.CompareKeys(k, lo) < 0 {
			continue
		}
		if store.CompareKeys(k, hi) > 0 {
			break
		}
		result = append(result, it.Entry())
	}
	return result, it.Err()
}

// Generation returns the SSTable's generation number: higher is newer.
func (r *Reader) Generation() uint64 { return r.generation }

// Compacted reports whether this table was produced by compaction.
func (r *Reader) Compacted() bool { return r.compacted }

// Path returns the SSTable's file path.
func (r *Reader) Path() string { return r.path }

// Close closes the underlying file through dm.
func (r *Reader) Close() error { return r.dm.Close(r.path) }

// NewIterator returns an ascending iterator over the full data
// section, used by compaction's merge walk.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{reader: r, offset: 0, dataEnd: r.indexBase}
}

// Iterator provides sequential, ascending access to the entries in an
// SSTable's data section.
type Iterator struct {
	reader  *Reader
	offset  int64
	entry   store.Entry
	dataEnd int64
	err     error
}

// Next advances the iterator, returning false at end-of-data or error.
func (it *Iterator) Next() bool {
	if it.err != nil || it.offset >= it.dataEnd {
		return false
	}

	// Read the fixed-size header first, then the whole record whose
	// size it gives, so no size has to be guessed.
	hdr := make([]byte, 9)
	if _, err := it.reader.file.ReadAt(hdr, it.offset); err != nil {
		if err == io.EOF {
			return false
		}
		it.err = err
		return false
	}
	keyLen := binary.BigEndian.Uint32(hdr[1:5])
	valLen := binary.BigEndian.Uint32(hdr[5:9])
	total := 9 + int(keyLen)
	if hdr[0] == byte(store.KindPut) {
		total += int(valLen)
	}

	buf := make([]byte, total)
	if _, err := it.reader.file.ReadAt(buf, it.offset); err != nil {
		if err == io.EOF {
			return false
		}
		it.err = err
		return false
	}

	e, n, err := store.Decode(buf)
	if err != nil {
		it.err = fmt.Errorf("sstable: decode entry: %w", err)
		return false
	}
	it.entry = e
	it.offset += int64(n)
	return true
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() store.Entry { return it.entry }

// Key returns the current entry's key.
func (it *Iterator) Key() []byte { return it.entry.Key }

// Deleted reports whether the current entry is a tombstone.
func (it *Iterator) Deleted() bool { return it.entry.Deleted }

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error { return it.err }

func isCompactedName(name string) bool {
	return len(name) >= len(compactedSuffix) && name[len(name)-len(compactedSuffix):] == compactedSuffix
}
