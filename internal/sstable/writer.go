// Package sstable implements the immutable, sparse-indexed, on-disk
// sorted run that backs a flushed or compacted generation of data.
package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flint-kv/flintkv/internal/diskmanager"
	"github.com/flint-kv/flintkv/internal/store"
)

// Writer builds a new SSTable file. Entries must be supplied in
// ascending key order; the writer does not sort.
type Writer struct {
	dm            diskmanager.DiskManager
	file          diskmanager.FileHandle
	dir           string
	path          string
	index         []indexEntry
	offset        int64
	indexSize     int64
	count         int
	indexInterval int
	finished      bool
}

// NewWriter creates a writer for a new SSTable at path, opening it
// through dm so the table's file handle shares dm's cache with every
// other file the engine has open. Every indexInterval-th data entry
// gets a sparse index entry (1 means every entry is indexed).
func NewWriter(path string, indexInterval int, dm diskmanager.DiskManager) (*Writer, error) {
	if indexInterval < 1 {
		indexInterval = 1
	}
	file, err := dm.Open(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("sstable: create: %w", err)
	}
	return &Writer{
		dm:            dm,
		file:          file,
		dir:           filepath.Dir(path),
		path:          path,
		indexInterval: indexInterval,
	}, nil
}

// PutEntry writes a live key-value record to the data section.
func (w *Writer) PutEntry(key, value []byte) error {
	if w.finished {
		return fmt.Errorf("sstable: writer already finished")
	}
	return w.writeEntry(store.Put(key, value))
}

// DeleteEntry writes a tombstone record to the data section.
func (w *Writer) DeleteEntry(key []byte) error {
	if w.finished {
		return fmt.Errorf("sstable: writer already finished")
	}
	return w.writeEntry(store.Tombstone(key))
}

func (w *Writer) writeEntry(entry store.Entry) error {
	entryOffset := w.offset

	buf := store.Encode(nil, entry)
	n, err := w.file.WriteAt(buf, w.offset)
	if err != nil {
		return fmt.Errorf("sstable: write entry: %w", err)
	}
	w.offset += int64(n)

	if w.count%w.indexInterval == 0 {
		w.index = append(w.index, indexEntry{Key: entry.Key, Offset: entryOffset})
	}
	w.count++
	return nil
}

// writeIndex appends the sparse index section: for each indexed key,
// the store-encoded key record (as a put with no value) followed by
// its 8-byte data offset.
func (w *Writer) writeIndex() error {
	start := w.offset
	for _, ie := range w.index {
		buf := store.Encode(nil, store.Put(ie.Key, nil))
		n, err := w.file.WriteAt(buf, w.offset)
		if err != nil {
			return fmt.Errorf("sstable: write index key: %w", err)
		}
		w.offset += int64(n)

		var offBuf [8]byte
		binary.BigEndian.PutUint64(offBuf[:], uint64(ie.Offset))
		if _, err := w.file.WriteAt(offBuf[:], w.offset); err != nil {
			return fmt.Errorf("sstable: write index offset: %w", err)
		}
		w.offset += 8
	}
	w.indexSize = w.offset - start
	return nil
}

// Finish writes the index and footer, fsyncs the file and its
// containing directory, and marks the table read-only. The directory
// fsync is what makes the new file durable even if the system crashes
// before the directory entry itself is flushed.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}

	indexOffset := w.offset
	if err := w.writeIndex(); err != nil {
		return err
	}

	footer := make([]byte, FooterSize)
	binary.BigEndian.PutUint64(footer[:indexOffsetSize], uint64(indexOffset))
	binary.BigEndian.PutUint64(footer[indexOffsetSize:], uint64(w.indexSize))
	if _, err := w.file.WriteAt(footer, w.offset); err != nil {
		return fmt.Errorf("sstable: write footer: %w", err)
	}
	w.offset += FooterSize

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sstable: sync: %w", err)
	}
	if err := syncDir(w.dir); err != nil {
		return err
	}

	w.finished = true
	return nil
}

// Close finishes the table if needed and closes the underlying file
// through dm, so the handle cache doesn't keep a stale entry around.
func (w *Writer) Close() error {
	if !w.finished {
		if err := w.Finish(); err != nil {
			_ = w.dm.Close(w.path)
			return err
		}
	}
	return w.dm.Close(w.path)
}

// Path returns the SSTable's file path.
func (w *Writer) Path() string {
	return w.path
}

// syncDir fsyncs a directory so that a newly created file's directory
// entry survives a crash, not just its contents.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("sstable: open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sstable: sync dir: %w", err)
	}
	return nil
}
