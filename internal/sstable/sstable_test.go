package sstable_test

import (
	"path/filepath"
	"testing"

	"github.com/flint-kv/flintkv/internal/diskmanager"
	"github.com/flint-kv/flintkv/internal/sstable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, dm diskmanager.DiskManager, dir string, generation uint64, entries map[string]string, tombstones []string) string {
	t.Helper()
	path := filepath.Join(dir, sstable.FlushedName(generation))
	w, err := sstable.NewWriter(path, 2, dm)
	require.NoError(t, err)

	keys := make([]string, 0, len(entries)+len(tombstones))
	for k := range entries {
		keys = append(keys, k)
	}
	keys = append(keys, tombstones...)
	// simple insertion sort keeps this test independent of sort package semantics
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}

	isTombstone := func(k string) bool {
		for _, tk := range tombstones {
			if tk == k {
				return true
			}
		}
		return false
	}

	for _, k := range keys {
		if isTombstone(k) {
			require.NoError(t, w.DeleteEntry([]byte(k)))
		} else {
			require.NoError(t, w.PutEntry([]byte(k), []byte(entries[k])))
		}
	}
	require.NoError(t, w.Close())
	return path
}

func TestWriterReader_GetFindsLiveEntry(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()
	path := writeTable(t, dm, dir, 1, map[string]string{"a": "1", "b": "2", "c": "3"}, nil)

	r, err := sstable.NewReader(path, dm)
	require.NoError(t, err)
	defer r.Close()

	entry, found, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("2"), entry.Value)
	assert.False(t, entry.Deleted)
}

func TestWriterReader_GetMissingKey(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()
	path := writeTable(t, dm, dir, 1, map[string]string{"a": "1", "c": "3"}, nil)

	r, err := sstable.NewReader(path, dm)
	require.NoError(t, err)
	defer r.Close()

	_, found, err := r.Get([]byte("zzz"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriterReader_GetTombstone(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()
	path := writeTable(t, dm, dir, 1, map[string]string{"a": "1"}, []string{"b"})

	r, err := sstable.NewReader(path, dm)
	require.NoError(t, err)
	defer r.Close()

	entry, found, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, entry.Deleted)
}

func TestReader_Range(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()
	path := writeTable(t, dm, dir, 1, map[string]string{"a": "1", "b": "2", "d": "4"}, []string{"c"})

	r, err := sstable.NewReader(path, dm)
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Range([]byte("b"), []byte("d"))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("b"), entries[0].Key)
	assert.Equal(t, []byte("c"), entries[1].Key)
	assert.True(t, entries[1].Deleted)
	assert.Equal(t, []byte("d"), entries[2].Key)
}

func TestReader_Generation(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()
	path := writeTable(t, dm, dir, 42, map[string]string{"a": "1"}, nil)

	r, err := sstable.NewReader(path, dm)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(42), r.Generation())
	assert.False(t, r.Compacted())
}

func TestMerger_DropsTombstonesAndResolvesDuplicates(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()
	oldPath := writeTable(t, dm, dir, 1, map[string]string{"a": "old", "b": "keep"}, nil)
	newPath := writeTable(t, dm, dir, 2, map[string]string{"a": "new"}, []string{"c"})

	oldReader, err := sstable.NewReader(oldPath, dm)
	require.NoError(t, err)
	defer oldReader.Close()
	newReader, err := sstable.NewReader(newPath, dm)
	require.NoError(t, err)
	defer newReader.Close()

	outPath := filepath.Join(dir, sstable.CompactedName(3))
	w, err := sstable.NewWriter(outPath, 2, dm)
	require.NoError(t, err)

	// newReader (priority 1) must win over oldReader (priority 0) on
	// the shared key "a".
	merger := sstable.NewMerger([]*sstable.Reader{oldReader, newReader}, w)
	resultPath, err := merger.Merge()
	require.NoError(t, err)
	assert.Equal(t, outPath, resultPath)

	merged, err := sstable.NewReader(resultPath, dm)
	require.NoError(t, err)
	defer merged.Close()

	entry, found, err := merged.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("new"), entry.Value)

	entry, found, err = merged.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("keep"), entry.Value)

	_, found, err = merged.Get([]byte("c"))
	require.NoError(t, err)
	assert.False(t, found, "tombstones must not survive a full merge")
}

func TestParseGeneration(t *testing.T) {
	gen, ok := sstable.ParseGeneration(sstable.FlushedName(7))
	require.True(t, ok)
	assert.Equal(t, uint64(7), gen)

	gen, ok = sstable.ParseGeneration(sstable.CompactedName(9))
	require.True(t, ok)
	assert.Equal(t, uint64(9), gen)

	_, ok = sstable.ParseGeneration("manifest.json")
	assert.False(t, ok)
}
