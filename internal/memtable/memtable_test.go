package memtable_test

import (
	"testing"

	"github.com/flint-kv/flintkv/internal/memtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTable_PutAndGet(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("key1"), []byte("value1"))

	entry, ok := mt.Get([]byte("key1"))
	require.True(t, ok)
	assert.False(t, entry.Deleted)
	assert.Equal(t, []byte("value1"), entry.Value)
}

func TestMemTable_Delete(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("key1"), []byte("value1"))
	mt.Delete([]byte("key1"))

	entry, ok := mt.Get([]byte("key1"))
	require.True(t, ok, "a tombstone is still a present entry")
	assert.True(t, entry.Deleted)
}

func TestMemTable_PutAfterDeleteRestoresKey(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("key1"), []byte("v1"))
	mt.Delete([]byte("key1"))
	mt.Put([]byte("key1"), []byte("v2"))

	entry, ok := mt.Get([]byte("key1"))
	require.True(t, ok)
	assert.False(t, entry.Deleted)
	assert.Equal(t, []byte("v2"), entry.Value)
}

func TestMemTable_Overwrite(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("key1"), []byte("v1"))
	mt.Put([]byte("key1"), []byte("v2"))

	entry, ok := mt.Get([]byte("key1"))
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), entry.Value)
	assert.Equal(t, 1, mt.Len())
}

func TestMemTable_RangeExcludesTombstones(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("a"), []byte("1"))
	mt.Put([]byte("b"), []byte("2"))
	mt.Put([]byte("c"), []byte("3"))
	mt.Put([]byte("d"), []byte("4"))
	mt.Delete([]byte("c"))

	entries := mt.Range([]byte("a"), []byte("d"))
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("a"), entries[0].Key)
	assert.Equal(t, []byte("b"), entries[1].Key)
	assert.Equal(t, []byte("d"), entries[2].Key)
}

func TestMemTable_RangeAllIncludesTombstones(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("a"), []byte("1"))
	mt.Delete([]byte("b"))

	entries := mt.RangeAll([]byte("a"), []byte("b"))
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Deleted)
}

func TestMemTable_IsFull(t *testing.T) {
	mt := memtable.New(2)

	assert.False(t, mt.IsFull())
	mt.Put([]byte("a"), []byte("1"))
	assert.False(t, mt.IsFull())
	mt.Put([]byte("b"), []byte("2"))
	assert.True(t, mt.IsFull())
}

func TestMemTable_DrainResetsTable(t *testing.T) {
	mt := memtable.New(100)

	mt.Put([]byte("b"), []byte("2"))
	mt.Put([]byte("a"), []byte("1"))
	mt.Delete([]byte("c"))

	entries := mt.Drain()
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("a"), entries[0].Key)
	assert.Equal(t, []byte("b"), entries[1].Key)
	assert.Equal(t, []byte("c"), entries[2].Key)
	assert.True(t, entries[2].Deleted)

	assert.Equal(t, 0, mt.Len())
	_, ok := mt.Get([]byte("a"))
	assert.False(t, ok)
}
