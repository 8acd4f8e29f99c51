// Package store defines the entry representation shared by the WAL,
// MemTable, and SSTable layers, along with its on-disk codec.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Kind distinguishes a live value from a tombstone in the on-disk encoding.
type Kind byte

const (
	// KindPut marks an entry carrying a live value.
	KindPut Kind = iota
	// KindDelete marks a tombstone: the key is present, the value is not.
	KindDelete
)

// headerSize is [1 byte Kind][4 bytes KeyLen][4 bytes ValueLen].
const headerSize = 9

// ErrShortBuffer is returned by Decode when buf does not hold a full entry.
// Callers treat it as "nothing more to read here", not as corruption.
var ErrShortBuffer = errors.New("store: short buffer")

// Entry is the (key, value-or-tombstone) pair moved between the WAL,
// MemTable, and SSTable. Deleted is an explicit tag rather than an
// overloaded nil Value, so a legitimately empty stored value can never
// be confused with a deletion marker.
type Entry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Put constructs a live entry.
func Put(key, value []byte) Entry {
	return Entry{Key: key, Value: value}
}

// Tombstone constructs a deletion marker for key.
func Tombstone(key []byte) Entry {
	return Entry{Key: key, Deleted: true}
}

// Encode appends the length-prefixed encoding of e to buf and returns
// the extended slice. Format: [Kind][KeyLen][ValueLen][Key][Value].
func Encode(buf []byte, e Entry) []byte {
	var hdr [headerSize]byte
	if e.Deleted {
		hdr[0] = byte(KindDelete)
	} else {
		hdr[0] = byte(KindPut)
	}
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(e.Key)))
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(e.Value)))

	buf = append(buf, hdr[:]...)
	buf = append(buf, e.Key...)
	if !e.Deleted {
		buf = append(buf, e.Value...)
	}
	return buf
}

// EncodedLen returns the number of bytes Encode would append for e.
func EncodedLen(e Entry) int {
	if e.Deleted {
		return headerSize + len(e.Key)
	}
	return headerSize + len(e.Key) + len(e.Value)
}

// Decode parses a single entry from the front of buf, copying out the
// key and value so the result outlives buf. It returns the entry and
// the number of bytes consumed. ErrShortBuffer means buf held less
// than one full entry — callers at a file tail treat this as "no more
// records", not as corruption.
func Decode(buf []byte) (Entry, int, error) {
	if len(buf) < headerSize {
		return Entry{}, 0, ErrShortBuffer
	}
	kind := Kind(buf[0])
	keyLen := binary.BigEndian.Uint32(buf[1:5])
	valLen := binary.BigEndian.Uint32(buf[5:9])

	total := headerSize + int(keyLen)
	if kind != KindDelete {
		total += int(valLen)
	}
	if len(buf) < total {
		return Entry{}, 0, ErrShortBuffer
	}

	key := append([]byte(nil), buf[headerSize:headerSize+int(keyLen)]...)
	e := Entry{Key: key, Deleted: kind == KindDelete}
	if !e.Deleted {
		e.Value = append([]byte(nil), buf[headerSize+int(keyLen):total]...)
	}
	return e, total, nil
}

// CompareKeys orders two keys lexicographically over their raw bytes.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
