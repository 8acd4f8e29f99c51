package sstable

import (
	"fmt"
	"strconv"
	"strings"
)

// File format constants for the SSTable footer.
const (
	indexOffsetSize = 8
	indexSizeSize   = 8
	// FooterSize is the total size of the fixed-length SSTable footer.
	FooterSize = indexOffsetSize + indexSizeSize
)

// indexEntry is one entry in the sparse in-memory key index: the key
// and the byte offset of its data-section record.
type indexEntry struct {
	Key    []byte
	Offset int64
}

const (
	flushedSuffix   = ".dat"
	compactedSuffix = "_compacted.dat"
)

// FlushedName returns the on-disk name of a flushed (non-compacted)
// SSTable at the given generation.
func FlushedName(generation uint64) string {
	return fmt.Sprintf("sstable_%020d%s", generation, flushedSuffix)
}

// CompactedName returns the on-disk name of a compacted SSTable at the
// given generation.
func CompactedName(generation uint64) string {
	return fmt.Sprintf("sstable_%020d%s", generation, compactedSuffix)
}

// ParseGeneration extracts the generation number from either a
// flushed or compacted SSTable filename. ok is false for anything
// else found in the data directory.
func ParseGeneration(name string) (generation uint64, ok bool) {
	rest, isCompacted := strings.CutSuffix(name, compactedSuffix)
	if !isCompacted {
		var isFlushed bool
		rest, isFlushed = strings.CutSuffix(name, flushedSuffix)
		if !isFlushed {
			return 0, false
		}
	}
	rest, ok = strings.CutPrefix(rest, "sstable_")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
