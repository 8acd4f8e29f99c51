// Package flintkv is a durable, ordered key-value store built on an
// LSM-tree: an in-memory memtable absorbs writes, a write-ahead log
// makes every mutation durable before it is acknowledged, and
// background flush/compaction turn the memtable into immutable,
// sparse-indexed SSTables on disk.
//
// Example usage:
//
//	db, err := flintkv.Open("/path/to/database", nil, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Set([]byte("key"), []byte("value"))
//	if err != nil {
//		log.Printf("Set failed: %v", err)
//	}
//
//	value, exists := db.Get([]byte("key"))
//	if exists {
//		fmt.Printf("Value: %s\n", string(value))
//	}
package flintkv

import (
	"github.com/flint-kv/flintkv/internal/config"
	"github.com/flint-kv/flintkv/internal/engine"
	"github.com/flint-kv/flintkv/internal/store"
	"github.com/sirupsen/logrus"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config struct populated with default values.
// Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

// KV is a key paired with its value, returned by Range.
type KV struct {
	Key   []byte
	Value []byte
}

// DB is a thread-safe flintkv instance, providing the five durable
// operations the engine implements plus lifecycle management.
type DB struct {
	engine *engine.Engine
}

// Open opens or creates a database at the given directory. The
// directory is created if it doesn't exist; if data is already
// present, the write-ahead log is replayed before Open returns. A nil
// logger falls back to logrus's default. Only one DB may have a given
// directory open at a time; a second Open fails with
// engine.ErrAlreadyLocked.
func Open(path string, cfg *Config, log *logrus.Logger) (*DB, error) {
	e, err := engine.Open(path, cfg, log)
	if err != nil {
		return nil, err
	}
	return &DB{engine: e}, nil
}

// Set writes a key-value pair to the database, overwriting any
// existing value for key. An empty key is rejected with
// engine.ErrInvalidArgument; a nil value is stored as an empty value.
func (db *DB) Set(key, value []byte) error {
	return db.engine.Put(key, value)
}

// Get retrieves the value for a given key. Returns the value and true
// if found, or nil and false if the key is absent or was deleted.
func (db *DB) Get(key []byte) ([]byte, bool) {
	return db.engine.Get(key)
}

// Delete removes the key and its value from the database. Deleting an
// absent key is not an error.
func (db *DB) Delete(key []byte) error {
	return db.engine.Delete(key)
}

// SetBatch applies a set of writes as a single atomic unit: a crash
// during replay either sees all of them or none of them.
func (db *DB) SetBatch(kvs []KV) error {
	entries := make([]store.Entry, len(kvs))
	for i, kv := range kvs {
		entries[i] = store.Put(kv.Key, kv.Value)
	}
	return db.engine.BatchPut(entries)
}

// Range returns every live (non-deleted) key-value pair with
// lo <= key <= hi, ascending.
func (db *DB) Range(lo, hi []byte) ([]KV, error) {
	entries, err := db.engine.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	result := make([]KV, len(entries))
	for i, e := range entries {
		result[i] = KV{Key: e.Key, Value: e.Value}
	}
	return result, nil
}

// Close gracefully shuts down the database: flushes any remaining
// memtable data, waits for background flush/compaction to finish, and
// releases the data directory's lock. After Close, the DB must not be
// used again.
func (db *DB) Close() error {
	return db.engine.Close()
}
