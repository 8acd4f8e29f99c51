package engine

import "errors"

// ErrInvalidArgument is returned for a malformed caller input, such as
// a nil key.
var ErrInvalidArgument = errors.New("engine: invalid argument")

// ErrDurability is returned when a write could not be made durable
// (WAL append, SSTable flush, or directory fsync failed).
var ErrDurability = errors.New("engine: durability failure")

// ErrStorageCorruption is returned when on-disk state fails to
// validate during recovery (a corrupt WAL record, an unreadable
// SSTable).
var ErrStorageCorruption = errors.New("engine: storage corruption")

// ErrClosed is returned by Put, Delete, and BatchPut once Close has
// begun.
var ErrClosed = errors.New("engine: closed")

// ErrAlreadyLocked is returned by Open when another live process holds
// the data directory's advisory lock.
var ErrAlreadyLocked = errors.New("engine: data directory already locked")
