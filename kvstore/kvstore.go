// Package kvstore defines the ordered key-value store contract that the
// state journal is built on, and the buffered adapter that turns any
// conforming backend into one with atomic batch commits.
package kvstore

import "errors"

// ErrNotFound is returned by Get when the key is absent, whether because it
// was never written or because it was explicitly deleted.
var ErrNotFound = errors.New("kvstore: not found")

// KeyValueReader wraps the Get and Has methods of a backing data store.
type KeyValueReader interface {
	// Get retrieves the value for key, or ErrNotFound if it is absent.
	Get(key []byte) ([]byte, error)
	// Has reports whether the key exists in the store.
	Has(key []byte) (bool, error)
}

// KeyValueWriter wraps the Put and Delete methods of a backing data store.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterator walks a backend's keyspace in binary-alphabetical order starting
// at the first key >= start that has the given prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch is a write-only staging area that commits all staged operations to
// the backend atomically.
type Batch interface {
	KeyValueWriter
	// ValueSize returns the amount of staged data, for deciding when to flush.
	ValueSize() int
	// Write flushes the staged operations to the backend as one durable unit.
	Write() error
	// Reset clears the staged operations.
	Reset()
}

// KeyValueStore is the ordered key-value store that the state journal's KV
// backend adapter wraps: get/put/delete plus an atomic batch commit and a
// range iterator. Two concrete backends are provided (leveldbstore,
// pebblestore); any store that can implement this interface is usable in
// its place, including the in-memory memstore used by tests.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	NewBatch() Batch
	NewIterator(prefix, start []byte) Iterator
	Close() error
}
