// Package pebblestore adapts github.com/cockroachdb/pebble to
// kvstore.KeyValueStore, as an alternative backend to leveldbstore.
package pebblestore

import (
	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/statejournal/statejournal/kvstore"
)

// Database is a pebble-backed kvstore.KeyValueStore.
type Database struct {
	fn  string
	db  *pebble.DB
	log log.Logger
}

// New opens (or creates) a pebble database at file, with the given
// block-cache size (MB) and max open file handles.
func New(file string, cache int, handles int, namespace string) (*Database, error) {
	if cache < 16 {
		cache = 16
	}
	if handles < 16 {
		handles = 16
	}
	logger := log.New("database", file)
	logger.Info("Allocated cache and file handles", "cache", cache, "handles", handles)

	opts := &pebble.Options{
		Cache:                       pebble.NewCache(int64(cache * 1024 * 1024)),
		MaxOpenFiles:                handles,
		MemTableSize:                cache / 4 * 1024 * 1024,
		MemTableStopWritesThreshold: 2,
	}
	db, err := pebble.Open(file, opts)
	if err != nil {
		return nil, err
	}
	return &Database{fn: file, db: db, log: logger}, nil
}

func (d *Database) Get(key []byte) ([]byte, error) {
	dat, closer, err := d.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, kvstore.ErrNotFound
		}
		return nil, err
	}
	cp := make([]byte, len(dat))
	copy(cp, dat)
	closer.Close()
	return cp, nil
}

func (d *Database) Has(key []byte) (bool, error) {
	_, closer, err := d.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (d *Database) Put(key, value []byte) error {
	return d.db.Set(key, value, pebble.NoSync)
}

func (d *Database) Delete(key []byte) error {
	return d.db.Delete(key, pebble.NoSync)
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) NewBatch() kvstore.Batch {
	return &batch{db: d.db, b: d.db.NewBatch()}
}

func (d *Database) NewIterator(prefix, start []byte) kvstore.Iterator {
	var lower, upper []byte
	if len(prefix) > 0 {
		lower = append(append([]byte{}, prefix...), start...)
		upper = upperBound(prefix)
	} else if len(start) > 0 {
		lower = start
	}
	it, _ := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	return &iterator{iter: it, first: true}
}

// upperBound returns the smallest key greater than every key with the given
// prefix, by incrementing the last byte that isn't already 0xff.
func upperBound(prefix []byte) []byte {
	up := append([]byte{}, prefix...)
	for i := len(up) - 1; i >= 0; i-- {
		if up[i] < 0xff {
			up[i]++
			return up[:i+1]
		}
	}
	return nil
}

type iterator struct {
	iter  *pebble.Iterator
	first bool
}

func (it *iterator) Next() bool {
	if it.first {
		it.first = false
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *iterator) Key() []byte   { return it.iter.Key() }
func (it *iterator) Value() []byte { return it.iter.Value() }
func (it *iterator) Release()      { it.iter.Close() }
func (it *iterator) Error() error  { return it.iter.Error() }

type batch struct {
	db   *pebble.DB
	b    *pebble.Batch
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.b.Set(key, value, nil)
}

func (b *batch) Delete(key []byte) error {
	b.size += len(key)
	return b.b.Delete(key, nil)
}

func (b *batch) ValueSize() int { return b.size }

func (b *batch) Write() error {
	return b.db.Apply(b.b, pebble.NoSync)
}

func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}
