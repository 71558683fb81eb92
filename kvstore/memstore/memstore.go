// Package memstore implements kvstore.KeyValueStore entirely in memory, for
// tests and for callers that don't need durability.
package memstore

import (
	"sort"
	"sync"

	"github.com/statejournal/statejournal/kvstore"
)

// Database is a concurrency-safe, unordered-on-disk-but-sorted-on-iterate
// in-memory key-value store.
type Database struct {
	lock sync.RWMutex
	db   map[string][]byte
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{db: make(map[string][]byte)}
}

func (d *Database) Get(key []byte) ([]byte, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.db == nil {
		return nil, kvstore.ErrNotFound
	}
	v, ok := d.db[string(key)]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (d *Database) Has(key []byte) (bool, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	_, ok := d.db[string(key)]
	return ok, nil
}

func (d *Database) Put(key, value []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	d.db[string(key)] = cp
	return nil
}

func (d *Database) Delete(key []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	delete(d.db, string(key))
	return nil
}

func (d *Database) Close() error { return nil }

func (d *Database) NewBatch() kvstore.Batch {
	return &batch{db: d}
}

func (d *Database) NewIterator(prefix, start []byte) kvstore.Iterator {
	d.lock.RLock()
	defer d.lock.RUnlock()

	var keys []string
	for k := range d.db {
		if len(prefix) > 0 && (len(k) < len(prefix) || k[:len(prefix)] != string(prefix)) {
			continue
		}
		if len(start) > 0 && k < string(prefix)+string(start) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = d.db[k]
	}
	return &iterator{keys: keys, values: values, pos: -1}
}

type iterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *iterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *iterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *iterator) Value() []byte { return it.values[it.pos] }
func (it *iterator) Release()      {}
func (it *iterator) Error() error  { return nil }

type keyValue struct {
	key    []byte
	value  []byte
	delete bool
}

type batch struct {
	db   *Database
	ops  []keyValue
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.ops = append(b.ops, keyValue{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.ops = append(b.ops, keyValue{key: append([]byte{}, key...), delete: true})
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int { return b.size }

func (b *batch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	for _, op := range b.ops {
		if op.delete {
			delete(b.db.db, string(op.key))
		} else {
			b.db.db[string(op.key)] = op.value
		}
	}
	return nil
}

func (b *batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
