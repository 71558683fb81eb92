// Package leveldbstore adapts github.com/syndtr/goleveldb to kvstore.KeyValueStore.
package leveldbstore

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/statejournal/statejournal/kvstore"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Database is a goleveldb-backed kvstore.KeyValueStore.
type Database struct {
	fn  string
	db  *leveldb.DB
	log log.Logger
}

// New opens (or creates) a leveldb database at file, with the given LRU
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

	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 nil,
	})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		logger.Warn("Recovering leveldb database from corruption")
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}
	return &Database{fn: file, db: db, log: logger}, nil
}

func (d *Database) Get(key []byte) ([]byte, error) {
	dat, err := d.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, kvstore.ErrNotFound
		}
		return nil, err
	}
	return dat, nil
}

func (d *Database) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

func (d *Database) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

func (d *Database) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) NewBatch() kvstore.Batch {
	return &batch{db: d.db, b: new(leveldb.Batch)}
}

func (d *Database) NewIterator(prefix, start []byte) kvstore.Iterator {
	var rang *util.Range
	if len(prefix) > 0 {
		rang = util.BytesPrefix(prefix)
	} else {
		rang = &util.Range{}
	}
	if len(start) > 0 {
		rang.Start = append(append([]byte{}, prefix...), start...)
	}
	return &iterator{iter: d.db.NewIterator(rang, nil)}
}

type iterator struct {
	iter interface {
		Next() bool
		Key() []byte
		Value() []byte
		Release()
		Error() error
	}
}

func (it *iterator) Next() bool       { return it.iter.Next() }
func (it *iterator) Key() []byte      { return it.iter.Key() }
func (it *iterator) Value() []byte    { return it.iter.Value() }
func (it *iterator) Release()         { it.iter.Release() }
func (it *iterator) Error() error     { return it.iter.Error() }

type batch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int { return b.size }

func (b *batch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}
