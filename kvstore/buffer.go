package kvstore

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/holiman/bloomfilter/v2"
)

// bufferItemLimit is an approximate number of pending writes the buffer will
// hold before a caller is expected to Commit. It only feeds the bloom filter
// sizing below; the buffer itself never force-flushes.
const bufferItemLimit = 100_000

// bloomTargetError is a nominal false-positive rate. Nothing reads it: the
// filter's size comes from the caller's bloomBits.
const bloomTargetError = 0.02

// keyBloomHasher adapts a staged key's hash to the hash.Hash64 shape the
// bloom filter library wants, mirroring the account/storage hashers used to
// bloom-index a diff layer in this codebase's lineage.
type keyBloomHasher [8]byte

func (h keyBloomHasher) Write(p []byte) (int, error) { panic("not implemented") }
func (h keyBloomHasher) Sum(b []byte) []byte         { panic("not implemented") }
func (h keyBloomHasher) Reset()                      {}
func (h keyBloomHasher) BlockSize() int              { return 8 }
func (h keyBloomHasher) Size() int                   { return 8 }
func (h keyBloomHasher) Sum64() uint64               { return binary.BigEndian.Uint64(h[:]) }

func keyHash(key []byte) keyBloomHasher {
	var h keyBloomHasher
	// XOR fold of the key into 8 bytes; only used to drive the bloom
	// filter's bit selection, never compared directly.
	for i, b := range key {
		h[i%8] ^= b
	}
	return h
}

// Buffer is a single mutable write overlay in front of a KeyValueStore. It is
// the simplified, single-generation form of a layered diff stack: the state
// journal never forks, so there is exactly one pending layer between the
// caller and the backend, not a chain of them.
type Buffer struct {
	backend KeyValueStore

	lock    sync.RWMutex
	staged  map[string][]byte // nil value means staged delete
	pending *pendingSet       // prior values, for Abort

	readCache *fastcache.Cache    // optional read-through cache of committed records
	bloom     *bloomfilter.Filter // optional negative-lookup filter over backend keys at creation plus every key Put since
}

// NewBuffer wraps backend with a write buffer. readCacheBytes and
// bloomBits of 0 disable the corresponding optimization.
func NewBuffer(backend KeyValueStore, readCacheBytes int, bloomBits uint64) *Buffer {
	b := &Buffer{
		backend: backend,
		staged:  make(map[string][]byte),
		pending: newPendingSet(),
	}
	if readCacheBytes > 0 {
		b.readCache = fastcache.New(readCacheBytes)
	}
	if bloomBits > 0 {
		if f, err := bloomfilter.New(bloomBits, bloomFuncs(bloomBits)); err == nil {
			b.bloom = f
			it := backend.NewIterator(nil, nil)
			for it.Next() {
				f.Add(keyHash(it.Key()))
			}
			it.Release()
		}
	}
	return b
}

// bloomFuncs picks the number of hash functions for an m-bit filter holding
// bufferItemLimit entries as 0.7*m/n (about ln 2 * m/n, the count that
// minimises false positives), never less than 1.
func bloomFuncs(m uint64) uint64 {
	k := uint64(0.7 * float64(m) / float64(bufferItemLimit))
	if k == 0 {
		k = 1
	}
	return k
}

// Get returns the value staged for key if present, falling back to the read
// cache and finally the backend. ErrNotFound is returned for both "never
// written" and "staged delete".
func (b *Buffer) Get(key []byte) ([]byte, error) {
	b.lock.RLock()
	if v, ok := b.staged[string(key)]; ok {
		b.lock.RUnlock()
		if v == nil {
			return nil, ErrNotFound
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		return cp, nil
	}
	b.lock.RUnlock()

	if b.bloom != nil && !b.bloom.Contains(keyHash(key)) {
		return nil, ErrNotFound
	}
	if b.readCache != nil {
		if v, ok := b.readCache.HasGet(nil, key); ok {
			return v, nil
		}
	}
	v, err := b.backend.Get(key)
	if err != nil {
		return nil, err
	}
	if b.readCache != nil {
		b.readCache.Set(key, v)
	}
	return v, nil
}

// Has reports whether key resolves to a live value through the buffer.
func (b *Buffer) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put stages a write, recording the prior value so Abort can undo it.
func (b *Buffer) Put(key, value []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.pending.record(key, b.priorLocked(key))
	cp := make([]byte, len(value))
	copy(cp, value)
	b.staged[string(key)] = cp
	if b.bloom != nil {
		b.bloom.Add(keyHash(key))
	}
	return nil
}

// Delete stages a delete, recording the prior value so Abort can undo it.
func (b *Buffer) Delete(key []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.pending.record(key, b.priorLocked(key))
	b.staged[string(key)] = nil
	return nil
}

// priorLocked returns the value key resolved to before this buffer touched
// it, for the very first touch of key in the current pending set. Callers
// must hold b.lock.
func (b *Buffer) priorLocked(key []byte) ([]byte, bool) {
	if b.pending.touched(key) {
		return nil, false // already recorded on first touch
	}
	if v, ok := b.staged[string(key)]; ok {
		if v == nil {
			return nil, true
		}
		return v, true
	}
	v, err := b.backend.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Abort discards every write staged since the buffer was created or last
// committed, restoring the prior value of each touched key.
func (b *Buffer) Abort() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.pending.revert(func(key string, prior []byte, existed bool) {
		if !existed {
			delete(b.staged, key)
		} else {
			cp := make([]byte, len(prior))
			copy(cp, prior)
			b.staged[key] = cp
		}
	})
}

// Commit flushes every staged write to the backend as one batch, refreshes
// the read cache, and clears the pending set.
func (b *Buffer) Commit() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	batch := b.backend.NewBatch()
	for k, v := range b.staged {
		if v == nil {
			if err := batch.Delete([]byte(k)); err != nil {
				return err
			}
		} else {
			if err := batch.Put([]byte(k), v); err != nil {
				return err
			}
			if b.readCache != nil {
				b.readCache.Set([]byte(k), v)
			}
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	b.staged = make(map[string][]byte)
	b.pending = newPendingSet()
	return nil
}
