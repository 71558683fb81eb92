// Package statejournal implements a journal-based, cryptographically
// authenticated key-value store: a direct key-to-value mapping with a
// monotonic update counter, an append-only hash-chained journal, a
// fixed-width positional index, and a reader that can reconstruct history,
// validate the digest chain, roll back, and produce SSV proofs.
package statejournal

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/statejournal/statejournal/kvstore"
	"github.com/statejournal/statejournal/kvstore/leveldbstore"
	"github.com/statejournal/statejournal/kvstore/pebblestore"
)

const lockFileName = "LOCK"

// StateJournal is the single writer over one journal directory: the
// caller-facing get/get_raw/update/delete/commit/rollback surface.
type StateJournal struct {
	cfg Config
	log log.Logger

	lock *flock.Flock

	kv  kvstore.KeyValueStore
	buf *kvstore.Buffer
	w   *writer
}

// Open opens (or creates) a state journal rooted at cfg.Dir, acquiring an
// exclusive lock for the duration of the returned instance's lifetime.
func Open(cfg Config) (*StateJournal, error) {
	logger := log.New("journal", cfg.Dir)

	lk := flock.New(filepath.Join(cfg.Dir, lockFileName))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %v", ErrIoError, err)
	}
	if !locked {
		return nil, ErrLocked
	}

	kv, err := openBackend(cfg)
	if err != nil {
		lk.Unlock()
		return nil, err
	}

	w, err := openWriter(cfg.Dir)
	if err != nil {
		kv.Close()
		lk.Unlock()
		return nil, err
	}

	sj := &StateJournal{
		cfg:  cfg,
		log:  logger,
		lock: lk,
		kv:   kv,
		buf:  kvstore.NewBuffer(kv, cfg.ReadCacheBytes, cfg.BloomBits),
		w:    w,
	}
	updateCounterGauge.Update(int64(w.counter))
	logger.Info("Opened state journal", "counter", w.counter, "backend", cfg.Backend)
	return sj, nil
}

func openBackend(cfg Config) (kvstore.KeyValueStore, error) {
	dir := filepath.Join(cfg.Dir, "kv")
	switch cfg.Backend {
	case BackendPebble:
		return pebblestore.New(dir, cfg.CacheMB, cfg.Handles, "statejournal/")
	case BackendLevelDB, "":
		return leveldbstore.New(dir, cfg.CacheMB, cfg.Handles, "statejournal/")
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrIoError, cfg.Backend)
	}
}

// Close releases the directory lock and closes the KV backend and journal
// files. It does not commit any pending writes.
func (sj *StateJournal) Close() error {
	werr := sj.w.close()
	kerr := sj.kv.Close()
	_ = sj.lock.Unlock()
	if werr != nil {
		return werr
	}
	return kerr
}

// UpdateCounter returns the current monotonic update counter.
func (sj *StateJournal) UpdateCounter() uint64 { return sj.w.counter }

// StateDigest returns the current rolling state digest.
func (sj *StateJournal) StateDigest() []byte {
	return append([]byte{}, sj.w.digest...)
}

// Get returns the current value for key, or ErrNotFound.
func (sj *StateJournal) Get(key []byte) ([]byte, error) {
	value, _, err := sj.GetRaw(key)
	return value, err
}

// GetRaw returns the current value and the update counter that last wrote
// key, or ErrNotFound.
func (sj *StateJournal) GetRaw(key []byte) ([]byte, uint64, error) {
	enc, err := sj.buf.Get(key)
	if err == kvstore.ErrNotFound {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	value, counter, err := decodeStoredRecord(enc)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode stored record: %v", ErrCorrupt, err)
	}
	return value, counter, nil
}

// Update writes value for key. An empty value is equivalent to Delete.
func (sj *StateJournal) Update(key, value []byte) error {
	if len(value) == 0 {
		return sj.Delete(key)
	}

	_, oldCounter, err := sj.rawCounter(key)
	if err != nil {
		return err
	}

	newCounter, err := sj.w.append(key, value, oldCounter)
	if err != nil {
		return err
	}

	enc, err := encodeStoredRecord(value, newCounter)
	if err != nil {
		return fmt.Errorf("%w: encode stored record: %v", ErrIoError, err)
	}
	if err := sj.buf.Put(key, enc); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}

	updateMeter.Mark(1)
	updateCounterGauge.Update(int64(newCounter))
	sj.log.Debug("Updated key", "counter", newCounter, "key", key)
	return nil
}

// Delete records a log entry with an empty value and removes the KV
// mapping for key.
func (sj *StateJournal) Delete(key []byte) error {
	_, oldCounter, err := sj.rawCounter(key)
	if err != nil {
		return err
	}

	newCounter, err := sj.w.append(key, nil, oldCounter)
	if err != nil {
		return err
	}
	if err := sj.buf.Delete(key); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}

	deleteMeter.Mark(1)
	updateCounterGauge.Update(int64(newCounter))
	sj.log.Debug("Deleted key", "counter", newCounter, "key", key)
	return nil
}

// rawCounter returns the counter currently stored for key, or 0 if absent.
func (sj *StateJournal) rawCounter(key []byte) ([]byte, uint64, error) {
	enc, err := sj.buf.Get(key)
	if err == kvstore.ErrNotFound {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	value, counter, err := decodeStoredRecord(enc)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: decode stored record: %v", ErrCorrupt, err)
	}
	return value, counter, nil
}

// Commit flushes the journal, the index, and the KV batch as one logical
// transaction, in that order.
func (sj *StateJournal) Commit() error {
	stop := commitTimer.Time()
	defer stop.Stop()

	if err := sj.w.flush(); err != nil {
		return err
	}
	if err := sj.buf.Commit(); err != nil {
		return fmt.Errorf("%w: commit kv batch: %v", ErrIoError, err)
	}
	return nil
}

// Abort discards every write staged since the last Commit, both in the KV
// buffer and in the journal/index files, without reopening the writer.
func (sj *StateJournal) Abort() error {
	sj.buf.Abort()
	return sj.w.discardPending()
}

// Rollback reverts the journal to the state immediately after update
// targetCounter, restoring every touched key's prior value in the KV and
// truncating the journal and index files.
func (sj *StateJournal) Rollback(targetCounter uint64) error {
	stop := rollbackTimer.Time()
	defer stop.Stop()

	if targetCounter > sj.w.counter {
		return ErrInvalidRollback
	}
	if targetCounter == sj.w.counter {
		return nil
	}

	r, err := newInternalReader(sj.w, sj.buf)
	if err != nil {
		return err
	}

	for n := sj.w.counter; n > targetCounter; n-- {
		entry, err := r.readUpdateLocked(n)
		if err != nil {
			return err
		}
		if err := sj.restoreKey(entry); err != nil {
			return err
		}
	}

	if err := sj.w.truncateTo(targetCounter); err != nil {
		return err
	}
	if err := sj.Commit(); err != nil {
		return err
	}

	rollbackMeter.Mark(1)
	updateCounterGauge.Update(int64(sj.w.counter))
	sj.log.Info("Rolled back state journal", "to", targetCounter)
	return nil
}

// restoreKey undoes one journal entry's effect on the KV: if the entry had
// no predecessor, the key is deleted; otherwise the predecessor's stored
// record is re-fetched by counter and restored verbatim.
func (sj *StateJournal) restoreKey(entry *Update) error {
	if entry.PrevUpdateCounter == 0 {
		if err := sj.buf.Delete(entry.Key); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		return nil
	}

	r, err := newInternalReader(sj.w, sj.buf)
	if err != nil {
		return err
	}
	prev, err := r.readUpdateLocked(entry.PrevUpdateCounter)
	if err != nil {
		return err
	}
	enc, err := encodeStoredRecord(prev.Value, entry.PrevUpdateCounter)
	if err != nil {
		return fmt.Errorf("%w: encode stored record: %v", ErrIoError, err)
	}
	if err := sj.buf.Put(entry.Key, enc); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}
