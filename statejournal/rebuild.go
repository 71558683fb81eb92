package statejournal

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/statejournal/statejournal/kvstore"
)

// rebuildStats tracks progress through a Rebuild pass, logged periodically
// the way a long-running disk scan in this codebase always reports itself.
type rebuildStats struct {
	start      time.Time
	logged     time.Time
	records    uint64
	lastLogged uint64
}

func (s *rebuildStats) log(msg string, counter uint64) {
	now := time.Now()
	if msg != "Rebuilt state" && now.Sub(s.logged) < 8*time.Second {
		return
	}
	s.logged = now
	log.Info(msg, "counter", counter, "records", s.records, "elapsed", now.Sub(s.start))
}

// Rebuild replays the entire journal, entry by entry, into dst, restoring
// exactly the KV-layer invariants of the stored record format without
// re-deriving them from any external source. abort, if non-nil, is
// polled between entries and stops the rebuild early when closed.
func Rebuild(dir string, dst kvstore.KeyValueStore, abort chan struct{}) error {
	r, err := OpenReader(dir)
	if err != nil {
		return err
	}
	defer r.Close()

	n, err := r.UpdateCounter()
	if err != nil {
		return err
	}

	stats := &rebuildStats{start: time.Now(), logged: time.Now()}
	batch := dst.NewBatch()

	for c := uint64(1); c <= n; c++ {
		select {
		case <-abort:
			log.Warn("Rebuild aborted", "at", c, "of", n)
			return fmt.Errorf("%w: rebuild aborted at counter %d", ErrIoError, c)
		default:
		}

		u, err := r.ReadUpdate(c)
		if err != nil {
			return err
		}
		if len(u.Value) == 0 {
			if err := batch.Delete(u.Key); err != nil {
				return fmt.Errorf("%w: %v", ErrIoError, err)
			}
		} else {
			enc, err := encodeStoredRecord(u.Value, u.Counter)
			if err != nil {
				return fmt.Errorf("%w: encode stored record: %v", ErrIoError, err)
			}
			if err := batch.Put(u.Key, enc); err != nil {
				return fmt.Errorf("%w: %v", ErrIoError, err)
			}
		}
		stats.records++
		rebuildAccountMeter.Mark(1)

		if batch.ValueSize() > 4*1024*1024 {
			if err := batch.Write(); err != nil {
				return fmt.Errorf("%w: flush rebuild batch: %v", ErrIoError, err)
			}
			batch.Reset()
		}
		stats.log("Rebuilding state", c)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: flush rebuild batch: %v", ErrIoError, err)
	}
	stats.log("Rebuilt state", n)
	return nil
}
