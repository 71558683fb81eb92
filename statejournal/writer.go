package statejournal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	journalFileName = "state_journal"
	indexFileName   = "state_journal.idx"

	digestSize   = 32
	lengthSize   = 2
	indexEntSize = 4

	maxEntryLength = 1 << 16
	maxOffset      = uint64(1) << 32
)

// emptyDigest is H(""), the state digest of a journal with no entries.
var emptyDigest = crypto.Keccak256(nil)

// writer owns the two append-only files and the in-memory chain state.
// It implements the append algorithm and the open/recovery truncation rule
// of the journal file format; StateJournal composes it with the KV adapter.
type writer struct {
	dir string

	journal *os.File
	index   *os.File

	counter uint64
	digest  []byte // 32 bytes

	// pendingJournalBytes/pendingIndexBytes count the bytes appended since
	// the last flush, so Abort can discard them with a plain truncate.
	pendingJournalBytes int64
	pendingIndexBytes   int64
}

func openWriter(dir string) (*writer, error) {
	journalPath := filepath.Join(dir, journalFileName)
	indexPath := filepath.Join(dir, indexFileName)

	jf, err := os.OpenFile(journalPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open journal: %v", ErrIoError, err)
	}
	idxf, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		jf.Close()
		return nil, fmt.Errorf("%w: open index: %v", ErrIoError, err)
	}

	w := &writer{dir: dir, journal: jf, index: idxf}
	if err := w.recover(); err != nil {
		jf.Close()
		idxf.Close()
		return nil, err
	}
	return w, nil
}

// recover restores (update_counter, state_digest) from the last index slot,
// truncating both files to their common consistent prefix if they disagree.
func (w *writer) recover() error {
	idxInfo, err := w.index.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat index: %v", ErrIoError, err)
	}
	jInfo, err := w.journal.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat journal: %v", ErrIoError, err)
	}

	nSlots := idxInfo.Size() / indexEntSize // a partial trailing slot is dropped by this division

	for {
		if nSlots == 0 {
			w.counter = 0
			w.digest = append([]byte{}, emptyDigest...)
			if err := w.journal.Truncate(0); err != nil {
				return fmt.Errorf("%w: truncate journal: %v", ErrIoError, err)
			}
			if err := w.index.Truncate(0); err != nil {
				return fmt.Errorf("%w: truncate index: %v", ErrIoError, err)
			}
			return nil
		}

		offset, err := w.readIndexSlot(nSlots - 1)
		if err != nil {
			return err
		}
		if offset > uint64(jInfo.Size()) {
			// Index points past the end of a short journal: crash between
			// the journal write and the index write for this slot never
			// completed for the journal side either. Drop the slot.
			nSlots--
			continue
		}
		digest, ok, err := w.tryReadEntryDigest(int64(offset))
		if err != nil {
			return err
		}
		if !ok {
			nSlots--
			continue
		}
		w.counter = uint64(nSlots)
		w.digest = digest
		if err := w.journal.Truncate(int64(offset)); err != nil {
			return fmt.Errorf("%w: truncate journal: %v", ErrIoError, err)
		}
		if err := w.index.Truncate(nSlots * indexEntSize); err != nil {
			return fmt.Errorf("%w: truncate index: %v", ErrIoError, err)
		}
		return nil
	}
}

func (w *writer) readIndexSlot(slot int64) (uint64, error) {
	var buf [indexEntSize]byte
	if _, err := w.index.ReadAt(buf[:], slot*indexEntSize); err != nil {
		return 0, fmt.Errorf("%w: read index slot %d: %v", ErrIoError, slot, err)
	}
	return uint64(binary.BigEndian.Uint32(buf[:])), nil
}

// tryReadEntryDigest reads the length trailer ending at offset and the
// digest preceding it, reporting ok=false if the journal is too short for a
// well-formed entry at that offset (a crash mid-entry-write).
func (w *writer) tryReadEntryDigest(offset int64) ([]byte, bool, error) {
	if offset < digestSize+lengthSize {
		return nil, false, nil
	}
	var lbuf [lengthSize]byte
	if _, err := w.journal.ReadAt(lbuf[:], offset-lengthSize); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read length trailer: %v", ErrIoError, err)
	}
	length := binary.BigEndian.Uint16(lbuf[:])
	entryStart := offset - int64(length)
	if entryStart < 0 {
		return nil, false, nil
	}
	digest := make([]byte, digestSize)
	if _, err := w.journal.ReadAt(digest, entryStart); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read digest: %v", ErrIoError, err)
	}
	return digest, true, nil
}

// append writes one journal entry plus its index slot for a record with the
// given key/value/prevCounter, folding its hash into the running digest.
// It does not fsync; flush() does that. Returns the new update counter.
func (w *writer) append(key, value []byte, prevCounter uint64) (uint64, error) {
	log, err := encodeLogRecord(key, value, prevCounter)
	if err != nil {
		return 0, fmt.Errorf("%w: encode log record: %v", ErrIoError, err)
	}

	entryLen := digestSize + len(log) + lengthSize
	if entryLen >= maxEntryLength {
		return 0, ErrEntryTooLarge
	}

	logHash := crypto.Keccak256(log)
	newDigest := crypto.Keccak256(append(append([]byte{}, w.digest...), logHash...))

	jInfo, err := w.journal.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat journal: %v", ErrIoError, err)
	}
	newOffset := uint64(jInfo.Size()) + uint64(entryLen)
	if newOffset >= maxOffset {
		return 0, ErrJournalFull
	}

	entry := make([]byte, 0, entryLen)
	entry = append(entry, newDigest...)
	entry = append(entry, log...)
	var lenBuf [lengthSize]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(entryLen))
	entry = append(entry, lenBuf[:]...)

	if _, err := w.journal.WriteAt(entry, jInfo.Size()); err != nil {
		return 0, fmt.Errorf("%w: write journal entry: %v", ErrIoError, err)
	}

	var offBuf [indexEntSize]byte
	binary.BigEndian.PutUint32(offBuf[:], uint32(newOffset))
	if _, err := w.index.WriteAt(offBuf[:], int64(w.counter)*indexEntSize); err != nil {
		return 0, fmt.Errorf("%w: write index slot: %v", ErrIoError, err)
	}

	w.digest = newDigest
	w.counter++
	w.pendingJournalBytes += int64(entryLen)
	w.pendingIndexBytes += indexEntSize
	return w.counter, nil
}

// flush fsyncs both files in journal-then-index order: a crash between the
// two leaves the index short, which recover() resolves by truncation.
func (w *writer) flush() error {
	if err := w.journal.Sync(); err != nil {
		return fmt.Errorf("%w: sync journal: %v", ErrIoError, err)
	}
	if err := w.index.Sync(); err != nil {
		return fmt.Errorf("%w: sync index: %v", ErrIoError, err)
	}
	w.pendingJournalBytes = 0
	w.pendingIndexBytes = 0
	return nil
}

// discardPending truncates back to the byte lengths observed at the last
// commit, undoing any append() calls made since then.
func (w *writer) discardPending() error {
	jInfo, err := w.journal.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat journal: %v", ErrIoError, err)
	}
	idxInfo, err := w.index.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat index: %v", ErrIoError, err)
	}
	if err := w.journal.Truncate(jInfo.Size() - w.pendingJournalBytes); err != nil {
		return fmt.Errorf("%w: truncate journal: %v", ErrIoError, err)
	}
	if err := w.index.Truncate(idxInfo.Size() - w.pendingIndexBytes); err != nil {
		return fmt.Errorf("%w: truncate index: %v", ErrIoError, err)
	}
	w.counter -= uint64(w.pendingIndexBytes / indexEntSize)
	w.pendingJournalBytes = 0
	w.pendingIndexBytes = 0
	return w.recomputeDigest()
}

// recomputeDigest restores w.digest from the last remaining entry (or the
// empty digest if the journal is now empty), after a truncation.
func (w *writer) recomputeDigest() error {
	if w.counter == 0 {
		w.digest = append([]byte{}, emptyDigest...)
		return nil
	}
	offset, err := w.readIndexSlot(int64(w.counter - 1))
	if err != nil {
		return err
	}
	digest, ok, err := w.tryReadEntryDigest(int64(offset))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: dangling index slot after truncation", ErrCorrupt)
	}
	w.digest = digest
	return nil
}

// truncateTo truncates both files back to exactly target entries and
// restores the in-memory chain state to match.
func (w *writer) truncateTo(target uint64) error {
	if err := w.index.Truncate(int64(target) * indexEntSize); err != nil {
		return fmt.Errorf("%w: truncate index: %v", ErrIoError, err)
	}
	var journalEnd int64
	if target > 0 {
		offset, err := w.readIndexSlot(int64(target - 1))
		if err != nil {
			return err
		}
		journalEnd = int64(offset)
	}
	if err := w.journal.Truncate(journalEnd); err != nil {
		return fmt.Errorf("%w: truncate journal: %v", ErrIoError, err)
	}
	w.counter = target
	w.pendingJournalBytes = 0
	w.pendingIndexBytes = 0
	return w.recomputeDigest()
}

func (w *writer) close() error {
	jerr := w.journal.Close()
	ierr := w.index.Close()
	if jerr != nil {
		return jerr
	}
	return ierr
}
