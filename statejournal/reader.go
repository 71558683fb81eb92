package statejournal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/singleflight"
)

// Update is one decoded journal entry: the log record plus the digest it
// produced and the hash folded into that digest.
type Update struct {
	Counter           uint64
	Key               []byte
	Value             []byte
	PrevUpdateCounter uint64
	Digest            []byte // state_digest after this entry
	LogHash           []byte // H(log_record)
}

// SSV is a Simplified State Verification proof that the value written at a
// given counter is part of the current state digest.
type SSV struct {
	Value             []byte
	PrevUpdateCounter uint64
	HashChain         [][]byte
}

// Evaluate folds the proof's hash chain and reports the resulting digest:
// s <- hash_chain[0]; for h in hash_chain[1:]: s <- H(s || h).
func (p *SSV) Evaluate() []byte {
	if len(p.HashChain) == 0 {
		return append([]byte{}, emptyDigest...)
	}
	s := append([]byte{}, p.HashChain[0]...)
	for _, h := range p.HashChain[1:] {
		s = crypto.Keccak256(append(append([]byte{}, s...), h...))
	}
	return s
}

// Reader is a read-only handle over a journal directory. It may coexist
// with one writer. The writer writes each entry straight to the files
// without buffering, so a Reader also sees entries appended since the
// writer's last Commit.
type Reader struct {
	dir     string
	journal *os.File
	index   *os.File
	group   singleflight.Group
}

// OpenReader opens the journal and index files in a directory read-only.
func OpenReader(dir string) (*Reader, error) {
	jf, err := os.Open(filepath.Join(dir, journalFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: open journal: %v", ErrIoError, err)
	}
	idxf, err := os.Open(filepath.Join(dir, indexFileName))
	if err != nil {
		jf.Close()
		return nil, fmt.Errorf("%w: open index: %v", ErrIoError, err)
	}
	return &Reader{dir: dir, journal: jf, index: idxf}, nil
}

// Close closes both underlying files.
func (r *Reader) Close() error {
	jerr := r.journal.Close()
	ierr := r.index.Close()
	if jerr != nil {
		return jerr
	}
	return ierr
}

// UpdateCounter re-stats the index file and reports len(index)/4.
func (r *Reader) UpdateCounter() (uint64, error) {
	info, err := r.index.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat index: %v", ErrIoError, err)
	}
	return uint64(info.Size() / indexEntSize), nil
}

// LastUpdate returns the most recent entry, or ErrNotFound if the journal
// is empty.
func (r *Reader) LastUpdate() (*Update, error) {
	n, err := r.UpdateCounter()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.ReadUpdate(n)
}

// ReadUpdate decodes the journal entry for counter (1-based).
func (r *Reader) ReadUpdate(counter uint64) (*Update, error) {
	n, err := r.UpdateCounter()
	if err != nil {
		return nil, err
	}
	if counter == 0 || counter > n {
		return nil, ErrNotFound
	}
	return readUpdateFrom(r.journal, r.index, counter)
}

// ValidateState folds state <- H(state || H(log)) over entries 1..upTo
// starting from H(""), asserting the running value matches each entry's
// stored digest, and returns the final digest.
func (r *Reader) ValidateState(upTo uint64) ([]byte, error) {
	stop := validateTimer.Time()
	defer stop.Stop()

	n, err := r.UpdateCounter()
	if err != nil {
		return nil, err
	}
	if upTo > n {
		return nil, ErrNotFound
	}

	state := append([]byte{}, emptyDigest...)
	for c := uint64(1); c <= upTo; c++ {
		u, err := readUpdateFrom(r.journal, r.index, c)
		if err != nil {
			return nil, err
		}
		state = crypto.Keccak256(append(append([]byte{}, state...), u.LogHash...))
		if !bytesEqual(state, u.Digest) {
			return nil, fmt.Errorf("%w: digest mismatch at counter %d", ErrCorrupt, c)
		}
	}
	return state, nil
}

// GetSSV produces an SSV proof that the value written at startCounter
// survives into the current state digest.
func (r *Reader) GetSSV(startCounter uint64) (*SSV, error) {
	key := fmt.Sprintf("ssv:%d", startCounter)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.getSSV(startCounter)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SSV), nil
}

func (r *Reader) getSSV(startCounter uint64) (*SSV, error) {
	n, err := r.UpdateCounter()
	if err != nil {
		return nil, err
	}
	if startCounter == 0 || startCounter > n {
		return nil, ErrNotFound
	}

	start, err := readUpdateFrom(r.journal, r.index, startCounter)
	if err != nil {
		return nil, err
	}

	var prevDigest []byte
	if startCounter == 1 {
		prevDigest = append([]byte{}, emptyDigest...)
	} else {
		prev, err := readUpdateFrom(r.journal, r.index, startCounter-1)
		if err != nil {
			return nil, err
		}
		prevDigest = prev.Digest
	}

	chain := [][]byte{prevDigest, start.LogHash}
	for c := startCounter + 1; c <= n; c++ {
		u, err := readUpdateFrom(r.journal, r.index, c)
		if err != nil {
			return nil, err
		}
		chain = append(chain, u.LogHash)
	}

	ssvLengthGauge.Update(int64(len(chain)))
	return &SSV{Value: start.Value, PrevUpdateCounter: start.PrevUpdateCounter, HashChain: chain}, nil
}

// readUpdateFrom implements the per-entry seek/parse algorithm shared by
// the public Reader and the writer's internal rollback reader: seek index
// slot counter-1, read the offset, seek the journal to offset-2, read the
// length trailer, read back that many bytes, and decode.
func readUpdateFrom(journal, index *os.File, counter uint64) (*Update, error) {
	var offBuf [indexEntSize]byte
	if _, err := index.ReadAt(offBuf[:], int64(counter-1)*indexEntSize); err != nil {
		return nil, fmt.Errorf("%w: read index slot: %v", ErrIoError, err)
	}
	offset := int64(binary.BigEndian.Uint32(offBuf[:]))

	var lenBuf [lengthSize]byte
	if _, err := journal.ReadAt(lenBuf[:], offset-lengthSize); err != nil {
		return nil, fmt.Errorf("%w: read length trailer: %v", ErrIoError, err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])
	entryStart := offset - int64(length)
	if entryStart < 0 {
		return nil, fmt.Errorf("%w: negative entry start at counter %d", ErrCorrupt, counter)
	}

	entry := make([]byte, length)
	if _, err := journal.ReadAt(entry, entryStart); err != nil {
		return nil, fmt.Errorf("%w: read entry: %v", ErrIoError, err)
	}

	digest := entry[:digestSize]
	log := entry[digestSize : len(entry)-lengthSize]
	key, value, prevCounter, err := decodeLogRecord(log)
	if err != nil {
		return nil, fmt.Errorf("%w: decode log record: %v", ErrCorrupt, err)
	}

	return &Update{
		Counter:           counter,
		Key:               key,
		Value:             value,
		PrevUpdateCounter: prevCounter,
		Digest:            append([]byte{}, digest...),
		LogHash:           crypto.Keccak256(log),
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// internalReader reads directly through a writer's own open file handles,
// for use during Rollback where the reader must see bytes the writer has
// appended but not yet flushed.
type internalReader struct {
	w *writer
}

func newInternalReader(w *writer, buf interface{}) (*internalReader, error) {
	return &internalReader{w: w}, nil
}

func (ir *internalReader) readUpdateLocked(counter uint64) (*Update, error) {
	if counter == 0 || counter > ir.w.counter {
		return nil, ErrNotFound
	}
	return readUpdateFrom(ir.w.journal, ir.w.index, counter)
}
