// Package notary implements a standalone proof-of-existence log: an
// append-only hash chain with skip-list ancestry giving O(log n) inclusion
// proofs, independent of the state journal's own (strictly ordered) digest
// chain.
package notary

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
)

// ErrNotFound is returned for a position outside [1, Len()].
var ErrNotFound = errors.New("notary: not found")

const recordSize = 64 // rolling_hash(32) || data_hash(32)

// H is the order-normalizing hashing primitive: H(a,b) == H(b,a), computed
// by sorting the two arguments before concatenation, so proof verifiers
// never need to track left/right orientation.
func H(a, b []byte) []byte {
	if lessBytes(b, a) {
		a, b = b, a
	}
	sum := sha256.Sum256(append(append([]byte{}, a...), b...))
	return sum[:]
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// anc computes the distant-ancestor position for n: a base-2/base-64
// skip list. Even positions chain densely (base 2) for short-range
// proofs; odd positions jump aggressively (base 64) so proofs through
// mostly-odd ranges stay short.
func anc(n uint64) uint64 {
	var base, m uint64
	if n%2 == 0 {
		base, m = 2, n
	} else {
		base, m = 64, n+1
	}

	p := uint64(0)
	for pow := base; m%pow == 0 && pow <= m; pow *= base {
		p++
	}
	pow := pow64(base, p)
	if m == pow {
		p--
		pow = pow64(base, p)
	}

	bn := m - pow
	if bn == n {
		return n - 1
	}
	return bn
}

func pow64(base, p uint64) uint64 {
	r := uint64(1)
	for i := uint64(0); i < p; i++ {
		r *= base
	}
	return r
}

// record is one persisted log entry.
type record struct {
	rollingHash []byte
	dataHash    []byte
}

// Notary is the append-only skip-list hash chain. Position 0 is always the
// seed record (H(""), H("")).
type Notary struct {
	log     log.Logger
	records []record
}

// New returns an empty, in-memory Notary, seeded with position 0.
func New() *Notary {
	seed := H(nil, nil)
	return &Notary{
		log:     log.New("component", "notary"),
		records: []record{{rollingHash: seed, dataHash: seed}},
	}
}

// Len reports the number of appended entries, not counting the seed.
func (n *Notary) Len() int { return len(n.records) - 1 }

// Digest returns the current top rolling hash.
func (n *Notary) Digest() []byte {
	return append([]byte{}, n.records[len(n.records)-1].rollingHash...)
}

// Append adds dataHash to the log and returns its assigned position
// (1-based).
func (n *Notary) Append(dataHash []byte) uint64 {
	pos := uint64(len(n.records))
	prevRolling := n.records[pos-1].rollingHash
	ancRolling := n.records[anc(pos)].rollingHash

	rolling := H(ancRolling, H(dataHash, prevRolling))
	n.records = append(n.records, record{rollingHash: rolling, dataHash: dataHash})

	appendMeter.Mark(1)
	return pos
}

// Proof is the sequence of hashes get_proof returns for a target position:
// the target's data hash (or rolling hash, in digest mode), then the two
// hashes needed to rebuild rolling_hash[target], then the hashes for each
// hop forward to the current top (one for a distant jump, two for a
// single prev-step).
type Proof struct {
	Hashes [][]byte
}

// Evaluate folds a proof left-to-right with H and reports the result,
// which must equal the current top rolling hash for the proof to verify.
func (p *Proof) Evaluate() []byte {
	if len(p.Hashes) == 0 {
		return nil
	}
	s := append([]byte{}, p.Hashes[0]...)
	for _, h := range p.Hashes[1:] {
		s = H(s, h)
	}
	return s
}

// GetProof assembles an inclusion proof for target: the target's data hash
// (or rolling hash in digest mode), the two hashes needed to reconstruct
// rolling_hash[target] (the prev and distant rolling hashes), then the
// hashes for each hop walking forward to the current top, preferring the
// largest valid distant jump at each step (one folded hash) and falling
// back to a single prev-step (the next data hash and its distant rolling
// hash) when no distant child exists.
func (n *Notary) GetProof(target uint64, digest bool) (*Proof, error) {
	top := uint64(len(n.records) - 1)
	if target == 0 || target > top {
		return nil, ErrNotFound
	}

	tgt := n.records[target]
	first := tgt.dataHash
	if digest {
		first = tgt.rollingHash
	}
	hashes := [][]byte{first, n.records[target-1].rollingHash, n.records[anc(target)].rollingHash}

	pos := target
	for pos < top {
		next := uint64(0)
		for d := top; d > pos; d-- {
			if anc(d) == pos {
				next = d
				break
			}
		}
		if next != 0 {
			inner := H(n.records[next].dataHash, n.records[next-1].rollingHash)
			hashes = append(hashes, inner)
			pos = next
			continue
		}
		next = pos + 1
		hashes = append(hashes, n.records[next].dataHash, n.records[anc(next)].rollingHash)
		pos = next
	}

	proofLengthGauge.Update(int64(len(hashes)))
	return &Proof{Hashes: hashes}, nil
}

// PersistentNotary is a Notary backed by a fixed-record file: random access
// is seek(n*64); read(64). Open reads the file size to recover the
// position count; an empty file is seeded with the position-0 record.
type PersistentNotary struct {
	*Notary
	f *os.File
}

// OpenPersistent opens (or creates) a notary log at path.
func OpenPersistent(path string) (*PersistentNotary, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	pn := &PersistentNotary{f: f}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		pn.Notary = New()
		if err := pn.writeRecord(0, pn.Notary.records[0]); err != nil {
			f.Close()
			return nil, err
		}
		return pn, nil
	}

	n := info.Size() / recordSize
	notary := &Notary{log: log.New("component", "notary"), records: make([]record, n)}
	for i := int64(0); i < n; i++ {
		rec, err := pn.readRecord(i)
		if err != nil {
			f.Close()
			return nil, err
		}
		notary.records[i] = rec
	}
	pn.Notary = notary
	return pn, nil
}

func (pn *PersistentNotary) readRecord(pos int64) (record, error) {
	var buf [recordSize]byte
	if _, err := pn.f.ReadAt(buf[:], pos*recordSize); err != nil {
		return record{}, err
	}
	return record{
		rollingHash: append([]byte{}, buf[:32]...),
		dataHash:    append([]byte{}, buf[32:]...),
	}, nil
}

func (pn *PersistentNotary) writeRecord(pos int64, rec record) error {
	var buf [recordSize]byte
	copy(buf[:32], rec.rollingHash)
	copy(buf[32:], rec.dataHash)
	_, err := pn.f.WriteAt(buf[:], pos*recordSize)
	return err
}

// Append adds dataHash to the log, persists the new record, and returns its
// position.
func (pn *PersistentNotary) Append(dataHash []byte) (uint64, error) {
	pos := pn.Notary.Append(dataHash)
	if err := pn.writeRecord(int64(pos), pn.Notary.records[pos]); err != nil {
		return 0, err
	}
	return pos, nil
}

// Close closes the backing file.
func (pn *PersistentNotary) Close() error { return pn.f.Close() }

// EvaluateProof folds hashes left to right with H; callers compare the
// result against the notary's current digest.
func EvaluateProof(hashes [][]byte) []byte {
	p := &Proof{Hashes: hashes}
	return p.Evaluate()
}
