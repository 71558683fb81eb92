package statejournal

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// storedRecord is the canonical encoding of a KV value: the pair
// [value, update_counter]. RLP already is the recursive length-prefixed
// byte-string-and-integer encoding the format calls for, so it is used
// as-is rather than hand-rolled.
type storedRecord struct {
	Value   []byte
	Counter uint64
}

func encodeStoredRecord(value []byte, counter uint64) ([]byte, error) {
	return rlp.EncodeToBytes(storedRecord{Value: value, Counter: counter})
}

func decodeStoredRecord(enc []byte) (value []byte, counter uint64, err error) {
	var r storedRecord
	if err := rlp.DecodeBytes(enc, &r); err != nil {
		return nil, 0, err
	}
	return r.Value, r.Counter, nil
}

// logRecord is the canonical encoding of a journal log entry's payload:
// [key, value, prev_update_counter]. value is empty for deletions.
type logRecord struct {
	Key     []byte
	Value   []byte
	PrevCtr uint64
}

func encodeLogRecord(key, value []byte, prevCounter uint64) ([]byte, error) {
	return rlp.EncodeToBytes(logRecord{Key: key, Value: value, PrevCtr: prevCounter})
}

func decodeLogRecord(enc []byte) (key, value []byte, prevCounter uint64, err error) {
	var r logRecord
	if err := rlp.DecodeBytes(enc, &r); err != nil {
		return nil, nil, 0, err
	}
	return r.Key, r.Value, r.PrevCtr, nil
}
