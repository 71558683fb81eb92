package statejournal

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/statejournal/statejournal/kvstore"
	"github.com/statejournal/statejournal/kvstore/memstore"
	"github.com/stretchr/testify/require"
)

// newTestJournal builds a StateJournal over an in-memory KV backend by
// wiring the writer and buffer directly, bypassing Open's flock and
// on-disk backend selection so unit tests don't touch the filesystem for
// the KV side. The journal/index files still live under t.TempDir().
func newTestJournal(t *testing.T) *StateJournal {
	t.Helper()
	dir := t.TempDir()

	w, err := openWriter(dir)
	require.NoError(t, err)

	kv := memstore.New()
	return &StateJournal{
		cfg: Config{Dir: dir},
		log: log.New("test", dir),
		kv:  kv,
		buf: kvstore.NewBuffer(kv, 0, 0),
		w:   w,
	}
}

func TestS1_SequentialUpdates(t *testing.T) {
	sj := newTestJournal(t)

	require.NoError(t, sj.Update([]byte("k1"), []byte("v1")))
	require.NoError(t, sj.Update([]byte("k2"), []byte("v2")))
	require.NoError(t, sj.Update([]byte("k1"), []byte("v1'")))
	require.NoError(t, sj.Commit())

	require.EqualValues(t, 3, sj.UpdateCounter())

	v1, c1, err := sj.GetRaw([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1'"), v1)
	require.EqualValues(t, 3, c1)

	v2, c2, err := sj.GetRaw([]byte("k2"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v2)
	require.EqualValues(t, 2, c2)

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()

	u1, err := r.ReadUpdate(1)
	require.NoError(t, err)
	require.EqualValues(t, 0, u1.PrevUpdateCounter)

	u3, err := r.ReadUpdate(3)
	require.NoError(t, err)
	require.EqualValues(t, 1, u3.PrevUpdateCounter)
}

func TestS2_Delete(t *testing.T) {
	sj := newTestJournal(t)
	require.NoError(t, sj.Update([]byte("k1"), []byte("v1")))
	require.NoError(t, sj.Update([]byte("k2"), []byte("v2")))
	require.NoError(t, sj.Update([]byte("k1"), []byte("v1'")))
	require.NoError(t, sj.Commit())

	require.NoError(t, sj.Delete([]byte("k2")))
	require.NoError(t, sj.Commit())

	require.EqualValues(t, 4, sj.UpdateCounter())

	_, _, err := sj.GetRaw([]byte("k2"))
	require.ErrorIs(t, err, ErrNotFound)

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()

	u4, err := r.ReadUpdate(4)
	require.NoError(t, err)
	require.Empty(t, u4.Value)

	has, err := sj.kv.Has([]byte("k2"))
	require.NoError(t, err)
	require.False(t, has)
}

func TestS3_Rollback(t *testing.T) {
	sj := newTestJournal(t)
	require.NoError(t, sj.Update([]byte("k1"), []byte("v1")))
	require.NoError(t, sj.Update([]byte("k2"), []byte("v2")))
	require.NoError(t, sj.Update([]byte("k1"), []byte("v1'")))
	require.NoError(t, sj.Commit())
	require.NoError(t, sj.Delete([]byte("k2")))
	require.NoError(t, sj.Commit())

	require.NoError(t, sj.Rollback(2))

	require.EqualValues(t, 2, sj.UpdateCounter())

	v1, c1, err := sj.GetRaw([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v1)
	require.EqualValues(t, 1, c1)

	v2, c2, err := sj.GetRaw([]byte("k2"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v2)
	require.EqualValues(t, 2, c2)

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()
	n, err := r.UpdateCounter()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	digest, err := r.ValidateState(2)
	require.NoError(t, err)
	require.Equal(t, sj.StateDigest(), digest)
}

func TestInvariant5_RollbackReversibility(t *testing.T) {
	sj := newTestJournal(t)
	require.NoError(t, sj.Update([]byte("a"), []byte("1")))
	require.NoError(t, sj.Update([]byte("b"), []byte("2")))
	require.NoError(t, sj.Commit())

	snapshot := sj.StateDigest()
	counterBefore := sj.UpdateCounter()

	require.NoError(t, sj.Update([]byte("a"), []byte("3")))
	require.NoError(t, sj.Update([]byte("c"), []byte("4")))
	require.NoError(t, sj.Commit())

	require.NoError(t, sj.Rollback(counterBefore))

	require.Equal(t, snapshot, sj.StateDigest())

	va, _, err := sj.GetRaw([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), va)
}

func TestS4_ManyInterleavedUpdates(t *testing.T) {
	sj := newTestJournal(t)
	keys := make([][]byte, 100)
	for i := range keys {
		keys[i] = []byte{byte(i)}
	}
	for i := 0; i < 1000; i++ {
		k := keys[i%len(keys)]
		require.NoError(t, sj.Update(k, []byte{byte(i), byte(i >> 8)}))
	}
	require.NoError(t, sj.Commit())

	expected := sj.StateDigest()

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ValidateState(sj.UpdateCounter())
	require.NoError(t, err)
	require.Equal(t, expected, got)
}

func TestAbortDiscardsPendingWrites(t *testing.T) {
	sj := newTestJournal(t)
	require.NoError(t, sj.Update([]byte("k1"), []byte("v1")))
	require.NoError(t, sj.Commit())

	require.NoError(t, sj.Update([]byte("k1"), []byte("v1-pending")))
	require.NoError(t, sj.Update([]byte("k2"), []byte("v2-pending")))
	require.NoError(t, sj.Abort())

	require.EqualValues(t, 1, sj.UpdateCounter())
	v1, _, err := sj.GetRaw([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v1)

	_, _, err = sj.GetRaw([]byte("k2"))
	require.ErrorIs(t, err, ErrNotFound)
}
