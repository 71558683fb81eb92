package statejournal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSSVSoundness(t *testing.T) {
	sj := newTestJournal(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, sj.Update([]byte{byte(i % 5)}, []byte{byte(i)}))
	}
	require.NoError(t, sj.Commit())

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()

	for c := uint64(1); c <= sj.UpdateCounter(); c++ {
		ssv, err := r.GetSSV(c)
		require.NoError(t, err)

		got := ssv.Evaluate()
		require.Equal(t, sj.StateDigest(), got, "counter %d", c)

		update, err := r.ReadUpdate(c)
		require.NoError(t, err)
		require.Equal(t, update.Value, ssv.Value)
	}
}

func TestSSVAfterDeletion(t *testing.T) {
	sj := newTestJournal(t)

	require.NoError(t, sj.Update([]byte("k"), []byte("v")))
	require.NoError(t, sj.Commit())
	require.NoError(t, sj.Delete([]byte("k")))
	require.NoError(t, sj.Commit())

	_, _, err := sj.GetRaw([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()

	ssv, err := r.GetSSV(1)
	require.NoError(t, err)
	require.Equal(t, sj.StateDigest(), ssv.Evaluate())
}

func TestValidateStateDetectsCorruption(t *testing.T) {
	sj := newTestJournal(t)
	require.NoError(t, sj.Update([]byte("k"), []byte("v")))
	require.NoError(t, sj.Commit())

	r, err := OpenReader(sj.cfg.Dir)
	require.NoError(t, err)
	defer r.Close()

	// Overwrite the first byte of the first entry's digest field to corrupt
	// it, through the writer's read-write handle (the Reader's is read-only).
	_, err = sj.w.journal.WriteAt([]byte{0xff}, 0)
	require.NoError(t, err)

	_, err = r.ValidateState(1)
	require.ErrorIs(t, err, ErrCorrupt)
}
