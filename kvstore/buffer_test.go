package kvstore_test

import (
	"testing"

	"github.com/statejournal/statejournal/kvstore"
	"github.com/statejournal/statejournal/kvstore/memstore"
	"github.com/stretchr/testify/require"
)

func TestBufferShadowsBackend(t *testing.T) {
	backend := memstore.New()
	require.NoError(t, backend.Put([]byte("k"), []byte("v0")))

	buf := kvstore.NewBuffer(backend, 0, 0)

	v, err := buf.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v0"), v)

	require.NoError(t, buf.Put([]byte("k"), []byte("v1")))
	v, err = buf.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	// Uncommitted, the backend is unaffected.
	bv, err := backend.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v0"), bv)

	require.NoError(t, buf.Commit())
	bv, err = backend.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), bv)
}

func TestBufferDeleteShadowsAsNotFound(t *testing.T) {
	backend := memstore.New()
	require.NoError(t, backend.Put([]byte("k"), []byte("v0")))

	buf := kvstore.NewBuffer(backend, 0, 0)
	require.NoError(t, buf.Delete([]byte("k")))

	_, err := buf.Get([]byte("k"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)

	has, err := buf.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, has)
}

func TestBufferAbortRestoresPriorValues(t *testing.T) {
	backend := memstore.New()
	require.NoError(t, backend.Put([]byte("k1"), []byte("v1")))

	buf := kvstore.NewBuffer(backend, 0, 0)
	require.NoError(t, buf.Put([]byte("k1"), []byte("v1-new")))
	require.NoError(t, buf.Put([]byte("k2"), []byte("v2-new")))

	buf.Abort()

	v, err := buf.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	_, err = buf.Get([]byte("k2"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestBufferReadCacheAndBloom(t *testing.T) {
	backend := memstore.New()
	buf := kvstore.NewBuffer(backend, 1<<20, 1<<16)

	_, err := buf.Get([]byte("missing"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)

	require.NoError(t, buf.Put([]byte("k"), []byte("v")))
	require.NoError(t, buf.Commit())

	v, err := buf.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
