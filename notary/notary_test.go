package notary

import (
	"crypto/sha256"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func TestOrderIndependence(t *testing.T) {
	a, b := hashOf("a"), hashOf("b")
	require.Equal(t, H(a, b), H(b, a))
}

func TestProofCorrectness(t *testing.T) {
	n := New()
	for i := 0; i < 200; i++ {
		n.Append(hashOf(strconv.Itoa(i)))
	}

	for _, target := range []uint64{1, 50, 100, 199} {
		proof, err := n.GetProof(target, false)
		require.NoError(t, err)
		require.Equal(t, n.Digest(), proof.Evaluate())
	}
}

func TestProofDigestMode(t *testing.T) {
	n := New()
	for i := 0; i < 10; i++ {
		n.Append(hashOf(strconv.Itoa(i)))
	}

	target := uint64(5)
	proof, err := n.GetProof(target, true)
	require.NoError(t, err)
	require.Equal(t, n.records[target].rollingHash, proof.Hashes[0])
	require.Equal(t, n.Digest(), proof.Evaluate())
}

func TestPersistentNotaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/notary.log"

	pn, err := OpenPersistent(path)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := pn.Append(hashOf(strconv.Itoa(i)))
		require.NoError(t, err)
	}
	digest := pn.Digest()
	require.NoError(t, pn.Close())

	reopened, err := OpenPersistent(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, digest, reopened.Digest())
	require.Equal(t, 20, reopened.Len())

	proof, err := reopened.GetProof(10, false)
	require.NoError(t, err)
	require.Equal(t, reopened.Digest(), proof.Evaluate())
}

func TestEvaluateProofHelper(t *testing.T) {
	n := New()
	for i := 0; i < 5; i++ {
		n.Append(hashOf(strconv.Itoa(i)))
	}
	proof, err := n.GetProof(3, false)
	require.NoError(t, err)
	require.Equal(t, n.Digest(), EvaluateProof(proof.Hashes))
}
