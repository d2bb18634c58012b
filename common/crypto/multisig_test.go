package crypto

import (
	"testing"

	"github.com/gammazero/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

func newSigners(t *testing.T, n int) ([]api.Signer, map[types.ReplicaID]api.Verifier) {
	signers := make([]api.Signer, n)
	verifiers := make(map[types.ReplicaID]api.Verifier, n)
	for i := 0; i < n; i++ {
		k, err := GenerateKey()
		require.NoError(t, err)
		signers[i] = &ECDSASigner{Pri: k}
		verifiers[types.ReplicaID(i)] = &ECDSAVerifier{Pub: &k.PublicKey}
	}
	return signers, verifiers
}

func TestMultiSigSharedDigest(t *testing.T) {
	signers, verifiers := newSigners(t, 4)
	pool := workerpool.New(2)
	defer pool.StopWait()

	for _, ms := range []*MultiSig{NewMultiSig(verifiers, nil), NewMultiSig(verifiers, pool)} {
		digest := types.VoteDigest(3, types.Genesis().Hash())
		var parts []types.PartialSig
		for _, id := range []int{2, 0, 3} {
			sig, err := signers[id].Sign(digest)
			require.NoError(t, err)
			parts = append(parts, types.PartialSig{Signer: types.ReplicaID(id), Signature: sig})
		}
		agg, err := ms.Combine(parts)
		require.NoError(t, err)

		ok, err := ms.VerifyAggregate([]types.ReplicaID{0, 2, 3}, [][]byte{digest}, agg)
		require.NoError(t, err)
		assert.True(t, ok)

		// wrong message
		ok, err = ms.VerifyAggregate([]types.ReplicaID{0, 2, 3}, [][]byte{types.VoteDigest(4, types.Genesis().Hash())}, agg)
		require.NoError(t, err)
		assert.False(t, ok)

		// signer list not matching the signatures
		ok, err = ms.VerifyAggregate([]types.ReplicaID{0, 1, 3}, [][]byte{digest}, agg)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = ms.VerifyAggregate([]types.ReplicaID{0, 2}, [][]byte{digest}, agg)
		assert.Error(t, err)
	}
}

func TestMultiSigPerSignerDigest(t *testing.T) {
	signers, verifiers := newSigners(t, 4)
	ms := NewMultiSig(verifiers, nil)

	d0 := types.TimeoutDigest(6, 5)
	d1 := types.TimeoutDigest(6, 4)
	s0, err := signers[0].Sign(d0)
	require.NoError(t, err)
	s1, err := signers[1].Sign(d1)
	require.NoError(t, err)

	agg, err := ms.Combine([]types.PartialSig{{Signer: 1, Signature: s1}, {Signer: 0, Signature: s0}})
	require.NoError(t, err)
	ok, err := ms.VerifyAggregate([]types.ReplicaID{0, 1}, [][]byte{d0, d1}, agg)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ms.VerifyAggregate([]types.ReplicaID{0, 1}, [][]byte{d1, d0}, agg)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMultiSigRejectsDuplicates(t *testing.T) {
	_, verifiers := newSigners(t, 2)
	ms := NewMultiSig(verifiers, nil)
	_, err := ms.Combine([]types.PartialSig{{Signer: 1, Signature: []byte{1}}, {Signer: 1, Signature: []byte{2}}})
	assert.Error(t, err)
	_, err = ms.Combine(nil)
	assert.Error(t, err)
}

func TestKeyRoundTrip(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	priPEM, err := MarshalPrivateKey(k)
	require.NoError(t, err)
	pubPEM, err := MarshalPublicKey(&k.PublicKey)
	require.NoError(t, err)

	k2, err := ParseECDSAPrivateKey(priPEM)
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)

	sig, err := (&ECDSASigner{Pri: k2}).Sign([]byte("01234567890123456789012345678901"))
	require.NoError(t, err)
	ok, err := (&ECDSAVerifier{Pub: pub}).Verify(sig, []byte("01234567890123456789012345678901"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ParsePublicKey(priPEM)
	assert.Error(t, err)
}
