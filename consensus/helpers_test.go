package consensus

import (
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/common/crypto"
	"github.com/zhigui-projects/hotstuff-consensus/common/db/leveldb"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

type testKeys struct {
	validators *types.ValidatorSet
	signers    map[types.ReplicaID]api.Signer
	replicas   *ReplicaConf
}

func newTestKeys(t require.TestingT, n int) *testKeys {
	vals := make([]*types.Validator, 0, n)
	signers := make(map[types.ReplicaID]api.Signer, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		pub, err := crypto.MarshalPublicKey(&key.PublicKey)
		require.NoError(t, err)
		id := types.ReplicaID(i)
		vals = append(vals, &types.Validator{ID: id, Weight: 1, PublicKey: pub})
		signers[id] = &crypto.ECDSASigner{Pri: key}
	}
	vs, err := types.NewValidatorSet(vals)
	require.NoError(t, err)
	replicas, err := NewReplicaConf(vs, nil, 1024)
	require.NoError(t, err)
	return &testKeys{validators: vs, signers: signers, replicas: replicas}
}

func (k *testKeys) vote(t require.TestingT, voter types.ReplicaID, b *types.Block) *types.Vote {
	hash := b.Hash()
	sig, err := k.signers[voter].Sign(types.VoteDigest(b.View, hash))
	require.NoError(t, err)
	return &types.Vote{View: b.View, BlockHash: hash, Voter: voter, Signature: sig}
}

// qc certifies b with the votes of the given replicas.
func (k *testKeys) qc(t require.TestingT, b *types.Block, voters ...types.ReplicaID) *types.QuorumCert {
	if b.IsGenesis() {
		return types.GenesisQC()
	}
	if len(voters) == 0 {
		voters = []types.ReplicaID{0, 1, 2}
	}
	parts := make([]types.PartialSig, 0, len(voters))
	for _, id := range voters {
		parts = append(parts, types.PartialSig{Signer: id, Signature: k.vote(t, id, b).Signature})
	}
	types.SortPartialSigs(parts)
	agg, err := k.replicas.Aggregator.Combine(parts)
	require.NoError(t, err)
	return &types.QuorumCert{View: b.View, BlockHash: b.Hash(), Signers: types.SignerIDs(parts), AggSig: agg}
}

func (k *testKeys) newView(t require.TestingT, sender types.ReplicaID, view types.View, highQC *types.QuorumCert) *types.NewView {
	sig, err := k.signers[sender].Sign(types.TimeoutDigest(view, highQC.View))
	require.NoError(t, err)
	return &types.NewView{View: view, HighQC: highQC, Sender: sender, Signature: sig}
}

func (k *testKeys) timeoutCert(t require.TestingT, view types.View, highQC *types.QuorumCert, senders ...types.ReplicaID) *types.TimeoutCert {
	parts := make([]types.PartialSig, 0, len(senders))
	for _, id := range senders {
		parts = append(parts, types.PartialSig{Signer: id, Signature: k.newView(t, id, view, highQC).Signature})
	}
	types.SortPartialSigs(parts)
	agg, err := k.replicas.Aggregator.Combine(parts)
	require.NoError(t, err)
	views := make([]types.View, len(parts))
	for i := range views {
		views[i] = highQC.View
	}
	return &types.TimeoutCert{View: view, HighQC: highQC, Signers: types.SignerIDs(parts), HighQCViews: views, AggSig: agg}
}

// proposal builds the leader-signed block of view extending parent.
func (k *testKeys) proposal(t require.TestingT, parent *types.Block, view types.View, payload []byte) *types.Proposal {
	leader := k.validators.Leader(view)
	b := types.NewBlock(parent, k.qc(t, parent), view, leader, payload, int64(view))
	sig, err := k.signers[leader].Sign(types.ProposalDigest(b.Hash()))
	require.NoError(t, err)
	return &types.Proposal{Block: b, Signature: sig}
}

// child returns a block of view extending parent, justified by an unsigned QC.
func child(parent *types.Block, view types.View) *types.Block {
	justify := &types.QuorumCert{View: parent.View, BlockHash: parent.Hash()}
	if parent.IsGenesis() {
		justify = types.GenesisQC()
	}
	return types.NewBlock(parent, justify, view, types.ReplicaID(view%4), nil, int64(view))
}

// chainOf returns blocks extending parent at the given views, in order.
func chainOf(parent *types.Block, views ...types.View) []*types.Block {
	out := make([]*types.Block, 0, len(views))
	for _, v := range views {
		b := child(parent, v)
		out = append(out, b)
		parent = b
	}
	return out
}

func certify(b *types.Block) *types.QuorumCert {
	return &types.QuorumCert{View: b.View, BlockHash: b.Hash(), Signers: []types.ReplicaID{0, 1, 2}}
}

func memPersister(t require.TestingT) *leveldb.Persister {
	p, err := leveldb.OpenMemory()
	require.NoError(t, err)
	return p
}
