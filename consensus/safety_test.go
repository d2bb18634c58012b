package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Sign(digest []byte) ([]byte, error) {
	args := m.Called(digest)
	return args.Get(0).([]byte), args.Error(1)
}

func newSafety(t *testing.T, blocks ...*types.Block) (*SafetyRules, api.Persister) {
	persister := memPersister(t)
	t.Cleanup(func() { persister.Close() })
	tree := NewBlockTree(types.Genesis())
	for _, b := range blocks {
		_, err := tree.Add(b)
		require.NoError(t, err)
	}
	signer := &mockSigner{}
	signer.On("Sign", mock.Anything).Return([]byte("sig"), nil)
	return NewSafetyRules(1, signer, tree, persister, nil), persister
}

func TestThreeChainCommit(t *testing.T) {
	chain := chainOf(types.Genesis(), 1, 2, 3, 4, 5, 6, 7)
	sr, persister := newSafety(t, chain...)

	// QC(B5) over B3 <- B4 <- B5 with consecutive views commits B3 and its ancestors
	commits, err := sr.ProcessQC(certify(chain[4]))
	require.NoError(t, err)
	assert.Equal(t, chain[:3], commits)
	assert.Equal(t, types.View(5), sr.HighQC().View)
	assert.Equal(t, types.View(4), sr.LockedQC().View)
	assert.Equal(t, chain[2], sr.Committed())

	// QC(B7) over B5 <- B6 <- B7 commits B4 and B5
	commits, err = sr.ProcessQC(certify(chain[6]))
	require.NoError(t, err)
	assert.Equal(t, chain[3:5], commits)
	assert.Equal(t, types.View(6), sr.LockedQC().View)

	data, err := persister.GetSafetyData()
	require.NoError(t, err)
	assert.Equal(t, chain[4].Hash(), data.CommittedHash)
	assert.Equal(t, types.View(5), data.CommittedView)
	assert.Equal(t, uint64(5), data.CommittedHeight)
	assert.Equal(t, types.View(7), data.HighQC.View)

	// an older QC neither moves the lock back nor commits again
	commits, err = sr.ProcessQC(certify(chain[4]))
	require.NoError(t, err)
	assert.Empty(t, commits)
	assert.Equal(t, types.View(6), sr.LockedQC().View)
	assert.Equal(t, types.View(7), sr.HighQC().View)
}

func TestNoCommitWithoutConsecutiveViews(t *testing.T) {
	genesis := types.Genesis()
	chain := chainOf(genesis, 1, 2, 3)
	gap := chainOf(chain[2], 5, 6)
	sr, _ := newSafety(t, append(chain, gap...)...)

	commits, err := sr.ProcessQC(certify(chain[2]))
	require.NoError(t, err)
	assert.Equal(t, chain[:1], commits)

	// B3 <- B5 <- B6 has a view gap: lock moves, nothing commits
	commits, err = sr.ProcessQC(certify(gap[1]))
	require.NoError(t, err)
	assert.Empty(t, commits)
	assert.Equal(t, types.View(5), sr.LockedQC().View)
	assert.Equal(t, chain[0], sr.Committed())
}

func TestProcessQCUnknownBlock(t *testing.T) {
	sr, _ := newSafety(t)
	b := child(types.Genesis(), 1)
	_, err := sr.ProcessQC(certify(b))
	assert.ErrorIs(t, err, ErrMissingBlock)
	assert.Equal(t, types.View(0), sr.HighQC().View)
}

func TestForkDetected(t *testing.T) {
	genesis := types.Genesis()
	chain := chainOf(genesis, 1, 2, 3, 4, 5)
	fork := chainOf(chain[1], 10, 11, 12, 13)
	sr, _ := newSafety(t, append(chain, fork...)...)

	_, err := sr.ProcessQC(certify(chain[4]))
	require.NoError(t, err)
	require.Equal(t, chain[2], sr.Committed())

	// C3(10) <- C4(11) <- C5(12) certifies a block conflicting with B3 at height 3
	_, err = sr.ProcessQC(certify(fork[2]))
	assert.ErrorIs(t, err, ErrForkDetected)
	assert.True(t, isFatal(err))
}

func TestShouldVote(t *testing.T) {
	genesis := types.Genesis()
	chain := chainOf(genesis, 1, 2, 3, 4)
	sr, _ := newSafety(t, chain...)

	b5 := child(chain[3], 5)
	assert.NoError(t, sr.ShouldVote(b5, 5))
	assert.ErrorIs(t, sr.ShouldVote(b5, 6), ErrStaleView)

	unlinked := child(chain[3], 5)
	unlinked.Justify = certify(chain[2])
	assert.ErrorIs(t, sr.ShouldVote(unlinked, 5), ErrMalformedMessage)

	orphan := child(child(chain[3], 5), 6)
	assert.ErrorIs(t, sr.ShouldVote(orphan, 6), ErrMissingBlock)

	_, err := sr.MakeVote(b5)
	require.NoError(t, err)
	assert.ErrorIs(t, sr.ShouldVote(b5, 5), ErrAlreadyVoted)
	_, err = sr.MakeVote(b5)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
}

func TestShouldVoteLockRule(t *testing.T) {
	genesis := types.Genesis()
	chain := chainOf(genesis, 1, 2, 3)
	fork := chainOf(chain[0], 4)
	sr, _ := newSafety(t, append(chain, fork...)...)

	_, err := sr.ProcessQC(certify(chain[2]))
	require.NoError(t, err)
	require.Equal(t, types.View(2), sr.LockedQC().View)

	// extends B1 only, justify QC(B1) is older than the lock on B2
	conflicting := child(chain[0], 5)
	assert.ErrorIs(t, sr.ShouldVote(conflicting, 5), ErrSafetyViolationAttempt)

	// a justify newer than the lock unlocks the replica
	newer := child(fork[0], 5)
	assert.NoError(t, sr.ShouldVote(newer, 5))

	extending := child(chain[2], 5)
	assert.NoError(t, sr.ShouldVote(extending, 5))
}

type recordingPersister struct {
	api.Persister
	lastVoted types.View
}

func (p *recordingPersister) PutSafetyData(data *api.SafetyData) error {
	p.lastVoted = data.LastVotedView
	return p.Persister.PutSafetyData(data)
}

func TestMakeVotePersistsBeforeSigning(t *testing.T) {
	genesis := types.Genesis()
	tree := NewBlockTree(genesis)
	b1 := child(genesis, 1)
	_, err := tree.Add(b1)
	require.NoError(t, err)

	persister := &recordingPersister{Persister: memPersister(t)}
	defer persister.Close()
	signer := &mockSigner{}
	signer.On("Sign", types.VoteDigest(1, b1.Hash())).Run(func(mock.Arguments) {
		assert.Equal(t, types.View(1), persister.lastVoted)
	}).Return([]byte("vote"), nil).Once()

	sr := NewSafetyRules(2, signer, tree, persister, nil)
	vote, err := sr.MakeVote(b1)
	require.NoError(t, err)
	assert.Equal(t, &types.Vote{View: 1, BlockHash: b1.Hash(), Voter: 2, Signature: []byte("vote")}, vote)
	signer.AssertExpectations(t)
}

func TestMakeTimeout(t *testing.T) {
	chain := chainOf(types.Genesis(), 1, 2)
	sr, persister := newSafety(t, chain...)
	_, err := sr.ProcessQC(certify(chain[1]))
	require.NoError(t, err)

	nv, err := sr.MakeTimeout(3)
	require.NoError(t, err)
	assert.Equal(t, types.View(3), nv.View)
	assert.Equal(t, types.View(2), nv.HighQC.View)
	assert.Equal(t, types.ReplicaID(1), nv.Sender)
	assert.Equal(t, types.View(3), sr.LastVotedView())

	data, err := persister.GetSafetyData()
	require.NoError(t, err)
	assert.Equal(t, types.View(3), data.LastVotedView)

	// no vote after giving up the view
	b3 := child(chain[1], 3)
	assert.ErrorIs(t, sr.ShouldVote(b3, 3), ErrAlreadyVoted)

	again, err := sr.MakeTimeout(3)
	require.NoError(t, err)
	assert.Same(t, nv, again)

	_, err = sr.MakeTimeout(2)
	assert.ErrorIs(t, err, ErrStaleView)
}

func TestSafetyRestore(t *testing.T) {
	persister := memPersister(t)
	defer persister.Close()
	chain := chainOf(types.Genesis(), 1, 2, 3, 4)
	tree := NewBlockTree(types.Genesis())
	for _, b := range chain {
		_, err := tree.Add(b)
		require.NoError(t, err)
		require.NoError(t, persister.PutBlock(b))
	}
	signer := &mockSigner{}
	signer.On("Sign", mock.Anything).Return([]byte("sig"), nil)

	sr := NewSafetyRules(1, signer, tree, persister, nil)
	_, err := sr.ProcessQC(certify(chain[3]))
	require.NoError(t, err)
	_, err = sr.MakeVote(child(chain[3], 5))
	require.NoError(t, err)

	data, err := persister.GetSafetyData()
	require.NoError(t, err)
	restoredTree, err := LoadBlockTree(persister, data.CommittedHash, data.HighQC.BlockHash)
	require.NoError(t, err)
	restored := NewSafetyRules(1, signer, restoredTree, persister, data)

	assert.Equal(t, types.View(5), restored.LastVotedView())
	assert.Equal(t, types.View(3), restored.LockedQC().View)
	assert.Equal(t, types.View(4), restored.HighQC().View)
	assert.Equal(t, chain[1].Hash(), restored.Committed().Hash())
	_, err = restored.MakeVote(child(chain[3], 5))
	assert.ErrorIs(t, err, ErrAlreadyVoted)
}
