/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consensus

import (
	"github.com/pkg/errors"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// SafetyRules decides whether the replica may vote and which blocks commit.
// It is owned by the consensus actor and is not safe for concurrent use.
type SafetyRules struct {
	id        types.ReplicaID
	signer    api.Signer
	tree      *BlockTree
	persister api.Persister

	/*
		b = b'.justify.node
		b' = b''.justify.node
		b'' = qc.node
	*/
	// highest QC known, the one the next proposal extends
	highQC *types.QuorumCert
	// b''.justify, the QC of b'
	lockedQC *types.QuorumCert
	// view of the last vote or timeout signed
	lastVotedView types.View
	// last committed block b
	committed *types.Block

	lastTimeout *types.NewView
}

// NewSafetyRules restores the safety state from data, nil meaning a fresh
// replica starting at genesis.
func NewSafetyRules(id types.ReplicaID, signer api.Signer, tree *BlockTree, persister api.Persister, data *api.SafetyData) *SafetyRules {
	sr := &SafetyRules{
		id:        id,
		signer:    signer,
		tree:      tree,
		persister: persister,
		highQC:    types.GenesisQC(),
		lockedQC:  types.GenesisQC(),
		committed: tree.Root(),
	}
	if data != nil {
		if data.HighQC != nil {
			sr.highQC = data.HighQC
		}
		if data.LockedQC != nil {
			sr.lockedQC = data.LockedQC
		}
		sr.lastVotedView = data.LastVotedView
	}
	return sr
}

func (sr *SafetyRules) HighQC() *types.QuorumCert   { return sr.highQC }
func (sr *SafetyRules) LockedQC() *types.QuorumCert { return sr.lockedQC }
func (sr *SafetyRules) LastVotedView() types.View   { return sr.lastVotedView }
func (sr *SafetyRules) Committed() *types.Block     { return sr.committed }

// ShouldVote returns nil when the replica may vote for block in curView.
// A missing ancestor makes the vote withheld.
func (sr *SafetyRules) ShouldVote(block *types.Block, curView types.View) error {
	if block.View != curView {
		return errors.Wrapf(ErrStaleView, "block view %d, current view %d", block.View, curView)
	}
	if block.View <= sr.lastVotedView {
		return errors.Wrapf(ErrAlreadyVoted, "block view %d, last voted view %d", block.View, sr.lastVotedView)
	}
	if block.Justify == nil || block.Justify.BlockHash != block.ParentHash || block.Justify.View >= block.View {
		return errors.Wrapf(ErrMalformedMessage, "block %s does not link to its parent", block.Hash().Short())
	}
	if _, ok := sr.tree.Get(block.ParentHash); !ok {
		return errors.Wrapf(ErrMissingBlock, "parent of block %s", block.Hash().Short())
	}
	// safety rule: extend the locked branch; liveness rule: justify is newer than the lock
	if sr.tree.Extends(block, sr.lockedQC.BlockHash) || block.Justify.View > sr.lockedQC.View {
		return nil
	}
	return errors.Wrapf(ErrSafetyViolationAttempt, "block %s conflicts with locked QC at view %d",
		block.Hash().Short(), sr.lockedQC.View)
}

// MakeVote records the vote durably and then signs it.
func (sr *SafetyRules) MakeVote(block *types.Block) (*types.Vote, error) {
	if block.View <= sr.lastVotedView {
		return nil, errors.Wrapf(ErrAlreadyVoted, "view %d", block.View)
	}
	sr.lastVotedView = block.View
	if err := sr.persist(); err != nil {
		return nil, err
	}
	hash := block.Hash()
	sig, err := sr.signer.Sign(types.VoteDigest(block.View, hash))
	if err != nil {
		return nil, errors.Wrap(err, "sign vote")
	}
	return &types.Vote{View: block.View, BlockHash: hash, Voter: sr.id, Signature: sig}, nil
}

// MakeTimeout gives up view: no vote will be signed for it afterwards.
// Calling it again for the same view returns the same message unless the
// high QC moved in between.
func (sr *SafetyRules) MakeTimeout(view types.View) (*types.NewView, error) {
	if nv := sr.lastTimeout; nv != nil && nv.View == view && nv.HighQC.View == sr.highQC.View {
		return nv, nil
	}
	if view < sr.lastVotedView {
		return nil, errors.Wrapf(ErrStaleView, "timeout for view %d, last voted view %d", view, sr.lastVotedView)
	}
	if view > sr.lastVotedView {
		sr.lastVotedView = view
		if err := sr.persist(); err != nil {
			return nil, err
		}
	}
	sig, err := sr.signer.Sign(types.TimeoutDigest(view, sr.highQC.View))
	if err != nil {
		return nil, errors.Wrap(err, "sign timeout")
	}
	sr.lastTimeout = &types.NewView{View: view, HighQC: sr.highQC, Sender: sr.id, Signature: sig}
	return sr.lastTimeout, nil
}

// ProcessQC updates the high QC and the lock and returns the newly committed
// blocks, oldest first. The certified block must be in the tree.
func (sr *SafetyRules) ProcessQC(qc *types.QuorumCert) ([]*types.Block, error) {
	b2, ok := sr.tree.Get(qc.BlockHash)
	if !ok {
		return nil, errors.Wrapf(ErrMissingBlock, "block %s certified at view %d", qc.BlockHash.Short(), qc.View)
	}
	changed := false
	if qc.View > sr.highQC.View {
		sr.highQC = qc
		changed = true
	}

	commits, err := sr.chain(b2)
	if changed || len(commits) > 0 || err != nil {
		if perr := sr.persist(); perr != nil && err == nil {
			err = perr
		}
	}
	return commits, err
}

func (sr *SafetyRules) chain(b2 *types.Block) ([]*types.Block, error) {
	if b2.Justify == nil {
		return nil, nil
	}
	// two-chain: lock on b'
	if b2.Justify.View > sr.lockedQC.View {
		logger.Debug("update locked QC", "view", b2.Justify.View, "block", b2.Justify.BlockHash.Short())
		sr.lockedQC = b2.Justify
	}

	b1, ok := sr.tree.Get(b2.Justify.BlockHash)
	if !ok || b1.Justify == nil {
		return nil, nil
	}
	b0, ok := sr.tree.Get(b1.Justify.BlockHash)
	if !ok {
		return nil, nil
	}
	// three-chain with consecutive views commits b
	if b2.ParentHash != b1.Hash() || b1.ParentHash != b0.Hash() || b2.View != b1.View+1 || b1.View != b0.View+1 {
		return nil, nil
	}
	if b0.Height <= sr.committed.Height {
		if b0.Height == sr.committed.Height && b0.Hash() != sr.committed.Hash() {
			return nil, errors.Wrapf(ErrForkDetected, "block %s conflicts with committed block %s at height %d",
				b0.Hash().Short(), sr.committed.Hash().Short(), b0.Height)
		}
		return nil, nil
	}

	path, err := sr.tree.PathFrom(sr.committed, b0)
	if err != nil {
		return nil, err
	}
	sr.committed = b0
	return path, nil
}

func (sr *SafetyRules) persist() error {
	data := &api.SafetyData{
		LockedQC:        sr.lockedQC,
		HighQC:          sr.highQC,
		LastVotedView:   sr.lastVotedView,
		CommittedHash:   sr.committed.Hash(),
		CommittedView:   sr.committed.View,
		CommittedHeight: sr.committed.Height,
	}
	if err := sr.persister.PutSafetyData(data); err != nil {
		return errors.Wrap(err, "persist safety data")
	}
	return nil
}
