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

type viewVotes struct {
	// first vote of every voter, kept as equivocation evidence
	votes map[types.ReplicaID]*types.Vote
	// voters caught equivocating in this view
	excluded map[types.ReplicaID]struct{}
	// counted signatures per block
	blocks map[types.Hash]map[types.ReplicaID][]byte
	qc     *types.QuorumCert
}

// VoteAggregator collects votes per view and forms a QC once the signers of
// one block reach the quorum threshold. Not safe for concurrent use.
type VoteAggregator struct {
	validators *types.ValidatorSet
	signer     api.Aggregator
	views      map[types.View]*viewVotes
	lowest     types.View
}

func NewVoteAggregator(validators *types.ValidatorSet, aggregator api.Aggregator) *VoteAggregator {
	return &VoteAggregator{
		validators: validators,
		signer:     aggregator,
		views:      make(map[types.View]*viewVotes),
	}
}

// AddVote counts an already verified vote. It returns the QC the first time
// the threshold is reached for the vote's view and nil otherwise.
func (va *VoteAggregator) AddVote(vote *types.Vote) (*types.QuorumCert, error) {
	if vote.View < va.lowest {
		return nil, errors.Wrapf(ErrStaleView, "vote for view %d, aggregating from view %d", vote.View, va.lowest)
	}
	if vote.View > va.lowest+types.FutureViewWindow {
		return nil, errors.Wrapf(ErrFutureView, "vote for view %d, aggregating from view %d", vote.View, va.lowest)
	}
	if !va.validators.Contains(vote.Voter) {
		return nil, errors.Wrapf(ErrUnknownReplica, "voter %d", vote.Voter)
	}

	vv, ok := va.views[vote.View]
	if !ok {
		vv = &viewVotes{
			votes:    make(map[types.ReplicaID]*types.Vote),
			excluded: make(map[types.ReplicaID]struct{}),
			blocks:   make(map[types.Hash]map[types.ReplicaID][]byte),
		}
		va.views[vote.View] = vv
	}

	if _, ok := vv.excluded[vote.Voter]; ok {
		return nil, errors.Wrapf(ErrEquivocation, "voter %d already excluded at view %d", vote.Voter, vote.View)
	}
	if prev, ok := vv.votes[vote.Voter]; ok {
		if prev.BlockHash == vote.BlockHash {
			return nil, nil
		}
		vv.excluded[vote.Voter] = struct{}{}
		if vv.qc == nil {
			delete(vv.blocks[prev.BlockHash], vote.Voter)
		}
		return nil, &EquivocationError{Replica: vote.Voter, View: vote.View, First: prev, Second: vote}
	}

	vv.votes[vote.Voter] = vote
	sigs, ok := vv.blocks[vote.BlockHash]
	if !ok {
		sigs = make(map[types.ReplicaID][]byte)
		vv.blocks[vote.BlockHash] = sigs
	}
	sigs[vote.Voter] = vote.Signature
	if vv.qc != nil {
		return nil, nil
	}

	parts := make([]types.PartialSig, 0, len(sigs))
	for id, sig := range sigs {
		parts = append(parts, types.PartialSig{Signer: id, Signature: sig})
	}
	if !va.validators.HasQuorum(types.SignerIDs(parts)) {
		return nil, nil
	}
	types.SortPartialSigs(parts)
	agg, err := va.signer.Combine(parts)
	if err != nil {
		return nil, errors.Wrap(err, "combine vote signatures")
	}
	vv.qc = &types.QuorumCert{
		View:      vote.View,
		BlockHash: vote.BlockHash,
		Signers:   types.SignerIDs(parts),
		AggSig:    agg,
	}
	return vv.qc, nil
}

// PruneBelow drops every view lower than view.
func (va *VoteAggregator) PruneBelow(view types.View) {
	if view <= va.lowest {
		return
	}
	for v := range va.views {
		if v < view {
			delete(va.views, v)
		}
	}
	va.lowest = view
}
