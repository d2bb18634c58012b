/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"time"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// Consumer receives protocol notifications from the consensus actor.
// Implementations must be non-blocking.
type Consumer interface {
	OnEnterView(view types.View, leader types.ReplicaID)
	OnProposing(block *types.Block)
	OnReceiveProposal(proposal *types.Proposal)
	OnVoting(vote *types.Vote)
	OnQCFormed(qc *types.QuorumCert)
	OnTCFormed(tc *types.TimeoutCert)
	OnLocalTimeout(view types.View, d time.Duration)
	OnBlockCommitted(block *types.Block)
	OnEquivocation(replica types.ReplicaID, view types.View)
	OnInvalidMessage(from types.ReplicaID, msgType types.MsgType, err error)
}
