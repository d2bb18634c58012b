/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"context"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// HotStuff is the engine contract exposed to the node.
type HotStuff interface {
	Start(ctx context.Context) error
	// HandleMessage delivers a message received from a peer.
	HandleMessage(from types.ReplicaID, msg *types.Message)
	// OnTimeout is called by the timer scheduler when view expires.
	OnTimeout(view types.View)
	Submit(cmds []byte) error
	Status() Status
}

// Status is a snapshot of the engine state, safe to read from any goroutine.
type Status struct {
	ID              types.ReplicaID `json:"id"`
	View            types.View      `json:"view"`
	Phase           string          `json:"phase"`
	Leader          types.ReplicaID `json:"leader"`
	HighQCView      types.View      `json:"high_qc_view"`
	LockedQCView    types.View      `json:"locked_qc_view"`
	LastVotedView   types.View      `json:"last_voted_view"`
	CommittedView   types.View      `json:"committed_view"`
	CommittedHeight uint64          `json:"committed_height"`
}

// Committer receives committed blocks exactly in chain order, at most once each.
type Committer interface {
	OnCommit(block *types.Block) error
}
