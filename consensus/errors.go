/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consensus

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrStaleView              = errors.New("stale view")
	ErrFutureView             = errors.New("view too far ahead")
	ErrEquivocation           = errors.New("equivocation")
	ErrSafetyViolationAttempt = errors.New("safety violation attempt")
	ErrQuorumTimeout          = errors.New("quorum timeout")
	ErrUnknownReplica         = errors.New("unknown replica")
	ErrMalformedMessage       = errors.New("malformed message")
	ErrMissingBlock           = errors.New("missing block")
	ErrAlreadyVoted           = errors.New("already voted")
	ErrForkDetected           = errors.New("fork detected")
	ErrQueueFull              = errors.New("submit queue is full")
	ErrStopped                = errors.New("consensus is stopped")
)

// EquivocationError carries the two conflicting messages signed by the same
// replica for the same view. First and Second are *types.Vote or *types.Proposal.
type EquivocationError struct {
	Replica types.ReplicaID
	View    types.View
	First   interface{}
	Second  interface{}
}

func (e *EquivocationError) Error() string {
	return fmt.Sprintf("equivocation: replica %d at view %d sent %v and %v", e.Replica, e.View, e.First, e.Second)
}

// Is lets errors.Is match EquivocationError against ErrEquivocation.
func (e *EquivocationError) Is(target error) bool {
	return target == ErrEquivocation
}

// IsEquivocation returns the equivocation evidence wrapped in err, if any.
func IsEquivocation(err error) (*EquivocationError, bool) {
	var e *EquivocationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// isFatal reports errors that must stop the replica.
func isFatal(err error) bool {
	return errors.Is(err, ErrForkDetected)
}
