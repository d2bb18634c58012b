/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"github.com/pkg/errors"
)

// Validator is a member of the replica set.
type Validator struct {
	ID        ReplicaID
	Weight    uint64
	PublicKey []byte
}

// ValidatorSet is the ordered, static set of replicas of an epoch.
type ValidatorSet struct {
	validators []*Validator
	index      map[ReplicaID]int
	total      uint64
}

// NewValidatorSet builds a validator set in the given order. The order
// determines leader rotation.
func NewValidatorSet(vals []*Validator) (*ValidatorSet, error) {
	if len(vals) == 0 {
		return nil, errors.New("empty validator set")
	}
	vs := &ValidatorSet{
		validators: make([]*Validator, 0, len(vals)),
		index:      make(map[ReplicaID]int, len(vals)),
	}
	for _, v := range vals {
		if v == nil {
			return nil, errors.New("nil validator")
		}
		if v.Weight == 0 {
			return nil, errors.Errorf("validator %d has zero weight", v.ID)
		}
		if _, ok := vs.index[v.ID]; ok {
			return nil, errors.Errorf("duplicate validator %d", v.ID)
		}
		vs.index[v.ID] = len(vs.validators)
		vs.validators = append(vs.validators, v)
		vs.total += v.Weight
	}
	return vs, nil
}

// Size returns the number of validators n.
func (vs *ValidatorSet) Size() int {
	return len(vs.validators)
}

func (vs *ValidatorSet) TotalWeight() uint64 {
	return vs.total
}

// QuorumThreshold is the weight needed for a QC or TC: ceil(2W/3).
// With unit weights and n = 3f+1 this is 2f+1.
func (vs *ValidatorSet) QuorumThreshold() uint64 {
	return (2*vs.total + 2) / 3
}

// PartialThreshold is the smallest weight that must contain at least one
// honest replica: W - QuorumThreshold + 1, i.e. f+1 with unit weights.
func (vs *ValidatorSet) PartialThreshold() uint64 {
	return vs.total - vs.QuorumThreshold() + 1
}

func (vs *ValidatorSet) Contains(id ReplicaID) bool {
	_, ok := vs.index[id]
	return ok
}

func (vs *ValidatorSet) Get(id ReplicaID) (*Validator, bool) {
	i, ok := vs.index[id]
	if !ok {
		return nil, false
	}
	return vs.validators[i], true
}

// Validators returns the validators in rotation order.
func (vs *ValidatorSet) Validators() []*Validator {
	out := make([]*Validator, len(vs.validators))
	copy(out, vs.validators)
	return out
}

func (vs *ValidatorSet) IDs() []ReplicaID {
	ids := make([]ReplicaID, len(vs.validators))
	for i, v := range vs.validators {
		ids[i] = v.ID
	}
	return ids
}

// Leader returns the designated leader of view.
func (vs *ValidatorSet) Leader(view View) ReplicaID {
	return vs.validators[uint64(view)%uint64(len(vs.validators))].ID
}

// WeightOf sums the weight of distinct signers. Unknown or repeated signers
// are an error.
func (vs *ValidatorSet) WeightOf(signers []ReplicaID) (uint64, error) {
	seen := make(map[ReplicaID]struct{}, len(signers))
	var w uint64
	for _, id := range signers {
		v, ok := vs.Get(id)
		if !ok {
			return 0, errors.Errorf("unknown signer %d", id)
		}
		if _, dup := seen[id]; dup {
			return 0, errors.Errorf("duplicate signer %d", id)
		}
		seen[id] = struct{}{}
		w += v.Weight
	}
	return w, nil
}

// HasQuorum reports whether signers carry at least QuorumThreshold weight.
func (vs *ValidatorSet) HasQuorum(signers []ReplicaID) bool {
	w, err := vs.WeightOf(signers)
	return err == nil && w >= vs.QuorumThreshold()
}
