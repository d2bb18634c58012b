/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import "github.com/zhigui-projects/hotstuff-consensus/types"

type Database interface {
	Get(key interface{}) (interface{}, error)
	Put(key interface{}, value interface{}) error
	Delete(key interface{}) error
	Close()
}

// SafetyData is the replica state that must survive a restart for the
// replica to never vote twice or against its lock.
type SafetyData struct {
	LockedQC        *types.QuorumCert `cbor:"1,keyasint,omitempty"`
	HighQC          *types.QuorumCert `cbor:"2,keyasint,omitempty"`
	LastVotedView   types.View        `cbor:"3,keyasint,omitempty"`
	CommittedHash   types.Hash        `cbor:"4,keyasint,omitempty"`
	CommittedView   types.View        `cbor:"5,keyasint,omitempty"`
	CommittedHeight uint64            `cbor:"6,keyasint,omitempty"`
}

// LivenessData is the pacemaker state persisted on every view change.
type LivenessData struct {
	CurrentView  types.View `cbor:"1,keyasint,omitempty"`
	FailedRounds uint64     `cbor:"2,keyasint,omitempty"`
}

// Persister stores consensus state. Get methods return (nil, nil) when
// nothing was stored yet.
type Persister interface {
	GetSafetyData() (*SafetyData, error)
	PutSafetyData(data *SafetyData) error
	GetLivenessData() (*LivenessData, error)
	PutLivenessData(data *LivenessData) error
	PutBlock(block *types.Block) error
	GetBlock(hash types.Hash) (*types.Block, error)
	Close() error
}
