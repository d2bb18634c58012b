/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"crypto/sha256"
	"fmt"
)

// Block is a proposal payload together with the QC certifying its parent.
// A block never changes after it is created.
type Block struct {
	ParentHash Hash        `cbor:"1,keyasint,omitempty"`
	View       View        `cbor:"2,keyasint,omitempty"`
	Height     uint64      `cbor:"3,keyasint,omitempty"`
	Proposer   ReplicaID   `cbor:"4,keyasint,omitempty"`
	Payload    []byte      `cbor:"5,keyasint,omitempty"`
	Justify    *QuorumCert `cbor:"6,keyasint,omitempty"`
	Timestamp  int64       `cbor:"7,keyasint,omitempty"`
}

// Hash returns the block identifier.
func (b *Block) Hash() Hash {
	return sha256.Sum256(blockEncoding(b))
}

// IsGenesis reports whether b is the root of the chain.
func (b *Block) IsGenesis() bool {
	return b.View == 0 && b.Height == 0 && b.ParentHash.IsZero() && b.Justify == nil
}

func (b *Block) String() string {
	return fmt.Sprintf("Block{view=%d height=%d hash=%s parent=%s}", b.View, b.Height, b.Hash().Short(), b.ParentHash.Short())
}

// Genesis returns the genesis block shared by every replica of a cluster.
func Genesis() *Block {
	return &Block{}
}

// GenesisQC returns the QC certifying the genesis block. It carries no signatures.
func GenesisQC() *QuorumCert {
	return &QuorumCert{View: 0, BlockHash: Genesis().Hash()}
}

// NewBlock creates a block extending the block certified by justify.
func NewBlock(parent *Block, justify *QuorumCert, view View, proposer ReplicaID, payload []byte, timestamp int64) *Block {
	return &Block{
		ParentHash: justify.BlockHash,
		View:       view,
		Height:     parent.Height + 1,
		Proposer:   proposer,
		Payload:    payload,
		Justify:    justify,
		Timestamp:  timestamp,
	}
}
