/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"fmt"
	"sort"
)

// PartialSig is a single replica's signature waiting to be combined.
type PartialSig struct {
	Signer    ReplicaID `cbor:"1,keyasint,omitempty"`
	Signature []byte    `cbor:"2,keyasint,omitempty"`
}

// SortPartialSigs orders partial signatures by signer so that every
// aggregation over the same set yields the same bytes.
func SortPartialSigs(parts []PartialSig) {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Signer < parts[j].Signer })
}

// SignerIDs returns the signers of parts in their current order.
func SignerIDs(parts []PartialSig) []ReplicaID {
	ids := make([]ReplicaID, len(parts))
	for i, p := range parts {
		ids[i] = p.Signer
	}
	return ids
}

// Vote is a replica's signed approval of a block at a view.
type Vote struct {
	View      View      `cbor:"1,keyasint,omitempty"`
	BlockHash Hash      `cbor:"2,keyasint,omitempty"`
	Voter     ReplicaID `cbor:"3,keyasint,omitempty"`
	Signature []byte    `cbor:"4,keyasint,omitempty"`
}

func (v *Vote) String() string {
	return fmt.Sprintf("Vote{view=%d block=%s voter=%d}", v.View, v.BlockHash.Short(), v.Voter)
}

// QuorumCert proves that a quorum of the validator set voted for BlockHash at View.
type QuorumCert struct {
	View      View        `cbor:"1,keyasint,omitempty"`
	BlockHash Hash        `cbor:"2,keyasint,omitempty"`
	Signers   []ReplicaID `cbor:"3,keyasint,omitempty"`
	AggSig    []byte      `cbor:"4,keyasint,omitempty"`
}

// IsGenesis reports whether qc is the unsigned certificate of the genesis block.
func (qc *QuorumCert) IsGenesis() bool {
	return qc.View == 0 && len(qc.Signers) == 0 && qc.BlockHash == Genesis().Hash()
}

func (qc *QuorumCert) String() string {
	if qc == nil {
		return "QC{nil}"
	}
	return fmt.Sprintf("QC{view=%d block=%s signers=%d}", qc.View, qc.BlockHash.Short(), len(qc.Signers))
}

// NewView is broadcast by a replica that gives up on View. It carries the
// replica's highest known QC so the next leader can extend it.
type NewView struct {
	View      View        `cbor:"1,keyasint,omitempty"`
	HighQC    *QuorumCert `cbor:"2,keyasint,omitempty"`
	Sender    ReplicaID   `cbor:"3,keyasint,omitempty"`
	Signature []byte      `cbor:"4,keyasint,omitempty"`
}

func (nv *NewView) String() string {
	return fmt.Sprintf("NewView{view=%d sender=%d highQC=%s}", nv.View, nv.Sender, nv.HighQC)
}

// TimeoutCert proves that a quorum abandoned View. HighQCViews[i] is the high QC
// view signed by Signers[i]; HighQC is the certificate with the largest of them.
type TimeoutCert struct {
	View        View        `cbor:"1,keyasint,omitempty"`
	HighQC      *QuorumCert `cbor:"2,keyasint,omitempty"`
	Signers     []ReplicaID `cbor:"3,keyasint,omitempty"`
	HighQCViews []View      `cbor:"4,keyasint,omitempty"`
	AggSig      []byte      `cbor:"5,keyasint,omitempty"`
}

func (tc *TimeoutCert) String() string {
	if tc == nil {
		return "TC{nil}"
	}
	return fmt.Sprintf("TC{view=%d signers=%d highQC=%s}", tc.View, len(tc.Signers), tc.HighQC)
}
