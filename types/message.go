/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Proposal carries a leader's block. LastViewTC is set when the leader entered
// the block's view through a timeout certificate.
type Proposal struct {
	Block      *Block       `cbor:"1,keyasint,omitempty"`
	LastViewTC *TimeoutCert `cbor:"2,keyasint,omitempty"`
	Signature  []byte       `cbor:"3,keyasint,omitempty"`
}

func (p *Proposal) String() string {
	return fmt.Sprintf("Proposal{%s tc=%v}", p.Block, p.LastViewTC != nil)
}

// MsgType enumerates the consensus messages exchanged between replicas.
type MsgType uint8

const (
	MsgUnknown MsgType = iota
	MsgPropose
	MsgVote
	MsgNewView
)

func (t MsgType) String() string {
	switch t {
	case MsgPropose:
		return "propose"
	case MsgVote:
		return "vote"
	case MsgNewView:
		return "newview"
	default:
		return "unknown"
	}
}

// Message is the envelope exchanged over the network. Exactly one of the
// payload fields is set.
type Message struct {
	Proposal *Proposal `cbor:"1,keyasint,omitempty"`
	Vote     *Vote     `cbor:"2,keyasint,omitempty"`
	NewView  *NewView  `cbor:"3,keyasint,omitempty"`
}

// Type returns the kind of payload carried, or MsgUnknown if the envelope
// does not carry exactly one payload.
func (m *Message) Type() MsgType {
	if m == nil {
		return MsgUnknown
	}
	var t MsgType
	n := 0
	if m.Proposal != nil {
		t, n = MsgPropose, n+1
	}
	if m.Vote != nil {
		t, n = MsgVote, n+1
	}
	if m.NewView != nil {
		t, n = MsgNewView, n+1
	}
	if n != 1 {
		return MsgUnknown
	}
	return t
}

func ProposalMsg(p *Proposal) *Message { return &Message{Proposal: p} }
func VoteMsg(v *Vote) *Message         { return &Message{Vote: v} }
func NewViewMsg(nv *NewView) *Message  { return &Message{NewView: nv} }

// SubmitRequest carries client commands to be ordered.
type SubmitRequest struct {
	Cmds []byte `cbor:"1,keyasint,omitempty"`
}

// SubmitStatus reports whether a submit was accepted.
type SubmitStatus int32

const (
	StatusSuccess SubmitStatus = iota
	StatusBadRequest
	StatusServiceUnavailable
)

type SubmitResponse struct {
	Status SubmitStatus `cbor:"1,keyasint,omitempty"`
	Info   string       `cbor:"2,keyasint,omitempty"`
}

// EncodeBatch packs client commands into a block payload.
func EncodeBatch(cmds [][]byte) []byte {
	if len(cmds) == 0 {
		return nil
	}
	raw, err := cbor.Marshal(cmds)
	if err != nil {
		panic(err)
	}
	return raw
}

// DecodeBatch unpacks the commands of a block payload.
func DecodeBatch(payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var cmds [][]byte
	if err := cbor.Unmarshal(payload, &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}
