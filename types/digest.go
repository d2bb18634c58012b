/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"crypto/sha256"

	"google.golang.org/protobuf/encoding/protowire"
)

// Domain separators keep a vote signature from being replayed as a timeout
// signature and vice versa.
const (
	domainVote     = "hotstuff/vote"
	domainTimeout  = "hotstuff/timeout"
	domainProposal = "hotstuff/proposal"
)

// blockEncoding returns the canonical protobuf wire encoding of the hashed block fields.
func blockEncoding(b *Block) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.ParentHash[:])
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.View))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, b.Height)
	buf = protowire.AppendTag(buf, 4, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Proposer))
	buf = protowire.AppendTag(buf, 5, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.Payload)
	if b.Justify != nil {
		buf = protowire.AppendTag(buf, 6, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(b.Justify.View))
		buf = protowire.AppendTag(buf, 7, protowire.BytesType)
		buf = protowire.AppendBytes(buf, b.Justify.BlockHash[:])
	}
	buf = protowire.AppendTag(buf, 8, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Timestamp))
	return buf
}

func digest(domain string, fields func([]byte) []byte) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, domain)
	buf = fields(buf)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// VoteDigest is the message a replica signs when voting for block hash at view.
func VoteDigest(view View, hash Hash) []byte {
	return digest(domainVote, func(buf []byte) []byte {
		buf = protowire.AppendTag(buf, 2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(view))
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		return protowire.AppendBytes(buf, hash[:])
	})
}

// TimeoutDigest is the message a replica signs when abandoning view while
// holding a high QC of highQCView.
func TimeoutDigest(view View, highQCView View) []byte {
	return digest(domainTimeout, func(buf []byte) []byte {
		buf = protowire.AppendTag(buf, 2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(view))
		buf = protowire.AppendTag(buf, 3, protowire.VarintType)
		return protowire.AppendVarint(buf, uint64(highQCView))
	})
}

// ProposalDigest is the message a leader signs when proposing the block hash.
func ProposalDigest(hash Hash) []byte {
	return digest(domainProposal, func(buf []byte) []byte {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		return protowire.AppendBytes(buf, hash[:])
	})
}
