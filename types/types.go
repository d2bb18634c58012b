/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package types holds the immutable data model shared by the consensus engine,
// the pacemaker and the collaborators around them.
package types

import (
	"bytes"
	"encoding/hex"
	"strconv"
)

// ReplicaID identifies a validator of the replica set.
type ReplicaID int64

func (id ReplicaID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// View is a logical round with exactly one designated leader.
type View uint64

// FutureViewWindow bounds how far past its current view a replica accepts
// votes, NewViews and proposals. Anything further ahead is dropped.
const FutureViewWindow View = 128

// HashLength is the size in bytes of a block hash.
const HashLength = 32

// Hash identifies a block.
type Hash [HashLength]byte

// ZeroHash is the parent hash of the genesis block.
var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) Equal(o Hash) bool {
	return bytes.Equal(h[:], o[:])
}

// BytesToHash copies b into a Hash, left-truncating anything longer than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HexToHash parses a hex encoded hash.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash, err
	}
	return BytesToHash(b), nil
}
