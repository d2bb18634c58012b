/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import "github.com/zhigui-projects/hotstuff-consensus/types"

// Network is the outbound side of the transport used by the engine.
type Network interface {
	Broadcast(msg *types.Message) error
	SendTo(dest types.ReplicaID, msg *types.Message) error
}

// BroadcastClient is one stream opened to a peer replica. Recv returns
// io.EOF once the peer ends the stream.
type BroadcastClient interface {
	Recv() (*types.Message, error)
	Send(msg *types.Message) error
	Close() error
}
