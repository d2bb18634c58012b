/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"io"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// peerStream is the receiving end of the broadcast stream this replica
// opened to a peer. The peer pushes its consensus messages down it.
type peerStream struct {
	conn   *grpc.ClientConn
	stream AtomicBroadcast_BroadcastClient
	peer   string
}

// NewBroadcastClient opens the broadcast stream of the replica at address,
// announcing replicaId as the dialing replica. The stream lives until ctx is
// cancelled or Close is called.
func NewBroadcastClient(ctx context.Context, address string, replicaId types.ReplicaID, opts *TLSOptions) (api.BroadcastClient, error) {
	conn, err := Dial(ctx, address, opts)
	if err != nil {
		return nil, err
	}

	// the dialer id travels as stream metadata, context values stay local
	md := metadata.Pairs(replicaIdKey, strconv.FormatInt(int64(replicaId), 10))
	stream, err := NewAtomicBroadcastClient(conn).Broadcast(metadata.NewOutgoingContext(ctx, md))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &peerStream{conn: conn, stream: stream, peer: address}, nil
}

func (p *peerStream) Recv() (*types.Message, error) {
	msg, err := p.stream.Recv()
	if err != nil && err != io.EOF {
		logger.Debug("recv from replica stream failed", "address", p.peer, "error", err)
	}
	return msg, err
}

func (p *peerStream) Send(msg *types.Message) error {
	err := p.stream.Send(msg)
	if err != nil {
		logger.Error("send on replica stream failed", "address", p.peer, "type", msg.Type(), "error", err)
	}
	return err
}

func (p *peerStream) Close() error {
	if err := p.stream.CloseSend(); err != nil {
		logger.Debug("close replica stream failed", "address", p.peer, "error", err)
	}
	return p.conn.Close()
}
