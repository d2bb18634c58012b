/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

func startServer(t *testing.T, submit func([]byte) error) (*GrpcServer, BroadcastServer) {
	srv, err := NewGrpcServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	ab := NewABServer()
	RegisterAtomicBroadcastServer(srv.Server(), ab)
	RegisterHotstuffServer(srv.Server(), NewSubmitServer(submit))
	go func() {
		_ = srv.Start()
	}()
	t.Cleanup(srv.Stop)
	return srv, ab
}

func TestBroadcastStream(t *testing.T) {
	srv, ab := startServer(t, func([]byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bc, err := NewBroadcastClient(ctx, srv.Address(), 2, nil)
	require.NoError(t, err)
	defer bc.Close()

	require.Eventually(t, func() bool { return ab.Connected(2) }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, ab.Connected(3))

	vote := &types.Vote{View: 3, BlockHash: types.Hash{1, 2, 3}, Voter: 1, Signature: []byte("sig")}
	require.NoError(t, ab.UnicastMsg(types.VoteMsg(vote), 2))
	msg, err := bc.Recv()
	require.NoError(t, err)
	assert.Equal(t, types.MsgVote, msg.Type())
	assert.Equal(t, vote, msg.Vote)

	nv := &types.NewView{View: 4, HighQC: types.GenesisQC(), Sender: 1, Signature: []byte("nv")}
	require.NoError(t, ab.BroadcastMsg(types.NewViewMsg(nv)))
	msg, err = bc.Recv()
	require.NoError(t, err)
	assert.Equal(t, types.MsgNewView, msg.Type())
	assert.Equal(t, nv.View, msg.NewView.View)
	assert.Equal(t, nv.HighQC.BlockHash, msg.NewView.HighQC.BlockHash)

	assert.Error(t, ab.UnicastMsg(types.VoteMsg(vote), 4))
}

func TestBroadcastStreamClosed(t *testing.T) {
	srv, ab := startServer(t, func([]byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	bc, err := NewBroadcastClient(ctx, srv.Address(), 5, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ab.Connected(5) }, 3*time.Second, 10*time.Millisecond)

	cancel()
	bc.Close()
	assert.Eventually(t, func() bool { return !ab.Connected(5) }, 3*time.Second, 10*time.Millisecond)
}

func TestSubmit(t *testing.T) {
	var got [][]byte
	srv, _ := startServer(t, func(cmds []byte) error {
		if string(cmds) == "full" {
			return errors.New("submit queue full")
		}
		got = append(got, cmds)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := NewSubmitClient(ctx, srv.Address(), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Submit(ctx, []byte("set a 1")))
	assert.Equal(t, [][]byte{[]byte("set a 1")}, got)

	err = client.Submit(ctx, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty command")

	err = client.Submit(ctx, []byte("full"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "submit queue full")
}

func TestMissingReplicaID(t *testing.T) {
	_, _, err := extractRemoteAddress(context.Background())
	assert.Error(t, err)
}
