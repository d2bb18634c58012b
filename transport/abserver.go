/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/zhigui-projects/hotstuff-consensus/common/log"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

const (
	replicaIdKey   = "replicaid"
	sendBufferSize = 1024
)

// BroadcastServer pushes messages down the streams opened by the other
// replicas. Sends never block the caller, a full stream buffer drops the message.
type BroadcastServer interface {
	AtomicBroadcastServer
	BroadcastMsg(msg *types.Message) error
	UnicastMsg(msg *types.Message, dest types.ReplicaID) error
	Connected(id types.ReplicaID) bool
}

type abServer struct {
	sendChan map[types.ReplicaID]chan *types.Message
	sendLock *sync.RWMutex
	logger   log.Logger
}

func NewABServer() BroadcastServer {
	return &abServer{
		sendChan: make(map[types.ReplicaID]chan *types.Message),
		sendLock: new(sync.RWMutex),
		logger:   logger,
	}
}

func (a *abServer) Broadcast(srv AtomicBroadcast_BroadcastServer) error {
	addr, src, err := extractRemoteAddress(srv.Context())
	if err != nil {
		a.logger.Warning("reject broadcast stream", "addr", addr, "error", err)
		return err
	}
	a.logger.Debug("Starting new broadcast handler for remote peer", "addr", addr, "replicaId", src)

	ch := make(chan *types.Message, sendBufferSize)
	a.sendLock.Lock()
	if _, ok := a.sendChan[src]; ok {
		a.logger.Debug("create new connection from replica node", "replicaId", src)
	}
	a.sendChan[src] = ch
	a.sendLock.Unlock()

	defer func() {
		a.sendLock.Lock()
		if a.sendChan[src] == ch {
			delete(a.sendChan, src)
		}
		a.sendLock.Unlock()
	}()

	for {
		select {
		case msg := <-ch:
			if err := srv.Send(msg); err != nil {
				a.logger.Error("disconnected with replica node", "replicaId", src, "error", err)
				return err
			}
		case <-srv.Context().Done():
			a.logger.Debug("broadcast stream closed", "replicaId", src)
			return nil
		}
	}
}

func (a *abServer) BroadcastMsg(msg *types.Message) error {
	a.sendLock.RLock()
	defer a.sendLock.RUnlock()

	for id, ch := range a.sendChan {
		a.offer(id, ch, msg)
	}
	return nil
}

func (a *abServer) UnicastMsg(msg *types.Message, dest types.ReplicaID) error {
	a.sendLock.RLock()
	defer a.sendLock.RUnlock()

	ch, ok := a.sendChan[dest]
	if !ok {
		a.logger.Debug("unicast msg to unconnected replica node", "replicaId", dest)
		return errors.Errorf("unicast msg to unconnected replica node: %d", dest)
	}
	a.offer(dest, ch, msg)
	return nil
}

func (a *abServer) Connected(id types.ReplicaID) bool {
	a.sendLock.RLock()
	defer a.sendLock.RUnlock()
	_, ok := a.sendChan[id]
	return ok
}

func (a *abServer) offer(id types.ReplicaID, ch chan<- *types.Message, msg *types.Message) {
	select {
	case ch <- msg:
	default:
		a.logger.Warning("send buffer full, drop message", "replicaId", id, "type", msg.Type())
	}
}

func extractRemoteAddress(ctx context.Context) (remoteAddress string, replicaId types.ReplicaID, err error) {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remoteAddress = p.Addr.String()
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return remoteAddress, 0, errors.New("missing metadata")
	}
	// 注意key小写
	value, ok := md[replicaIdKey]
	if !ok || len(value) == 0 {
		return remoteAddress, 0, errors.New("missing replica id")
	}
	id, err := strconv.ParseInt(value[0], 10, 64)
	if err != nil {
		return remoteAddress, 0, errors.Wrapf(err, "invalid replica id %q", value[0])
	}
	return remoteAddress, types.ReplicaID(id), nil
}
