/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consensus

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/transport"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

const (
	reconnectBaseDelay = 100 * time.Millisecond
	reconnectJitter    = 10
)

type NodeInfo struct {
	Id        types.ReplicaID
	Addr      string
	TlsOpts   *transport.TLSOptions
	Connected *atomic.Bool
}

var _ api.Network = (*NodeManager)(nil)

// NodeManager serves this replica's broadcast stream and keeps one inbound
// stream open to every other replica. Each replica pushes its messages down
// the streams other replicas opened to it.
type NodeManager struct {
	transport.BroadcastServer
	*transport.GrpcServer
	Self *NodeInfo
	// all nodes info contains self
	Nodes map[types.ReplicaID]*NodeInfo

	deliver func(types.ReplicaID, *types.Message)
	limit   rate.Limit
	burst   int
}

// NewNodeManager listens on the address of id. Messages read from peers are
// handed to deliver, commands received over rpc to submit.
func NewNodeManager(id types.ReplicaID, replicas []*NodeInfo, deliver func(types.ReplicaID, *types.Message),
	submit func([]byte) error, limit rate.Limit, burst int) (*NodeManager, error) {
	if burst <= 0 {
		burst = 1
	}
	mgr := &NodeManager{
		Nodes:   make(map[types.ReplicaID]*NodeInfo, len(replicas)),
		deliver: deliver,
		limit:   limit,
		burst:   burst,
	}
	for _, node := range replicas {
		if node.Connected == nil {
			node.Connected = atomic.NewBool(false)
		}
		if node.Id == id {
			grpcServer, err := transport.NewGrpcServer(node.Addr, node.TlsOpts)
			if err != nil {
				logger.Error("Failed to new grpc server", "error", err)
				return nil, err
			}

			server := transport.NewABServer()
			transport.RegisterAtomicBroadcastServer(grpcServer.Server(), server)
			transport.RegisterHotstuffServer(grpcServer.Server(), transport.NewSubmitServer(submit))
			mgr.BroadcastServer = server
			mgr.GrpcServer = grpcServer
			node.Connected.Store(true)
			mgr.Self = node
		}
		mgr.Nodes[node.Id] = node
	}
	if mgr.Self == nil {
		return nil, errors.Errorf("replica %d not found in node info", id)
	}

	return mgr, nil
}

// Start serves requests and runs the connect workers until ctx is done.
func (n *NodeManager) Start(ctx context.Context) error {
	logger.Info("Hotstuff node started, beginning to serve requests", "replicaId", n.Self.Id, "serverAddress", n.Address())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := n.GrpcServer.Start(); err != nil {
			logger.Error("Hotstuff node server start failed", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		n.GrpcServer.Stop()
		return nil
	})
	for _, node := range n.Nodes {
		if node.Id == n.Self.Id {
			continue
		}
		node := node
		g.Go(func() error {
			n.connectWorker(ctx, node)
			return nil
		})
	}
	return g.Wait()
}

func (n *NodeManager) Broadcast(msg *types.Message) error {
	return n.BroadcastMsg(msg)
}

func (n *NodeManager) SendTo(dest types.ReplicaID, msg *types.Message) error {
	return n.UnicastMsg(msg, dest)
}

func (n *NodeManager) GetConnectStatus(id types.ReplicaID) bool {
	node, ok := n.Nodes[id]
	if !ok {
		return false
	}
	return node.Connected.Load()
}

func (n *NodeManager) connectWorker(ctx context.Context, node *NodeInfo) {
	for ctx.Err() == nil {
		backoff := retry.NewExponential(reconnectBaseDelay)
		backoff = retry.WithCappedDuration(transport.DialTimeout, backoff)
		backoff = retry.WithJitterPercent(reconnectJitter, backoff)

		var bc api.BroadcastClient
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			logger.Debug("connecting to replica node", "id", node.Id, "address", node.Addr)
			c, err := transport.NewBroadcastClient(ctx, node.Addr, n.Self.Id, node.TlsOpts)
			if err != nil {
				logger.Debug("could not connect to replica node", "id", node.Id, "address", node.Addr, "error", err)
				return retry.RetryableError(err)
			}
			bc = c
			return nil
		})
		if err != nil {
			return
		}

		logger.Info("connection to replica node established", "id", node.Id, "address", node.Addr)
		node.Connected.Store(true)
		n.receive(node, bc)
		node.Connected.Store(false)
		if err := bc.Close(); err != nil {
			logger.Debug("close broadcast client failed", "id", node.Id, "error", err)
		}
	}
}

func (n *NodeManager) receive(node *NodeInfo, bc api.BroadcastClient) {
	limiter := rate.NewLimiter(n.limit, n.burst)
	for {
		msg, err := bc.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			logger.Warning("consensus stream with replica node broke", "id", node.Id, "address", node.Addr, "error", err)
			return
		}
		if !limiter.Allow() {
			logger.Warning("replica node exceeds message rate, drop message", "id", node.Id, "type", msg.Type())
			continue
		}
		n.deliver(node.Id, msg)
	}
}
