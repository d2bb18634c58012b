package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhigui-projects/hotstuff-consensus/admin"
	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/common/db/leveldb"
	"github.com/zhigui-projects/hotstuff-consensus/config"
	"github.com/zhigui-projects/hotstuff-consensus/consensus"
	"github.com/zhigui-projects/hotstuff-consensus/metrics"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

type node struct {
	hsb   *consensus.HotStuffBase
	admin *admin.Server
}

func newNode(cfg *config.Config) (*node, error) {
	validators, err := cfg.ValidatorSet()
	if err != nil {
		return nil, err
	}
	signer, err := cfg.Signer()
	if err != nil {
		return nil, err
	}
	tlsOpts, err := cfg.TLSOptions()
	if err != nil {
		return nil, err
	}
	nodes := make([]*consensus.NodeInfo, 0, len(cfg.Replicas))
	for _, r := range cfg.Replicas {
		nodes = append(nodes, &consensus.NodeInfo{Id: types.ReplicaID(r.ID), Addr: r.Address, TlsOpts: tlsOpts})
	}

	if leveldb.Exists(cfg.Node.DataDir) {
		logger.Info("Restore consensus state", "dataDir", cfg.Node.DataDir)
	}
	persister, err := leveldb.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, err
	}

	var consumers []api.Consumer
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		consumers = append(consumers, metrics.NewCollector(registry))
	}

	hsb, err := consensus.NewHotStuffBase(consensus.Config{
		ID:              types.ReplicaID(cfg.Node.ID),
		Validators:      validators,
		Signer:          signer,
		Committer:       &logCommitter{},
		Persister:       persister,
		Nodes:           nodes,
		Timeout:         cfg.Consensus.Timeout,
		ProposalDelay:   cfg.Consensus.ProposalDelay,
		MaxBatchSize:    cfg.Consensus.MaxBatchSize,
		SubmitQueueSize: cfg.Consensus.SubmitQueueSize,
		VerifyWorkers:   cfg.Consensus.VerifyWorkers,
		SigCacheSize:    cfg.Consensus.SigCacheSize,
		PeerRateLimit:   rate.Limit(cfg.Transport.PeerRateLimit),
		PeerBurst:       cfg.Transport.PeerBurst,
		Consumers:       consumers,
	})
	if err != nil {
		_ = persister.Close()
		return nil, err
	}

	n := &node{hsb: hsb}
	if registry != nil {
		metrics.RegisterPendingEvents(registry, hsb.PendingEvents)
		n.admin = admin.NewServer(cfg.Metrics.Address, hsb, persister, registry)
	}
	return n, nil
}

func (n *node) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.hsb.Start(ctx)
	})
	if n.admin != nil {
		g.Go(func() error {
			return n.admin.Start(ctx)
		})
	}
	return g.Wait()
}

// logCommitter logs the client commands of every committed block.
type logCommitter struct{}

func (c *logCommitter) OnCommit(block *types.Block) error {
	cmds, err := types.DecodeBatch(block.Payload)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		logger.Info("Execute command", "height", block.Height, "view", block.View, "cmd", string(cmd))
	}
	return nil
}
