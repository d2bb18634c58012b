package consensus

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/pacemaker"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var _ api.HotStuff = (*HotStuffBase)(nil)

// Config assembles a replica.
type Config struct {
	ID         types.ReplicaID
	Validators *types.ValidatorSet
	Signer     api.Signer
	Committer  api.Committer
	Persister  api.Persister
	// Network reaches the other replicas. When nil a NodeManager is built
	// from Nodes and serves the gRPC endpoints of this replica.
	Network api.Network
	Nodes   []*NodeInfo
	Timeout pacemaker.TimeoutConfig
	Clock   clock.Clock
	// ProposalDelay is the pause a leader takes before proposing.
	ProposalDelay   time.Duration
	MaxBatchSize    int
	SubmitQueueSize int
	VerifyWorkers   int
	SigCacheSize    int
	// PeerRateLimit bounds the messages accepted per second from one replica, 0 is unlimited.
	PeerRateLimit rate.Limit
	PeerBurst     int
	Consumers     []api.Consumer
}

// HotStuffBase runs a HotStuffCore as a single actor fed by an unbounded
// inbox. Signatures are checked on a worker pool before messages are queued.
type HotStuffBase struct {
	*HotStuffCore
	nodes    *NodeManager
	replicas *ReplicaConf
	notifier *Distributor
	inbox    *inbox
	clock    clock.Clock
	delay    time.Duration

	// verification of messages and of aggregate signatures use separate
	// pools, a message task waits on aggregate tasks
	verifyPool *workerpool.WorkerPool
	aggPool    *workerpool.WorkerPool

	queueMut sync.Mutex
	queues   map[types.ReplicaID]*peerQueue

	lock    sync.RWMutex
	stopped bool
	done    chan struct{}
}

func NewHotStuffBase(cfg Config) (*HotStuffBase, error) {
	if cfg.Validators == nil || cfg.Persister == nil || cfg.Signer == nil {
		return nil, errors.New("hotstuff replica requires validators, signer and persister")
	}
	if cfg.Network == nil && len(cfg.Nodes) == 0 {
		logger.Error("not found hotstuff replica node info")
		return nil, errors.New("no network and no replica node info")
	}
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}

	hsb := &HotStuffBase{
		notifier:   NewDistributor(append([]api.Consumer{NewLogConsumer(cfg.ID)}, cfg.Consumers...)...),
		inbox:      newInbox(),
		clock:      cfg.Clock,
		delay:      cfg.ProposalDelay,
		verifyPool: workerpool.New(cfg.VerifyWorkers),
		aggPool:    workerpool.New(cfg.VerifyWorkers),
		queues:     make(map[types.ReplicaID]*peerQueue),
		done:       make(chan struct{}),
	}

	replicas, err := NewReplicaConf(cfg.Validators, hsb.aggPool, cfg.SigCacheSize)
	if err != nil {
		return nil, err
	}
	hsb.replicas = replicas

	scheduler := pacemaker.NewClockScheduler(cfg.Clock, hsb.OnTimeout)
	pm, err := pacemaker.NewRoundRobinPM(cfg.ID, cfg.Validators, replicas.Aggregator, cfg.Persister, scheduler, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	network := cfg.Network
	if network == nil {
		limit := cfg.PeerRateLimit
		if limit <= 0 {
			limit = rate.Inf
		}
		hsb.nodes, err = NewNodeManager(cfg.ID, cfg.Nodes, hsb.HandleMessage, hsb.Submit, limit, cfg.PeerBurst)
		if err != nil {
			return nil, err
		}
		network = hsb.nodes
	}

	core, err := NewHotStuffCore(Options{
		ID:              cfg.ID,
		Signer:          cfg.Signer,
		Replicas:        replicas,
		Network:         network,
		Committer:       cfg.Committer,
		Persister:       cfg.Persister,
		PaceMaker:       pm,
		Notifier:        hsb.notifier,
		Clock:           cfg.Clock,
		MaxBatchSize:    cfg.MaxBatchSize,
		SubmitQueueSize: cfg.SubmitQueueSize,
	})
	if err != nil {
		return nil, err
	}
	core.proposeHook = hsb.schedulePropose
	hsb.HotStuffCore = core
	return hsb, nil
}

// AddConsumer registers a notification consumer. Must be called before Start.
func (hsb *HotStuffBase) AddConsumer(c api.Consumer) {
	hsb.notifier.AddConsumer(c)
}

// Start runs the replica until ctx is cancelled or a fatal error occurs.
func (hsb *HotStuffBase) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if hsb.nodes != nil {
		g.Go(func() error {
			return hsb.nodes.Start(ctx)
		})
	}
	g.Go(func() error {
		return hsb.run(ctx)
	})
	err := g.Wait()
	hsb.stop()
	return err
}

// HandleMessage verifies msg off the actor and queues it once authenticated.
// Messages from one replica are verified in turn and keep their arrival
// order, different replicas are verified in parallel.
func (hsb *HotStuffBase) HandleMessage(from types.ReplicaID, msg *types.Message) {
	hsb.lock.RLock()
	defer hsb.lock.RUnlock()
	if hsb.stopped {
		return
	}
	q := hsb.queueFor(from)
	if q.add(msg) {
		hsb.verifyPool.Submit(func() { hsb.drain(from, q) })
	}
}

func (hsb *HotStuffBase) queueFor(id types.ReplicaID) *peerQueue {
	hsb.queueMut.Lock()
	defer hsb.queueMut.Unlock()
	q, ok := hsb.queues[id]
	if !ok {
		q = &peerQueue{}
		hsb.queues[id] = q
	}
	return q
}

func (hsb *HotStuffBase) drain(from types.ReplicaID, q *peerQueue) {
	for i := 0; i < maxDrainBatch; i++ {
		msg, ok := q.next()
		if !ok {
			return
		}
		if err := hsb.replicas.VerifyMessage(msg); err != nil {
			hsb.notifier.OnInvalidMessage(from, msg.Type(), err)
			continue
		}
		hsb.inbox.push(&msgEvent{src: from, msg: msg})
	}
	// still draining, hand the rest to a fresh task
	hsb.lock.RLock()
	defer hsb.lock.RUnlock()
	if !hsb.stopped {
		hsb.verifyPool.Submit(func() { hsb.drain(from, q) })
	}
}

func (hsb *HotStuffBase) OnTimeout(view types.View) {
	hsb.inbox.push(&timeoutEvent{view: view})
}

func (hsb *HotStuffBase) run(ctx context.Context) error {
	if err := hsb.HotStuffCore.Start(); err != nil {
		if isFatal(err) {
			return err
		}
		hsb.logError(hsb.id, types.MsgUnknown, err)
	}
	logger.Info("Hotstuff replica started", "replicaId", hsb.id, "view", hsb.pm.CurView())

	for {
		for {
			e, ok := hsb.inbox.pop()
			if !ok {
				break
			}
			if err := e.Execute(hsb); err != nil {
				if isFatal(err) {
					logger.Error("stop replica on fatal error", "replicaId", hsb.id, "error", err)
					return err
				}
				hsb.logError(hsb.id, types.MsgUnknown, err)
			}
		}
		select {
		case <-hsb.inbox.notify:
		case <-ctx.Done():
			return nil
		}
	}
}

func (hsb *HotStuffBase) receiveMsg(msg *types.Message, src types.ReplicaID) error {
	err := hsb.HotStuffCore.OnMessage(src, msg)
	if err != nil && !isFatal(err) {
		hsb.logError(src, msg.Type(), err)
		return nil
	}
	return err
}

func (hsb *HotStuffBase) schedulePropose(view types.View) {
	if hsb.delay <= 0 {
		hsb.inbox.push(&proposeEvent{view: view})
		return
	}
	go func() {
		select {
		case <-hsb.clock.After(hsb.delay):
			hsb.inbox.push(&proposeEvent{view: view})
		case <-hsb.done:
		}
	}()
}

func (hsb *HotStuffBase) stop() {
	hsb.lock.Lock()
	if hsb.stopped {
		hsb.lock.Unlock()
		return
	}
	hsb.stopped = true
	close(hsb.done)
	hsb.lock.Unlock()

	hsb.pm.Stop()
	hsb.verifyPool.StopWait()
	hsb.aggPool.StopWait()
	if err := hsb.persister.Close(); err != nil {
		logger.Warning("close persister failed", "error", err)
	}
}

// PendingEvents returns the number of events waiting for the actor.
func (hsb *HotStuffBase) PendingEvents() int {
	return hsb.inbox.len()
}
