package consensus

import (
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/common/db/leveldb"
	"github.com/zhigui-projects/hotstuff-consensus/pacemaker"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

const broadcastDest = types.ReplicaID(-1)

type envelope struct {
	from types.ReplicaID
	to   types.ReplicaID
	msg  *types.Message
}

// captureNetwork keeps everything a single replica sends.
type captureNetwork struct {
	sent []envelope
}

func (n *captureNetwork) Broadcast(msg *types.Message) error {
	n.sent = append(n.sent, envelope{to: broadcastDest, msg: msg})
	return nil
}

func (n *captureNetwork) SendTo(dest types.ReplicaID, msg *types.Message) error {
	n.sent = append(n.sent, envelope{to: dest, msg: msg})
	return nil
}

// take removes and returns the sent messages of type t.
func (n *captureNetwork) take(t types.MsgType) []envelope {
	var out, rest []envelope
	for _, e := range n.sent {
		if e.msg.Type() == t {
			out = append(out, e)
		} else {
			rest = append(rest, e)
		}
	}
	n.sent = rest
	return out
}

type nopScheduler struct {
	view types.View
}

func (s *nopScheduler) Schedule(view types.View, _ time.Duration) { s.view = view }
func (s *nopScheduler) Stop()                                     {}

type recordingCommitter struct {
	blocks []*types.Block
}

func (c *recordingCommitter) OnCommit(block *types.Block) error {
	c.blocks = append(c.blocks, block)
	return nil
}

func (c *recordingCommitter) heights() []uint64 {
	out := make([]uint64, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = b.Height
	}
	return out
}

type recordingConsumer struct {
	NoopConsumer
	equivocations []types.View
	tcs           []*types.TimeoutCert
	invalid       []error
}

func (c *recordingConsumer) OnEquivocation(_ types.ReplicaID, view types.View) {
	c.equivocations = append(c.equivocations, view)
}

func (c *recordingConsumer) OnTCFormed(tc *types.TimeoutCert) {
	c.tcs = append(c.tcs, tc)
}

func (c *recordingConsumer) OnInvalidMessage(_ types.ReplicaID, _ types.MsgType, err error) {
	c.invalid = append(c.invalid, err)
}

type testReplica struct {
	id        types.ReplicaID
	core      *HotStuffCore
	pm        *pacemaker.RoundRobinPM
	network   api.Network
	committer *recordingCommitter
	consumer  *recordingConsumer
	persister *leveldb.Persister
}

func newTestReplica(t require.TestingT, keys *testKeys, id types.ReplicaID, network api.Network,
	persister *leveldb.Persister, submitQueue int) *testReplica {
	pm, err := pacemaker.NewRoundRobinPM(id, keys.validators, keys.replicas.Aggregator, persister,
		&nopScheduler{}, pacemaker.DefaultTimeoutConfig())
	require.NoError(t, err)
	r := &testReplica{
		id:        id,
		pm:        pm,
		network:   network,
		committer: &recordingCommitter{},
		consumer:  &recordingConsumer{},
		persister: persister,
	}
	r.core, err = NewHotStuffCore(Options{
		ID:              id,
		Signer:          keys.signers[id],
		Replicas:        keys.replicas,
		Network:         network,
		Committer:       r.committer,
		Persister:       persister,
		PaceMaker:       pm,
		Notifier:        r.consumer,
		Clock:           fakeclock.NewFakeClock(time.Unix(1600000000, 0)),
		SubmitQueueSize: submitQueue,
	})
	require.NoError(t, err)
	return r
}

// cluster wires n replicas through an in-memory message queue. The test
// decides the delivery order, which messages get lost and when timers fire.
type cluster struct {
	t        require.TestingT
	keys     *testKeys
	replicas []*testReplica
	queue    []envelope
	// drop reports messages the network loses
	drop func(e envelope) bool
	// pick chooses the next queued message, nil delivers in FIFO order
	pick func() int
}

type clusterNetwork struct {
	c    *cluster
	from types.ReplicaID
}

func (n *clusterNetwork) Broadcast(msg *types.Message) error {
	for _, r := range n.c.replicas {
		if r.id != n.from {
			n.c.queue = append(n.c.queue, envelope{from: n.from, to: r.id, msg: msg})
		}
	}
	return nil
}

func (n *clusterNetwork) SendTo(dest types.ReplicaID, msg *types.Message) error {
	n.c.queue = append(n.c.queue, envelope{from: n.from, to: dest, msg: msg})
	return nil
}

func newCluster(t require.TestingT, n int) *cluster {
	c := &cluster{t: t, keys: newTestKeys(t, n)}
	for _, id := range c.keys.validators.IDs() {
		c.replicas = append(c.replicas, newTestReplica(t, c.keys, id, &clusterNetwork{c: c, from: id}, memPersister(t), 0))
	}
	return c
}

func (c *cluster) start() {
	for _, r := range c.replicas {
		require.NoError(c.t, r.core.Start())
	}
}

func (c *cluster) close() {
	for _, r := range c.replicas {
		r.persister.Close()
	}
}

// deliver hands the i-th queued message to its destination. Every message an
// honest replica produces must pass verification.
func (c *cluster) deliver(i int) {
	e := c.queue[i]
	c.queue = append(c.queue[:i], c.queue[i+1:]...)
	if c.drop != nil && c.drop(e) {
		return
	}
	require.NoError(c.t, c.keys.replicas.VerifyMessage(e.msg))
	err := c.replicas[e.to].core.OnMessage(e.from, e.msg)
	require.False(c.t, isFatal(err), "fatal error: %v", err)
}

func (c *cluster) timeout(id types.ReplicaID) {
	r := c.replicas[id]
	err := r.core.OnLocalTimeout(r.pm.CurView())
	require.False(c.t, isFatal(err), "fatal error: %v", err)
}

// run delivers messages in order, firing every timer whenever the network is
// quiet, until done holds or the step budget is spent.
func (c *cluster) run(done func() bool, steps int) bool {
	for i := 0; i < steps; i++ {
		if done() {
			return true
		}
		if len(c.queue) == 0 {
			for _, r := range c.replicas {
				c.timeout(r.id)
			}
			continue
		}
		next := 0
		if c.pick != nil {
			next = c.pick()
		}
		c.deliver(next)
	}
	return done()
}

// votesFirst delivers queued votes before anything else and holds back the
// proposal of view v addressed to the leader of v+1. That leader collects its
// QC before it knows the certified block.
func (c *cluster) votesFirst() int {
	next := -1
	for i, e := range c.queue {
		if e.msg.Type() == types.MsgVote {
			return i
		}
		if next >= 0 {
			continue
		}
		if e.msg.Type() == types.MsgPropose && e.to == c.keys.validators.Leader(e.msg.Proposal.Block.View+1) {
			continue
		}
		next = i
	}
	if next < 0 {
		return 0
	}
	return next
}

func (c *cluster) committedAtLeast(height uint64) func() bool {
	return func() bool {
		for _, r := range c.replicas {
			if r.core.Status().CommittedHeight < height {
				return false
			}
		}
		return true
	}
}

// requireConsistent checks that every replica committed a gap-free prefix of
// one common chain.
func (c *cluster) requireConsistent() {
	var longest []*types.Block
	for _, r := range c.replicas {
		if len(r.committer.blocks) > len(longest) {
			longest = r.committer.blocks
		}
	}
	for _, r := range c.replicas {
		for i, b := range r.committer.blocks {
			require.Equal(c.t, uint64(i+1), b.Height, "replica %d commits out of order", r.id)
			require.Equal(c.t, longest[i].Hash(), b.Hash(), "replica %d diverges at height %d", r.id, b.Height)
		}
	}
}
