package consensus

import (
	"sync"
	"time"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var (
	_ api.Consumer = (*NoopConsumer)(nil)
	_ api.Consumer = (*LogConsumer)(nil)
	_ api.Consumer = (*Distributor)(nil)
)

type NoopConsumer struct{}

func (*NoopConsumer) OnEnterView(types.View, types.ReplicaID)                {}
func (*NoopConsumer) OnProposing(*types.Block)                               {}
func (*NoopConsumer) OnReceiveProposal(*types.Proposal)                      {}
func (*NoopConsumer) OnVoting(*types.Vote)                                   {}
func (*NoopConsumer) OnQCFormed(*types.QuorumCert)                           {}
func (*NoopConsumer) OnTCFormed(*types.TimeoutCert)                          {}
func (*NoopConsumer) OnLocalTimeout(types.View, time.Duration)               {}
func (*NoopConsumer) OnBlockCommitted(*types.Block)                          {}
func (*NoopConsumer) OnEquivocation(types.ReplicaID, types.View)             {}
func (*NoopConsumer) OnInvalidMessage(types.ReplicaID, types.MsgType, error) {}

// LogConsumer writes every notification to the consensus logger.
type LogConsumer struct {
	id types.ReplicaID
}

func NewLogConsumer(id types.ReplicaID) *LogConsumer {
	return &LogConsumer{id: id}
}

func (c *LogConsumer) OnEnterView(view types.View, leader types.ReplicaID) {
	logger.Debug("enter new view", "replicaId", c.id, "view", view, "leader", leader)
}

func (c *LogConsumer) OnProposing(block *types.Block) {
	logger.Debug("proposed new proposal", "replicaId", c.id, "view", block.View, "height", block.Height,
		"hash", block.Hash().Short(), "payload", len(block.Payload))
}

func (c *LogConsumer) OnReceiveProposal(p *types.Proposal) {
	logger.Debug("handle proposal", "replicaId", c.id, "proposer", p.Block.Proposer, "view", p.Block.View,
		"height", p.Block.Height, "hash", p.Block.Hash().Short())
}

func (c *LogConsumer) OnVoting(vote *types.Vote) {
	logger.Debug("vote proposal", "replicaId", c.id, "view", vote.View, "hash", vote.BlockHash.Short())
}

func (c *LogConsumer) OnQCFormed(qc *types.QuorumCert) {
	logger.Debug("receive vote number already satisfied quorum size", "replicaId", c.id, "view", qc.View,
		"hash", qc.BlockHash.Short())
}

func (c *LogConsumer) OnTCFormed(tc *types.TimeoutCert) {
	logger.Info("timeout cert formed", "replicaId", c.id, "view", tc.View, "highQC", tc.HighQC.View)
}

func (c *LogConsumer) OnLocalTimeout(view types.View, d time.Duration) {
	logger.Info("view timed out", "replicaId", c.id, "view", view, "timeout", d, "error", ErrQuorumTimeout)
}

func (c *LogConsumer) OnBlockCommitted(block *types.Block) {
	logger.Info("DECIDE phase, do consensus", "replicaId", c.id, "view", block.View, "height", block.Height,
		"hash", block.Hash().Short())
}

func (c *LogConsumer) OnEquivocation(replica types.ReplicaID, view types.View) {
	logger.Warning("replica equivocated", "replicaId", c.id, "offender", replica, "view", view)
}

func (c *LogConsumer) OnInvalidMessage(from types.ReplicaID, msgType types.MsgType, err error) {
	logger.Warning("drop invalid message", "replicaId", c.id, "from", from, "msgType", msgType, "error", err)
}

// Distributor fans notifications out to every registered consumer.
type Distributor struct {
	lock      sync.RWMutex
	consumers []api.Consumer
}

func NewDistributor(consumers ...api.Consumer) *Distributor {
	return &Distributor{consumers: consumers}
}

func (d *Distributor) AddConsumer(c api.Consumer) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.consumers = append(d.consumers, c)
}

func (d *Distributor) each(f func(api.Consumer)) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, c := range d.consumers {
		f(c)
	}
}

func (d *Distributor) OnEnterView(view types.View, leader types.ReplicaID) {
	d.each(func(c api.Consumer) { c.OnEnterView(view, leader) })
}

func (d *Distributor) OnProposing(block *types.Block) {
	d.each(func(c api.Consumer) { c.OnProposing(block) })
}

func (d *Distributor) OnReceiveProposal(p *types.Proposal) {
	d.each(func(c api.Consumer) { c.OnReceiveProposal(p) })
}

func (d *Distributor) OnVoting(vote *types.Vote) {
	d.each(func(c api.Consumer) { c.OnVoting(vote) })
}

func (d *Distributor) OnQCFormed(qc *types.QuorumCert) {
	d.each(func(c api.Consumer) { c.OnQCFormed(qc) })
}

func (d *Distributor) OnTCFormed(tc *types.TimeoutCert) {
	d.each(func(c api.Consumer) { c.OnTCFormed(tc) })
}

func (d *Distributor) OnLocalTimeout(view types.View, dur time.Duration) {
	d.each(func(c api.Consumer) { c.OnLocalTimeout(view, dur) })
}

func (d *Distributor) OnBlockCommitted(block *types.Block) {
	d.each(func(c api.Consumer) { c.OnBlockCommitted(block) })
}

func (d *Distributor) OnEquivocation(replica types.ReplicaID, view types.View) {
	d.each(func(c api.Consumer) { c.OnEquivocation(replica, view) })
}

func (d *Distributor) OnInvalidMessage(from types.ReplicaID, msgType types.MsgType, err error) {
	d.each(func(c api.Consumer) { c.OnInvalidMessage(from, msgType, err) })
}
