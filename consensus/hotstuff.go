/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consensus

import (
	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// Phase is the replica's progress within its current view.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAwaitingProposal
	PhaseVoted
	PhaseViewChanging
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingProposal:
		return "awaiting_proposal"
	case PhaseVoted:
		return "voted"
	case PhaseViewChanging:
		return "view_changing"
	default:
		return "idle"
	}
}

const (
	defaultMaxBatchSize    = 128
	defaultSubmitQueueSize = 1024
	maxOrphans             = 256
)

// Options wires the collaborators of a HotStuffCore.
type Options struct {
	ID        types.ReplicaID
	Signer    api.Signer
	Replicas  *ReplicaConf
	Network   api.Network
	Committer api.Committer
	Persister api.Persister
	PaceMaker api.PaceMaker
	Notifier  api.Consumer
	Clock     clock.Clock
	// MaxBatchSize bounds the number of client commands per block.
	MaxBatchSize int
	// SubmitQueueSize bounds the commands waiting for a proposal.
	SubmitQueueSize int
}

type selfMsg struct {
	msg *types.Message
}

// HotStuffCore is the chained HotStuff state machine. Every method except
// Submit and Status must be called from a single goroutine.
type HotStuffCore struct {
	id        types.ReplicaID
	signer    api.Signer
	replicas  *ReplicaConf
	network   api.Network
	committer api.Committer
	persister api.Persister
	pm        api.PaceMaker
	notifier  api.Consumer
	clock     clock.Clock

	tree   *BlockTree
	safety *SafetyRules
	votes  *VoteAggregator

	phase    Phase
	proposed types.View
	// TC that moved the replica into its current view
	lastTC *types.TimeoutCert
	// first proposal accepted into the tree per view
	proposals map[types.View]*types.Proposal
	// proposals waiting for their parent, keyed by parent hash
	orphans     map[types.Hash][]*types.Proposal
	orphanCount int
	// proposals for views the replica has not entered yet
	futureProposals map[types.View]*types.Proposal
	// QCs whose block is not known yet
	pendingQCs map[types.Hash]*types.QuorumCert
	selfQueue  []selfMsg

	submitC  chan []byte
	maxBatch int
	// proposeHook defers the leader's proposal, nil proposes right away
	proposeHook func(view types.View)

	status *status
}

type status struct {
	view            *atomic.Uint64
	leader          *atomic.Int64
	phase           *atomic.String
	highQCView      *atomic.Uint64
	lockedQCView    *atomic.Uint64
	lastVotedView   *atomic.Uint64
	committedView   *atomic.Uint64
	committedHeight *atomic.Uint64
}

// NewHotStuffCore restores the replica state from the persister.
func NewHotStuffCore(opts Options) (*HotStuffCore, error) {
	if opts.Signer == nil || opts.Replicas == nil || opts.Network == nil || opts.Persister == nil || opts.PaceMaker == nil {
		return nil, errors.New("hotstuff core requires signer, replicas, network, persister and pacemaker")
	}
	if !opts.Replicas.Validators.Contains(opts.ID) {
		return nil, errors.Wrapf(ErrUnknownReplica, "replica %d is not a validator", opts.ID)
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.SubmitQueueSize <= 0 {
		opts.SubmitQueueSize = defaultSubmitQueueSize
	}
	if opts.Notifier == nil {
		opts.Notifier = &NoopConsumer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}

	data, err := opts.Persister.GetSafetyData()
	if err != nil {
		return nil, errors.WithMessage(err, "load safety data")
	}
	var committed, tip types.Hash
	if data != nil {
		committed = data.CommittedHash
		if data.HighQC != nil {
			tip = data.HighQC.BlockHash
		}
	}
	tree, err := LoadBlockTree(opts.Persister, committed, tip)
	if err != nil {
		return nil, errors.WithMessage(err, "load block tree")
	}

	hsc := &HotStuffCore{
		id:              opts.ID,
		signer:          opts.Signer,
		replicas:        opts.Replicas,
		network:         opts.Network,
		committer:       opts.Committer,
		persister:       opts.Persister,
		pm:              opts.PaceMaker,
		notifier:        opts.Notifier,
		clock:           opts.Clock,
		tree:            tree,
		safety:          NewSafetyRules(opts.ID, opts.Signer, tree, opts.Persister, data),
		votes:           NewVoteAggregator(opts.Replicas.Validators, opts.Replicas.Aggregator),
		proposals:       make(map[types.View]*types.Proposal),
		orphans:         make(map[types.Hash][]*types.Proposal),
		futureProposals: make(map[types.View]*types.Proposal),
		pendingQCs:      make(map[types.Hash]*types.QuorumCert),
		submitC:         make(chan []byte, opts.SubmitQueueSize),
		maxBatch:        opts.MaxBatchSize,
		status: &status{
			view:            atomic.NewUint64(0),
			leader:          atomic.NewInt64(0),
			phase:           atomic.NewString(PhaseIdle.String()),
			highQCView:      atomic.NewUint64(0),
			lockedQCView:    atomic.NewUint64(0),
			lastVotedView:   atomic.NewUint64(0),
			committedView:   atomic.NewUint64(0),
			committedHeight: atomic.NewUint64(0),
		},
	}
	hsc.refreshStatus()
	return hsc, nil
}

// Start arms the view timer and enters the restored view.
func (hsc *HotStuffCore) Start() error {
	return hsc.step(func() error {
		hsc.pm.Start()
		return hsc.enterView(hsc.pm.CurView())
	})
}

// OnMessage processes an authenticated message.
func (hsc *HotStuffCore) OnMessage(from types.ReplicaID, msg *types.Message) error {
	return hsc.step(func() error {
		return hsc.handle(from, msg)
	})
}

// OnLocalTimeout processes the expiry of the timer armed for view.
func (hsc *HotStuffCore) OnLocalTimeout(view types.View) error {
	return hsc.step(func() error {
		return hsc.localTimeout(view)
	})
}

// OnPropose builds and broadcasts the block of view if the replica leads it.
func (hsc *HotStuffCore) OnPropose(view types.View) error {
	return hsc.step(func() error {
		return hsc.propose(view)
	})
}

// Submit queues client commands for a future proposal of this replica.
func (hsc *HotStuffCore) Submit(cmds []byte) error {
	if len(cmds) == 0 {
		return errors.Wrap(ErrMalformedMessage, "empty command")
	}
	select {
	case hsc.submitC <- cmds:
		return nil
	default:
		return ErrQueueFull
	}
}

func (hsc *HotStuffCore) Status() api.Status {
	return api.Status{
		ID:              hsc.id,
		View:            types.View(hsc.status.view.Load()),
		Phase:           hsc.status.phase.Load(),
		Leader:          types.ReplicaID(hsc.status.leader.Load()),
		HighQCView:      types.View(hsc.status.highQCView.Load()),
		LockedQCView:    types.View(hsc.status.lockedQCView.Load()),
		LastVotedView:   types.View(hsc.status.lastVotedView.Load()),
		CommittedView:   types.View(hsc.status.committedView.Load()),
		CommittedHeight: hsc.status.committedHeight.Load(),
	}
}

func (hsc *HotStuffCore) GetID() types.ReplicaID {
	return hsc.id
}

func (hsc *HotStuffCore) GetHighQC() *types.QuorumCert {
	return hsc.safety.HighQC()
}

// step runs fn and then the messages the replica sent to itself. Only fatal
// errors of the latter are returned.
func (hsc *HotStuffCore) step(fn func() error) error {
	err := fn()
	for len(hsc.selfQueue) > 0 && (err == nil || !isFatal(err)) {
		m := hsc.selfQueue[0]
		hsc.selfQueue = hsc.selfQueue[1:]
		if serr := hsc.handle(hsc.id, m.msg); serr != nil {
			if isFatal(serr) {
				err = serr
			} else {
				hsc.logError(hsc.id, m.msg.Type(), serr)
			}
		}
	}
	hsc.refreshStatus()
	return err
}

func (hsc *HotStuffCore) handle(from types.ReplicaID, msg *types.Message) error {
	switch msg.Type() {
	case types.MsgPropose:
		return hsc.onProposal(msg.Proposal)
	case types.MsgVote:
		return hsc.onVote(msg.Vote)
	case types.MsgNewView:
		return hsc.onNewView(msg.NewView)
	default:
		return errors.Wrapf(ErrMalformedMessage, "from replica %d", from)
	}
}

func (hsc *HotStuffCore) enterView(view types.View) error {
	leader := hsc.pm.GetLeader(view)
	hsc.phase = PhaseAwaitingProposal
	hsc.notifier.OnEnterView(view, leader)
	if view > 1 {
		hsc.votes.PruneBelow(view - 1)
	}
	for v := range hsc.futureProposals {
		if v < view {
			delete(hsc.futureProposals, v)
		}
	}

	var err error
	if leader == hsc.id {
		if hsc.proposeHook != nil {
			hsc.proposeHook(view)
		} else {
			err = hsc.propose(view)
		}
	} else if p, ok := hsc.futureProposals[view]; ok {
		delete(hsc.futureProposals, view)
		err = hsc.tryVote(p)
	}
	// failures inside the new view must not abort the handler that caused the view change
	if err != nil && !isFatal(err) {
		hsc.logError(hsc.id, types.MsgPropose, err)
		return nil
	}
	return err
}

func (hsc *HotStuffCore) propose(view types.View) error {
	if view != hsc.pm.CurView() || hsc.pm.GetLeader(view) != hsc.id || hsc.proposed >= view {
		return nil
	}
	highQC := hsc.safety.HighQC()
	for _, qc := range hsc.pendingQCs {
		if qc.View > highQC.View {
			// extend the newer QC once its block arrives
			logger.Debug("defer proposal until certified block arrives", "view", view, "qcView", qc.View, "block", qc.BlockHash.Short())
			return nil
		}
	}
	parent, ok := hsc.tree.Get(highQC.BlockHash)
	if !ok {
		return errors.Wrapf(ErrMissingBlock, "cannot extend high QC block %s", highQC.BlockHash.Short())
	}

	block := types.NewBlock(parent, highQC, view, hsc.id, hsc.drainSubmits(), hsc.clock.Now().UnixNano())
	sig, err := hsc.signer.Sign(types.ProposalDigest(block.Hash()))
	if err != nil {
		return errors.Wrap(err, "sign proposal")
	}
	proposal := &types.Proposal{Block: block, Signature: sig}
	if hsc.lastTC != nil && hsc.lastTC.View+1 == view {
		proposal.LastViewTC = hsc.lastTC
	}
	hsc.proposed = view
	hsc.notifier.OnProposing(block)

	// broadcast proposal to other replicas
	hsc.broadcast(types.ProposalMsg(proposal))
	return hsc.onProposal(proposal)
}

func (hsc *HotStuffCore) onProposal(p *types.Proposal) error {
	block := p.Block
	hash := block.Hash()
	hsc.notifier.OnReceiveProposal(p)

	if seen, ok := hsc.proposals[block.View]; ok {
		if seen.Block.Hash() == hash {
			return nil
		}
		hsc.notifier.OnEquivocation(block.Proposer, block.View)
		return &EquivocationError{Replica: block.Proposer, View: block.View, First: seen, Second: p}
	}
	if block.Height <= hsc.safety.Committed().Height {
		return nil
	}

	if p.LastViewTC != nil {
		if err := hsc.processTC(p.LastViewTC); err != nil {
			return err
		}
	}
	if err := hsc.processQC(block.Justify); err != nil {
		return err
	}

	if block.View > hsc.pm.CurView()+types.FutureViewWindow {
		return errors.Wrapf(ErrFutureView, "proposal for view %d at view %d", block.View, hsc.pm.CurView())
	}

	added, err := hsc.tree.Add(block)
	if errors.Is(err, ErrMissingBlock) {
		hsc.addOrphan(p)
		return err
	}
	if err != nil || !added {
		return err
	}
	hsc.proposals[block.View] = p
	if err := hsc.persister.PutBlock(block); err != nil {
		logger.Error("persist block failed", "hash", hash.Short(), "error", err)
	}

	voteErr := hsc.tryVote(p)
	if isFatal(voteErr) {
		return voteErr
	}

	if qc, ok := hsc.pendingQCs[hash]; ok {
		delete(hsc.pendingQCs, hash)
		if err := hsc.processQC(qc); err != nil {
			return err
		}
		if err := hsc.propose(hsc.pm.CurView()); err != nil {
			if isFatal(err) {
				return err
			}
			hsc.logError(hsc.id, types.MsgPropose, err)
		}
	}

	children := hsc.orphans[hash]
	delete(hsc.orphans, hash)
	hsc.orphanCount -= len(children)
	for _, child := range children {
		if err := hsc.onProposal(child); err != nil {
			if isFatal(err) {
				return err
			}
			hsc.logError(child.Block.Proposer, types.MsgPropose, err)
		}
	}
	return voteErr
}

func (hsc *HotStuffCore) tryVote(p *types.Proposal) error {
	block := p.Block
	curView := hsc.pm.CurView()
	if block.View > curView {
		hsc.futureProposals[block.View] = p
		return nil
	}
	if block.View < curView {
		return nil
	}
	if err := hsc.safety.ShouldVote(block, curView); err != nil {
		return err
	}
	vote, err := hsc.safety.MakeVote(block)
	if err != nil {
		return err
	}
	hsc.phase = PhaseVoted
	hsc.notifier.OnVoting(vote)

	// send voteMsg to nextView leader
	hsc.sendTo(hsc.pm.GetLeader(block.View+1), types.VoteMsg(vote))
	return nil
}

func (hsc *HotStuffCore) onVote(vote *types.Vote) error {
	qc, err := hsc.votes.AddVote(vote)
	if e, ok := IsEquivocation(err); ok {
		hsc.notifier.OnEquivocation(e.Replica, e.View)
		return err
	}
	if err != nil || qc == nil {
		return err
	}
	hsc.notifier.OnQCFormed(qc)
	return hsc.processQC(qc)
}

func (hsc *HotStuffCore) onNewView(nv *types.NewView) error {
	if err := hsc.processQC(nv.HighQC); err != nil {
		return err
	}
	tc, partial, err := hsc.pm.OnReceiveNewView(nv)
	if err != nil {
		return err
	}
	if partial && nv.View == hsc.pm.CurView() && hsc.phase != PhaseViewChanging {
		// f+1 replicas gave up, at least one of them honest
		if err := hsc.localTimeout(nv.View); err != nil {
			return err
		}
	}
	if tc == nil {
		return nil
	}
	hsc.notifier.OnTCFormed(tc)
	return hsc.processTC(tc)
}

func (hsc *HotStuffCore) localTimeout(view types.View) error {
	if view != hsc.pm.CurView() {
		return nil
	}
	nv, err := hsc.safety.MakeTimeout(view)
	if err != nil {
		return err
	}
	hsc.phase = PhaseViewChanging
	hsc.notifier.OnLocalTimeout(view, hsc.pm.CurTimeout())
	hsc.pm.OnLocalTimeout(view)

	msg := types.NewViewMsg(nv)
	hsc.broadcast(msg)
	hsc.selfQueue = append(hsc.selfQueue, selfMsg{msg: msg})
	return nil
}

func (hsc *HotStuffCore) processQC(qc *types.QuorumCert) error {
	commits, err := hsc.safety.ProcessQC(qc)
	switch {
	case errors.Is(err, ErrMissingBlock):
		if old, ok := hsc.pendingQCs[qc.BlockHash]; !ok || old.View < qc.View {
			hsc.pendingQCs[qc.BlockHash] = qc
		}
	case err != nil:
		return err
	}
	if len(commits) > 0 {
		hsc.commit(commits)
	}

	view, advanced, err := hsc.pm.ProcessQC(qc)
	if err != nil {
		logger.Error("pacemaker failed to process QC", "view", qc.View, "error", err)
	}
	if !advanced {
		return nil
	}
	hsc.lastTC = nil
	return hsc.enterView(view)
}

func (hsc *HotStuffCore) processTC(tc *types.TimeoutCert) error {
	if err := hsc.processQC(tc.HighQC); err != nil {
		return err
	}
	view, advanced, err := hsc.pm.ProcessTC(tc)
	if err != nil {
		logger.Error("pacemaker failed to process TC", "view", tc.View, "error", err)
	}
	if !advanced {
		return nil
	}
	hsc.lastTC = tc
	return hsc.enterView(view)
}

func (hsc *HotStuffCore) commit(blocks []*types.Block) {
	for _, b := range blocks {
		if hsc.committer != nil {
			if err := hsc.committer.OnCommit(b); err != nil {
				logger.Error("committer failed", "height", b.Height, "hash", b.Hash().Short(), "error", err)
			}
		}
		hsc.notifier.OnBlockCommitted(b)
	}

	root := hsc.safety.Committed()
	removed := hsc.tree.Prune(root)
	if d, ok := hsc.persister.(interface{ DeleteBlocks([]types.Hash) error }); ok && len(removed) > 0 {
		if err := d.DeleteBlocks(removed); err != nil {
			logger.Warning("delete pruned blocks failed", "count", len(removed), "error", err)
		}
	}
	for v := range hsc.proposals {
		if v < root.View {
			delete(hsc.proposals, v)
		}
	}
	for h, qc := range hsc.pendingQCs {
		if qc.View <= root.View {
			delete(hsc.pendingQCs, h)
		}
	}
}

func (hsc *HotStuffCore) addOrphan(p *types.Proposal) {
	if hsc.orphanCount >= maxOrphans {
		logger.Warning("orphan proposal dropped", "view", p.Block.View)
		return
	}
	hash := p.Block.Hash()
	for _, o := range hsc.orphans[p.Block.ParentHash] {
		if o.Block.Hash() == hash {
			return
		}
	}
	hsc.orphans[p.Block.ParentHash] = append(hsc.orphans[p.Block.ParentHash], p)
	hsc.orphanCount++
}

func (hsc *HotStuffCore) drainSubmits() []byte {
	var cmds [][]byte
	for len(cmds) < hsc.maxBatch {
		select {
		case c := <-hsc.submitC:
			cmds = append(cmds, c)
		default:
			return types.EncodeBatch(cmds)
		}
	}
	return types.EncodeBatch(cmds)
}

func (hsc *HotStuffCore) sendTo(dest types.ReplicaID, msg *types.Message) {
	if dest == hsc.id {
		hsc.selfQueue = append(hsc.selfQueue, selfMsg{msg: msg})
		return
	}
	if err := hsc.network.SendTo(dest, msg); err != nil {
		logger.Warning("send message failed", "to", dest, "msgType", msg.Type(), "error", err)
	}
}

func (hsc *HotStuffCore) broadcast(msg *types.Message) {
	if err := hsc.network.Broadcast(msg); err != nil {
		logger.Warning("broadcast message failed", "msgType", msg.Type(), "error", err)
	}
}

func (hsc *HotStuffCore) logError(from types.ReplicaID, msgType types.MsgType, err error) {
	switch {
	case errors.Is(err, ErrStaleView), errors.Is(err, ErrAlreadyVoted), errors.Is(err, ErrMissingBlock):
		logger.Debug("message not processed", "from", from, "msgType", msgType, "reason", err)
	default:
		hsc.notifier.OnInvalidMessage(from, msgType, err)
	}
}

func (hsc *HotStuffCore) refreshStatus() {
	view := hsc.pm.CurView()
	hsc.status.view.Store(uint64(view))
	hsc.status.leader.Store(int64(hsc.pm.GetLeader(view)))
	hsc.status.phase.Store(hsc.phase.String())
	hsc.status.highQCView.Store(uint64(hsc.safety.HighQC().View))
	hsc.status.lockedQCView.Store(uint64(hsc.safety.LockedQC().View))
	hsc.status.lastVotedView.Store(uint64(hsc.safety.LastVotedView()))
	hsc.status.committedView.Store(uint64(hsc.safety.Committed().View))
	hsc.status.committedHeight.Store(hsc.safety.Committed().Height)
}
