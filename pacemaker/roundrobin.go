/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pacemaker

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var _ api.PaceMaker = (*RoundRobinPM)(nil)

type newViewCollector struct {
	newViews    map[types.ReplicaID]*types.NewView
	weight      uint64
	partialSent bool
	tcFormed    bool
}

// RoundRobinPM rotates the leader over the ordered validator set and moves
// to the next view on a QC or a TC. Apart from CurView it must be driven by
// a single goroutine.
type RoundRobinPM struct {
	replicaId  types.ReplicaID
	validators *types.ValidatorSet
	aggregator api.Aggregator
	persister  api.Persister
	scheduler  api.TimeoutScheduler
	controller *Controller

	curView    *atomic.Uint64
	collectors map[types.View]*newViewCollector // ViewNumber ~ ReplicaID
}

// NewRoundRobinPM restores the last persisted view, starting at view 1 on a
// fresh replica.
func NewRoundRobinPM(replicaId types.ReplicaID, validators *types.ValidatorSet, aggregator api.Aggregator,
	persister api.Persister, scheduler api.TimeoutScheduler, cfg TimeoutConfig) (*RoundRobinPM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &RoundRobinPM{
		replicaId:  replicaId,
		validators: validators,
		aggregator: aggregator,
		persister:  persister,
		scheduler:  scheduler,
		controller: NewController(cfg),
		curView:    atomic.NewUint64(1),
		collectors: make(map[types.View]*newViewCollector),
	}
	data, err := persister.GetLivenessData()
	if err != nil {
		return nil, errors.WithMessage(err, "load liveness data")
	}
	if data != nil {
		if data.CurrentView > 1 {
			r.curView.Store(uint64(data.CurrentView))
		}
		r.controller.restore(data.FailedRounds)
	}
	return r, nil
}

func (r *RoundRobinPM) CurView() types.View {
	return types.View(r.curView.Load())
}

func (r *RoundRobinPM) GetLeader(view types.View) types.ReplicaID {
	return r.validators.Leader(view)
}

func (r *RoundRobinPM) CurTimeout() time.Duration {
	return r.controller.Duration()
}

func (r *RoundRobinPM) Start() {
	logger.Debug("start view timer", "replicaId", r.replicaId, "view", r.CurView(), "timeout", r.controller.Duration())
	r.scheduler.Schedule(r.CurView(), r.controller.Duration())
}

func (r *RoundRobinPM) Stop() {
	r.scheduler.Stop()
}

func (r *RoundRobinPM) ProcessQC(qc *types.QuorumCert) (types.View, bool, error) {
	if qc.View < r.CurView() {
		return r.CurView(), false, nil
	}
	r.controller.OnProgress()
	return r.advance(qc.View + 1)
}

func (r *RoundRobinPM) ProcessTC(tc *types.TimeoutCert) (types.View, bool, error) {
	if tc.View < r.CurView() {
		return r.CurView(), false, nil
	}
	r.controller.OnTimeout()
	return r.advance(tc.View + 1)
}

// OnLocalTimeout re-arms the timer so the NewView of view gets re-broadcast
// until the view changes.
func (r *RoundRobinPM) OnLocalTimeout(view types.View) {
	if view != r.CurView() {
		return
	}
	r.scheduler.Schedule(view, r.controller.RebroadcastInterval())
}

// OnReceiveNewView collects an authenticated NewView. Only the first NewView
// of a sender counts for a view. It returns the TC once the senders reach the
// quorum threshold, and true the first time they reach the partial threshold.
func (r *RoundRobinPM) OnReceiveNewView(nv *types.NewView) (*types.TimeoutCert, bool, error) {
	if nv.View < r.CurView() {
		return nil, false, nil
	}
	if nv.View > r.CurView()+types.FutureViewWindow {
		return nil, false, errors.Wrapf(ErrFutureView, "new view %d from replica %d at view %d", nv.View, nv.Sender, r.CurView())
	}
	val, ok := r.validators.Get(nv.Sender)
	if !ok {
		return nil, false, errors.Errorf("new view from unknown replica %d", nv.Sender)
	}

	c, ok := r.collectors[nv.View]
	if !ok {
		c = &newViewCollector{newViews: make(map[types.ReplicaID]*types.NewView)}
		r.collectors[nv.View] = c
	}
	if _, ok := c.newViews[nv.Sender]; ok {
		return nil, false, nil
	}
	c.newViews[nv.Sender] = nv
	c.weight += val.Weight

	partial := false
	if !c.partialSent && c.weight >= r.validators.PartialThreshold() {
		c.partialSent = true
		partial = true
	}
	if c.tcFormed || c.weight < r.validators.QuorumThreshold() {
		return nil, partial, nil
	}

	tc, err := r.buildTC(nv.View, c)
	if err != nil {
		return nil, partial, err
	}
	c.tcFormed = true
	return tc, partial, nil
}

func (r *RoundRobinPM) buildTC(view types.View, c *newViewCollector) (*types.TimeoutCert, error) {
	parts := make([]types.PartialSig, 0, len(c.newViews))
	for id, nv := range c.newViews {
		parts = append(parts, types.PartialSig{Signer: id, Signature: nv.Signature})
	}
	types.SortPartialSigs(parts)

	tc := &types.TimeoutCert{
		View:        view,
		Signers:     types.SignerIDs(parts),
		HighQCViews: make([]types.View, len(parts)),
	}
	for i, p := range parts {
		nv := c.newViews[p.Signer]
		tc.HighQCViews[i] = nv.HighQC.View
		if tc.HighQC == nil || nv.HighQC.View > tc.HighQC.View {
			tc.HighQC = nv.HighQC
		}
	}
	agg, err := r.aggregator.Combine(parts)
	if err != nil {
		return nil, errors.WithMessage(err, "combine timeout signatures")
	}
	tc.AggSig = agg
	return tc, nil
}

func (r *RoundRobinPM) advance(view types.View) (types.View, bool, error) {
	if view <= r.CurView() {
		return r.CurView(), false, nil
	}
	r.curView.Store(uint64(view))
	for v := range r.collectors {
		if v < view {
			delete(r.collectors, v)
		}
	}
	r.scheduler.Schedule(view, r.controller.Duration())

	err := r.persister.PutLivenessData(&api.LivenessData{CurrentView: view, FailedRounds: r.controller.FailedRounds()})
	if err != nil {
		return view, true, errors.WithMessage(err, "persist liveness data")
	}
	return view, true, nil
}
