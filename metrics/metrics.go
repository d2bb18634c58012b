/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes the progress of a replica to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

const (
	namespaceHotstuff = "hotstuff"
	subsystemCore     = "core"
	subsystemPM       = "pacemaker"
)

var _ api.Consumer = (*Collector)(nil)

// Collector is a consensus notification consumer keeping prometheus metrics.
type Collector struct {
	curView         prometheus.Gauge
	highQCView      prometheus.Gauge
	committedHeight prometheus.Gauge
	committedView   prometheus.Gauge
	timeoutDuration prometheus.Gauge
	proposals       prometheus.Counter
	votes           prometheus.Counter
	qcs             prometheus.Counter
	tcs             prometheus.Counter
	timeouts        prometheus.Counter
	commits         prometheus.Counter
	equivocations   *prometheus.CounterVec
	invalidMessages *prometheus.CounterVec
	commitLatency   prometheus.Histogram
}

// NewCollector registers the replica metrics with registerer.
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		curView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemPM,
			Name:      "cur_view",
			Help:      "the current view of the replica",
		}),
		highQCView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "high_qc_view",
			Help:      "the view of the highest known quorum certificate",
		}),
		committedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "committed_height",
			Help:      "the height of the last committed block",
		}),
		committedView: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "committed_view",
			Help:      "the view of the last committed block",
		}),
		timeoutDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemPM,
			Name:      "timeout_seconds",
			Help:      "the view timeout in seconds at the last local timeout",
		}),
		proposals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "proposals_total",
			Help:      "the number of blocks proposed by this replica",
		}),
		votes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "votes_total",
			Help:      "the number of votes signed by this replica",
		}),
		qcs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "qcs_total",
			Help:      "the number of quorum certificates formed by this replica",
		}),
		tcs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemPM,
			Name:      "tcs_total",
			Help:      "the number of timeout certificates formed by this replica",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemPM,
			Name:      "local_timeouts_total",
			Help:      "the number of views this replica gave up",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "committed_blocks_total",
			Help:      "the number of committed blocks",
		}),
		equivocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "equivocations_total",
			Help:      "the number of equivocations detected, by offending replica",
		}, []string{"replica"}),
		invalidMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "invalid_messages_total",
			Help:      "the number of rejected messages, by type",
		}, []string{"type"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceHotstuff,
			Subsystem: subsystemCore,
			Name:      "commit_latency_seconds",
			Help:      "time from block proposal to commit",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	registerer.MustRegister(c.curView, c.highQCView, c.committedHeight, c.committedView, c.timeoutDuration,
		c.proposals, c.votes, c.qcs, c.tcs, c.timeouts, c.commits, c.equivocations, c.invalidMessages, c.commitLatency)
	return c
}

// RegisterPendingEvents exports the length of the consensus inbox.
func RegisterPendingEvents(registerer prometheus.Registerer, pending func() int) {
	registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespaceHotstuff,
		Subsystem: subsystemCore,
		Name:      "pending_events",
		Help:      "the number of events waiting for the consensus actor",
	}, func() float64 { return float64(pending()) }))
}

func (c *Collector) OnEnterView(view types.View, _ types.ReplicaID) {
	c.curView.Set(float64(view))
}

func (c *Collector) OnProposing(*types.Block) {
	c.proposals.Inc()
}

func (c *Collector) OnReceiveProposal(*types.Proposal) {}

func (c *Collector) OnVoting(*types.Vote) {
	c.votes.Inc()
}

func (c *Collector) OnQCFormed(qc *types.QuorumCert) {
	c.qcs.Inc()
	c.highQCView.Set(float64(qc.View))
}

func (c *Collector) OnTCFormed(*types.TimeoutCert) {
	c.tcs.Inc()
}

func (c *Collector) OnLocalTimeout(_ types.View, d time.Duration) {
	c.timeouts.Inc()
	c.timeoutDuration.Set(d.Seconds())
}

func (c *Collector) OnBlockCommitted(block *types.Block) {
	c.commits.Inc()
	c.committedHeight.Set(float64(block.Height))
	c.committedView.Set(float64(block.View))
	if block.Timestamp > 0 {
		c.commitLatency.Observe(time.Since(time.Unix(0, block.Timestamp)).Seconds())
	}
}

func (c *Collector) OnEquivocation(replica types.ReplicaID, _ types.View) {
	c.equivocations.WithLabelValues(replica.String()).Inc()
}

func (c *Collector) OnInvalidMessage(_ types.ReplicaID, msgType types.MsgType, _ error) {
	c.invalidMessages.WithLabelValues(msgType.String()).Inc()
}
