package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.OnEnterView(7, 3)
	c.OnProposing(&types.Block{View: 7})
	c.OnVoting(&types.Vote{View: 7})
	c.OnQCFormed(&types.QuorumCert{View: 7})
	c.OnTCFormed(&types.TimeoutCert{View: 8})
	c.OnLocalTimeout(8, 2*time.Second)
	c.OnBlockCommitted(&types.Block{View: 5, Height: 4})
	c.OnEquivocation(2, 7)
	c.OnEquivocation(2, 8)
	c.OnInvalidMessage(1, types.MsgVote, errors.New("bad signature"))

	assert.Equal(t, float64(7), testutil.ToFloat64(c.curView))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.highQCView))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.proposals))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.votes))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.tcs))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.timeouts))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.timeoutDuration))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.committedHeight))
	assert.Equal(t, float64(5), testutil.ToFloat64(c.committedView))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.equivocations.WithLabelValues("2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.invalidMessages.WithLabelValues(types.MsgVote.String())))
}

func TestPendingEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	RegisterPendingEvents(reg, func() int { return n })

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "hotstuff_core_pending_events", families[0].GetName())
	assert.Equal(t, float64(3), families[0].GetMetric()[0].GetGauge().GetValue())
}
