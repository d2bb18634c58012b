package pacemaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() TimeoutConfig {
	return TimeoutConfig{
		MinTimeout:                100 * time.Millisecond,
		MaxTimeout:                800 * time.Millisecond,
		Factor:                    2,
		HappyPathMaxRoundFailures: 2,
		MaxRebroadcastInterval:    300 * time.Millisecond,
	}
}

func TestControllerBackoff(t *testing.T) {
	c := NewController(testConfig())
	expected := []time.Duration{
		100 * time.Millisecond, // r=0
		100 * time.Millisecond, // r=1
		100 * time.Millisecond, // r=2
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, d := range expected {
		assert.Equal(t, d, c.Duration(), "failed rounds %d", i)
		c.OnTimeout()
	}
	// r stops growing once the cap is reached
	assert.LessOrEqual(t, c.FailedRounds(), uint64(6))

	c.OnProgress()
	assert.Equal(t, uint64(0), c.FailedRounds())
	assert.Equal(t, 100*time.Millisecond, c.Duration())
}

func TestControllerRebroadcastInterval(t *testing.T) {
	c := NewController(testConfig())
	assert.Equal(t, 100*time.Millisecond, c.RebroadcastInterval())
	for i := 0; i < 5; i++ {
		c.OnTimeout()
	}
	assert.Equal(t, 300*time.Millisecond, c.RebroadcastInterval())
}

func TestTimeoutConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultTimeoutConfig().Validate())

	cfg := testConfig()
	cfg.MaxTimeout = cfg.MinTimeout / 2
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Factor = 1
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.MinTimeout = 0
	assert.Error(t, cfg.Validate())
}
