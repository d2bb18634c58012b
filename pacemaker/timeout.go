/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pacemaker

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// TimeoutConfig parameterises the view timer.
type TimeoutConfig struct {
	// MinTimeout is the view duration on the happy path.
	MinTimeout time.Duration `mapstructure:"min-timeout" validate:"gt=0"`
	// MaxTimeout caps the exponential growth.
	MaxTimeout time.Duration `mapstructure:"max-timeout" validate:"gtefield=MinTimeout"`
	// Factor multiplies the timeout for every failed round past HappyPathMaxRoundFailures.
	Factor float64 `mapstructure:"factor" validate:"gt=1"`
	// HappyPathMaxRoundFailures failed rounds are tolerated before the timeout grows.
	HappyPathMaxRoundFailures uint64 `mapstructure:"happy-path-max-round-failures"`
	// MaxRebroadcastInterval bounds the delay between re-broadcasts of a NewView.
	MaxRebroadcastInterval time.Duration `mapstructure:"max-rebroadcast-interval" validate:"gt=0"`
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		MinTimeout:                time.Second,
		MaxTimeout:                30 * time.Second,
		Factor:                    1.5,
		HappyPathMaxRoundFailures: 3,
		MaxRebroadcastInterval:    5 * time.Second,
	}
}

func (c TimeoutConfig) Validate() error {
	if c.MinTimeout <= 0 {
		return errors.New("min timeout must be positive")
	}
	if c.MaxTimeout < c.MinTimeout {
		return errors.Errorf("max timeout %v below min timeout %v", c.MaxTimeout, c.MinTimeout)
	}
	if c.Factor <= 1 {
		return errors.Errorf("timeout factor %v must be greater than 1", c.Factor)
	}
	if c.MaxRebroadcastInterval <= 0 {
		return errors.New("rebroadcast interval must be positive")
	}
	return nil
}

// Controller implements the following truncated exponential backoff:
//
//	duration(r) = min(t_min * b^(r-k), t_max)   if r > k
//	duration(r) = t_min                         otherwise
//
// r is the failed rounds counter, k the tolerated failures on the happy path,
// b the increase factor. A TC-driven view change increments r, a QC-driven
// one resets it.
type Controller struct {
	cfg         TimeoutConfig
	maxExponent float64
	r           uint64
}

func NewController(cfg TimeoutConfig) *Controller {
	// log_b(t_max/t_min)
	maxExponent := math.Log(float64(cfg.MaxTimeout)/float64(cfg.MinTimeout)) / math.Log(cfg.Factor)
	return &Controller{cfg: cfg, maxExponent: maxExponent}
}

// Duration returns the timeout of the current view.
func (c *Controller) Duration() time.Duration {
	if c.r <= c.cfg.HappyPathMaxRoundFailures {
		return c.cfg.MinTimeout
	}
	r := float64(c.r - c.cfg.HappyPathMaxRoundFailures)
	if r >= c.maxExponent {
		return c.cfg.MaxTimeout
	}
	return time.Duration(float64(c.cfg.MinTimeout) * math.Pow(c.cfg.Factor, r))
}

// RebroadcastInterval is the delay between two NewView broadcasts for the
// same view.
func (c *Controller) RebroadcastInterval() time.Duration {
	d := c.Duration()
	if d > c.cfg.MaxRebroadcastInterval {
		return c.cfg.MaxRebroadcastInterval
	}
	return d
}

func (c *Controller) FailedRounds() uint64 {
	return c.r
}

// OnTimeout records a view change triggered by a TC.
func (c *Controller) OnTimeout() {
	if float64(c.r) >= c.maxExponent+float64(c.cfg.HappyPathMaxRoundFailures) {
		return
	}
	c.r++
}

// OnProgress records a view change triggered by a QC.
func (c *Controller) OnProgress() {
	c.r = 0
}

func (c *Controller) restore(failedRounds uint64) {
	c.r = failedRounds
}
