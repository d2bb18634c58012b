/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pacemaker

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var _ api.TimeoutScheduler = (*ClockScheduler)(nil)

// ClockScheduler arms one timer at a time and calls fire with the view the
// timer was armed for. A replaced or stopped timer never fires.
type ClockScheduler struct {
	clock clock.Clock
	fire  func(types.View)

	mut    sync.Mutex
	gen    uint64
	cancel chan struct{}
}

func NewClockScheduler(clk clock.Clock, fire func(types.View)) *ClockScheduler {
	return &ClockScheduler{clock: clk, fire: fire}
}

func (s *ClockScheduler) Schedule(view types.View, d time.Duration) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	cancel := make(chan struct{})
	s.cancel = cancel
	timer := s.clock.NewTimer(d)

	go func() {
		select {
		case <-timer.C():
		case <-cancel:
			timer.Stop()
			return
		}
		s.mut.Lock()
		current := s.gen == gen
		s.mut.Unlock()
		if current {
			s.fire(view)
		}
	}()
}

func (s *ClockScheduler) Stop() {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.stopLocked()
	s.gen++
}

func (s *ClockScheduler) stopLocked() {
	if s.cancel != nil {
		close(s.cancel)
		s.cancel = nil
	}
}
