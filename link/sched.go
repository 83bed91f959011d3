// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"fmt"
	"time"

	"github.com/go-lpc/linkup/cdc"
)

// Scheduler advances a set of timing domains in simulated time, each one
// at its own frequency.
//
// Each step ticks the domain with the earliest next clock edge. Edges
// falling at the same instant are processed in the order the domains
// were given. Scheduling is thus fully deterministic.
type Scheduler struct {
	doms []*cdc.Domain
	now  float64 // seconds
}

// NewScheduler creates a scheduler for the provided domains.
func NewScheduler(doms ...*cdc.Domain) *Scheduler {
	return &Scheduler{doms: doms}
}

// Now returns the simulated time of the last processed clock edge.
func (s *Scheduler) Now() time.Duration {
	return time.Duration(s.now * float64(time.Second))
}

func (s *Scheduler) next() (int, float64) {
	var (
		idx  = -1
		tmin float64
	)
	for i, dom := range s.doms {
		if dom.Freq() <= 0 {
			continue
		}
		t := float64(dom.Ticks()+1) / dom.Freq()
		if idx < 0 || t < tmin {
			idx = i
			tmin = t
		}
	}
	return idx, tmin
}

// Step ticks the domain with the earliest next edge and returns it.
func (s *Scheduler) Step() (*cdc.Domain, error) {
	i, t := s.next()
	if i < 0 {
		return nil, fmt.Errorf("link: no clocked domain to schedule")
	}
	s.now = t
	dom := s.doms[i]
	dom.Tick()
	return dom, nil
}

// Advance runs the scheduler for the provided amount of simulated time.
func (s *Scheduler) Advance(d time.Duration) error {
	end := s.now + d.Seconds()
	for {
		i, t := s.next()
		if i < 0 {
			return fmt.Errorf("link: no clocked domain to schedule")
		}
		if t > end {
			return nil
		}
		s.now = t
		s.doms[i].Tick()
	}
}

// Until steps the scheduler until cond returns true or the simulated
// time exceeds the deadline. Until reports whether cond was met.
// cond is evaluated after every step.
func (s *Scheduler) Until(deadline time.Duration, cond func() bool) (bool, error) {
	end := s.now + deadline.Seconds()
	for !cond() {
		i, t := s.next()
		if i < 0 {
			return false, fmt.Errorf("link: no clocked domain to schedule")
		}
		if t > end {
			return false, nil
		}
		s.now = t
		s.doms[i].Tick()
	}
	return true, nil
}

// Step advances the simulated link by one clock edge.
// Step must not be used concurrently with Run.
func (ctl *Controller) Step() (*cdc.Domain, error) {
	return ctl.sched.Step()
}

// Advance advances the simulated link by the provided amount of time.
// Advance must not be used concurrently with Run.
func (ctl *Controller) Advance(d time.Duration) error {
	return ctl.sched.Advance(d)
}

// WaitReady advances the simulated link until it is ready or the
// deadline (in simulated time) is reached. It reports whether the link
// became ready.
// WaitReady must not be used concurrently with Run.
func (ctl *Controller) WaitReady(deadline time.Duration) (bool, error) {
	return ctl.sched.Until(deadline, ctl.Ready)
}

// Now returns the simulated time of the link.
func (ctl *Controller) Now() time.Duration {
	return ctl.sched.Now()
}
