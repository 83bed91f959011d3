// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wdt implements a restartable tick-based countdown timer.
//
// A Timer is used both to enforce minimum hold times (stay in a state
// until the timer expires) and as a liveness deadline (restart when the
// timer expires before some condition was reached).
//
// Timer is a value type: it can be embedded in the state of a pure
// transition function and copied around freely.
package wdt // import "github.com/go-lpc/linkup/wdt"

import "fmt"

// Timer is a tick-based countdown.
type Timer struct {
	deadline uint64
	elapsed  uint64
	armed    bool
	expired  bool
}

// New returns a timer armed with the provided deadline.
func New(deadline uint64) Timer {
	var t Timer
	t.Arm(deadline)
	return t
}

// Arm (re)starts the timer: elapsed is cleared and the timer will
// expire after deadline ticks.
// A zero deadline expires on the first tick.
func (t *Timer) Arm(deadline uint64) {
	t.deadline = deadline
	t.elapsed = 0
	t.armed = true
	t.expired = false
}

// Cancel disarms the timer.
func (t *Timer) Cancel() {
	t.elapsed = 0
	t.armed = false
	t.expired = false
}

// Tick advances the timer by one tick.
// Tick is a no-op (apart from clearing a previous expiry) when the timer
// is not armed.
// The timer does not re-arm itself after expiry.
func (t *Timer) Tick() {
	t.expired = false
	if !t.armed {
		return
	}
	t.elapsed++
	if t.elapsed >= t.deadline {
		t.expired = true
		t.armed = false
	}
}

// Expired reports whether the deadline was crossed during the last tick.
func (t Timer) Expired() bool { return t.expired }

// Armed reports whether the timer is counting.
func (t Timer) Armed() bool { return t.armed }

// Elapsed returns the number of ticks counted since the last Arm.
func (t Timer) Elapsed() uint64 { return t.elapsed }

// Deadline returns the deadline of the last Arm.
func (t Timer) Deadline() uint64 { return t.deadline }

func (t Timer) String() string {
	return fmt.Sprintf("wdt{%d/%d armed=%v expired=%v}", t.elapsed, t.deadline, t.armed, t.expired)
}
