// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcvr provides a behavioural model of one channel of a serial
// transceiver device.
//
// The model reacts to the control signals driven by a startup machine
// and reports the status signals a real device would report, after
// configurable latencies. It does not model electrical behaviour nor
// register programming.
package xcvr // import "github.com/go-lpc/linkup/xcvr"

import (
	"fmt"
	"sync/atomic"

	"github.com/go-lpc/linkup/cdc"
	"github.com/go-lpc/linkup/startup"
)

// Config holds the latencies of a channel, in ticks of the domain
// running the channel.
type Config struct {
	PLLLock     uint64 // from PLL reset release to pll_lock
	ClockStable uint64 // from pll_lock to clock_stable, at least 1
	ResetDone   uint64 // from device reset release to reset_done
	CDRLock     uint64 // from reset_done to cdr_stable
	DelayAlign  uint64 // from delay alignment request to delay_align_done
	PhaseAlign  uint64 // between two phase_align_done pulses

	// PhaseAlignPulses is the number of rising edges of phase_align_done
	// produced while phase alignment is requested. The last pulse stays
	// high.
	PhaseAlignPulses int
}

// DefaultConfig returns a configuration with small latencies, suitable
// for simulations.
func DefaultConfig() Config {
	return Config{
		PLLLock:          120,
		ClockStable:      16,
		ResetDone:        40,
		CDRLock:          64,
		DelayAlign:       24,
		PhaseAlign:       12,
		PhaseAlignPulses: 2,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.PhaseAlignPulses < 0:
		return fmt.Errorf("xcvr: invalid number of phase alignment pulses %d", cfg.PhaseAlignPulses)
	case cfg.ClockStable == 0:
		// clock_stable must rise after pll_lock to be seen as an edge.
		return fmt.Errorf("xcvr: clock stabilization needs a non-zero latency")
	case cfg.PhaseAlignPulses > 1 && cfg.PhaseAlign == 0:
		return fmt.Errorf("xcvr: phase alignment pulses need a non-zero phase alignment latency")
	}
	return nil
}

type counter struct {
	n uint64
}

// run advances the counter while cond holds and reports whether the
// latency elapsed. The counter restarts from zero when cond drops.
func (c *counter) run(cond bool, latency uint64) bool {
	if !cond {
		c.n = 0
		return false
	}
	if c.n < latency {
		c.n++
	}
	return c.n >= latency
}

// Channel is one channel (transmitter or receiver) of a transceiver.
//
// Channel implements cdc.Process and must be registered with the domain
// clocking the startup machine driving it.
type Channel struct {
	name string
	cfg  Config
	ctl  func() startup.Control

	stuck atomic.Uint32 // bit set of startup.Signal forced low

	cur, next state
}

type state struct {
	status startup.Status

	pll    counter
	clk    counter
	rst    counter
	cdr    counter
	delay  counter
	delreq bool // latched delay alignment request
	phase  uint64
}

// NewChannel creates a channel reading its controls from ctl.
func NewChannel(name string, cfg Config, ctl func() startup.Control) (*Channel, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("xcvr: could not create channel %q: %w", name, err)
	}
	return &Channel{
		name: name,
		cfg:  cfg,
		ctl:  ctl,
	}, nil
}

func (ch *Channel) Name() string { return ch.name }

// Status returns the status reported during the current tick.
// It must be called from the domain running the channel.
func (ch *Channel) Status() startup.Status { return ch.cur.status }

// Stick forces the provided status signal low until it is released.
// Stick is safe for concurrent use.
func (ch *Channel) Stick(sig startup.Signal) {
	for {
		old := ch.stuck.Load()
		if ch.stuck.CompareAndSwap(old, old|1<<uint(sig)) {
			return
		}
	}
}

// Release undoes a previous Stick. Release is safe for concurrent use.
func (ch *Channel) Release(sig startup.Signal) {
	for {
		old := ch.stuck.Load()
		if ch.stuck.CompareAndSwap(old, old&^(1<<uint(sig))) {
			return
		}
	}
}

// Stuck reports whether the provided status signal is forced low.
func (ch *Channel) Stuck(sig startup.Signal) bool {
	return ch.stuck.Load()&(1<<uint(sig)) != 0
}

func (ch *Channel) Eval() {
	var (
		ctl = ch.ctl()
		cfg = ch.cfg
		nxt = ch.cur
	)

	lock := nxt.pll.run(!ctl.PLLReset, cfg.PLLLock)
	stable := nxt.clk.run(lock, cfg.ClockStable)

	// the device leaves reset once its PLL is locked and only reports
	// completion when the user logic allows it.
	out := lock && !ctl.DeviceReset && !ctl.PLLReset
	done := nxt.rst.run(out, cfg.ResetDone) && ctl.UserReady
	cdr := nxt.cdr.run(done, cfg.CDRLock)

	if !done {
		nxt.delreq = false
		nxt.phase = 0
	}
	if done && ctl.DelayAlignRequest {
		nxt.delreq = true
	}
	delay := nxt.delay.run(nxt.delreq, cfg.DelayAlign)

	phase := false
	switch {
	case done && ctl.PhaseAlignRequest:
		nxt.phase++
		phase = ch.phaseDone(nxt.phase)
	default:
		nxt.phase = 0
	}

	nxt.status = startup.Status{
		PLLLock:        lock,
		ClockStable:    stable,
		ResetDone:      done,
		DelayAlignDone: delay,
		PhaseAlignDone: phase,
		CDRStable:      cdr,
	}
	ch.applyStuck(&nxt.status)
	ch.next = nxt
}

func (ch *Channel) Commit() {
	ch.cur = ch.next
}

// phaseDone returns the value of phase_align_done after n ticks of
// phase alignment request.
// Each pulse is made of PhaseAlign low ticks followed by 2 high ticks.
func (ch *Channel) phaseDone(n uint64) bool {
	npulses := uint64(ch.cfg.PhaseAlignPulses)
	if npulses == 0 {
		return false
	}
	var (
		period = ch.cfg.PhaseAlign + 2
		ipulse = (n - 1) / period
		pos    = (n - 1) % period
	)
	switch {
	case ipulse >= npulses:
		return true
	default:
		return pos >= ch.cfg.PhaseAlign
	}
}

func (ch *Channel) applyStuck(st *startup.Status) {
	mask := ch.stuck.Load()
	if mask == 0 {
		return
	}
	stuck := func(sig startup.Signal) bool { return mask&(1<<uint(sig)) != 0 }
	st.PLLLock = st.PLLLock && !stuck(startup.PLLLock)
	st.ClockStable = st.ClockStable && !stuck(startup.ClockStable)
	st.ResetDone = st.ResetDone && !stuck(startup.ResetDone)
	st.DelayAlignDone = st.DelayAlignDone && !stuck(startup.DelayAlignDone)
	st.PhaseAlignDone = st.PhaseAlignDone && !stuck(startup.PhaseAlignDone)
	st.CDRStable = st.CDRStable && !stuck(startup.CDRStable)
}

var (
	_ cdc.Process = (*Channel)(nil)
)
