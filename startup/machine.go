// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package startup implements the transmitter and receiver startup state
// machines bringing a serial transceiver from reset to an aligned link.
//
// Both machines are instances of the same engine, configured from a
// Profile: the profile lists the steps (state, driven controls and exit
// condition) each machine walks through. A machine is a value and its
// transition function, Next, is pure: it computes the next machine and
// the outputs of the current tick from the current machine and inputs.
//
// Exit conditions on "done" status signals are rising-edge sensitive: a
// status already high when a wait state is entered is stale and does not
// complete the wait. Edge detectors are reset to "high" whenever the
// machine is reset, so that stale values are never mistaken for a fresh
// 0->1 transition.
package startup // import "github.com/go-lpc/linkup/startup"

import (
	"fmt"

	"github.com/go-lpc/linkup/wdt"
)

// Machine is a link startup state machine.
type Machine struct {
	name  string
	steps []step // shared, never modified
	idx   int

	edges uint64         // rising edges counted in the current step
	prev  [nSignals]bool // edge detector registers
	hold  wdt.Timer      // minimum hold and stability timer
	live  wdt.Timer      // liveness deadline
	tmo   uint64         // liveness deadline, in ticks
	nrst  uint64         // number of liveness restarts
}

// NewTx returns the transmitter startup machine of the profile.
func NewTx(p Profile) (Machine, error) {
	err := p.Validate()
	if err != nil {
		return Machine{}, fmt.Errorf("startup: could not create tx machine: %w", err)
	}
	return newMachine("tx", p.txSteps(), p.ReadyTimeout), nil
}

// NewRx returns the receiver startup machine of the profile.
// The receiver does not start before its PeerReady input is high.
func NewRx(p Profile) (Machine, error) {
	err := p.Validate()
	if err != nil {
		return Machine{}, fmt.Errorf("startup: could not create rx machine: %w", err)
	}
	return newMachine("rx", p.rxSteps(), p.ReadyTimeout), nil
}

func newMachine(name string, steps []step, timeout uint64) Machine {
	m := Machine{
		name:  name,
		steps: steps,
		tmo:   timeout,
	}
	m.restart()
	return m
}

func (m Machine) Name() string     { return m.name }
func (m Machine) State() State     { return m.steps[m.idx].state }
func (m Machine) Ready() bool      { return m.steps[m.idx].wait == waitLoop }
func (m Machine) Restarts() uint64 { return m.nrst }

// Edges returns the number of rising edges counted in the current state.
func (m Machine) Edges() uint64 { return m.edges }

// States returns the sequence of states the machine walks through.
func (m Machine) States() []State {
	o := make([]State, len(m.steps))
	for i, st := range m.steps {
		o[i] = st.state
	}
	return o
}

func (m Machine) String() string {
	cur := m.steps[m.idx]
	if cur.wait == waitRising && cur.n > 1 {
		return fmt.Sprintf("%s[%v %d/%d]", m.name, cur.state, m.edges, cur.n)
	}
	return fmt.Sprintf("%s[%v]", m.name, cur.state)
}

// Outputs returns the outputs driven by the current state.
func (m Machine) Outputs() Outputs {
	cur := m.steps[m.idx]
	return Outputs{
		State:   cur.state,
		Control: cur.ctl,
		Ready:   cur.wait == waitLoop,
	}
}

// Next evaluates one tick: it returns the machine for the next tick and
// the outputs of the current tick.
//
// A reset request takes precedence over everything: the returned machine
// is in its initial state and the outputs of this very tick are the ones
// of the initial state (in particular Ready is false).
// Otherwise, when the liveness deadline expires before the machine
// reached its ready state, the machine is restarted.
func (m Machine) Next(in Inputs) (Machine, Outputs) {
	if in.Reset {
		m.restart()
		return m, m.Outputs()
	}

	var (
		out  = m.Outputs()
		cur  = m.steps[m.idx]
		sigs = in.signals()
		rose [nSignals]bool
	)
	for i := range sigs {
		rose[i] = sigs[i] && !m.prev[i]
	}
	m.prev = sigs

	if cur.wait != waitLoop {
		m.live.Tick()
		if m.live.Expired() {
			m.nrst++
			m.restart()
			out.Restart = true
			return m, out
		}
	}

	advance := false
	switch cur.wait {
	case waitHold:
		m.hold.Tick()
		advance = m.hold.Expired()
	case waitLevel:
		advance = sigs[cur.sig]
	case waitRising:
		if rose[cur.sig] {
			m.edges++
		}
		advance = m.edges >= cur.n
	case waitStable:
		if !sigs[cur.sig] {
			m.hold.Arm(cur.n)
			break
		}
		m.hold.Tick()
		advance = m.hold.Expired()
	case waitLoop:
	}

	if advance {
		m.enter(m.idx + 1)
	}
	return m, out
}

func (m *Machine) restart() {
	for i := range m.prev {
		m.prev[i] = true
	}
	m.live.Cancel()
	if m.tmo > 0 {
		m.live.Arm(m.tmo)
	}
	m.enter(0)
}

func (m *Machine) enter(i int) {
	m.idx = i
	m.edges = 0
	st := m.steps[i]
	switch st.wait {
	case waitHold, waitStable:
		m.hold.Arm(st.n)
	case waitLoop:
		m.hold.Cancel()
		m.live.Cancel()
	default:
		m.hold.Cancel()
	}
}
