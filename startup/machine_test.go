// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startup

import (
	"reflect"
	"testing"
)

// fastProfile returns a profile with single-tick holds.
func fastProfile(family Family, edges int, timeout uint64) Profile {
	p, err := NewProfile(family, 16, 1)
	if err != nil {
		panic(err)
	}
	p.StartupHold = 0
	p.PLLResetHold = 0
	p.DeviceResetHold = 0
	p.CDRStableHold = 1
	p.TxPhaseAlignEdges = edges
	p.RxPhaseAlignEdges = edges
	p.ReadyTimeout = timeout
	return p
}

func set(st *Status, sig Signal, v bool) {
	switch sig {
	case PLLLock:
		st.PLLLock = v
	case ClockStable:
		st.ClockStable = v
	case ResetDone:
		st.ResetDone = v
	case DelayAlignDone:
		st.DelayAlignDone = v
	case PhaseAlignDone:
		st.PhaseAlignDone = v
	case CDRStable:
		st.CDRStable = v
	}
}

// waitedSignal returns the signal the machine currently waits on.
func waitedSignal(m Machine) (Signal, bool) {
	cur := m.steps[m.idx]
	switch cur.wait {
	case waitRising, waitLevel, waitStable:
		return cur.sig, true
	}
	return 0, false
}

func TestMachineStates(t *testing.T) {
	for _, tc := range []struct {
		family Family
		tx, rx []State
	}{
		{
			family: FamilyK,
			tx: []State{
				Idle, PLLReset, DeviceReset, WaitPLLLock, WaitClockStable,
				WaitDeviceResetDone, DelayAlign, WaitDelayAlignDone, PhaseAlign, Ready,
			},
			rx: []State{
				Idle, DeviceReset, WaitDeviceResetDone, WaitCDRStable,
				DelayAlign, WaitDelayAlignDone, PhaseAlign, Ready,
			},
		},
		{
			family: FamilyA,
			tx: []State{
				Idle, PLLReset, DeviceReset, WaitPLLLock, WaitClockStable,
				WaitDeviceResetDone, WaitDelayAlignDone, PhaseAlign, Ready,
			},
			rx: []State{
				Idle, DeviceReset, WaitDeviceResetDone, WaitCDRStable,
				WaitDelayAlignDone, PhaseAlign, Ready,
			},
		},
	} {
		t.Run(tc.family.String(), func(t *testing.T) {
			p, err := NewProfile(tc.family, 16, 150e6)
			if err != nil {
				t.Fatalf("could not create profile: %+v", err)
			}
			tx, err := NewTx(p)
			if err != nil {
				t.Fatalf("could not create tx: %+v", err)
			}
			rx, err := NewRx(p)
			if err != nil {
				t.Fatalf("could not create rx: %+v", err)
			}
			if got, want := tx.States(), tc.tx; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid tx states:\ngot= %v\nwant=%v", got, want)
			}
			if got, want := rx.States(), tc.rx; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid rx states:\ngot= %v\nwant=%v", got, want)
			}
			if tx.State() != Idle || rx.State() != Idle {
				t.Fatalf("machines should start in IDLE")
			}
		})
	}
}

// TestMachineNominal raises every awaited status exactly once, at the
// tick the machine waits for it: the machine must reach READY in one
// tick per traversed state.
func TestMachineNominal(t *testing.T) {
	for _, family := range []Family{FamilyA, FamilyK} {
		for _, tc := range []struct {
			name string
			new  func(Profile) (Machine, error)
			peer bool
		}{
			{"tx", NewTx, false},
			{"rx", NewRx, true},
		} {
			t.Run(family.String()+"-"+tc.name, func(t *testing.T) {
				m, err := tc.new(fastProfile(family, 1, 1000))
				if err != nil {
					t.Fatalf("could not create machine: %+v", err)
				}

				var (
					in    = Inputs{PeerReady: tc.peer}
					want  = len(m.States()) - 1
					ticks = 0
					out   Outputs
				)
				for !m.Ready() && ticks < 100 {
					if sig, ok := waitedSignal(m); ok {
						set(&in.Status, sig, true)
					}
					m, out = m.Next(in)
					ticks++
					if out.Ready {
						t.Fatalf("ready asserted before reaching READY")
					}
				}
				if ticks != want {
					t.Fatalf("invalid number of ticks to READY: got=%d, want=%d", ticks, want)
				}
				if m.State() != Ready {
					t.Fatalf("invalid state: %v", m.State())
				}

				// ready is held.
				for i := 0; i < 2000; i++ {
					m, out = m.Next(in)
					if !out.Ready || !m.Ready() {
						t.Fatalf("ready dropped at tick %d", i)
					}
				}
				if got := m.Restarts(); got != 0 {
					t.Fatalf("unexpected restarts: %d", got)
				}

				// reset from READY: back to IDLE, ready low on the same tick.
				in.Reset = true
				m, out = m.Next(in)
				if out.Ready {
					t.Fatalf("ready still asserted on reset tick")
				}
				if m.State() != Idle {
					t.Fatalf("invalid state after reset: %v", m.State())
				}
				if !out.Control.DeviceReset {
					t.Fatalf("device reset not asserted on reset tick")
				}
			})
		}
	}
}

func TestMachineStatusHeldLow(t *testing.T) {
	const timeout = 50
	m, err := NewTx(fastProfile(FamilyK, 2, timeout))
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}

	var in Inputs
	for cycle := 1; cycle <= 5; cycle++ {
		for i := 1; i <= timeout; i++ {
			var out Outputs
			m, out = m.Next(in)
			if out.Ready || m.Ready() {
				t.Fatalf("cycle=%d tick=%d: ready asserted", cycle, i)
			}
			if out.Restart != (i == timeout) {
				t.Fatalf("cycle=%d tick=%d: invalid restart flag %v", cycle, i, out.Restart)
			}
			if i < timeout && m.State() != WaitPLLLock && i > 3 {
				t.Fatalf("cycle=%d tick=%d: invalid state %v", cycle, i, m.State())
			}
		}
		if m.State() != Idle {
			t.Fatalf("cycle=%d: machine not restarted: %v", cycle, m.State())
		}
		if got, want := m.Restarts(), uint64(cycle); got != want {
			t.Fatalf("invalid restarts: got=%d, want=%d", got, want)
		}
	}
}

func TestMachineNoTimeout(t *testing.T) {
	m, err := NewTx(fastProfile(FamilyK, 2, 0))
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}
	for i := 0; i < 10000; i++ {
		m, _ = m.Next(Inputs{})
	}
	if m.State() != WaitPLLLock || m.Restarts() != 0 {
		t.Fatalf("invalid machine: %v restarts=%d", m, m.Restarts())
	}
}

func TestMachineStaleStatus(t *testing.T) {
	m, err := NewTx(fastProfile(FamilyK, 2, 0))
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}

	// every status is high from the start: no fresh completion is ever
	// observed and the machine must stay in its first wait state.
	in := Inputs{Status: Status{
		PLLLock:        true,
		ClockStable:    true,
		ResetDone:      true,
		DelayAlignDone: true,
		PhaseAlignDone: true,
		CDRStable:      true,
	}}
	for i := 0; i < 100; i++ {
		m, _ = m.Next(in)
	}
	if got, want := m.State(), WaitPLLLock; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	// the PLL loses and regains its lock: that is a genuine edge.
	in.Status.PLLLock = false
	m, _ = m.Next(in)
	in.Status.PLLLock = true
	m, _ = m.Next(in)
	if got, want := m.State(), WaitClockStable; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	// clock_stable is still stale-high.
	for i := 0; i < 10; i++ {
		m, _ = m.Next(in)
	}
	if got, want := m.State(), WaitClockStable; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestMachineResetStaleGuard(t *testing.T) {
	m, err := NewTx(fastProfile(FamilyK, 2, 0))
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}

	// the status rises while the machine is reset.
	var in Inputs
	m, _ = m.Next(in)
	in.Reset = true
	in.Status.PLLLock = true
	m, _ = m.Next(in)
	in.Reset = false
	for i := 0; i < 10; i++ {
		m, _ = m.Next(in)
	}
	if got, want := m.State(), WaitPLLLock; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestMachinePhaseAlignEdges(t *testing.T) {
	for _, edges := range []int{1, 2, 3} {
		m, err := NewTx(fastProfile(FamilyK, edges, 0))
		if err != nil {
			t.Fatalf("could not create machine: %+v", err)
		}

		var in Inputs
		for m.State() != PhaseAlign {
			if sig, ok := waitedSignal(m); ok {
				set(&in.Status, sig, true)
			}
			m, _ = m.Next(in)
		}

		// a high level is not a new edge.
		for n := 0; n < edges; n++ {
			if m.Ready() {
				t.Fatalf("edges=%d: ready after %d edges", edges, n)
			}
			in.Status.PhaseAlignDone = true
			m, _ = m.Next(in)
			m, _ = m.Next(in)
			if got, want := m.Edges(), uint64(n+1); !m.Ready() && got != want {
				t.Fatalf("edges=%d: invalid edge count: got=%d, want=%d", edges, got, want)
			}
			in.Status.PhaseAlignDone = false
			m, _ = m.Next(in)
		}
		if !m.Ready() {
			t.Fatalf("edges=%d: not ready: %v", edges, m)
		}
	}
}

func TestMachineOutputs(t *testing.T) {
	p := fastProfile(FamilyK, 2, 0)
	p.StartupHold = 3
	p.PLLResetHold = 4
	m, err := NewTx(p)
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}

	var (
		in  Inputs
		out Outputs
	)
	for i := 0; i < 3; i++ {
		m, out = m.Next(in)
		if out.State != Idle || !out.Control.DeviceReset || out.Control.PLLReset {
			t.Fatalf("tick=%d: invalid outputs: %+v", i, out)
		}
	}
	// minimum PLL reset hold.
	for i := 0; i < 4; i++ {
		m, out = m.Next(in)
		if out.State != PLLReset || !out.Control.PLLReset || !out.Control.DeviceReset {
			t.Fatalf("tick=%d: invalid outputs: %+v", i, out)
		}
	}
	m, out = m.Next(in)
	if out.State != DeviceReset || out.Control.PLLReset || !out.Control.DeviceReset {
		t.Fatalf("invalid outputs: %+v", out)
	}

	// device reset is held through the lock waits.
	for _, sig := range []Signal{PLLLock, ClockStable} {
		set(&in.Status, sig, true)
		m, out = m.Next(in)
		if !out.Control.DeviceReset || out.Control.UserReady {
			t.Fatalf("%v: invalid outputs: %+v", sig, out)
		}
	}

	if got, want := m.State(), WaitDeviceResetDone; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if out := m.Outputs(); out.Control.DeviceReset || !out.Control.UserReady {
		t.Fatalf("invalid outputs: %+v", out)
	}
	set(&in.Status, ResetDone, true)
	m, _ = m.Next(in)

	m, out = m.Next(in)
	if out.State != DelayAlign || !out.Control.DelayAlignRequest {
		t.Fatalf("invalid outputs: %+v", out)
	}
	if got, want := m.State(), WaitDelayAlignDone; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if m.Outputs().Control.DelayAlignRequest {
		t.Fatalf("delay align request should be a single tick pulse")
	}
}

func TestMachineCDRStable(t *testing.T) {
	p := fastProfile(FamilyK, 1, 0)
	p.CDRStableHold = 8
	m, err := NewRx(p)
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}

	in := Inputs{PeerReady: true}
	for m.State() != WaitCDRStable {
		if sig, ok := waitedSignal(m); ok {
			set(&in.Status, sig, true)
		}
		m, _ = m.Next(in)
	}

	// a glitch re-arms the stability timer.
	in.Status.CDRStable = true
	for i := 0; i < 7; i++ {
		m, _ = m.Next(in)
	}
	in.Status.CDRStable = false
	m, _ = m.Next(in)
	in.Status.CDRStable = true
	for i := 0; i < 7; i++ {
		m, _ = m.Next(in)
		if m.State() != WaitCDRStable {
			t.Fatalf("tick=%d: left CDR wait too early", i)
		}
	}
	m, _ = m.Next(in)
	if got, want := m.State(), DelayAlign; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestMachineRxWaitsPeer(t *testing.T) {
	m, err := NewRx(fastProfile(FamilyA, 1, 0))
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}
	var in Inputs
	for i := 0; i < 100; i++ {
		var out Outputs
		m, out = m.Next(in)
		if !out.Control.DeviceReset {
			t.Fatalf("rx reset not held while waiting for tx")
		}
	}
	if m.State() != Idle {
		t.Fatalf("rx left IDLE without peer: %v", m.State())
	}
	in.PeerReady = true
	m, _ = m.Next(in)
	if got, want := m.State(), DeviceReset; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestMachineString(t *testing.T) {
	m, err := NewTx(fastProfile(FamilyK, 2, 0))
	if err != nil {
		t.Fatalf("could not create machine: %+v", err)
	}
	if got, want := m.String(), "tx[IDLE]"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}

	var in Inputs
	for m.State() != PhaseAlign {
		if sig, ok := waitedSignal(m); ok {
			set(&in.Status, sig, true)
		}
		m, _ = m.Next(in)
	}
	if got, want := m.String(), "tx[PHASE_ALIGN 0/2]"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
	if got, want := State(42).String(), "State(42)"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

func TestInvalidMachine(t *testing.T) {
	p := fastProfile(FamilyK, 2, 0)
	p.DataWidth = 8
	if _, err := NewTx(p); err == nil {
		t.Fatalf("expected an error")
	}
	if _, err := NewRx(p); err == nil {
		t.Fatalf("expected an error")
	}
}
