// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startup

import (
	"fmt"
	"math"
	"strings"
)

// Family is a transceiver device family.
// Families only differ by the constants and by which startup steps are
// combined: they all share the same machine.
type Family int

const (
	FamilyA Family = iota + 1 // GTP-class devices
	FamilyK                   // GTX-class devices
)

func (f Family) String() string {
	switch f {
	case FamilyA:
		return "A"
	case FamilyK:
		return "K"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// ParseFamily parses a family name ("A", "a7", "K", "k7", ...).
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "a7":
		return FamilyA, nil
	case "k", "k7":
		return FamilyK, nil
	}
	return 0, fmt.Errorf("startup: invalid device family %q", s)
}

const (
	resetHoldTime    = 500e-9 // seconds
	readyTimeoutTime = 2e-3   // seconds
	cdrStableTicks   = 1024   // ticks of a 16-bit user clock
)

// Profile holds the constants driving a pair of startup machines.
// All durations are expressed in ticks of the domain running the
// machine.
type Profile struct {
	Family    Family
	DataWidth int // 16 or 32

	StartupHold     uint64 // ticks spent in IDLE before resetting the PLL
	PLLResetHold    uint64 // minimum PLL reset assertion
	DeviceResetHold uint64 // minimum device reset assertion, after PLL reset release

	ClockStable     bool // wait for the user clock to be stable after PLL lock
	DelayAlignPulse bool // request delay alignment with a one-tick pulse, then wait

	TxPhaseAlignEdges int // rising edges of phase_align_done required by TX
	RxPhaseAlignEdges int // rising edges of phase_align_done required by RX

	CDRStableHold uint64 // ticks cdr_stable must stay high
	ReadyTimeout  uint64 // liveness deadline; 0 disables it
}

// UserClock returns the frequency of the parallel user clock for the
// given line rate (bps) and data width (bits), with 8b/10b encoding.
func UserClock(linerate float64, dataWidth int) float64 {
	return linerate / (float64(dataWidth) * 10 / 8)
}

// NewProfile returns the profile of the given family and data width,
// for machines clocked at clk Hz.
func NewProfile(family Family, dataWidth int, clk float64) (Profile, error) {
	if dataWidth != 16 && dataWidth != 32 {
		return Profile{}, fmt.Errorf("startup: invalid data width %d", dataWidth)
	}
	if clk <= 0 {
		return Profile{}, fmt.Errorf("startup: invalid clock frequency %v", clk)
	}

	var (
		resetHold = uint64(math.Ceil(resetHoldTime * clk))
		timeout   = uint64(readyTimeoutTime * clk)
		cdrHold   = uint64(cdrStableTicks * 16 / dataWidth)
	)

	switch family {
	case FamilyA:
		return Profile{
			Family:            family,
			DataWidth:         dataWidth,
			StartupHold:       0,
			PLLResetHold:      resetHold,
			DeviceResetHold:   1,
			ClockStable:       true,
			DelayAlignPulse:   false,
			TxPhaseAlignEdges: 1,
			RxPhaseAlignEdges: 1,
			CDRStableHold:     cdrHold,
			ReadyTimeout:      timeout,
		}, nil
	case FamilyK:
		return Profile{
			Family:            family,
			DataWidth:         dataWidth,
			StartupHold:       resetHold,
			PLLResetHold:      1,
			DeviceResetHold:   1,
			ClockStable:       true,
			DelayAlignPulse:   true,
			TxPhaseAlignEdges: 2,
			RxPhaseAlignEdges: 2,
			CDRStableHold:     cdrHold,
			ReadyTimeout:      timeout,
		}, nil
	}
	return Profile{}, fmt.Errorf("startup: invalid device family %v", family)
}

// Validate checks the consistency of the profile.
func (p Profile) Validate() error {
	switch {
	case p.Family != FamilyA && p.Family != FamilyK:
		return fmt.Errorf("startup: invalid device family %v", p.Family)
	case p.DataWidth != 16 && p.DataWidth != 32:
		return fmt.Errorf("startup: invalid data width %d", p.DataWidth)
	case p.TxPhaseAlignEdges < 0 || p.RxPhaseAlignEdges < 0:
		return fmt.Errorf("startup: invalid number of phase alignment edges (tx=%d, rx=%d)",
			p.TxPhaseAlignEdges, p.RxPhaseAlignEdges,
		)
	}
	return nil
}

// wait describes how a step is left.
type wait int

const (
	waitHold   wait = iota // after the hold timer expired
	waitLevel              // when the signal is high
	waitRising             // after n rising edges of the signal
	waitStable             // after the signal stayed high for n ticks
	waitLoop               // never: terminal state
)

type step struct {
	state State
	ctl   Control
	wait  wait
	sig   Signal
	n     uint64
}

func (p Profile) txSteps() []step {
	var (
		reset = Control{DeviceReset: true}
		user  = Control{UserReady: true}
	)
	steps := []step{
		{state: Idle, ctl: reset, wait: waitHold, n: p.StartupHold},
		{state: PLLReset, ctl: Control{PLLReset: true, DeviceReset: true}, wait: waitHold, n: p.PLLResetHold},
		{state: DeviceReset, ctl: reset, wait: waitHold, n: p.DeviceResetHold},
		{state: WaitPLLLock, ctl: reset, wait: waitRising, sig: PLLLock, n: 1},
	}
	if p.ClockStable {
		steps = append(steps, step{state: WaitClockStable, ctl: reset, wait: waitRising, sig: ClockStable, n: 1})
	}
	steps = append(steps, step{state: WaitDeviceResetDone, ctl: user, wait: waitRising, sig: ResetDone, n: 1})
	steps = p.appendAlign(steps, p.TxPhaseAlignEdges)
	return append(steps, step{state: Ready, ctl: user, wait: waitLoop})
}

func (p Profile) rxSteps() []step {
	var (
		reset = Control{DeviceReset: true}
		user  = Control{UserReady: true}
	)
	steps := []step{
		{state: Idle, ctl: reset, wait: waitLevel, sig: PeerReady},
		{state: DeviceReset, ctl: reset, wait: waitHold, n: p.DeviceResetHold},
		{state: WaitDeviceResetDone, ctl: user, wait: waitRising, sig: ResetDone, n: 1},
		{state: WaitCDRStable, ctl: user, wait: waitStable, sig: CDRStable, n: p.CDRStableHold},
	}
	steps = p.appendAlign(steps, p.RxPhaseAlignEdges)
	return append(steps, step{state: Ready, ctl: user, wait: waitLoop})
}

func (p Profile) appendAlign(steps []step, edges int) []step {
	user := Control{UserReady: true}
	if p.DelayAlignPulse {
		steps = append(steps,
			step{state: DelayAlign, ctl: Control{UserReady: true, DelayAlignRequest: true}, wait: waitHold, n: 1},
			step{state: WaitDelayAlignDone, ctl: user, wait: waitRising, sig: DelayAlignDone, n: 1},
		)
	} else {
		steps = append(steps,
			step{state: WaitDelayAlignDone, ctl: Control{UserReady: true, DelayAlignRequest: true}, wait: waitRising, sig: DelayAlignDone, n: 1},
		)
	}
	if edges > 0 {
		steps = append(steps, step{
			state: PhaseAlign,
			ctl:   Control{UserReady: true, PhaseAlignRequest: true},
			wait:  waitRising,
			sig:   PhaseAlignDone,
			n:     uint64(edges),
		})
	}
	return steps
}
