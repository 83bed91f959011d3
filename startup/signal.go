// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startup

import (
	"fmt"
	"strings"
)

// Signal identifies an input of a startup machine.
type Signal int

const (
	PLLLock Signal = iota
	ClockStable
	ResetDone
	DelayAlignDone
	PhaseAlignDone
	CDRStable
	PeerReady // transmitter ready, as seen by the receiver
	nSignals
)

var signalNames = [...]string{
	PLLLock:        "pll_lock",
	ClockStable:    "clock_stable",
	ResetDone:      "reset_done",
	DelayAlignDone: "delay_align_done",
	PhaseAlignDone: "phase_align_done",
	CDRStable:      "cdr_stable",
	PeerReady:      "peer_ready",
}

func (sig Signal) String() string {
	if sig < 0 || sig >= nSignals {
		return fmt.Sprintf("Signal(%d)", int(sig))
	}
	return signalNames[sig]
}

// ParseSignal parses a status signal name ("pll_lock", "cdr_stable", ...).
func ParseSignal(name string) (Signal, error) {
	v := strings.ToLower(strings.TrimSpace(name))
	for i, n := range signalNames {
		if n == v {
			return Signal(i), nil
		}
	}
	return 0, fmt.Errorf("startup: invalid signal %q", name)
}

// Status holds the status signals reported by one channel of the
// transceiver device.
type Status struct {
	PLLLock        bool
	ClockStable    bool // user clock (MMCM) locked
	ResetDone      bool
	DelayAlignDone bool
	PhaseAlignDone bool
	CDRStable      bool
}

func (st Status) String() string {
	o := new(strings.Builder)
	o.WriteString("{")
	for i, v := range []bool{
		st.PLLLock, st.ClockStable, st.ResetDone,
		st.DelayAlignDone, st.PhaseAlignDone, st.CDRStable,
	} {
		if i > 0 {
			o.WriteString(" ")
		}
		fmt.Fprintf(o, "%s=%d", Signal(i), b2i(v))
	}
	o.WriteString("}")
	return o.String()
}

// Control holds the control signals driven into one channel of the
// transceiver device.
type Control struct {
	PLLReset          bool
	DeviceReset       bool
	DelayAlignRequest bool
	PhaseAlignRequest bool
	UserReady         bool // permission for the device to report *_done
}

func (ctl Control) String() string {
	return fmt.Sprintf(
		"{pll_reset=%d device_reset=%d delay_align_request=%d phase_align_request=%d user_ready=%d}",
		b2i(ctl.PLLReset), b2i(ctl.DeviceReset),
		b2i(ctl.DelayAlignRequest), b2i(ctl.PhaseAlignRequest),
		b2i(ctl.UserReady),
	)
}

// Inputs are the inputs of a startup machine for one tick.
type Inputs struct {
	Reset     bool // reset request
	PeerReady bool // ignored by the transmitter
	Status    Status
}

func (in Inputs) signals() [nSignals]bool {
	var sigs [nSignals]bool
	sigs[PLLLock] = in.Status.PLLLock
	sigs[ClockStable] = in.Status.ClockStable
	sigs[ResetDone] = in.Status.ResetDone
	sigs[DelayAlignDone] = in.Status.DelayAlignDone
	sigs[PhaseAlignDone] = in.Status.PhaseAlignDone
	sigs[CDRStable] = in.Status.CDRStable
	sigs[PeerReady] = in.PeerReady
	return sigs
}

// Outputs are the outputs of a startup machine for one tick.
type Outputs struct {
	State   State
	Control Control
	Ready   bool
	Restart bool // the liveness deadline expired during this tick
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}
