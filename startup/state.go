// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startup

import "fmt"

// State is a state of a link startup machine.
type State int

const (
	Idle State = iota
	PLLReset
	DeviceReset
	WaitPLLLock
	WaitClockStable
	WaitDeviceResetDone
	WaitCDRStable
	DelayAlign
	WaitDelayAlignDone
	PhaseAlign
	Ready
)

var stateNames = [...]string{
	Idle:                "IDLE",
	PLLReset:            "PLL_RESET",
	DeviceReset:         "DEVICE_RESET",
	WaitPLLLock:         "WAIT_PLL_LOCK",
	WaitClockStable:     "WAIT_CLOCK_STABLE",
	WaitDeviceResetDone: "WAIT_DEVICE_RESET_DONE",
	WaitCDRStable:       "WAIT_CDR_STABLE",
	DelayAlign:          "DELAY_ALIGN",
	WaitDelayAlignDone:  "WAIT_DELAY_ALIGN_DONE",
	PhaseAlign:          "PHASE_ALIGN",
	Ready:               "READY",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
