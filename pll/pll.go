// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pll computes phase-locked loop divider settings for a
// serial transceiver quad PLL.
//
// The PLL multiplies a reference clock into a VCO frequency:
//
//	VCO      = REFCLK x (N1 x N2) / M
//	LINERATE = VCO x 2 / D
//
// and the VCO must stay within [1.6, 3.3] GHz.
package pll // import "github.com/go-lpc/linkup/pll"

import (
	"errors"
	"fmt"
)

const (
	VCOMin = 1.6e9 // Hz
	VCOMax = 3.3e9 // Hz
)

// Divider ranges, in search order.
var (
	n1s = []int{4, 5}
	n2s = []int{1, 2, 3, 4, 5}
	ms  = []int{1, 2}
	ds  = []int{1, 2, 4, 8, 16}
)

// ErrNoConfig is returned (wrapped in a *NoConfigError) when no
// divider combination yields the requested line rate.
var ErrNoConfig = errors.New("pll: no config found")

// NoConfigError describes a reference clock / line rate pair that
// can not be synthesized.
type NoConfigError struct {
	RefClk   float64 // Hz
	LineRate float64 // bps
}

func (e *NoConfigError) Error() string {
	return fmt.Sprintf(
		"pll: no config found for %3.2f MHz refclk / %3.2f Gbps linerate",
		e.RefClk/1e6, e.LineRate/1e9,
	)
}

func (e *NoConfigError) Is(target error) bool { return target == ErrNoConfig }

// Config is a solved PLL configuration.
type Config struct {
	N1 int // feedback divider (4 or 5)
	N2 int // feedback divider (1 to 5)
	M  int // reference clock divider
	D  int // output divider

	RefClk   float64 // Hz
	VCO      float64 // Hz
	LineRate float64 // bps
}

// Solve returns the first divider combination, in (N1, N2, M, D)
// lexicographic order, such that the VCO frequency is within
// [VCOMin, VCOMax] and VCO*2/D equals linerate exactly.
func Solve(refclk, linerate float64) (Config, error) {
	for _, n1 := range n1s {
		for _, n2 := range n2s {
			for _, m := range ms {
				vco := refclk * float64(n1*n2) / float64(m)
				if vco < VCOMin || VCOMax < vco {
					continue
				}
				for _, d := range ds {
					if vco*2/float64(d) != linerate {
						continue
					}
					return Config{
						N1:       n1,
						N2:       n2,
						M:        m,
						D:        d,
						RefClk:   refclk,
						VCO:      vco,
						LineRate: linerate,
					}, nil
				}
			}
		}
	}
	return Config{}, &NoConfigError{RefClk: refclk, LineRate: linerate}
}

// Valid reports whether cfg satisfies the PLL constraints.
func (cfg Config) Valid() bool {
	if cfg.M == 0 || cfg.D == 0 {
		return false
	}
	vco := cfg.RefClk * float64(cfg.N1*cfg.N2) / float64(cfg.M)
	switch {
	case vco != cfg.VCO:
		return false
	case vco < VCOMin || VCOMax < vco:
		return false
	case vco*2/float64(cfg.D) != cfg.LineRate:
		return false
	}
	return true
}

func (cfg Config) String() string {
	return fmt.Sprintf(`
QuadPLL
==============
  overview:
  ---------
       +--------------------------------------------------+
       |                                                  |
       |   +-----+  +---------------------------+ +-----+ |
       |   |     |  | Phase Frequency Detector  | |     | |
CLKIN +----> /M  +-->       Charge Pump         +-> VCO +---> CLKOUT
       |   |     |  |       Loop Filter         | |     | |
       |   +-----+  +---------------------------+ +--+--+ |
       |              ^                              |    |
       |              |    +-------+    +-------+    |    |
       |              +----+  /N2  <----+  /N1  <----+    |
       |                   +-------+    +-------+         |
       +--------------------------------------------------+
                            +-------+
                   CLKOUT +->  2/D  +-> LINERATE
                            +-------+
  config:
  -------
    CLKIN    = %gMHz
    CLKOUT   = CLKIN x (N1 x N2) / M = %gMHz x (%d x %d) / %d
             = %gGHz
    LINERATE = CLKOUT x 2 / D = %gGHz x 2 / %d
             = %gGHz
`,
		cfg.RefClk/1e6,
		cfg.RefClk/1e6, cfg.N1, cfg.N2, cfg.M,
		cfg.VCO/1e9,
		cfg.VCO/1e9, cfg.D,
		cfg.LineRate/1e9,
	)
}
