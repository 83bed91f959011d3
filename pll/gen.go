// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pll

import (
	"fmt"
	"strings"
)

// Generation is a SATA link generation.
type Generation int

const (
	Gen1 Generation = iota + 1 // 1.5 Gbps
	Gen2                       // 3.0 Gbps
	Gen3                       // 6.0 Gbps
)

// RefClk is the reference clock frequency used by all generations.
const RefClk = 150e6

var lineRates = map[Generation]float64{
	Gen1: 1.5e9,
	Gen2: 3.0e9,
	Gen3: 6.0e9,
}

// LineRate returns the line rate of the given generation, in bps.
func LineRate(gen Generation) (float64, error) {
	v, ok := lineRates[gen]
	if !ok {
		return 0, fmt.Errorf("pll: invalid generation %d", int(gen))
	}
	return v, nil
}

// ParseGeneration parses "gen1", "sata_gen2", "3", ...
func ParseGeneration(s string) (Generation, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "sata_")
	v = strings.TrimPrefix(v, "gen")
	switch v {
	case "1":
		return Gen1, nil
	case "2":
		return Gen2, nil
	case "3":
		return Gen3, nil
	}
	return 0, fmt.Errorf("pll: invalid generation %q", s)
}

func (gen Generation) String() string {
	switch gen {
	case Gen1, Gen2, Gen3:
		return fmt.Sprintf("sata_gen%d", int(gen))
	}
	return fmt.Sprintf("Generation(%d)", int(gen))
}
