// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cdc

import (
	"fmt"
	"sync/atomic"
)

// MinStages is the minimum number of destination registers of a
// synchronizer.
const MinStages = 2

// Level carries a persistent boolean from a source domain to a
// destination domain through a chain of destination registers.
//
// A value written in the source domain is observed by Read after
// exactly Stages() destination ticks.
type Level struct {
	name string
	src  atomic.Bool // written by the source domain only

	regs []bool // destination domain only
	next []bool
}

// NewLevel creates a level synchronizer from src to dst and registers
// its destination registers with dst.
func NewLevel(name string, src, dst *Domain, stages int) (*Level, error) {
	err := checkDomains(src, dst, stages)
	if err != nil {
		return nil, fmt.Errorf("cdc: could not create level synchronizer %q: %w", name, err)
	}
	lvl := &Level{
		name: name,
		regs: make([]bool, stages),
		next: make([]bool, stages),
	}
	dst.Register(lvl)
	return lvl, nil
}

// Write sets the source value. It must be called from the source domain.
func (lvl *Level) Write(v bool) { lvl.src.Store(v) }

// Read returns the synchronized value. It must be called from the
// destination domain.
func (lvl *Level) Read() bool { return lvl.regs[len(lvl.regs)-1] }

// Stages returns the latency of the synchronizer, in destination ticks.
func (lvl *Level) Stages() int { return len(lvl.regs) }

func (lvl *Level) Name() string { return lvl.name }

func (lvl *Level) Eval() {
	lvl.next[0] = lvl.src.Load()
	copy(lvl.next[1:], lvl.regs[:len(lvl.regs)-1])
}

func (lvl *Level) Commit() {
	copy(lvl.regs, lvl.next)
}

func checkDomains(src, dst *Domain, stages int) error {
	switch {
	case src == nil || dst == nil:
		return fmt.Errorf("nil domain")
	case src == dst:
		return fmt.Errorf("source and destination are the same domain %q", src.Name())
	case stages < MinStages:
		return fmt.Errorf("invalid number of stages (%d < %d)", stages, MinStages)
	}
	return nil
}

var (
	_ Process = (*Level)(nil)
)
