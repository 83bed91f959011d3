// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cdc

import (
	"fmt"
	"sync/atomic"
)

// Pulse carries single-tick events from a source domain to a
// destination domain.
//
// Each accepted Notify flips a request toggle in the source domain.
// The toggle is synchronized into the destination domain where a change
// produces exactly one tick during which Consume returns true.
// The destination then returns the toggle as an acknowledge, synchronized
// back into the source domain.
//
// Until that acknowledge is observed the synchronizer is busy: a Notify
// issued while busy is dropped (Notify returns false and Dropped is
// incremented). Two notifications closer than the re-arm interval
// (Stages()+1 destination ticks plus Stages() source ticks) therefore
// produce a single destination pulse. This is a property of the
// hardware handshake, not an error.
type Pulse struct {
	name string

	req     atomic.Bool   // source -> destination toggle
	ack     atomic.Bool   // destination -> source toggle
	dropped atomic.Uint64 // number of dropped notifications

	src struct {
		toggle bool
		busy   bool
		regs   []bool
		next   []bool
	}

	dst struct {
		regs []bool
		next []bool
		last bool
		out  bool
		nout bool
	}
}

// NewPulse creates a pulse synchronizer from src to dst and registers
// its source and destination logic with both domains.
func NewPulse(name string, src, dst *Domain, stages int) (*Pulse, error) {
	err := checkDomains(src, dst, stages)
	if err != nil {
		return nil, fmt.Errorf("cdc: could not create pulse synchronizer %q: %w", name, err)
	}

	p := &Pulse{name: name}
	p.src.regs = make([]bool, stages)
	p.src.next = make([]bool, stages)
	p.dst.regs = make([]bool, stages)
	p.dst.next = make([]bool, stages)

	src.Register(Func{EvalFn: p.srcEval, CommitFn: p.srcCommit})
	dst.Register(Func{EvalFn: p.dstEval, CommitFn: p.dstCommit})
	return p, nil
}

func (p *Pulse) Name() string { return p.name }

// Stages returns the number of registers of each synchronization chain.
func (p *Pulse) Stages() int { return len(p.dst.regs) }

// Notify emits a pulse. It must be called from the source domain.
// Notify returns false if the pulse was dropped because the previous
// one has not been acknowledged yet.
func (p *Pulse) Notify() bool {
	if p.src.busy {
		p.dropped.Add(1)
		return false
	}
	p.src.toggle = !p.src.toggle
	p.src.busy = true
	p.req.Store(p.src.toggle)
	return true
}

// Busy reports whether a pulse is in flight. It must be called from the
// source domain.
func (p *Pulse) Busy() bool { return p.src.busy }

// Consume reports whether a pulse arrived during the current
// destination tick. It must be called from the destination domain.
func (p *Pulse) Consume() bool { return p.dst.out }

// Dropped returns the number of notifications lost because the
// synchronizer was busy. It is safe to call from any goroutine.
func (p *Pulse) Dropped() uint64 { return p.dropped.Load() }

func (p *Pulse) srcEval() {
	p.src.next[0] = p.ack.Load()
	copy(p.src.next[1:], p.src.regs[:len(p.src.regs)-1])
}

func (p *Pulse) srcCommit() {
	copy(p.src.regs, p.src.next)
	if p.src.busy && p.src.regs[len(p.src.regs)-1] == p.src.toggle {
		p.src.busy = false
	}
}

func (p *Pulse) dstEval() {
	p.dst.next[0] = p.req.Load()
	copy(p.dst.next[1:], p.dst.regs[:len(p.dst.regs)-1])
	p.dst.nout = p.dst.regs[len(p.dst.regs)-1] != p.dst.last
}

func (p *Pulse) dstCommit() {
	p.dst.last = p.dst.regs[len(p.dst.regs)-1]
	copy(p.dst.regs, p.dst.next)
	p.dst.out = p.dst.nout
	p.ack.Store(p.dst.last)
}
