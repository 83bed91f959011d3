// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cdc models independently clocked timing domains and the
// synchronizers used to move signals between them.
//
// A Domain advances in discrete ticks. Each tick evaluates every
// registered Process in two phases: all processes first compute their
// next values from the committed state (Eval), then all of them publish
// (Commit). A value updated during a tick is thus never observed by
// another process of the same domain before the next tick.
//
// Domains never share mutable state: the only values crossing a domain
// boundary are the source-side registers of a Level or Pulse
// synchronizer, which are atomics written by exactly one domain and read
// by exactly one other domain.
package cdc // import "github.com/go-lpc/linkup/cdc"

import (
	"fmt"
	"time"
)

// Process is domain-local logic, evaluated once per domain tick.
type Process interface {
	// Eval computes the next state from the committed state and inputs.
	Eval()
	// Commit publishes the state computed by Eval.
	Commit()
}

// Domain is an independently progressing sequence of ticks.
//
// Domain is not safe for concurrent use: Tick must only be called from
// the goroutine that owns the domain.
type Domain struct {
	name  string
	freq  float64 // Hz
	procs []Process
	ticks uint64
}

// NewDomain creates a new timing domain clocked at freq Hz.
func NewDomain(name string, freq float64) *Domain {
	return &Domain{name: name, freq: freq}
}

func (dom *Domain) Name() string       { return dom.name }
func (dom *Domain) Freq() float64      { return dom.freq }
func (dom *Domain) Ticks() uint64      { return dom.ticks }
func (dom *Domain) String() string     { return fmt.Sprintf("%s@%gMHz", dom.name, dom.freq/1e6) }
func (dom *Domain) Len() int           { return len(dom.procs) }
func (dom *Domain) Register(p Process) { dom.procs = append(dom.procs, p) }

// Period returns the tick period of the domain.
func (dom *Domain) Period() time.Duration {
	if dom.freq <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / dom.freq)
}

// Tick advances the domain by exactly one step, evaluating every
// registered process exactly once.
func (dom *Domain) Tick() {
	for _, p := range dom.procs {
		p.Eval()
	}
	for _, p := range dom.procs {
		p.Commit()
	}
	dom.ticks++
}

// Func adapts a pair of functions to the Process interface.
// A nil function is a no-op.
type Func struct {
	EvalFn   func()
	CommitFn func()
}

func (f Func) Eval() {
	if f.EvalFn != nil {
		f.EvalFn()
	}
}

func (f Func) Commit() {
	if f.CommitFn != nil {
		f.CommitFn()
	}
}

var (
	_ Process = (*Func)(nil)
)
