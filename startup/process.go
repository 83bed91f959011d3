// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package startup

import "github.com/go-lpc/linkup/cdc"

// Process runs a Machine as the logic of a timing domain.
//
// At each tick, inputs are sampled during the evaluation phase and the
// machine and its outputs are updated during the commit phase.
type Process struct {
	m   Machine
	out Outputs

	next Machine
	nout Outputs

	inputs func() Inputs

	// OnTransition, if set, is called during commit when the machine
	// changes state.
	OnTransition func(m Machine, from, to State)
}

// NewProcess creates a process running m with inputs sampled from the
// provided function.
func NewProcess(m Machine, inputs func() Inputs) *Process {
	return &Process{
		m:      m,
		out:    m.Outputs(),
		inputs: inputs,
	}
}

// Machine returns the committed machine.
func (p *Process) Machine() Machine { return p.m }

// Outputs returns the outputs committed during the last tick.
func (p *Process) Outputs() Outputs { return p.out }

func (p *Process) Eval() {
	p.next, p.nout = p.m.Next(p.inputs())
}

func (p *Process) Commit() {
	var (
		from = p.m.State()
		to   = p.next.State()
	)
	p.m = p.next
	p.out = p.nout
	if from != to && p.OnTransition != nil {
		p.OnTransition(p.m, from, to)
	}
}

var (
	_ cdc.Process = (*Process)(nil)
)
