// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package link composes the transmitter and receiver startup machines of
// a serial link into a link controller.
//
// A controller owns three timing domains:
//   - sys, where the controller logic runs and where the link readiness
//     is observed,
//   - tx, the transmit user clock, running the transmitter machine and
//     the transmit channel of the device,
//   - rx, the recovered receive clock, running the receiver machine and
//     the receive channel of the device.
//
// The machines never reference each other: tx_ready crosses into the rx
// and sys domains through level synchronizers, rx_ready into the sys
// domain, and reset requests cross from sys into tx and rx through pulse
// synchronizers.
package link // import "github.com/go-lpc/linkup/link"

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/go-lpc/linkup/cdc"
	"github.com/go-lpc/linkup/config"
	"github.com/go-lpc/linkup/pll"
	"github.com/go-lpc/linkup/startup"
	"github.com/go-lpc/linkup/xcvr"
)

const (
	txReadyBit = 1 << iota
	rxReadyBit
)

const (
	resetTX = 1 << iota
	resetRX
)

// Controller is a serial link bring-up controller.
type Controller struct {
	cfg options
	pll pll.Config

	sys *cdc.Domain
	tx  *cdc.Domain
	rx  *cdc.Domain

	txProf startup.Profile
	rxProf startup.Profile

	txDev *xcvr.Channel
	rxDev *xcvr.Channel
	txFSM *startup.Process
	rxFSM *startup.Process

	txReadyRx  *cdc.Level // tx -> rx
	txReadySys *cdc.Level // tx -> sys
	rxReadySys *cdc.Level // rx -> sys
	txReset    *cdc.Pulse // sys -> tx
	rxReset    *cdc.Pulse // sys -> rx

	reqs atomic.Uint32 // pending reset requests, set from any goroutine

	sysNext uint32        // ready flags computed during the sys evaluation phase
	flags   atomic.Uint32 // ready flags published by the sys domain

	txState    atomic.Int32
	rxState    atomic.Int32
	txRestarts atomic.Uint64
	rxRestarts atomic.Uint64

	sched *Scheduler
}

// New creates a link controller for the provided reference clock
// frequency (Hz) and line rate (bps).
// New fails with an error matching pll.ErrNoConfig when no PLL
// configuration can produce the line rate.
func New(refclk, linerate float64, opts ...Option) (*Controller, error) {
	cfg := newOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	pcfg, err := pll.Solve(refclk, linerate)
	if err != nil {
		return nil, fmt.Errorf("link: could not solve PLL configuration: %w", err)
	}

	if cfg.sysclk <= 0 {
		return nil, fmt.Errorf("link: invalid system clock frequency %v", cfg.sysclk)
	}

	var (
		txclk = startup.UserClock(linerate, cfg.dataWidth)
		rxclk = txclk * (1 + cfg.rxppm*1e-6)
	)

	ctl := &Controller{
		cfg: cfg,
		pll: pcfg,
		sys: cdc.NewDomain("sys", cfg.sysclk),
		tx:  cdc.NewDomain("tx", txclk),
		rx:  cdc.NewDomain("rx", rxclk),
	}

	ctl.txProf, err = ctl.profile(txclk)
	if err != nil {
		return nil, fmt.Errorf("link: could not create tx profile: %w", err)
	}
	ctl.rxProf, err = ctl.profile(rxclk)
	if err != nil {
		return nil, fmt.Errorf("link: could not create rx profile: %w", err)
	}

	err = ctl.wire()
	if err != nil {
		return nil, err
	}

	ctl.sched = NewScheduler(ctl.sys, ctl.tx, ctl.rx)
	return ctl, nil
}

// NewFromConfig creates a link controller from a configuration.
// Options are applied after the configuration.
func NewFromConfig(cfg config.Config, opts ...Option) (*Controller, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("link: invalid configuration: %w", err)
	}

	opts = append([]Option{
		WithProfile(cfg.Family),
		WithDataWidth(cfg.DataWidth),
		WithSysClock(cfg.SysClock),
		WithStages(cfg.Stages),
		WithRxOffset(cfg.RxOffset),
		WithReadyTimeout(cfg.ReadyTimeout),
		WithDevice(cfg.Device),
	}, opts...)

	return New(cfg.RefClk, cfg.LineRate, opts...)
}

func (ctl *Controller) profile(clk float64) (startup.Profile, error) {
	p, err := startup.NewProfile(ctl.cfg.family, ctl.cfg.dataWidth, clk)
	if err != nil {
		return p, err
	}
	if ctl.cfg.timeout > 0 {
		// at least one tick: a zero deadline would disable liveness.
		p.ReadyTimeout = uint64(math.Ceil(ctl.cfg.timeout.Seconds() * clk))
	}
	return p, nil
}

func (ctl *Controller) wire() error {
	var (
		err    error
		stages = ctl.cfg.stages
	)

	ctl.txReadyRx, err = cdc.NewLevel("tx_ready", ctl.tx, ctl.rx, stages)
	if err != nil {
		return fmt.Errorf("link: could not create tx->rx synchronizer: %w", err)
	}
	ctl.txReadySys, err = cdc.NewLevel("tx_ready", ctl.tx, ctl.sys, stages)
	if err != nil {
		return fmt.Errorf("link: could not create tx->sys synchronizer: %w", err)
	}
	ctl.rxReadySys, err = cdc.NewLevel("rx_ready", ctl.rx, ctl.sys, stages)
	if err != nil {
		return fmt.Errorf("link: could not create rx->sys synchronizer: %w", err)
	}
	ctl.txReset, err = cdc.NewPulse("tx_reset", ctl.sys, ctl.tx, stages)
	if err != nil {
		return fmt.Errorf("link: could not create sys->tx synchronizer: %w", err)
	}
	ctl.rxReset, err = cdc.NewPulse("rx_reset", ctl.sys, ctl.rx, stages)
	if err != nil {
		return fmt.Errorf("link: could not create sys->rx synchronizer: %w", err)
	}

	txm, err := startup.NewTx(ctl.txProf)
	if err != nil {
		return fmt.Errorf("link: could not create tx machine: %w", err)
	}
	rxm, err := startup.NewRx(ctl.rxProf)
	if err != nil {
		return fmt.Errorf("link: could not create rx machine: %w", err)
	}

	ctl.txDev, err = xcvr.NewChannel("tx", ctl.cfg.device, func() startup.Control {
		return ctl.txFSM.Machine().Outputs().Control
	})
	if err != nil {
		return fmt.Errorf("link: could not create tx channel: %w", err)
	}
	ctl.rxDev, err = xcvr.NewChannel("rx", ctl.cfg.device, func() startup.Control {
		return ctl.rxFSM.Machine().Outputs().Control
	})
	if err != nil {
		return fmt.Errorf("link: could not create rx channel: %w", err)
	}

	ctl.txFSM = startup.NewProcess(txm, func() startup.Inputs {
		return startup.Inputs{
			Reset:  ctl.txReset.Consume(),
			Status: ctl.txDev.Status(),
		}
	})
	ctl.rxFSM = startup.NewProcess(rxm, func() startup.Inputs {
		return startup.Inputs{
			Reset:     ctl.rxReset.Consume(),
			PeerReady: ctl.txReadyRx.Read(),
			Status:    ctl.rxDev.Status(),
		}
	})
	if ctl.cfg.verbose {
		ctl.txFSM.OnTransition = ctl.logTransition
		ctl.rxFSM.OnTransition = ctl.logTransition
	}

	ctl.tx.Register(ctl.txDev)
	ctl.tx.Register(ctl.txFSM)
	ctl.tx.Register(cdc.Func{EvalFn: ctl.txPublish})

	ctl.rx.Register(ctl.rxDev)
	ctl.rx.Register(ctl.rxFSM)
	ctl.rx.Register(cdc.Func{EvalFn: ctl.rxPublish})

	ctl.sys.Register(cdc.Func{EvalFn: ctl.sysEval, CommitFn: ctl.sysCommit})

	return nil
}

func (ctl *Controller) logTransition(m startup.Machine, from, to startup.State) {
	ctl.cfg.msg.Printf("%s: %v -> %v", m.Name(), from, to)
}

// txPublish drives the tx side of the synchronizers from the committed
// outputs of the transmitter machine.
func (ctl *Controller) txPublish() {
	out := ctl.txFSM.Outputs()
	ctl.txReadyRx.Write(out.Ready)
	ctl.txReadySys.Write(out.Ready)
	ctl.txState.Store(int32(ctl.txFSM.Machine().State()))
	if out.Restart {
		n := ctl.txRestarts.Add(1)
		ctl.cfg.msg.Printf("tx: liveness timeout, restarting (restarts=%d)", n)
	}
}

func (ctl *Controller) rxPublish() {
	out := ctl.rxFSM.Outputs()
	ctl.rxReadySys.Write(out.Ready)
	ctl.rxState.Store(int32(ctl.rxFSM.Machine().State()))
	if out.Restart {
		n := ctl.rxRestarts.Add(1)
		ctl.cfg.msg.Printf("rx: liveness timeout, restarting (restarts=%d)", n)
	}
}

func (ctl *Controller) sysEval() {
	reqs := ctl.reqs.Swap(0)
	if reqs&resetTX != 0 && !ctl.txReset.Notify() && ctl.cfg.verbose {
		ctl.cfg.msg.Printf("tx: reset request dropped (in flight)")
	}
	if reqs&resetRX != 0 && !ctl.rxReset.Notify() && ctl.cfg.verbose {
		ctl.cfg.msg.Printf("rx: reset request dropped (in flight)")
	}

	var flags uint32
	if ctl.txReadySys.Read() {
		flags |= txReadyBit
	}
	if ctl.rxReadySys.Read() {
		flags |= rxReadyBit
	}
	ctl.sysNext = flags
}

func (ctl *Controller) sysCommit() {
	ctl.flags.Store(ctl.sysNext)
}

// PLL returns the PLL configuration of the link.
func (ctl *Controller) PLL() pll.Config { return ctl.pll }

// Profiles returns the profiles of the transmitter and receiver
// machines.
func (ctl *Controller) Profiles() (tx, rx startup.Profile) { return ctl.txProf, ctl.rxProf }

// Domains returns the timing domains of the controller.
func (ctl *Controller) Domains() (sys, tx, rx *cdc.Domain) { return ctl.sys, ctl.tx, ctl.rx }

// Ready reports whether both the transmitter and the receiver are ready,
// as observed during the same tick of the sys domain.
func (ctl *Controller) Ready() bool {
	return ctl.flags.Load() == txReadyBit|rxReadyBit
}

// TxReady reports whether the transmitter is ready, as observed from the
// sys domain.
func (ctl *Controller) TxReady() bool {
	return ctl.flags.Load()&txReadyBit != 0
}

// RxReady reports whether the receiver is ready, as observed from the
// sys domain.
func (ctl *Controller) RxReady() bool {
	return ctl.flags.Load()&rxReadyBit != 0
}

// Reset requests a reset of both startup machines.
// The request is applied asynchronously, at the next tick of the sys
// domain. Reset is safe for concurrent use.
func (ctl *Controller) Reset() { ctl.request(resetTX | resetRX) }

// ResetTX requests a reset of the transmitter startup machine.
func (ctl *Controller) ResetTX() { ctl.request(resetTX) }

// ResetRX requests a reset of the receiver startup machine.
func (ctl *Controller) ResetRX() { ctl.request(resetRX) }

func (ctl *Controller) request(v uint32) {
	for {
		old := ctl.reqs.Load()
		if ctl.reqs.CompareAndSwap(old, old|v) {
			return
		}
	}
}

// Stats holds monitoring counters of a link controller.
type Stats struct {
	TxState    startup.State
	RxState    startup.State
	TxRestarts uint64 // liveness restarts of the transmitter
	RxRestarts uint64 // liveness restarts of the receiver
	Dropped    uint64 // reset requests lost in flight
}

// Stats returns a snapshot of the monitoring counters.
// Stats is safe for concurrent use.
func (ctl *Controller) Stats() Stats {
	return Stats{
		TxState:    startup.State(ctl.txState.Load()),
		RxState:    startup.State(ctl.rxState.Load()),
		TxRestarts: ctl.txRestarts.Load(),
		RxRestarts: ctl.rxRestarts.Load(),
		Dropped:    ctl.txReset.Dropped() + ctl.rxReset.Dropped(),
	}
}

// Device returns the transmit and receive channels of the transceiver
// model driven by the controller.
func (ctl *Controller) Device() (tx, rx *xcvr.Channel) { return ctl.txDev, ctl.rxDev }

func (ctl *Controller) String() string {
	return fmt.Sprintf(
		"link{tx_ready=%v rx_ready=%v pll=%d/%d/%d/%d domains=[%v %v %v]}",
		ctl.TxReady(), ctl.RxReady(),
		ctl.pll.N1, ctl.pll.N2, ctl.pll.M, ctl.pll.D,
		ctl.sys, ctl.tx, ctl.rx,
	)
}
