// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/linkup/startup"
	"github.com/go-lpc/linkup/xcvr"
)

type options struct {
	msg     *log.Logger
	verbose bool

	family    startup.Family
	dataWidth int
	sysclk    float64 // Hz
	stages    int
	rxppm     float64
	timeout   time.Duration // liveness deadline override
	device    xcvr.Config
	cpus      []int
}

func newOptions() options {
	return options{
		msg:       log.New(os.Stdout, "link: ", 0),
		family:    startup.FamilyK,
		dataWidth: 16,
		sysclk:    100e6,
		stages:    2,
		device:    xcvr.DefaultConfig(),
	}
}

// Option configures a link controller.
type Option func(*options)

// WithLogger sets the logger used by the controller.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *options) {
		cfg.msg = msg
	}
}

// WithVerbose enables the logging of every state transition.
func WithVerbose(v bool) Option {
	return func(cfg *options) {
		cfg.verbose = v
	}
}

// WithProfile sets the device family.
func WithProfile(family startup.Family) Option {
	return func(cfg *options) {
		cfg.family = family
	}
}

// WithDataWidth sets the width (16 or 32 bits) of the user data path.
func WithDataWidth(n int) Option {
	return func(cfg *options) {
		cfg.dataWidth = n
	}
}

// WithSysClock sets the frequency (Hz) of the system domain.
func WithSysClock(freq float64) Option {
	return func(cfg *options) {
		cfg.sysclk = freq
	}
}

// WithStages sets the number of registers of every synchronizer.
func WithStages(n int) Option {
	return func(cfg *options) {
		cfg.stages = n
	}
}

// WithRxOffset sets the offset (in ppm) of the recovered receive clock
// with respect to the transmit clock.
func WithRxOffset(ppm float64) Option {
	return func(cfg *options) {
		cfg.rxppm = ppm
	}
}

// WithReadyTimeout overrides the liveness deadline of the startup
// machines.
func WithReadyTimeout(d time.Duration) Option {
	return func(cfg *options) {
		cfg.timeout = d
	}
}

// WithDevice sets the behavioural model of the transceiver channels.
func WithDevice(dev xcvr.Config) Option {
	return func(cfg *options) {
		cfg.device = dev
	}
}

// WithCPUAffinity pins the goroutines running the timing domains (in the
// sys, tx, rx order) to the provided CPUs, when supported.
func WithCPUAffinity(cpus ...int) Option {
	return func(cfg *options) {
		cfg.cpus = append([]int(nil), cpus...)
	}
}
