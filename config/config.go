// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads link configurations from TOML files.
//
// A configuration file looks like:
//
//	reference_clock_frequency = 150e6
//	target_line_rate          = 6e9   # or: generation = "gen3"
//	profile                   = "K"
//	data_width                = 16
//	sys_clock                 = 100e6
//	sync_stages               = 2
//	rx_offset_ppm             = 100
//	ready_timeout             = "2ms"
//	db                        = "user:pass@tcp(host:3306)/linkup"
//
//	[device]
//	pll_lock           = 120
//	phase_align_pulses = 2
package config // import "github.com/go-lpc/linkup/config"

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-lpc/linkup/pll"
	"github.com/go-lpc/linkup/startup"
	"github.com/go-lpc/linkup/xcvr"
)

// Config describes a link.
type Config struct {
	RefClk    float64 // reference clock frequency, in Hz
	LineRate  float64 // target line rate, in bps
	Family    startup.Family
	DataWidth int

	SysClock     float64       // system domain frequency, in Hz
	Stages       int           // synchronizer stages
	RxOffset     float64       // receiver clock offset, in ppm
	ReadyTimeout time.Duration // liveness deadline; 0: profile default

	Device xcvr.Config

	DB string // MySQL DSN where bring-up records are stored (optional)
}

// Default returns the default configuration: a SATA gen3 link with a
// K-family device.
func Default() Config {
	return Config{
		RefClk:    pll.RefClk,
		LineRate:  6e9,
		Family:    startup.FamilyK,
		DataWidth: 16,
		SysClock:  100e6,
		Stages:    2,
		Device:    xcvr.DefaultConfig(),
	}
}

type fileConfig struct {
	RefClk       float64 `toml:"reference_clock_frequency"`
	LineRate     float64 `toml:"target_line_rate"`
	Generation   string  `toml:"generation"`
	Profile      string  `toml:"profile"`
	DataWidth    int     `toml:"data_width"`
	SysClock     float64 `toml:"sys_clock"`
	Stages       int     `toml:"sync_stages"`
	RxOffset     float64 `toml:"rx_offset_ppm"`
	ReadyTimeout string  `toml:"ready_timeout"`
	DB           string  `toml:"db"`

	Device struct {
		PLLLock          uint64 `toml:"pll_lock"`
		ClockStable      uint64 `toml:"clock_stable"`
		ResetDone        uint64 `toml:"reset_done"`
		CDRLock          uint64 `toml:"cdr_lock"`
		DelayAlign       uint64 `toml:"delay_align"`
		PhaseAlign       uint64 `toml:"phase_align"`
		PhaseAlignPulses int    `toml:"phase_align_pulses"`
	} `toml:"device"`
}

// Load loads a configuration from the provided TOML file.
// Keys absent from the file keep their default value.
func Load(fname string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(fname, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not decode %q: %w", fname, err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		return Config{}, fmt.Errorf("config: unknown keys in %q: %v", fname, keys)
	}

	cfg, err := raw.config(meta)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode decodes a configuration from a TOML document.
func Decode(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not decode configuration: %w", err)
	}
	if keys := meta.Undecoded(); len(keys) > 0 {
		return Config{}, fmt.Errorf("config: unknown keys: %v", keys)
	}

	cfg, err := raw.config(meta)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func (raw fileConfig) config(meta toml.MetaData) (Config, error) {
	cfg := Default()

	if meta.IsDefined("reference_clock_frequency") {
		cfg.RefClk = raw.RefClk
	}

	switch {
	case meta.IsDefined("generation") && meta.IsDefined("target_line_rate"):
		return cfg, fmt.Errorf("generation and target_line_rate are mutually exclusive")
	case meta.IsDefined("generation"):
		gen, err := pll.ParseGeneration(raw.Generation)
		if err != nil {
			return cfg, fmt.Errorf("could not parse generation: %w", err)
		}
		cfg.LineRate, err = pll.LineRate(gen)
		if err != nil {
			return cfg, err
		}
	case meta.IsDefined("target_line_rate"):
		cfg.LineRate = raw.LineRate
	}

	if meta.IsDefined("profile") {
		family, err := startup.ParseFamily(raw.Profile)
		if err != nil {
			return cfg, fmt.Errorf("could not parse profile: %w", err)
		}
		cfg.Family = family
	}

	if meta.IsDefined("data_width") {
		cfg.DataWidth = raw.DataWidth
	}

	if meta.IsDefined("sys_clock") {
		cfg.SysClock = raw.SysClock
	}

	if meta.IsDefined("sync_stages") {
		cfg.Stages = raw.Stages
	}

	if meta.IsDefined("rx_offset_ppm") {
		cfg.RxOffset = raw.RxOffset
	}

	if meta.IsDefined("ready_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadyTimeout))
		if err != nil {
			return cfg, fmt.Errorf("could not parse ready_timeout: %w", err)
		}
		cfg.ReadyTimeout = d
	}

	if meta.IsDefined("db") {
		cfg.DB = strings.TrimSpace(raw.DB)
	}

	dev := &cfg.Device
	for _, v := range []struct {
		key string
		src uint64
		dst *uint64
	}{
		{"pll_lock", raw.Device.PLLLock, &dev.PLLLock},
		{"clock_stable", raw.Device.ClockStable, &dev.ClockStable},
		{"reset_done", raw.Device.ResetDone, &dev.ResetDone},
		{"cdr_lock", raw.Device.CDRLock, &dev.CDRLock},
		{"delay_align", raw.Device.DelayAlign, &dev.DelayAlign},
		{"phase_align", raw.Device.PhaseAlign, &dev.PhaseAlign},
	} {
		if meta.IsDefined("device", v.key) {
			*v.dst = v.src
		}
	}
	if meta.IsDefined("device", "phase_align_pulses") {
		dev.PhaseAlignPulses = raw.Device.PhaseAlignPulses
	}

	return cfg, cfg.Validate()
}

// Validate checks the consistency of the configuration.
func (cfg Config) Validate() error {
	switch {
	case cfg.RefClk <= 0:
		return fmt.Errorf("invalid reference clock frequency %v", cfg.RefClk)
	case cfg.LineRate <= 0:
		return fmt.Errorf("invalid line rate %v", cfg.LineRate)
	case cfg.DataWidth != 16 && cfg.DataWidth != 32:
		return fmt.Errorf("invalid data width %d", cfg.DataWidth)
	case cfg.SysClock <= 0:
		return fmt.Errorf("invalid system clock frequency %v", cfg.SysClock)
	case cfg.Stages < 2:
		return fmt.Errorf("invalid number of synchronizer stages %d", cfg.Stages)
	case cfg.ReadyTimeout < 0:
		return fmt.Errorf("invalid ready timeout %v", cfg.ReadyTimeout)
	}
	if cfg.Family != startup.FamilyA && cfg.Family != startup.FamilyK {
		return fmt.Errorf("invalid device family %v", cfg.Family)
	}
	return cfg.Device.Validate()
}
