// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pll-solve prints the PLL divider configuration producing a
// line rate from a reference clock.
//
// Usage:
//
//	$> pll-solve -gen=3
//	$> pll-solve -refclk=125e6 -rate=5e9
package main // import "github.com/go-lpc/linkup/cmd/pll-solve"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/linkup/pll"
	"github.com/go-lpc/linkup/startup"
)

func main() {
	log.SetPrefix("pll-solve: ")
	log.SetFlags(0)

	var (
		refclk = flag.Float64("refclk", pll.RefClk, "reference clock frequency (Hz)")
		rate   = flag.Float64("rate", 0, "target line rate (bps)")
		gen    = flag.String("gen", "", "SATA generation (gen1, gen2, gen3); overrides -rate")
		dw     = flag.Int("dw", 16, "user data width (16 or 32)")
	)

	flag.Parse()

	err := run(os.Stdout, *refclk, *rate, *gen, *dw)
	if err != nil {
		log.Fatalf("could not solve PLL configuration: %+v", err)
	}
}

func run(w io.Writer, refclk, rate float64, gen string, dw int) error {
	if gen != "" {
		g, err := pll.ParseGeneration(gen)
		if err != nil {
			return err
		}
		rate, err = pll.LineRate(g)
		if err != nil {
			return err
		}
	}
	if rate <= 0 {
		return fmt.Errorf("invalid line rate %v (use -rate or -gen)", rate)
	}

	cfg, err := pll.Solve(refclk, rate)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%v\n", cfg)
	fmt.Fprintf(w, "N1=%d N2=%d M=%d D=%d\n", cfg.N1, cfg.N2, cfg.M, cfg.D)
	fmt.Fprintf(w, "user clock: %g MHz (data width: %d)\n",
		startup.UserClock(rate, dw)/1e6, dw,
	)
	return nil
}
