// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command link-sim simulates link bring-ups and histograms the time it
// takes for the link to become ready.
//
// Device latencies and the receive clock offset are randomized for each
// bring-up around the configured values.
//
// Usage:
//
//	$> link-sim -n=1000 -o=ready.yoda
//	$> link-sim -cfg=link.toml -n=100 -pmon
package main // import "github.com/go-lpc/linkup/cmd/link-sim"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/go-lpc/linkup/config"
	"github.com/go-lpc/linkup/link"
	"github.com/go-lpc/linkup/linkdb"
	"github.com/go-lpc/linkup/xcvr"
	"github.com/sbinet/pmon"
	"go-hep.org/x/hep/hbook"
)

func main() {
	log.SetPrefix("link-sim: ")
	log.SetFlags(0)

	var (
		fname    = flag.String("cfg", "", "path to a TOML link configuration")
		nruns    = flag.Int("n", 100, "number of bring-ups to simulate")
		seed     = flag.Int64("seed", 1234, "seed for the random number generator")
		deadline = flag.Duration("deadline", 10*time.Millisecond, "simulated time allotted to each bring-up")
		oname    = flag.String("o", "", "path to the YODA output file")
		verbose  = flag.Bool("v", false, "enable verbose mode")
		doMon    = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq   = flag.Duration("freq", 1*time.Second, "pmon frequency")
	)

	flag.Parse()

	cfg := config.Default()
	if *fname != "" {
		var err error
		cfg, err = config.Load(*fname)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
	}

	if *doMon {
		stop, err := monitor(*doFreq)
		if err != nil {
			log.Fatalf("could not start monitoring: %+v", err)
		}
		defer stop()
	}

	sim := simulation{
		cfg:      cfg,
		nruns:    *nruns,
		seed:     *seed,
		deadline: *deadline,
		verbose:  *verbose,
		msg:      log.Default(),
	}

	res, err := sim.run()
	if err != nil {
		log.Fatalf("could not run simulation: %+v", err)
	}
	log.Printf("%v", res)

	if *oname != "" {
		err = res.save(*oname)
		if err != nil {
			log.Fatalf("could not save histograms: %+v", err)
		}
	}

	if cfg.DB != "" {
		err = res.store(cfg)
		if err != nil {
			log.Fatalf("could not store bring-up records: %+v", err)
		}
	}
}

type simulation struct {
	cfg      config.Config
	nruns    int
	seed     int64
	deadline time.Duration
	verbose  bool
	msg      *log.Logger
}

type result struct {
	nruns    int
	nready   int
	restarts uint64

	hready *hbook.H1D // time to ready, in microseconds
	hrst   *hbook.H1D // liveness restarts per bring-up

	recs []linkdb.Record
}

func (res result) String() string {
	return fmt.Sprintf(
		"runs=%d ready=%d restarts=%d time-to-ready: mean=%.3fus std-dev=%.3fus",
		res.nruns, res.nready, res.restarts,
		res.hready.XMean(), res.hready.XStdDev(),
	)
}

func (sim simulation) run() (result, error) {
	if sim.nruns <= 0 {
		return result{}, fmt.Errorf("invalid number of runs %d", sim.nruns)
	}
	if sim.deadline <= 0 {
		return result{}, fmt.Errorf("invalid deadline %v", sim.deadline)
	}

	var (
		rnd  = rand.New(rand.NewSource(sim.seed))
		tmax = float64(sim.deadline) / float64(time.Microsecond)
		res  = result{
			nruns:  sim.nruns,
			hready: hbook.NewH1D(100, 0, tmax),
			hrst:   hbook.NewH1D(10, 0, 10),
		}
	)
	res.hready.Annotation()["name"] = "time-to-ready"
	res.hrst.Annotation()["name"] = "restarts"

	for i := 0; i < sim.nruns; i++ {
		cfg := sim.cfg
		cfg.Device = jitter(rnd, cfg.Device)
		cfg.RxOffset += 200 * (2*rnd.Float64() - 1)

		ctl, err := link.NewFromConfig(cfg,
			link.WithLogger(log.New(io.Discard, "link: ", 0)),
		)
		if err != nil {
			return res, fmt.Errorf("could not create link controller: %w", err)
		}

		start := time.Now()
		ready, err := ctl.WaitReady(sim.deadline)
		if err != nil {
			return res, fmt.Errorf("could not run link controller: %w", err)
		}

		var (
			stats = ctl.Stats()
			pcf   = ctl.PLL()
			nrst  = stats.TxRestarts + stats.RxRestarts
			dt    = ctl.Now()
		)
		res.restarts += nrst
		res.hrst.Fill(float64(nrst), 1)
		if ready {
			res.nready++
			res.hready.Fill(float64(dt)/float64(time.Microsecond), 1)
		}
		if sim.verbose {
			sim.msg.Printf("run %d: ready=%v t=%v restarts=%d (%v)", i, ready, dt, nrst, time.Since(start))
		}

		res.recs = append(res.recs, linkdb.Record{
			Date:       start,
			RefClk:     pcf.RefClk,
			LineRate:   pcf.LineRate,
			Family:     cfg.Family.String(),
			DataWidth:  cfg.DataWidth,
			N1:         pcf.N1,
			N2:         pcf.N2,
			M:          pcf.M,
			D:          pcf.D,
			Ready:      ready,
			Elapsed:    dt,
			TxRestarts: stats.TxRestarts,
			RxRestarts: stats.RxRestarts,
			Dropped:    stats.Dropped,
		})
	}

	return res, nil
}

// jitter randomizes the latencies of the device model by +/- 50%.
func jitter(rnd *rand.Rand, dev xcvr.Config) xcvr.Config {
	f := func(v uint64) uint64 {
		if v == 0 {
			return 0
		}
		if n := uint64(float64(v) * (0.5 + rnd.Float64())); n > 0 {
			return n
		}
		return 1
	}
	dev.PLLLock = f(dev.PLLLock)
	dev.ClockStable = f(dev.ClockStable)
	dev.ResetDone = f(dev.ResetDone)
	dev.CDRLock = f(dev.CDRLock)
	dev.DelayAlign = f(dev.DelayAlign)
	dev.PhaseAlign = f(dev.PhaseAlign)
	return dev
}

func (res result) save(fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	for _, h := range []*hbook.H1D{res.hready, res.hrst} {
		raw, err := h.MarshalYODA()
		if err != nil {
			return fmt.Errorf("could not marshal histogram: %w", err)
		}
		_, err = f.Write(raw)
		if err != nil {
			return fmt.Errorf("could not write histogram: %w", err)
		}
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	return nil
}

func (res result) store(cfg config.Config) error {
	db, err := linkdb.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	err = db.Init(ctx)
	if err != nil {
		return err
	}

	for _, rec := range res.recs {
		_, err = db.Insert(ctx, rec)
		if err != nil {
			return err
		}
	}

	return db.Close()
}

func monitor(freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not create process monitor: %w", err)
	}
	f, err := os.Create("link-sim-pmon.log")
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}
