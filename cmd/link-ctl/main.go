// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command link-ctl is an interactive shell driving a simulated link.
//
// Example:
//
//	$> link-ctl -cfg=link.toml
//	link> run 10us
//	link> status
//	link> stick rx cdr_stable
//	link> reset rx
//	link> quit
package main // import "github.com/go-lpc/linkup/cmd/link-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/linkup/config"
	"github.com/go-lpc/linkup/link"
	"github.com/go-lpc/linkup/startup"
	"github.com/go-lpc/linkup/xcvr"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("link-ctl: ")
	log.SetFlags(0)

	var (
		fname   = flag.String("cfg", "", "path to a TOML link configuration")
		verbose = flag.Bool("v", false, "enable verbose mode")
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

	sh, err := newShell(os.Stdout, cfg, *verbose)
	if err != nil {
		log.Fatalf("could not create shell: %+v", err)
	}

	err = sh.loop()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type shell struct {
	w   io.Writer
	ctl *link.Controller
}

func newShell(w io.Writer, cfg config.Config, verbose bool) (*shell, error) {
	ctl, err := link.NewFromConfig(cfg,
		link.WithLogger(log.New(w, "link: ", 0)),
		link.WithVerbose(verbose),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create link controller: %w", err)
	}
	return &shell{w: w, ctl: ctl}, nil
}

func (sh *shell) loop() error {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	hist := filepath.Join(os.TempDir(), ".link-ctl.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("link> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(sh.w, "error: %+v\n", err)
			continue
		}
		if quit {
			return nil
		}
	}
}

const help = `commands:
  step [n]                 advance the link by n clock edges (default: 1)
  run <duration>           advance the link by the simulated duration
  wait <duration>          advance the link until ready, at most for duration
  reset [tx|rx]            request a reset of the link (or of one side)
  stick <tx|rx> <signal>   force a device status signal low
  release <tx|rx> <signal> release a forced status signal
  status                   print the link status
  pll                      print the PLL configuration
  help                     print this help
  quit                     leave the shell
`

func (sh *shell) exec(line string) (quit bool, err error) {
	toks := strings.Fields(line)
	cmd, args := toks[0], toks[1:]
	switch cmd {
	case "step":
		n := 1
		if len(args) > 0 {
			n, err = strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return false, fmt.Errorf("invalid number of steps %q", args[0])
			}
		}
		for i := 0; i < n; i++ {
			_, err = sh.ctl.Step()
			if err != nil {
				return false, err
			}
		}
		sh.status()

	case "run":
		d, err := duration(args)
		if err != nil {
			return false, err
		}
		err = sh.ctl.Advance(d)
		if err != nil {
			return false, err
		}
		sh.status()

	case "wait":
		d, err := duration(args)
		if err != nil {
			return false, err
		}
		ok, err := sh.ctl.WaitReady(d)
		if err != nil {
			return false, err
		}
		if !ok {
			fmt.Fprintf(sh.w, "link not ready after %v\n", d)
		}
		sh.status()

	case "reset":
		switch {
		case len(args) == 0:
			sh.ctl.Reset()
		case args[0] == "tx":
			sh.ctl.ResetTX()
		case args[0] == "rx":
			sh.ctl.ResetRX()
		default:
			return false, fmt.Errorf("invalid reset target %q", args[0])
		}

	case "stick", "release":
		ch, sig, err := sh.signal(args)
		if err != nil {
			return false, err
		}
		if cmd == "stick" {
			ch.Stick(sig)
		} else {
			ch.Release(sig)
		}

	case "status":
		sh.status()

	case "pll":
		fmt.Fprintf(sh.w, "%v\n", sh.ctl.PLL())

	case "help", "?":
		fmt.Fprint(sh.w, help)

	case "quit", "exit", "q":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
	return false, nil
}

func (sh *shell) status() {
	stats := sh.ctl.Stats()
	fmt.Fprintf(sh.w, "t=%v ready=%v tx=%v(%v) rx=%v(%v) restarts=%d/%d\n",
		sh.ctl.Now(), sh.ctl.Ready(),
		stats.TxState, sh.ctl.TxReady(),
		stats.RxState, sh.ctl.RxReady(),
		stats.TxRestarts, stats.RxRestarts,
	)
}

func (sh *shell) signal(args []string) (*xcvr.Channel, startup.Signal, error) {
	if len(args) != 2 {
		return nil, 0, fmt.Errorf("expected a channel and a signal name")
	}
	tx, rx := sh.ctl.Device()
	var ch *xcvr.Channel
	switch args[0] {
	case "tx":
		ch = tx
	case "rx":
		ch = rx
	default:
		return nil, 0, fmt.Errorf("invalid channel %q", args[0])
	}
	sig, err := startup.ParseSignal(args[1])
	if err != nil {
		return nil, 0, err
	}
	if sig == startup.PeerReady {
		return nil, 0, fmt.Errorf("signal %v is not a device status", sig)
	}
	return ch, sig, nil
}

func duration(args []string) (time.Duration, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected a duration")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", args[0], err)
	}
	return d, nil
}
