// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/linkup/config"
	"github.com/go-lpc/linkup/pll"
	"github.com/go-lpc/linkup/startup"
)

func discard() Option {
	return WithLogger(log.New(io.Discard, "link: ", 0))
}

func newTestController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	ctl, err := New(pll.RefClk, 6e9, append([]Option{discard()}, opts...)...)
	if err != nil {
		t.Fatalf("could not create link controller: %+v", err)
	}
	return ctl
}

// waitFor steps the controller until cond is met, checking the ready
// invariant at every step.
func waitFor(t *testing.T, ctl *Controller, deadline time.Duration, cond func() bool) {
	t.Helper()
	ok, err := ctl.sched.Until(deadline, func() bool {
		if got, want := ctl.Ready(), ctl.TxReady() && ctl.RxReady(); got != want {
			t.Fatalf("ready=%v, tx_ready=%v, rx_ready=%v", got, ctl.TxReady(), ctl.RxReady())
		}
		return cond()
	})
	if err != nil {
		t.Fatalf("could not run scheduler: %+v", err)
	}
	if !ok {
		t.Fatalf("condition not met after %v: %v %+v", deadline, ctl, ctl.Stats())
	}
}

func TestNewNoConfig(t *testing.T) {
	_, err := New(pll.RefClk, 7e9, discard())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, pll.ErrNoConfig) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestNewInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		opt  Option
	}{
		{"stages", WithStages(1)},
		{"data-width", WithDataWidth(20)},
		{"sys-clock", WithSysClock(0)},
		{"profile", WithProfile(startup.Family(0))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(pll.RefClk, 6e9, discard(), tc.opt)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestControllerReady(t *testing.T) {
	for _, tc := range []struct {
		family startup.Family
		dw     int
		rate   float64
	}{
		{startup.FamilyA, 16, 6e9},
		{startup.FamilyA, 32, 3e9},
		{startup.FamilyK, 16, 6e9},
		{startup.FamilyK, 32, 1.5e9},
	} {
		t.Run(tc.family.String(), func(t *testing.T) {
			ctl, err := New(pll.RefClk, tc.rate,
				discard(),
				WithProfile(tc.family),
				WithDataWidth(tc.dw),
				WithRxOffset(200),
			)
			if err != nil {
				t.Fatalf("could not create link controller: %+v", err)
			}

			if ctl.Ready() || ctl.TxReady() || ctl.RxReady() {
				t.Fatalf("link ready before any tick")
			}

			waitFor(t, ctl, time.Millisecond, ctl.Ready)

			stats := ctl.Stats()
			if stats.TxState != startup.Ready || stats.RxState != startup.Ready {
				t.Fatalf("invalid states: %+v", stats)
			}
			if stats.TxRestarts != 0 || stats.RxRestarts != 0 {
				t.Fatalf("unexpected restarts: %+v", stats)
			}

			// ready is held.
			err = ctl.Advance(100 * time.Microsecond)
			if err != nil {
				t.Fatalf("could not advance link: %+v", err)
			}
			if !ctl.Ready() {
				t.Fatalf("link lost ready: %v", ctl)
			}
		})
	}
}

func TestControllerReadyIffBoth(t *testing.T) {
	ctl := newTestController(t)
	waitFor(t, ctl, time.Millisecond, ctl.Ready)

	// receiver alone.
	ctl.ResetRX()
	waitFor(t, ctl, time.Millisecond, func() bool { return !ctl.RxReady() })
	if !ctl.TxReady() {
		t.Fatalf("tx_ready dropped on rx reset")
	}
	if ctl.Ready() {
		t.Fatalf("ready with rx_ready=false")
	}
	waitFor(t, ctl, time.Millisecond, ctl.Ready)

	// transmitter alone.
	ctl.ResetTX()
	waitFor(t, ctl, time.Millisecond, func() bool { return !ctl.TxReady() })
	if !ctl.RxReady() {
		t.Fatalf("rx_ready dropped on tx reset")
	}
	if ctl.Ready() {
		t.Fatalf("ready with tx_ready=false")
	}
	waitFor(t, ctl, time.Millisecond, ctl.Ready)
}

func TestControllerReset(t *testing.T) {
	ctl := newTestController(t)
	waitFor(t, ctl, time.Millisecond, ctl.Ready)

	ctl.Reset()
	waitFor(t, ctl, time.Millisecond, func() bool {
		return !ctl.TxReady() && !ctl.RxReady()
	})
	waitFor(t, ctl, time.Millisecond, ctl.Ready)

	if stats := ctl.Stats(); stats.TxRestarts != 0 || stats.RxRestarts != 0 {
		t.Fatalf("reset counted as liveness restart: %+v", stats)
	}
}

func TestControllerStuck(t *testing.T) {
	ctl := newTestController(t, WithReadyTimeout(20*time.Microsecond))
	_, rx := ctl.Device()
	rx.Stick(startup.CDRStable)

	err := ctl.Advance(200 * time.Microsecond)
	if err != nil {
		t.Fatalf("could not advance link: %+v", err)
	}
	if ctl.Ready() || ctl.RxReady() {
		t.Fatalf("link ready with a stuck cdr")
	}
	if !ctl.TxReady() {
		t.Fatalf("tx not ready")
	}
	stats := ctl.Stats()
	if stats.RxRestarts < 5 {
		t.Fatalf("invalid number of rx restarts: %+v", stats)
	}
	if stats.TxRestarts != 0 {
		t.Fatalf("invalid number of tx restarts: %+v", stats)
	}

	rx.Release(startup.CDRStable)
	waitFor(t, ctl, 100*time.Microsecond, ctl.Ready)
}

func TestControllerDeterministic(t *testing.T) {
	run := func() (Stats, time.Duration, [3]uint64) {
		ctl := newTestController(t, WithProfile(startup.FamilyA), WithRxOffset(-300))
		for i := 0; i < 5000; i++ {
			_, err := ctl.Step()
			if err != nil {
				t.Fatalf("could not step: %+v", err)
			}
		}
		ctl.ResetTX()
		for i := 0; i < 2000; i++ {
			_, err := ctl.Step()
			if err != nil {
				t.Fatalf("could not step: %+v", err)
			}
		}
		sys, tx, rx := ctl.Domains()
		return ctl.Stats(), ctl.Now(), [3]uint64{sys.Ticks(), tx.Ticks(), rx.Ticks()}
	}

	s1, t1, n1 := run()
	s2, t2, n2 := run()
	if s1 != s2 || t1 != t2 || n1 != n2 {
		t.Fatalf("non deterministic simulation:\n%+v %v %v\n%+v %v %v", s1, t1, n1, s2, t2, n2)
	}
	if got, want := n1[0]+n1[1]+n1[2], uint64(7000); got != want {
		t.Fatalf("invalid number of ticks: got=%d, want=%d", got, want)
	}
}

func TestControllerVerbose(t *testing.T) {
	buf := new(bytes.Buffer)
	ctl, err := New(pll.RefClk, 6e9,
		WithLogger(log.New(buf, "link: ", 0)),
		WithVerbose(true),
	)
	if err != nil {
		t.Fatalf("could not create link controller: %+v", err)
	}
	waitFor(t, ctl, time.Millisecond, ctl.Ready)

	for _, want := range []string{
		"link: tx: IDLE -> PLL_RESET\n",
		"link: tx: PHASE_ALIGN -> READY\n",
		"link: rx: WAIT_DEVICE_RESET_DONE -> WAIT_CDR_STABLE\n",
		"link: rx: PHASE_ALIGN -> READY\n",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in log:\n%s", want, buf.String())
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Family = startup.FamilyA
	cfg.DataWidth = 32
	cfg.Stages = 3
	cfg.ReadyTimeout = 50 * time.Microsecond

	ctl, err := NewFromConfig(cfg, discard())
	if err != nil {
		t.Fatalf("could not create link controller: %+v", err)
	}

	tx, rx := ctl.Profiles()
	if tx.Family != startup.FamilyA || tx.DataWidth != 32 {
		t.Fatalf("invalid tx profile: %+v", tx)
	}
	if got, want := tx.ReadyTimeout, uint64(7500); got != want {
		t.Fatalf("invalid tx ready timeout: got=%d, want=%d", got, want)
	}
	if rx.ReadyTimeout != tx.ReadyTimeout {
		t.Fatalf("invalid rx ready timeout: %d", rx.ReadyTimeout)
	}
	if got, want := ctl.PLL().D, 1; got != want {
		t.Fatalf("invalid PLL divider: got=%d, want=%d", got, want)
	}
	waitFor(t, ctl, time.Millisecond, ctl.Ready)

	cfg.DataWidth = 8
	_, err = NewFromConfig(cfg, discard())
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestReadyTimeoutRounding(t *testing.T) {
	// 1ns at a 300MHz user clock is less than one tick.
	ctl := newTestController(t, WithReadyTimeout(time.Nanosecond))
	tx, rx := ctl.Profiles()
	if got, want := tx.ReadyTimeout, uint64(1); got != want {
		t.Fatalf("invalid tx ready timeout: got=%d, want=%d", got, want)
	}
	if got, want := rx.ReadyTimeout, uint64(1); got != want {
		t.Fatalf("invalid rx ready timeout: got=%d, want=%d", got, want)
	}
}

func TestRun(t *testing.T) {
	ctl := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- ctl.Run(ctx)
	}()

	timeout := time.After(10 * time.Second)
	for !ctl.Ready() {
		select {
		case <-timeout:
			cancel()
			<-done
			t.Fatalf("link not ready: %+v", ctl.Stats())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	err := <-done
	if err != nil {
		t.Fatalf("could not run link: %+v", err)
	}
}
