// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/go-lpc/linkup/cdc"
	"golang.org/x/sync/errgroup"
)

// tickBatch is the number of ticks a domain runs between two checks of
// its context.
const tickBatch = 256

// Run runs each timing domain of the controller in its own goroutine,
// as fast as possible, until the context is canceled.
//
// Domains progress independently: their only interactions go through
// the synchronizers. Run must not be used concurrently with the
// simulated-time methods (Step, Advance, WaitReady).
func (ctl *Controller) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	for i, dom := range []*cdc.Domain{ctl.sys, ctl.tx, ctl.rx} {
		var (
			dom = dom
			cpu = -1
		)
		if len(ctl.cfg.cpus) > 0 {
			cpu = ctl.cfg.cpus[i%len(ctl.cfg.cpus)]
		}
		grp.Go(func() error {
			return ctl.loop(ctx, dom, cpu)
		})
	}

	err := grp.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (ctl *Controller) loop(ctx context.Context, dom *cdc.Domain, cpu int) error {
	if cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		err := setAffinity(cpu)
		if err != nil {
			return fmt.Errorf("link: could not pin domain %v to cpu %d: %w", dom, cpu, err)
		}
	}

	if ctl.cfg.verbose {
		ctl.cfg.msg.Printf("running domain %v...", dom)
		defer ctl.cfg.msg.Printf("running domain %v... [done]", dom)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for i := 0; i < tickBatch; i++ {
			dom.Tick()
		}
		runtime.Gosched()
	}
}
