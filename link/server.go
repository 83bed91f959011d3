// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/linkup/config"
	"github.com/go-lpc/linkup/internal/alert"
	"github.com/go-lpc/linkup/linkdb"
)

// Server exposes a link controller as a tdaq process.
//
// /config loads the configuration (the optional request payload is the
// name of a TOML configuration file), /init creates the controller,
// /start and /stop delimit a run during which the timing domains are
// running, /reset requests a reset of the link.
// Link status frames are published on the output handled by Status.
type Server struct {
	name string
	opts []Option

	cfg   config.Config
	ctl   *Controller
	db    *linkdb.DB
	alert *alert.Mailer

	freq  time.Duration // status publication period
	start time.Time
}

// NewServer creates a new link server.
// Options are applied on top of the configuration loaded by /config.
func NewServer(name string, opts ...Option) *Server {
	return &Server{
		name:  name,
		opts:  opts,
		cfg:   config.Default(),
		alert: alert.FromEnv(),
		freq:  time.Second,
	}
}

// Status is a snapshot of the link status.
type Status struct {
	Name       string `json:"name"`
	Ready      bool   `json:"ready"`
	TxReady    bool   `json:"tx_ready"`
	RxReady    bool   `json:"rx_ready"`
	TxState    string `json:"tx_state"`
	RxState    string `json:"rx_state"`
	TxRestarts uint64 `json:"tx_restarts"`
	RxRestarts uint64 `json:"rx_restarts"`
	Dropped    uint64 `json:"dropped"`
}

func (srv *Server) status() Status {
	stats := srv.ctl.Stats()
	return Status{
		Name:       srv.name,
		Ready:      srv.ctl.Ready(),
		TxReady:    srv.ctl.TxReady(),
		RxReady:    srv.ctl.RxReady(),
		TxState:    stats.TxState.String(),
		RxState:    stats.RxState.String(),
		TxRestarts: stats.TxRestarts,
		RxRestarts: stats.RxRestarts,
		Dropped:    stats.Dropped,
	}
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg := config.Default()
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname := dec.ReadStr()

		var err error
		cfg, err = config.Load(fname)
		if err != nil {
			ctx.Msg.Errorf("could not load configuration %q: %+v", fname, err)
			return fmt.Errorf("could not load configuration %q: %w", fname, err)
		}
	}
	srv.cfg = cfg

	if srv.db != nil {
		_ = srv.db.Close()
		srv.db = nil
	}
	if cfg.DB != "" {
		db, err := linkdb.Open(cfg.DB)
		if err != nil {
			ctx.Msg.Errorf("could not open link db: %+v", err)
			return fmt.Errorf("could not open link db: %w", err)
		}
		err = db.Init(ctx.Ctx)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("could not initialize link db: %w", err)
		}
		srv.db = db
	}

	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	ctl, err := NewFromConfig(srv.cfg, srv.opts...)
	if err != nil {
		ctx.Msg.Errorf("could not create link controller: %+v", err)
		return fmt.Errorf("could not create link controller: %w", err)
	}
	srv.ctl = ctl
	ctx.Msg.Infof("link: %v", ctl)
	ctx.Msg.Infof("PLL configuration:\n%v", ctl.PLL())

	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if srv.ctl == nil {
		return fmt.Errorf("link controller not initialized")
	}
	srv.ctl.Reset()
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.ctl == nil {
		return fmt.Errorf("link controller not initialized")
	}
	srv.start = time.Now()
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	if srv.ctl == nil {
		return fmt.Errorf("link controller not initialized")
	}

	var (
		st  = srv.status()
		dt  = time.Since(srv.start)
		pcf = srv.ctl.PLL()
	)
	ctx.Msg.Infof("link status: ready=%v tx=%s rx=%s restarts=%d/%d (%v)",
		st.Ready, st.TxState, st.RxState, st.TxRestarts, st.RxRestarts, dt,
	)

	if !st.Ready && srv.alert.Valid() {
		err := srv.alert.Send(
			fmt.Sprintf("link %q not ready", srv.name),
			fmt.Sprintf("tx: %s\nrx: %s\nrestarts: tx=%d rx=%d\nduration: %v\n",
				st.TxState, st.RxState, st.TxRestarts, st.RxRestarts, dt,
			),
		)
		if err != nil {
			ctx.Msg.Errorf("could not send alert: %+v", err)
		}
	}

	if srv.db != nil {
		id, err := srv.db.Insert(ctx.Ctx, linkdb.Record{
			Date:       srv.start,
			RefClk:     pcf.RefClk,
			LineRate:   pcf.LineRate,
			Family:     srv.cfg.Family.String(),
			DataWidth:  srv.cfg.DataWidth,
			N1:         pcf.N1,
			N2:         pcf.N2,
			M:          pcf.M,
			D:          pcf.D,
			Ready:      st.Ready,
			Elapsed:    dt,
			TxRestarts: st.TxRestarts,
			RxRestarts: st.RxRestarts,
			Dropped:    st.Dropped,
		})
		if err != nil {
			ctx.Msg.Errorf("could not store bring-up record: %+v", err)
			return fmt.Errorf("could not store bring-up record: %w", err)
		}
		ctx.Msg.Debugf("stored bring-up record %d", id)
	}

	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if srv.db != nil {
		err := srv.db.Close()
		srv.db = nil
		if err != nil {
			return fmt.Errorf("could not close link db: %w", err)
		}
	}
	return nil
}

// Status publishes a JSON encoded Status frame every period.
func (srv *Server) Status(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case <-time.After(srv.freq):
	}

	if srv.ctl == nil {
		dst.Body = nil
		return nil
	}

	raw, err := json.Marshal(srv.status())
	if err != nil {
		return fmt.Errorf("could not encode link status: %w", err)
	}
	dst.Body = raw
	return nil
}

// Run runs the link controller until the run is stopped.
func (srv *Server) Run(ctx tdaq.Context) error {
	if srv.ctl == nil {
		return fmt.Errorf("link controller not initialized")
	}
	ctx.Msg.Infof("running link %q...", srv.name)
	defer ctx.Msg.Infof("running link %q... [done]", srv.name)

	return srv.ctl.Run(ctx.Ctx)
}
