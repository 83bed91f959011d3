// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command link-srv starts a TDAQ server controlling a simulated link.
//
// The /config command expects the path to a TOML link configuration.
// The link status is published on the /status output end-point.
package main // import "github.com/go-lpc/linkup/cmd/link-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/linkup/link"
)

func main() {
	cmd := flags.New()

	dev := link.NewServer(cmd.Args[0],
		link.WithLogger(log.New(os.Stdout, "link: ", 0)),
	)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/status", dev.Status)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
