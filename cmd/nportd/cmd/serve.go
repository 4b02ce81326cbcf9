/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebook/nportd/daemon"
	"github.com/facebook/nportd/flashenv"
	"github.com/facebook/nportd/logdrop"
	"github.com/facebook/nportd/uart"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveMetricsAddr  string
	serveFlashSize    int64
	serveSimLoopback  bool
	serveLogInboxSize int
)

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", daemon.DefaultMetricsAddr, "listen address for the Prometheus /metrics endpoint")
	serveCmd.Flags().Int64Var(&serveFlashSize, "flash-size", 0x1600000, "size in bytes of the simulated flash device backing the config store, env, and firmware slots")
	serveCmd.Flags().BoolVar(&serveSimLoopback, "sim-loopback", false, "loop simulated UART TX back to RX, for exercising the data path without real hardware")
	serveCmd.Flags().IntVar(&serveLogInboxSize, "log-inbox-size", 1024, "capacity of the bounded, non-blocking logging inbox (spec.md lowest-priority logging task)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the device server: scheduler, connection manager, RealCOM, global config, discovery, and firmware update",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()

		hook := logdrop.New(os.Stderr, serveLogInboxSize)
		defer hook.Close()
		log.StandardLogger().SetOutput(io.Discard)
		log.AddHook(hook)

		d, err := daemon.New(daemon.Config{
			Flash:       flashenv.NewInMemory(serveFlashSize),
			HAL:         uart.NewSim(serveSimLoopback),
			MetricsAddr: serveMetricsAddr,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer stop()

		log.Infof("nportd: serving (metrics on %s, %d dropped log lines so far)", serveMetricsAddr, hook.Dropped())
		return d.Run(ctx)
	},
}
