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

// Package daemon wires every subsystem together: the config store, the
// UART scheduler, the per-channel connection manager, the command-plane
// (RealCOM) supervisor, and the three always-on TCP/UDP front doors
// (global config, discovery, firmware update), plus the Prometheus
// metrics endpoint. It owns startup order and shutdown propagation.
package daemon

import (
	"context"
	"fmt"

	sysd "github.com/coreos/go-systemd/daemon"
	"github.com/facebook/nportd/connmgr"
	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/discovery"
	"github.com/facebook/nportd/firmware"
	"github.com/facebook/nportd/flashenv"
	"github.com/facebook/nportd/globalconfig"
	"github.com/facebook/nportd/realcom"
	"github.com/facebook/nportd/scheduler"
	"github.com/facebook/nportd/stats"
	"github.com/facebook/nportd/uart"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SettingPort is the TCP port the global configuration protocol listens
// on (spec.md §4: TCP_SETTING_PORT).
const SettingPort = 4000

// DefaultMetricsAddr is used when Config.MetricsAddr is empty. Not part
// of the original protocol; spec.md does not reserve a port for it.
const DefaultMetricsAddr = ":8888"

// Config configures a Daemon.
type Config struct {
	// Flash backs the persistent configuration store and the firmware
	// update server's B-slot writes.
	Flash flashenv.Flash

	// HAL drives the 16 UART channels. Callers supply uart.NewSim(...)
	// for development or uart.NewLinuxTTY(...) on real hardware.
	HAL uart.HAL

	// MetricsAddr is the listen address for the /metrics endpoint.
	// Defaults to DefaultMetricsAddr when empty.
	MetricsAddr string
}

// Daemon is the fully wired nportd process.
type Daemon struct {
	cfg Config

	Store   *devconfig.Store
	Conn    *connmgr.Manager
	Sched   *scheduler.Scheduler
	Global  *globalconfig.Server
	Search  *discovery.Responder
	Update  *firmware.Server
	Metrics *stats.Server
}

// New builds a Daemon from cfg. The configuration store is loaded from
// flash (falling back to factory defaults on a blank or corrupt device)
// before any subsystem is constructed, since every one of them reads
// through the same Store.
func New(cfg Config) (*Daemon, error) {
	if cfg.HAL == nil {
		return nil, fmt.Errorf("daemon: Config.HAL is required")
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = DefaultMetricsAddr
	}

	store := devconfig.New(cfg.Flash)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("daemon: init config store: %w", err)
	}

	conn := connmgr.NewManager(store)
	sched := scheduler.New(store, cfg.HAL, conn)

	d := &Daemon{
		cfg:     cfg,
		Store:   store,
		Conn:    conn,
		Sched:   sched,
		Global:  globalconfig.NewServer(store),
		Search:  &discovery.Responder{Store: store},
		Update:  &firmware.Server{Store: store},
		Metrics: &stats.Server{Store: store, Sched: sched},
	}
	return d, nil
}

// Run starts every subsystem and blocks until ctx is canceled or one of
// them exits with an error, in which case all siblings are canceled and
// the first error is returned. This replaces the teacher's raw
// sync.WaitGroup ("any goroutine finishing unblocks Wait") with
// errgroup's cancel-on-first-error semantics, since an nportd subsystem
// exiting is always an incident worth aborting the rest for, not just
// detecting.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// An Admin "Save & Reboot" cancels the same context every subsystem
	// below watches, so the errgroup unwinds them all and Run returns
	// cleanly instead of the process being killed out from under them.
	d.Global.OnReboot = cancel

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.Conn.Start(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("connmgr: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := d.Sched.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	realcom.Supervisor(ctx, d.Sched, d.cfg.HAL, d.Store)

	eg.Go(func() error {
		addr := fmt.Sprintf(":%d", SettingPort)
		if err := d.Global.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
			return fmt.Errorf("globalconfig: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := d.Search.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("discovery: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := d.Update.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("firmware: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := d.Metrics.ListenAndServe(ctx, d.cfg.MetricsAddr); err != nil && ctx.Err() == nil {
			return fmt.Errorf("stats: %w", err)
		}
		return nil
	})

	if err := sdNotifyReady(); err != nil {
		log.Warnf("daemon: sd_notify: %v", err)
	}

	return eg.Wait()
}

// sdNotifyReady tells systemd (when running under it) that startup has
// completed, mirroring c4u's SdNotify helper.
func sdNotifyReady() error {
	supported, err := sysd.SdNotify(false, sysd.SdNotifyReady)
	if !supported {
		if err != nil {
			return err
		}
		log.Debug("daemon: sd_notify not supported, skipping")
		return nil
	}
	return err
}
