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

package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	"github.com/facebook/nportd/uart"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresHAL(t *testing.T) {
	_, err := New(Config{Flash: flashenv.NewInMemory(0x1600000)})
	require.Error(t, err)
}

func TestNewLoadsDefaultsOnBlankFlash(t *testing.T) {
	d, err := New(Config{
		Flash: flashenv.NewInMemory(0x1600000),
		HAL:   uart.NewSim(false),
	})
	require.NoError(t, err)

	var alias string
	var fwVersion [3]int
	d.Store.View(func(cfg *devconfig.SystemConfiguration) {
		alias = cfg.Channels[0].Alias
		fwVersion = cfg.Device.FWVersion
	})
	require.Equal(t, "Port 1", alias)
	require.Equal(t, [3]int{1, 0, 0}, fwVersion)
}

func TestRunStopsOnAdminSaveAndReboot(t *testing.T) {
	d, err := New(Config{
		Flash:       flashenv.NewInMemory(0x1600000),
		HAL:         uart.NewSim(false),
		MetricsAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Run installs d.Global.OnReboot itself; wait for it to land before
	// simulating the Admin "Save & Reboot" command a client would send.
	require.Eventually(t, func() bool { return d.Global.OnReboot != nil }, time.Second, time.Millisecond)
	d.Global.OnReboot()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down after Save & Reboot")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d, err := New(Config{
		Flash:       flashenv.NewInMemory(0x1600000),
		HAL:         uart.NewSim(false),
		MetricsAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down after context cancellation")
	}
}
