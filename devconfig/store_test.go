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

package devconfig

import (
	"testing"

	"github.com/facebook/nportd/flashenv"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(flashenv.NewInMemory(0x200000))
}

func TestInitFallsBackToDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init())

	var alias string
	var opMode OpMode
	s.View(func(cfg *SystemConfiguration) {
		alias = cfg.Channels[0].Alias
		opMode = cfg.Channels[0].OpMode
	})
	require.Equal(t, "Port 1", alias)
	require.Equal(t, OpTCPServer, opMode)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init())

	s.Mutate(func(cfg *SystemConfiguration) {
		cfg.Device.ServerName = "my-nport"
		cfg.Channels[2].Baud = 115200
	})
	require.NoError(t, s.Save())

	s2 := New(s.flash)
	require.NoError(t, s2.LoadFromFlash())
	s2.View(func(cfg *SystemConfiguration) {
		require.Equal(t, "my-nport", cfg.Device.ServerName)
		require.Equal(t, 115200, cfg.Channels[2].Baud)
	})
}

func TestLoadFactoryDefaultsIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.LoadDefaults()
	require.NoError(t, s.Save())
	var first SystemConfiguration
	s.View(func(cfg *SystemConfiguration) { first = *cfg })

	s.LoadDefaults()
	require.NoError(t, s.Save())
	var second SystemConfiguration
	s.View(func(cfg *SystemConfiguration) { second = *cfg })

	require.Equal(t, first.Device.ModelName, second.Device.ModelName)
	require.Equal(t, first.Channels[0].Alias, second.Channels[0].Alias)
}

func TestDefaultPacketSizeClamped(t *testing.T) {
	size, interval := DefaultPacketSizeFor(115200)
	require.Equal(t, 1, interval)
	require.GreaterOrEqual(t, size, MinPacketSize)
	require.LessOrEqual(t, size, MaxPacketSize)

	size, _ = DefaultPacketSizeFor(2000000)
	require.Equal(t, MaxPacketSize, size)

	size, _ = DefaultPacketSizeFor(50)
	require.Equal(t, MinPacketSize, size)
}
