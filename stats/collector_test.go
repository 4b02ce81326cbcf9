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

package stats

import (
	"testing"

	"github.com/facebook/nportd/devconfig"
	"github.com/facebook/nportd/flashenv"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type fakeJitter struct{}

func (fakeJitter) TickJitterMean() float64      { return 42.5 }
func (fakeJitter) TickJitterVariance() float64  { return 1.5 }
func (fakeJitter) RxDropped(channel int) uint64 { return uint64(channel) }

func newTestStore(t *testing.T) *devconfig.Store {
	t.Helper()
	store := devconfig.New(flashenv.NewInMemory(0x200000))
	store.LoadDefaults()
	store.Mutate(func(cfg *devconfig.SystemConfiguration) {
		cfg.Channels[0].RxCount = 100
		cfg.Channels[0].TxCount = 50
	})
	return store
}

func TestCollectorGathersChannelAndSchedulerMetrics(t *testing.T) {
	store := newTestStore(t)
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(store, fakeJitter{}))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		names[f.GetName()] = f
	}

	require.Contains(t, names, "nportd_channel_rx_bytes_total")
	require.Contains(t, names, "nportd_scheduler_tick_duration_microseconds_mean")

	rxFamily := names["nportd_channel_rx_bytes_total"]
	require.Len(t, rxFamily.Metric, devconfig.NumPorts)
}

func TestCollectorWithoutSchedulerOmitsJitterMetrics(t *testing.T) {
	store := newTestStore(t)
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(store, nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		require.NotEqual(t, "nportd_scheduler_tick_duration_microseconds_mean", f.GetName())
	}
}
