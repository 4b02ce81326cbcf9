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

// Package stats exposes the daemon's per-channel counters and the
// scheduler's tick-jitter statistics as a Prometheus /metrics endpoint,
// adapted from ptp4u/stats's JSON snapshot-and-serve shape to a
// registered prometheus.Collector (SPEC_FULL.md §3).
package stats

import (
	"strconv"

	"github.com/facebook/nportd/devconfig"
	"github.com/prometheus/client_golang/prometheus"
)

// jitterSource is the subset of *scheduler.Scheduler this package needs;
// narrow so tests can supply a fake.
type jitterSource interface {
	TickJitterMean() float64
	TickJitterVariance() float64
	RxDropped(channel int) uint64
}

// Collector implements prometheus.Collector, reading the live store and
// scheduler on every scrape rather than caching a periodic snapshot:
// channel counters only change on scheduler ticks, so a scrape-time
// read under the store's mutex is cheap and always current.
type Collector struct {
	store *devconfig.Store
	sched jitterSource

	rxCount   *prometheus.Desc
	txCount   *prometheus.Desc
	rxNet     *prometheus.Desc
	txNet     *prometheus.Desc
	rxDropped *prometheus.Desc
	clients   *prometheus.Desc

	tickJitterMean *prometheus.Desc
	tickJitterVar  *prometheus.Desc
}

// NewCollector builds a Collector bound to store and sched.
func NewCollector(store *devconfig.Store, sched jitterSource) *Collector {
	channelLabels := []string{"channel", "alias"}
	return &Collector{
		store: store,
		sched: sched,
		rxCount: prometheus.NewDesc("nportd_channel_rx_bytes_total",
			"Bytes received from the UART on this channel.", channelLabels, nil),
		txCount: prometheus.NewDesc("nportd_channel_tx_bytes_total",
			"Bytes transmitted to the UART on this channel.", channelLabels, nil),
		rxNet: prometheus.NewDesc("nportd_channel_rx_net_bytes_total",
			"Bytes read from the UART and sent to the network on this channel.", channelLabels, nil),
		txNet: prometheus.NewDesc("nportd_channel_tx_net_bytes_total",
			"Bytes received from the network and queued for the UART on this channel.", channelLabels, nil),
		rxDropped: prometheus.NewDesc("nportd_channel_rx_dropped_total",
			"UART receive bytes dropped due to ring buffer overflow.", channelLabels, nil),
		clients: prometheus.NewDesc("nportd_channel_data_clients",
			"Currently connected data-plane clients on this channel.", channelLabels, nil),
		tickJitterMean: prometheus.NewDesc("nportd_scheduler_tick_duration_microseconds_mean",
			"Streaming mean of the scheduler tick duration.", nil, nil),
		tickJitterVar: prometheus.NewDesc("nportd_scheduler_tick_duration_microseconds_variance",
			"Streaming variance of the scheduler tick duration.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rxCount
	ch <- c.txCount
	ch <- c.rxNet
	ch <- c.txNet
	ch <- c.rxDropped
	ch <- c.clients
	ch <- c.tickJitterMean
	ch <- c.tickJitterVar
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.store.View(func(cfg *devconfig.SystemConfiguration) {
		for i := range cfg.Channels {
			cur := &cfg.Channels[i]
			labels := []string{strconv.Itoa(i), cur.Alias}
			ch <- prometheus.MustNewConstMetric(c.rxCount, prometheus.CounterValue, float64(cur.RxCount), labels...)
			ch <- prometheus.MustNewConstMetric(c.txCount, prometheus.CounterValue, float64(cur.TxCount), labels...)
			ch <- prometheus.MustNewConstMetric(c.rxNet, prometheus.CounterValue, float64(cur.RxNet), labels...)
			ch <- prometheus.MustNewConstMetric(c.txNet, prometheus.CounterValue, float64(cur.TxNet), labels...)
			ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(cur.Data.NumClients()), labels...)
			if c.sched != nil {
				ch <- prometheus.MustNewConstMetric(c.rxDropped, prometheus.CounterValue, float64(c.sched.RxDropped(i)), labels...)
			}
		}
	})

	if c.sched != nil {
		ch <- prometheus.MustNewConstMetric(c.tickJitterMean, prometheus.GaugeValue, c.sched.TickJitterMean())
		ch <- prometheus.MustNewConstMetric(c.tickJitterVar, prometheus.GaugeValue, c.sched.TickJitterVariance())
	}
}
