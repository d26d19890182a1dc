// Copyright (c) 2024 The Netloom Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports the counters of a netloom engine to Prometheus.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/logging"
)

const namespace = "netloom"

// DefaultSnapshotTimeout bounds how long a scrape waits for the event-loops to report their connections.
const DefaultSnapshotTimeout = time.Second

// Source is what a Collector reads, *netloom.Engine satisfies it.
type Source interface {
	Stats() netloom.Stats
	Snapshot(ctx context.Context) ([]netloom.ConnInfo, error)
}

type counter struct {
	desc  *prometheus.Desc
	value func(netloom.Stats) float64
}

// Collector is a prometheus.Collector reading an engine on every scrape.
type Collector struct {
	source          Source
	snapshotTimeout time.Duration
	logger          logging.Logger

	counters  []counter
	active    *prometheus.Desc
	states    *prometheus.Desc
	loops     *prometheus.Desc
	connBytes *prometheus.Desc
}

// NewCollector returns a Collector for source, labels are attached to every metric.
func NewCollector(source Source, labels prometheus.Labels) *Collector {
	newDesc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}
	newCounter := func(name, help string, value func(netloom.Stats) float64) counter {
		return counter{newDesc(name, help), value}
	}
	return &Collector{
		source:          source,
		snapshotTimeout: DefaultSnapshotTimeout,
		logger:          logging.GetDefaultLogger(),
		counters: []counter{
			newCounter("connections_accepted_total", "Connections accepted by the listener.",
				func(s netloom.Stats) float64 { return float64(s.Accepted) }),
			newCounter("accept_failures_total", "Failed accept calls.",
				func(s netloom.Stats) float64 { return float64(s.AcceptFailures) }),
			newCounter("connections_closed_total", "Connections that reached the closed state.",
				func(s netloom.Stats) float64 { return float64(s.Closed) }),
			newCounter("messages_dispatched_total", "Decoded messages handed to the event handler.",
				func(s netloom.Stats) float64 { return float64(s.Dispatched) }),
			newCounter("decode_failures_total", "Connections closed because their input could not be decoded.",
				func(s netloom.Stats) float64 { return float64(s.DecodeFailures) }),
			newCounter("handler_failures_total", "Connections closed because the handler failed or panicked.",
				func(s netloom.Stats) float64 { return float64(s.HandlerFailures) }),
			newCounter("encode_failures_total", "Connections closed because a reply could not be encoded.",
				func(s netloom.Stats) float64 { return float64(s.EncodeFailures) }),
			newCounter("write_timeouts_total", "Closing connections that did not flush within the close grace.",
				func(s netloom.Stats) float64 { return float64(s.WriteTimeouts) }),
			newCounter("idle_timeouts_total", "Connections closed for inactivity.",
				func(s netloom.Stats) float64 { return float64(s.IdleTimeouts) }),
			newCounter("read_bytes_total", "Bytes read from connections.",
				func(s netloom.Stats) float64 { return float64(s.BytesRead) }),
			newCounter("written_bytes_total", "Bytes written to connections.",
				func(s netloom.Stats) float64 { return float64(s.BytesWritten) }),
		},
		active:    newDesc("connections_active", "Connections registered with an event-loop."),
		states:    newDesc("connections", "Registered connections by lifecycle state.", "state"),
		loops:     newDesc("loop_connections", "Registered connections by event-loop.", "loop"),
		connBytes: newDesc("connection_bytes", "Bytes transferred by the registered connections.", "direction"),
	}
}

// SetSnapshotTimeout changes how long a scrape waits for the event-loops.
func (c *Collector) SetSnapshotTimeout(d time.Duration) {
	if d > 0 {
		c.snapshotTimeout = d
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, ctr := range c.counters {
		ch <- ctr.desc
	}
	ch <- c.active
	ch <- c.states
	ch <- c.loops
	ch <- c.connBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, ctr := range c.counters {
		ch <- prometheus.MustNewConstMetric(ctr.desc, prometheus.CounterValue, ctr.value(stats))
	}
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(stats.Active))

	ctx, cancel := context.WithTimeout(context.Background(), c.snapshotTimeout)
	defer cancel()
	infos, err := c.source.Snapshot(ctx)
	if err != nil {
		c.logger.Warnf("failed to take a connection snapshot for metrics: %v", err)
		return
	}

	byState := map[netloom.State]int{
		netloom.StateOpen:        0,
		netloom.StateEstablished: 0,
		netloom.StateClosing:     0,
	}
	byLoop := make(map[int]int)
	var in, out uint64
	for _, info := range infos {
		byState[info.State]++
		byLoop[info.Loop]++
		in += info.BytesIn
		out += info.BytesOut
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.states, prometheus.GaugeValue, float64(n), state.String())
	}
	for loop, n := range byLoop {
		ch <- prometheus.MustNewConstMetric(c.loops, prometheus.GaugeValue, float64(n), strconv.Itoa(loop))
	}
	ch <- prometheus.MustNewConstMetric(c.connBytes, prometheus.GaugeValue, float64(in), "in")
	ch <- prometheus.MustNewConstMetric(c.connBytes, prometheus.GaugeValue, float64(out), "out")
}
