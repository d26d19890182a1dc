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

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom"
)

type fakeSource struct {
	stats netloom.Stats
	infos []netloom.ConnInfo
	err   error
}

func (s *fakeSource) Stats() netloom.Stats { return s.stats }

func (s *fakeSource) Snapshot(context.Context) ([]netloom.ConnInfo, error) {
	return s.infos, s.err
}

func TestCollectorCounters(t *testing.T) {
	src := &fakeSource{stats: netloom.Stats{
		Accepted:       12,
		Active:         2,
		Closed:         10,
		Dispatched:     40,
		DecodeFailures: 1,
		BytesRead:      512,
	}}
	c := NewCollector(src, prometheus.Labels{"service": "echo"})

	expected := `
# HELP netloom_connections_accepted_total Connections accepted by the listener.
# TYPE netloom_connections_accepted_total counter
netloom_connections_accepted_total{service="echo"} 12
# HELP netloom_connections_active Connections registered with an event-loop.
# TYPE netloom_connections_active gauge
netloom_connections_active{service="echo"} 2
# HELP netloom_decode_failures_total Connections closed because their input could not be decoded.
# TYPE netloom_decode_failures_total counter
netloom_decode_failures_total{service="echo"} 1
# HELP netloom_read_bytes_total Bytes read from connections.
# TYPE netloom_read_bytes_total counter
netloom_read_bytes_total{service="echo"} 512
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"netloom_connections_accepted_total",
		"netloom_connections_active",
		"netloom_decode_failures_total",
		"netloom_read_bytes_total"))
}

func TestCollectorSnapshotGauges(t *testing.T) {
	src := &fakeSource{infos: []netloom.ConnInfo{
		{ID: 1, State: netloom.StateEstablished, Loop: 0, BytesIn: 10, BytesOut: 4},
		{ID: 2, State: netloom.StateEstablished, Loop: 1, BytesIn: 5},
		{ID: 3, State: netloom.StateClosing, Loop: 1, BytesOut: 7},
	}}
	c := NewCollector(src, nil)

	expected := `
# HELP netloom_connections Registered connections by lifecycle state.
# TYPE netloom_connections gauge
netloom_connections{state="closing"} 1
netloom_connections{state="established"} 2
netloom_connections{state="open"} 0
# HELP netloom_loop_connections Registered connections by event-loop.
# TYPE netloom_loop_connections gauge
netloom_loop_connections{loop="0"} 1
netloom_loop_connections{loop="1"} 2
# HELP netloom_connection_bytes Bytes transferred by the registered connections.
# TYPE netloom_connection_bytes gauge
netloom_connection_bytes{direction="in"} 15
netloom_connection_bytes{direction="out"} 11
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"netloom_connections", "netloom_loop_connections", "netloom_connection_bytes"))
}

func TestCollectorSnapshotFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("loop is gone")}
	c := NewCollector(src, nil)
	c.SetSnapshotTimeout(0)
	assert.Equal(t, DefaultSnapshotTimeout, c.snapshotTimeout)

	// Only the counters and the active gauge are reported.
	assert.Equal(t, 12, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	_, err := reg.Gather()
	assert.NoError(t, err)
}
