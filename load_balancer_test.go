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

//go:build darwin || dragonfly || freebsd || linux

package netloom

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoops(lb LoadBalancing, n int) loadBalancer {
	balancer := newLoadBalancer(lb)
	for i := 0; i < n; i++ {
		el := &eventloop{}
		el.connections.init()
		balancer.register(el)
	}
	return balancer
}

func loopAt(lb loadBalancer, idx int) (found *eventloop) {
	lb.iterate(func(i int, el *eventloop) bool {
		if i == idx {
			found = el
			return false
		}
		return true
	})
	return
}

func TestRoundRobinLoadBalancer(t *testing.T) {
	lb := newTestLoops(RoundRobin, 3)
	require.Equal(t, 3, lb.len())

	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, lb.next(nil).idx)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestLeastConnectionsLoadBalancer(t *testing.T) {
	lb := newTestLoops(LeastConnections, 3)
	assert.Equal(t, 0, lb.next(nil).idx, "ties go to the lowest index")

	loopAt(lb, 0).connections.addConn(&conn{fd: 10})
	loopAt(lb, 0).connections.addConn(&conn{fd: 11})
	loopAt(lb, 1).connections.addConn(&conn{fd: 12})
	assert.Equal(t, 2, lb.next(nil).idx)

	loopAt(lb, 2).connections.addConn(&conn{fd: 13})
	loopAt(lb, 2).connections.addConn(&conn{fd: 14})
	assert.Equal(t, 1, lb.next(nil).idx)
}

func TestSourceAddrHashLoadBalancer(t *testing.T) {
	lb := newTestLoops(SourceAddrHash, 4)

	a := &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 40001}
	b := &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 52000}
	assert.Same(t, lb.next(a), lb.next(b), "connections from one host share a loop")

	u := &net.UnixAddr{Name: "/tmp/netloom.sock", Net: "unix"}
	assert.Same(t, lb.next(u), lb.next(u))
	assert.GreaterOrEqual(t, lb.next(u).idx, 0)
}

func TestConnMatrix(t *testing.T) {
	var cm connMatrix
	cm.init()

	c1, c2 := &conn{id: 1, fd: 5}, &conn{id: 2, fd: 6}
	cm.addConn(c1)
	cm.addConn(c1)
	cm.addConn(c2)
	assert.EqualValues(t, 2, cm.loadCount())
	assert.Same(t, c1, cm.getConn(5))

	// A stale conn that reused the fd must not evict the live one.
	cm.delConn(&conn{id: 3, fd: 5})
	assert.Same(t, c1, cm.getConn(5))

	var ids []uint64
	cm.iterate(func(c *conn) bool {
		ids = append(ids, c.id)
		return true
	})
	assert.ElementsMatch(t, []uint64{1, 2}, ids)

	cm.delConn(c1)
	assert.Nil(t, cm.getConn(5))
	assert.EqualValues(t, 1, cm.loadCount())
}
