// Copyright (c) 2019 The Gnet Authors. All rights reserved.
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

import "sync/atomic"

// connMatrix is the registry shard of one event-loop, only the owning loop
// mutates it, other goroutines may read the count.
type connMatrix struct {
	count atomic.Int32
	conns map[int]*conn // fd -> conn
}

func (cm *connMatrix) init() {
	cm.conns = make(map[int]*conn)
}

func (cm *connMatrix) iterate(f func(*conn) bool) {
	for _, c := range cm.conns {
		if !f(c) {
			return
		}
	}
}

func (cm *connMatrix) loadCount() int32 {
	return cm.count.Load()
}

func (cm *connMatrix) addConn(c *conn) {
	if _, ok := cm.conns[c.fd]; ok {
		return
	}
	cm.conns[c.fd] = c
	cm.count.Add(1)
}

func (cm *connMatrix) delConn(c *conn) {
	if cur, ok := cm.conns[c.fd]; ok && cur == c {
		delete(cm.conns, c.fd)
		cm.count.Add(-1)
	}
}

func (cm *connMatrix) getConn(fd int) *conn {
	return cm.conns[fd]
}
