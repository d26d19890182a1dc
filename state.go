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

package netloom

import (
	"strconv"
	"sync/atomic"
)

// State is the lifecycle state of a connection. States only ever move forward:
// Open, Established, Closing, Closed.
type State int32

const (
	// StateOpen is a connection that has been accepted but not yet registered with its event-loop.
	StateOpen State = iota
	// StateEstablished is a connection registered with its event-loop, OnOpen has fired.
	StateEstablished
	// StateClosing is a connection that no longer reads and is flushing its pending writes.
	StateClosing
	// StateClosed is a connection whose socket has been closed, OnClose has fired.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

type atomicState struct {
	v atomic.Int32
}

func (s *atomicState) load() State {
	return State(s.v.Load())
}

// advance moves the state to `to` and returns the state it moved from,
// ok is false when the current state is already at or past `to`.
func (s *atomicState) advance(to State) (from State, ok bool) {
	for {
		cur := s.v.Load()
		if State(cur) >= to {
			return State(cur), false
		}
		if s.v.CompareAndSwap(cur, int32(to)) {
			return State(cur), true
		}
	}
}
