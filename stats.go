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

import "sync/atomic"

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Accepted        uint64
	AcceptFailures  uint64
	Active          int64
	Closed          uint64
	Dispatched      uint64
	DecodeFailures  uint64
	HandlerFailures uint64
	EncodeFailures  uint64
	WriteTimeouts   uint64
	IdleTimeouts    uint64
	BytesRead       uint64
	BytesWritten    uint64
}

type stats struct {
	accepted        atomic.Uint64
	acceptFailures  atomic.Uint64
	active          atomic.Int64
	closed          atomic.Uint64
	dispatched      atomic.Uint64
	decodeFailures  atomic.Uint64
	handlerFailures atomic.Uint64
	encodeFailures  atomic.Uint64
	writeTimeouts   atomic.Uint64
	idleTimeouts    atomic.Uint64
	bytesRead       atomic.Uint64
	bytesWritten    atomic.Uint64
}

func (s *stats) load() Stats {
	return Stats{
		Accepted:        s.accepted.Load(),
		AcceptFailures:  s.acceptFailures.Load(),
		Active:          s.active.Load(),
		Closed:          s.closed.Load(),
		Dispatched:      s.dispatched.Load(),
		DecodeFailures:  s.decodeFailures.Load(),
		HandlerFailures: s.handlerFailures.Load(),
		EncodeFailures:  s.encodeFailures.Load(),
		WriteTimeouts:   s.writeTimeouts.Load(),
		IdleTimeouts:    s.idleTimeouts.Load(),
		BytesRead:       s.bytesRead.Load(),
		BytesWritten:    s.bytesWritten.Load(),
	}
}
