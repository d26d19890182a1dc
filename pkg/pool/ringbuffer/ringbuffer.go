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

// Package ringbuffer pools ring buffers for the per-connection inbound and outbound queues.
package ringbuffer

import (
	"sync"

	"github.com/netloom/netloom/pkg/buffer/ring"
)

// MaxPooledSize is the largest capacity a ring-buffer may have to be put back into the pool,
// bigger ones are left to the garbage collector so that a burst does not pin memory.
const MaxPooledSize = 1 << 20

// RingBuffer is the alias of ring.Buffer.
type RingBuffer = ring.Buffer

var builtinPool = sync.Pool{New: func() any { return ring.New(0) }}

// Get returns an empty ring-buffer from the pool.
func Get() *RingBuffer {
	return builtinPool.Get().(*RingBuffer)
}

// Put returns the ring-buffer to the pool, it must not be touched afterwards.
func Put(rb *RingBuffer) {
	if rb == nil || rb.Cap() > MaxPooledSize {
		return
	}
	rb.Reset()
	builtinPool.Put(rb)
}
