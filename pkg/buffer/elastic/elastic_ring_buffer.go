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

// Package elastic provides a ring-buffer that only holds memory while it has data.
package elastic

import (
	"github.com/netloom/netloom/pkg/buffer/ring"
	bbPool "github.com/netloom/netloom/pkg/pool/bytebuffer"
	rbPool "github.com/netloom/netloom/pkg/pool/ringbuffer"
)

// RingBuffer is the elastic wrapper of ring.Buffer, it borrows a ring.Buffer
// from the pool on the first write and hands it back once drained.
type RingBuffer struct {
	rb *ring.Buffer
}

func (b *RingBuffer) instance() *ring.Buffer {
	if b.rb == nil {
		b.rb = rbPool.Get()
	}
	return b.rb
}

func (b *RingBuffer) done() {
	if b.rb != nil && b.rb.IsEmpty() {
		rbPool.Put(b.rb)
		b.rb = nil
	}
}

// Release returns the underlying ring-buffer to the pool, dropping whatever is buffered.
func (b *RingBuffer) Release() {
	if b.rb != nil {
		rbPool.Put(b.rb)
		b.rb = nil
	}
}

// Peek returns the next n bytes without advancing the read pointer,
// it returns all bytes when n <= 0.
func (b *RingBuffer) Peek(n int) (head []byte, tail []byte) {
	if b.rb == nil {
		return nil, nil
	}
	return b.rb.Peek(n)
}

// Contiguous returns all buffered bytes as one slice without advancing the read pointer.
// When the data wraps around the ring it is copied into a pooled ByteBuffer, which the
// caller must put back with bytebuffer.Put once the slice is no longer referenced.
func (b *RingBuffer) Contiguous() ([]byte, *bbPool.ByteBuffer) {
	head, tail := b.Peek(-1)
	if len(tail) == 0 {
		return head, nil
	}
	bb := bbPool.Get()
	_, _ = bb.Write(head)
	_, _ = bb.Write(tail)
	return bb.B, bb
}

// Discard skips the next n bytes by advancing the read pointer.
func (b *RingBuffer) Discard(n int) (int, error) {
	if b.rb == nil {
		return 0, nil
	}
	defer b.done()
	return b.rb.Discard(n)
}

// Read reads up to len(p) bytes into p.
func (b *RingBuffer) Read(p []byte) (int, error) {
	defer b.done()
	return b.instance().Read(p)
}

// Write appends p to the buffer.
func (b *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.instance().Write(p)
}

// WriteString appends s to the buffer.
func (b *RingBuffer) WriteString(s string) (int, error) {
	if len(s) == 0 {
		return 0, nil
	}
	return b.instance().WriteString(s)
}

// Buffered returns the length of available bytes to read.
func (b *RingBuffer) Buffered() int {
	if b.rb == nil {
		return 0
	}
	return b.rb.Buffered()
}

// IsEmpty tells if this ring-buffer is empty.
func (b *RingBuffer) IsEmpty() bool {
	return b.rb == nil || b.rb.IsEmpty()
}

// Reset drops the buffered bytes and returns the ring-buffer to the pool.
func (b *RingBuffer) Reset() {
	b.Release()
}
