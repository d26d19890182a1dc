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

// Package ring implements a growable circular byte buffer.
package ring

import (
	"errors"

	"github.com/netloom/netloom/internal/toolkit"
	bsPool "github.com/netloom/netloom/pkg/pool/byteslice"
)

const (
	// DefaultBufferSize is the first-time allocation on a ring-buffer.
	DefaultBufferSize   = 1024     // 1KB
	bufferGrowThreshold = 4 * 1024 // 4KB
)

// ErrIsEmpty will be returned when trying to read an empty ring-buffer.
var ErrIsEmpty = errors.New("ring-buffer is empty")

// Buffer is a circular buffer that implements io.ReadWriter.
// The read pointer chases the write pointer, r == w means either
// empty or full and isEmpty tells the two apart.
type Buffer struct {
	buf     []byte
	size    int
	r       int // next position to read
	w       int // next position to write
	isEmpty bool
}

// New returns a new Buffer whose capacity is size rounded up to a power of two,
// a zero size defers the allocation to the first write.
func New(size int) *Buffer {
	if size == 0 {
		return &Buffer{isEmpty: true}
	}
	size = toolkit.CeilToPowerOfTwo(size)
	return &Buffer{buf: make([]byte, size), size: size, isEmpty: true}
}

// Peek returns the next n bytes without advancing the read pointer, split
// into head and tail when they wrap around; n <= 0 means everything.
func (rb *Buffer) Peek(n int) (head []byte, tail []byte) {
	if rb.isEmpty {
		return
	}
	buffered := rb.Buffered()
	if n <= 0 || n > buffered {
		n = buffered
	}
	if rb.r+n <= rb.size {
		return rb.buf[rb.r : rb.r+n], nil
	}
	return rb.buf[rb.r:], rb.buf[:n-(rb.size-rb.r)]
}

// Discard skips the next n bytes by advancing the read pointer.
func (rb *Buffer) Discard(n int) (discarded int, err error) {
	if n <= 0 {
		return 0, nil
	}
	buffered := rb.Buffered()
	if n < buffered {
		rb.r = (rb.r + n) % rb.size
		return n, nil
	}
	rb.Reset()
	return buffered, nil
}

// Read reads up to len(p) bytes into p, ErrIsEmpty is returned when nothing is buffered.
func (rb *Buffer) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if rb.isEmpty {
		return 0, ErrIsEmpty
	}
	head, tail := rb.Peek(len(p))
	n = copy(p, head)
	n += copy(p[n:], tail)
	_, _ = rb.Discard(n)
	return n, nil
}

// Write appends p to the buffer, growing it when p does not fit.
// It always writes len(p) bytes and never returns an error.
func (rb *Buffer) Write(p []byte) (n int, err error) {
	n = len(p)
	if n == 0 {
		return
	}
	if free := rb.Available(); n > free {
		rb.grow(rb.size + n - free)
	}
	if c := copy(rb.buf[rb.w:], p); c < n {
		copy(rb.buf, p[c:])
	}
	rb.w = (rb.w + n) % rb.size
	rb.isEmpty = false
	return
}

// WriteString writes the contents of the string s to buffer.
func (rb *Buffer) WriteString(s string) (int, error) {
	return rb.Write(toolkit.StringToBytes(s))
}

// Buffered returns the length of available bytes to read.
func (rb *Buffer) Buffered() int {
	switch {
	case rb.isEmpty:
		return 0
	case rb.w > rb.r:
		return rb.w - rb.r
	default:
		return rb.size - rb.r + rb.w
	}
}

// Available returns the length of available bytes to write without growing.
func (rb *Buffer) Available() int {
	return rb.size - rb.Buffered()
}

// Cap returns the size of the underlying buffer.
func (rb *Buffer) Cap() int {
	return rb.size
}

// Bytes returns a copy of all buffered bytes without moving the read pointer.
func (rb *Buffer) Bytes() []byte {
	head, tail := rb.Peek(-1)
	if len(head) == 0 {
		return nil
	}
	bb := make([]byte, 0, len(head)+len(tail))
	bb = append(bb, head...)
	return append(bb, tail...)
}

// IsFull tells if this ring-buffer is full.
func (rb *Buffer) IsFull() bool {
	return rb.r == rb.w && !rb.isEmpty
}

// IsEmpty tells if this ring-buffer is empty.
func (rb *Buffer) IsEmpty() bool {
	return rb.isEmpty
}

// Reset the read pointer and write pointer to zero.
func (rb *Buffer) Reset() {
	rb.isEmpty = true
	rb.r, rb.w = 0, 0
}

// Release drops the reset buffer's memory back to the slice pool.
func (rb *Buffer) Release() {
	rb.Reset()
	bsPool.Put(rb.buf)
	rb.buf, rb.size = nil, 0
}

func (rb *Buffer) grow(newCap int) {
	if n := rb.size; n == 0 {
		if newCap <= DefaultBufferSize {
			newCap = DefaultBufferSize
		} else {
			newCap = toolkit.CeilToPowerOfTwo(newCap)
		}
	} else if doubleCap := n + n; newCap <= doubleCap {
		if n < bufferGrowThreshold {
			newCap = doubleCap
		} else {
			// Grow by a quarter past the threshold, stop on overflow.
			for 0 < n && n < newCap {
				n += n / 4
			}
			if n > 0 {
				newCap = n
			}
		}
	}
	newBuf := bsPool.Get(newCap)
	buffered, _ := rb.Read(newBuf)
	bsPool.Put(rb.buf)
	rb.buf = newBuf
	rb.size = newCap
	rb.r, rb.w = 0, buffered%newCap
	rb.isEmpty = buffered == 0
}
