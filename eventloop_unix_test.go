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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/codec"
)

// viewRecorder remembers where the end of every buffer it is asked to frame lives.
type viewRecorder struct {
	FrameDecoder
	ends []*byte
}

func (r *viewRecorder) DecodeFrame(buf []byte) ([]byte, int, error) {
	if len(buf) > 0 {
		r.ends = append(r.ends, &buf[len(buf)-1])
	}
	return r.FrameDecoder.DecodeFrame(buf)
}

func newDetachedConn(t *testing.T, s *testServer, framer FrameDecoder) *conn {
	t.Helper()
	el := &eventloop{engine: &engine{opts: &Options{Logger: testLogger()}}, eventHandler: s}
	p := NewPipeline().AddLast("frame", framer).AddLast("string", codec.StringCodec{})
	require.NoError(t, p.seal())
	c := newConn(1, -1, el, p, nil, nil)
	_, ok := c.state.advance(StateEstablished)
	require.True(t, ok)
	return c
}

func TestDecodeInboundWrappedBuffer(t *testing.T) {
	s := newTestServer()
	var got []string
	s.onMessage = func(_ Conn, msg Message) (Message, error) {
		got = append(got, msg.(string))
		return nil, nil
	}
	rec := &viewRecorder{FrameDecoder: codec.NewLineBasedFrameDecoder(0)}
	c := newDetachedConn(t, s, rec)

	// Rotate one 7-byte record through the ring until it straddles the end.
	record := []byte("tick-0\n")
	_, _ = c.inbound.Write(record)
	for {
		if _, tail := c.inbound.Peek(-1); len(tail) > 0 {
			break
		}
		_, _ = c.inbound.Write(record)
		_, _ = c.inbound.Discard(len(record))
	}

	want := []string{"tick-0"}
	var batch []byte
	for i := 0; i < 50; i++ {
		line := fmt.Sprintf("line-%02d", i)
		want = append(want, line)
		batch = append(batch, line+"\n"...)
	}
	batch = append(batch, "partial"...)
	c.loop.decodeInbound(c, batch)

	assert.Equal(t, want, got)
	require.Len(t, rec.ends, len(want)+1)
	for _, end := range rec.ends {
		assert.Same(t, rec.ends[0], end, "all frames are cut from a single view of the buffer")
	}
	assert.Equal(t, len("partial"), c.inbound.Buffered())

	c.loop.decodeInbound(c, []byte("\n"))
	assert.Equal(t, "partial", got[len(got)-1])
	assert.True(t, c.inbound.IsEmpty())
	assert.EqualValues(t, len(want)+1, c.loop.engine.stats.dispatched.Load())
}

func TestDecodeInboundWithoutBacklog(t *testing.T) {
	s := newTestServer()
	var got []string
	s.onMessage = func(_ Conn, msg Message) (Message, error) {
		got = append(got, msg.(string))
		return nil, nil
	}
	c := newDetachedConn(t, s, codec.NewLineBasedFrameDecoder(0))

	c.loop.decodeInbound(c, []byte("a\nb\nc"))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, c.inbound.Buffered(), "only the partial frame is buffered")

	c.loop.decodeInbound(c, []byte("d\n"))
	assert.Equal(t, []string{"a", "b", "cd"}, got)
	assert.True(t, c.inbound.IsEmpty())
}
