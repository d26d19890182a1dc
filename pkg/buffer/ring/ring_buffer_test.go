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

package ring

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferWriteRead(t *testing.T) {
	rb := New(64)
	assert.True(t, rb.IsEmpty())
	assert.False(t, rb.IsFull())
	assert.EqualValues(t, 0, rb.Buffered())
	assert.EqualValues(t, 64, rb.Available())

	_, err := rb.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrIsEmpty)

	data := []byte(strings.Repeat("abcd", 4))
	n, _ := rb.Write(data)
	assert.EqualValues(t, 16, n)
	assert.EqualValues(t, 16, rb.Buffered())
	assert.EqualValues(t, 48, rb.Available())
	assert.Equal(t, data, rb.Bytes())

	n, _ = rb.Write([]byte(strings.Repeat("abcd", 12)))
	assert.EqualValues(t, 48, n)
	assert.True(t, rb.IsFull())
	assert.EqualValues(t, 0, rb.Available())
	assert.Equal(t, []byte(strings.Repeat("abcd", 16)), rb.Bytes())

	// One more write grows the buffer and keeps the content in order.
	_, _ = rb.WriteString("wxyz")
	assert.EqualValues(t, 128, rb.Cap())
	assert.EqualValues(t, 68, rb.Buffered())
	assert.Equal(t, []byte(strings.Repeat("abcd", 16)+"wxyz"), rb.Bytes())

	buf := make([]byte, 66)
	n, err = rb.Read(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 66, n)
	assert.Equal(t, []byte(strings.Repeat("abcd", 16)+"wx"), buf)
	assert.Equal(t, []byte("yz"), rb.Bytes())
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := New(16)
	_, _ = rb.WriteString("0123456789ab")
	discarded, err := rb.Discard(10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, discarded)

	_, _ = rb.WriteString("cdefghij")
	head, tail := rb.Peek(-1)
	assert.Equal(t, "abcdef", string(head))
	assert.Equal(t, "ghij", string(tail))
	assert.EqualValues(t, 16, rb.Cap())

	head, tail = rb.Peek(3)
	assert.Equal(t, "abc", string(head))
	assert.Empty(t, tail)

	head, tail = rb.Peek(8)
	assert.Equal(t, "abcdef", string(head))
	assert.Equal(t, "gh", string(tail))

	discarded, _ = rb.Discard(100)
	assert.EqualValues(t, 10, discarded)
	assert.True(t, rb.IsEmpty())
}

func TestZeroRingBuffer(t *testing.T) {
	rb := New(0)
	head, tail := rb.Peek(2)
	assert.Empty(t, head)
	assert.Empty(t, tail)
	assert.EqualValues(t, 0, rb.Available())

	buf := []byte(strings.Repeat("1234", 12))
	_, _ = rb.Write(buf)
	assert.EqualValues(t, DefaultBufferSize, rb.Cap())
	assert.Equal(t, buf, rb.Bytes())
	_, _ = rb.Discard(48)
	assert.True(t, rb.IsEmpty())

	rb.Release()
	assert.EqualValues(t, 0, rb.Cap())
	_, _ = rb.WriteString("again")
	assert.Equal(t, []byte("again"), rb.Bytes())
}

func TestRingBufferGrowBeyondThreshold(t *testing.T) {
	rb := New(bufferGrowThreshold)
	data := make([]byte, bufferGrowThreshold+1)
	_, err := rand.Read(data)
	require.NoError(t, err)

	_, _ = rb.Write(data)
	assert.EqualValues(t, bufferGrowThreshold+bufferGrowThreshold/4, rb.Cap())
	assert.True(t, bytes.Equal(data, rb.Bytes()))
}
