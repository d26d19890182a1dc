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

package group

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/errors"
)

type fakeMember struct {
	id uint64

	mu       sync.Mutex
	received []netloom.Message
	writeErr error
}

func (m *fakeMember) ID() uint64 { return m.id }

func (m *fakeMember) AsyncWrite(msg netloom.Message, _ netloom.AsyncCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.received = append(m.received, msg)
	return nil
}

func (m *fakeMember) messages() []netloom.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]netloom.Message(nil), m.received...)
}

func TestBroadcastSkipsSender(t *testing.T) {
	g := New("lobby")
	a, b, c := &fakeMember{id: 1}, &fakeMember{id: 2}, &fakeMember{id: 3}
	for _, m := range []*fakeMember{a, b, c} {
		require.NoError(t, g.Join(m))
	}
	assert.Equal(t, "lobby", g.Name())
	assert.Equal(t, []uint64{1, 2, 3}, g.Members())

	assert.Equal(t, 2, g.Broadcast(a, "hi"))
	assert.Empty(t, a.messages())
	assert.Equal(t, []netloom.Message{"hi"}, b.messages())
	assert.Equal(t, []netloom.Message{"hi"}, c.messages())

	assert.Equal(t, 3, g.Broadcast(nil, "notice"))
	assert.Equal(t, []netloom.Message{"notice"}, a.messages())
}

func TestHistoryReplay(t *testing.T) {
	g := New("replay", WithBacklog(2))
	for _, msg := range []string{"one", "two", "three"} {
		assert.Zero(t, g.Broadcast(nil, msg))
	}
	assert.Equal(t, []netloom.Message{"two", "three"}, g.History(), "the oldest entry is dropped first")

	late := &fakeMember{id: 9}
	require.NoError(t, g.Join(late))
	assert.Equal(t, []netloom.Message{"two", "three"}, late.messages())

	require.NoError(t, g.Join(late))
	assert.Len(t, late.messages(), 2, "joining twice replays nothing")

	quiet := New("quiet", WithBacklog(0))
	quiet.Broadcast(nil, "lost")
	assert.Empty(t, quiet.History())
}

func TestMaxMembers(t *testing.T) {
	g := New("small", WithMaxMembers(2))
	require.NoError(t, g.Join(&fakeMember{id: 1}))
	second := &fakeMember{id: 2}
	require.NoError(t, g.Join(second))
	assert.ErrorIs(t, g.Join(&fakeMember{id: 3}), errors.ErrGroupFull)

	assert.True(t, g.Leave(second))
	assert.False(t, g.Leave(second))
	assert.NoError(t, g.Join(&fakeMember{id: 3}))
	assert.Equal(t, 2, g.Len())
}

func TestFailedWriteDropsMember(t *testing.T) {
	g := New("flaky")
	good, bad := &fakeMember{id: 1}, &fakeMember{id: 2, writeErr: errors.ErrConnectionClosing}
	require.NoError(t, g.Join(good))
	require.NoError(t, g.Join(bad))

	assert.Equal(t, 1, g.Broadcast(nil, "ping"))
	assert.Equal(t, []uint64{1}, g.Members())

	assert.ErrorIs(t, g.Join(bad), errors.ErrConnectionClosing, "replaying the history fails too")
	assert.Equal(t, 1, g.Len())
}

func TestConcurrentBroadcast(t *testing.T) {
	g := New("busy", WithBacklog(8))
	members := make([]*fakeMember, 10)
	for i := range members {
		members[i] = &fakeMember{id: uint64(i + 1)}
		require.NoError(t, g.Join(members[i]))
	}

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *fakeMember) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				g.Broadcast(m, i)
			}
		}(m)
	}
	wg.Wait()

	for _, m := range members {
		assert.Len(t, m.messages(), 9*50)
	}
	assert.Len(t, g.History(), 8)
}
