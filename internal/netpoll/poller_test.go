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

//go:build linux || freebsd || dragonfly || darwin

package netpoll

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/internal/queue"
	errorx "github.com/netloom/netloom/pkg/errors"
)

func TestPollerTasksAndReadiness(t *testing.T) {
	p, err := OpenPoller()
	require.NoError(t, err)
	defer p.Close() //nolint:errcheck

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0]) //nolint:errcheck
	defer unix.Close(fds[1]) //nolint:errcheck
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, p.AddRead(fds[0]))

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	readable := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		done <- p.Polling(func(fd int, _ IOEvent) error {
			if fd != fds[0] {
				return nil
			}
			n, _ := unix.Read(fd, buf)
			if n > 0 {
				record("read:" + string(buf[:n]))
				close(readable)
			}
			return nil
		})
	}()

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)
	select {
	case <-readable:
	case <-time.After(5 * time.Second):
		t.Fatal("socket never reported readable")
	}

	for _, s := range []string{"low-1", "low-2"} {
		s := s
		require.NoError(t, p.Trigger(queue.LowPriority, func(any) error {
			record(s)
			return nil
		}, nil))
	}
	require.NoError(t, p.Trigger(queue.LowPriority, func(arg any) error {
		record(arg.(string))
		return errorx.ErrEngineShutdown
	}, "stop"))

	select {
	case err = <-done:
		assert.ErrorIs(t, err, errorx.ErrEngineShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"read:ping", "low-1", "low-2", "stop"}, order)
}
