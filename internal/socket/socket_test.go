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

package socket

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/pkg/errors"
)

func acceptWithin(t *testing.T, fd int, d time.Duration) (int, unix.Sockaddr) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		nfd, sa, err := Accept(fd)
		if err == nil {
			return nfd, sa
		}
		require.ErrorIs(t, err, unix.EAGAIN)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no connection accepted in time")
	return -1, nil
}

func TestTCPSocketListenAndAccept(t *testing.T) {
	fd, addr, err := TCPSocket("tcp", "127.0.0.1:0", Option{SetSockOpt: SetReuseAddr, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck

	tcpAddr, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, tcpAddr.Port, "the kernel-chosen port should be reported")
	assert.True(t, tcpAddr.IP.Equal(net.IPv4(127, 0, 0, 1)))

	client, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer client.Close()

	nfd, sa := acceptWithin(t, fd, 5*time.Second)
	defer unix.Close(nfd) //nolint:errcheck
	remote := SockaddrToTCPOrUnixAddr(sa)
	assert.Equal(t, client.LocalAddr().String(), remote.String())

	require.NoError(t, SetNoDelay(nfd, 1))
	require.NoError(t, SetKeepAlivePeriod(nfd, 15))
	assert.Error(t, SetKeepAlivePeriod(nfd, 0))
	require.NoError(t, SetLinger(nfd, -1))

	flags, err := unix.FcntlInt(uintptr(nfd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "accepted sockets must be non-blocking")
}

func TestTCPSocketBindConflict(t *testing.T) {
	fd, addr, err := TCPSocket("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck

	_, _, err = TCPSocket("tcp4", addr.String())
	assert.ErrorIs(t, err, unix.EADDRINUSE)

	_, _, err = TCPSocket("udp", "127.0.0.1:0")
	assert.Error(t, err)
}

func TestUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netloom.sock")
	fd, addr, err := UnixSocket("unix", path)
	require.NoError(t, err)
	defer unix.Close(fd) //nolint:errcheck
	assert.Equal(t, path, addr.String())

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()
	nfd, _ := acceptWithin(t, fd, 5*time.Second)
	_ = unix.Close(nfd)

	_, _, err = UnixSocket("unixgram", path)
	assert.ErrorIs(t, err, errors.ErrUnsupportedUDSProtocol)
}
