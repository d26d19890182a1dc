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

//go:build linux || freebsd || dragonfly || darwin

// Package socket creates the non-blocking listening sockets of the engine and
// applies socket options to them and to the accepted connections.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/pkg/errors"
)

// Option is used for setting an option on socket.
type Option struct {
	SetSockOpt func(int, int) error
	Opt        int
}

// TCPSocket creates a non-blocking TCP socket bound to addr and listening on it.
// The returned address is the one the kernel actually bound, so a zero port
// is resolved to the chosen one.
func TCPSocket(proto, addr string, sockOpts ...Option) (int, net.Addr, error) {
	sa, family, ipv6only, err := getTCPSockaddr(proto, addr)
	if err != nil {
		return -1, nil, err
	}
	return listen(family, unix.IPPROTO_TCP, sa, ipv6only, sockOpts)
}

// UnixSocket creates a non-blocking unix stream socket bound to the path addr and listening on it.
func UnixSocket(proto, addr string, sockOpts ...Option) (int, net.Addr, error) {
	unixAddr, err := net.ResolveUnixAddr(proto, addr)
	if err != nil {
		return -1, nil, err
	}
	if unixAddr.Network() != "unix" {
		return -1, nil, errors.ErrUnsupportedUDSProtocol
	}
	return listen(unix.AF_UNIX, 0, &unix.SockaddrUnix{Name: unixAddr.Name}, false, sockOpts)
}

func listen(family, proto int, sa unix.Sockaddr, ipv6only bool, sockOpts []Option) (fd int, netAddr net.Addr, err error) {
	if fd, err = sysSocket(family, unix.SOCK_STREAM, proto); err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if family == unix.AF_INET6 && ipv6only {
		if err = SetIPv6Only(fd, 1); err != nil {
			return
		}
	}

	for _, sockOpt := range sockOpts {
		if err = sockOpt.SetSockOpt(fd, sockOpt.Opt); err != nil {
			return
		}
	}

	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, listenerBacklogMaxSize)); err != nil {
		return
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		err = os.NewSyscallError("getsockname", err)
		return
	}
	netAddr = SockaddrToTCPOrUnixAddr(bound)
	return
}

func getTCPSockaddr(proto, addr string) (sa unix.Sockaddr, family int, ipv6only bool, err error) {
	tcpAddr, err := net.ResolveTCPAddr(proto, addr)
	if err != nil {
		return
	}

	switch proto {
	case "tcp4":
		family = unix.AF_INET
	case "tcp6":
		family, ipv6only = unix.AF_INET6, true
	case "tcp":
		// No host or an IPv6 host listens on both stacks, an IPv4 host only on IPv4.
		family = unix.AF_INET6
		if tcpAddr.IP.To4() != nil {
			family = unix.AF_INET
		}
	default:
		err = errors.ErrUnsupportedTCPProtocol
		return
	}

	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		return sa4, family, false, nil
	}

	sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
	if tcpAddr.IP != nil {
		copy(sa6.Addr[:], tcpAddr.IP.To16())
	}
	if tcpAddr.Zone != "" {
		var iface *net.Interface
		if iface, err = net.InterfaceByName(tcpAddr.Zone); err != nil {
			return
		}
		sa6.ZoneId = uint32(iface.Index)
	}
	return sa6, family, ipv6only, nil
}
