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

//go:build darwin || dragonfly || freebsd || linux

package netloom

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/internal/netpoll"
	"github.com/netloom/netloom/internal/queue"
	"github.com/netloom/netloom/internal/socket"
	errorx "github.com/netloom/netloom/pkg/errors"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func (eng *engine) runAcceptor() error {
	defer close(eng.acceptorDone)

	err := eng.acceptor.Polling(eng.accept)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		eng.opts.Logger.Debugf("main reactor is exiting due to engine shutdown")
		return nil
	}
	eng.opts.Logger.Errorf("main reactor is exiting due to error: %v", err)
	eng.shutdown(err)
	return err
}

func (eng *engine) accept(fd int, _ netpoll.IOEvent) error {
	nfd, sa, err := socket.Accept(fd)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			return nil
		}
		eng.stats.acceptFailures.Add(1)
		eng.opts.Logger.Errorf("%v", errorx.New(errorx.KindAccept, 0, "accept", err))
		eng.backoff()
		return nil
	}
	eng.acceptDelay = 0

	remoteAddr := socket.SockaddrToTCPOrUnixAddr(sa)
	localAddr := eng.ln.addr
	if lsa, err := unix.Getsockname(nfd); err == nil {
		if addr := socket.SockaddrToTCPOrUnixAddr(lsa); addr != nil {
			localAddr = addr
		}
	}
	if eng.ln.network == "tcp" {
		eng.setConnOptions(nfd)
	}

	p := eng.opts.PipelineFactory()
	if p == nil {
		p = NewPipeline()
	}
	if err = p.seal(); err != nil {
		eng.opts.Logger.Errorf("rejecting connection from %v, invalid pipeline: %v", remoteAddr, err)
		_ = unix.Close(nfd)
		return nil
	}

	el := eng.eventLoops.next(remoteAddr)
	c := newConn(eng.nextID.Add(1), nfd, el, p, localAddr, remoteAddr)
	eng.stats.accepted.Add(1)
	if err = el.poller.Trigger(queue.HighPriority, el.register, c); err != nil {
		c.release()
		_ = unix.Close(nfd)
		eng.opts.Logger.Errorf("failed to hand connection %d over to event-loop(%d): %v", c.id, el.idx, err)
	}
	return nil
}

func (eng *engine) setConnOptions(fd int) {
	if eng.opts.TCPNoDelay == TCPNoDelay {
		if err := socket.SetNoDelay(fd, 1); err != nil {
			eng.opts.Logger.Warnf("failed to set TCP_NODELAY on fd=%d: %v", fd, err)
		}
	}
	if eng.opts.TCPKeepAlive > 0 {
		secs := int(eng.opts.TCPKeepAlive / time.Second)
		if secs < 1 {
			secs = 1
		}
		if err := socket.SetKeepAlivePeriod(fd, secs); err != nil {
			eng.opts.Logger.Warnf("failed to set TCP keep-alive on fd=%d: %v", fd, err)
		}
	}
}

// backoff sleeps after a failed accept, the delay doubles up to a second
// while accept keeps failing, running out of file descriptors being the usual cause.
func (eng *engine) backoff() {
	if eng.acceptDelay == 0 {
		eng.acceptDelay = minAcceptDelay
	} else if eng.acceptDelay *= 2; eng.acceptDelay > maxAcceptDelay {
		eng.acceptDelay = maxAcceptDelay
	}
	time.Sleep(eng.acceptDelay)
}
