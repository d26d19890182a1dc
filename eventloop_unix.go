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
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/internal/netpoll"
	"github.com/netloom/netloom/internal/queue"
	errorx "github.com/netloom/netloom/pkg/errors"
	"github.com/netloom/netloom/pkg/logging"
	bbPool "github.com/netloom/netloom/pkg/pool/bytebuffer"
)

type eventloop struct {
	idx          int              // loop index in the engine loops list
	engine       *engine          // engine in loop
	poller       *netpoll.Poller  // epoll or kqueue
	buffer       []byte           // read packet buffer whose capacity is set by user, default value is 64KB
	connections  connMatrix       // loop connections storage
	eventHandler EventHandler     // user eventHandler
	observer     StateObserver    // optional capability of eventHandler
	responder    FailureResponder // optional capability of eventHandler
	draining     bool             // no more connections are taken, the loop exits once it has none
	done         chan struct{}    // closed when the loop goroutine returns
}

func newEventloop(eng *engine) (*eventloop, error) {
	p, err := netpoll.OpenPoller()
	if err != nil {
		return nil, err
	}
	el := &eventloop{
		engine:       eng,
		poller:       p,
		buffer:       make([]byte, eng.opts.ReadBufferCap),
		eventHandler: eng.eventHandler,
		done:         make(chan struct{}),
	}
	el.observer, _ = eng.eventHandler.(StateObserver)
	el.responder, _ = eng.eventHandler.(FailureResponder)
	el.connections.init()
	return el, nil
}

func (el *eventloop) getLogger() logging.Logger {
	return el.engine.opts.Logger
}

func (el *eventloop) countConn() int32 {
	return el.connections.loadCount()
}

func (el *eventloop) run() error {
	if el.engine.opts.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer close(el.done)

	err := el.poller.Polling(el.processIO)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		el.getLogger().Debugf("event-loop(%d) is exiting due to engine shutdown", el.idx)
		err = nil
	} else if err != nil {
		el.getLogger().Errorf("event-loop(%d) is exiting due to error: %v", el.idx, err)
		el.engine.shutdown(err)
	}
	el.closeConns()
	return err
}

func (el *eventloop) processIO(fd int, ev netpoll.IOEvent) error {
	if c := el.connections.getConn(fd); c != nil {
		c.processIO(ev)
	}
	return el.drained()
}

// drained tells the poller to stop once a draining loop has closed its last connection.
func (el *eventloop) drained() error {
	if el.draining && el.connections.loadCount() == 0 {
		return errorx.ErrEngineShutdown
	}
	return nil
}

func (el *eventloop) closeConns() {
	el.connections.iterate(func(c *conn) bool {
		el.abort(c, errorx.ErrEngineShutdown)
		return true
	})
}

func (el *eventloop) transition(c *conn, to State) bool {
	from, ok := c.state.advance(to)
	if ok && el.observer != nil {
		el.observer.OnStateChange(c, from, to)
	}
	return ok
}

func (el *eventloop) setInterest(c *conn, want interest) (err error) {
	if c.interest == want {
		return nil
	}
	switch want {
	case interestRead:
		err = el.poller.ModRead(c.fd)
	case interestReadWrite:
		err = el.poller.ModReadWrite(c.fd)
	case interestWrite:
		err = el.poller.ModWrite(c.fd)
	}
	if err == nil {
		c.interest = want
	}
	return
}

func (el *eventloop) register(a any) error {
	c := a.(*conn)
	if el.draining {
		c.state.advance(StateClosed)
		c.release()
		return os.NewSyscallError("close", unix.Close(c.fd))
	}
	if err := el.poller.AddRead(c.fd); err != nil {
		c.state.advance(StateClosed)
		c.release()
		_ = unix.Close(c.fd)
		return fmt.Errorf("failed to register fd=%d in event-loop(%d): %v", c.fd, el.idx, err)
	}
	c.interest = interestRead
	c.openedAt = time.Now()
	c.lastActive = c.openedAt
	el.connections.addConn(c)
	el.engine.stats.active.Add(1)
	el.transition(c, StateEstablished)
	return el.open(c)
}

func (el *eventloop) open(c *conn) error {
	out, action := el.eventHandler.OnOpen(c)
	if out != nil && c.State() == StateEstablished {
		_ = el.send(c, out)
	}
	el.handleAction(c, action)
	return nil
}

func (el *eventloop) read(c *conn) {
	n, err := unix.Read(c.fd, el.buffer)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return
	case err != nil:
		el.abort(c, os.NewSyscallError("read", err))
		return
	case n == 0:
		c.peerClosed = true
		el.beginClose(c, errorx.ErrPeerClosed)
		return
	}
	c.bytesIn += uint64(n)
	c.lastActive = time.Now()
	el.engine.stats.bytesRead.Add(uint64(n))

	el.decodeInbound(c, el.buffer[:n])
}

// decodeInbound frames data behind whatever is still buffered for c and dispatches
// every complete frame, a partial frame stays buffered until more bytes arrive.
func (el *eventloop) decodeInbound(c *conn, data []byte) {
	if c.inbound.IsEmpty() {
		n := el.decodeFrames(c, data)
		if c.State() == StateEstablished && n < len(data) {
			_, _ = c.inbound.Write(data[n:])
		}
		return
	}

	_, _ = c.inbound.Write(data)
	buf, bb := c.inbound.Contiguous()
	n := el.decodeFrames(c, buf)
	bbPool.Put(bb)
	if c.State() == StateEstablished {
		_, _ = c.inbound.Discard(n)
	}
}

// decodeFrames cuts frames off the front of buf until it runs out of complete
// ones, it returns the number of bytes consumed.
func (el *eventloop) decodeFrames(c *conn, buf []byte) (consumed int) {
	for c.State() == StateEstablished && consumed < len(buf) {
		frame, n, err := c.pipeline.frame(buf[consumed:])
		if err != nil {
			_ = el.fail(c, errorx.KindDecode, "decode", err)
			return
		}
		if n == 0 {
			return
		}
		consumed += n
		if frame == nil {
			continue
		}
		var msg Message
		if msg, err = c.pipeline.decode(bytes.Clone(frame)); err != nil {
			_ = el.fail(c, errorx.KindDecode, "decode", err)
			return
		}
		if msg != nil {
			el.dispatch(c, msg)
		}
	}
	return
}

// discard drains input arriving after c started closing, so that closing the
// socket sends a FIN rather than a reset.
func (el *eventloop) discard(c *conn) {
	n, err := unix.Read(c.fd, el.buffer)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
	case err != nil:
		el.abort(c, os.NewSyscallError("read", err))
	case n == 0:
		c.peerClosed = true
		if c.outbound.IsEmpty() {
			el.finalize(c)
		} else if err = el.setInterest(c, interestWrite); err != nil {
			el.abort(c, err)
		}
	}
}

// send encodes msg through the pipeline of c and writes the result.
func (el *eventloop) send(c *conn, msg Message) error {
	data, err := c.pipeline.encode(msg)
	if err != nil {
		return el.fail(c, errorx.KindEncode, "encode", err)
	}
	return el.write(c, data)
}

func (el *eventloop) write(c *conn, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if c.State() == StateClosed {
		return errorx.ErrConnectionClosed
	}
	if !c.outbound.IsEmpty() {
		_, _ = c.outbound.Write(data)
		return nil
	}

	n, err := unix.Write(c.fd, data)
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		err = os.NewSyscallError("write", err)
		el.abort(c, err)
		return err
	}
	if n > 0 {
		el.wrote(c, n)
		data = data[n:]
	}
	if len(data) == 0 {
		return nil
	}

	// The socket is full, keep the rest and wait for it to become writable.
	_, _ = c.outbound.Write(data)
	if err = el.setInterest(c, el.writeInterest(c)); err != nil {
		el.abort(c, err)
	}
	return err
}

func (el *eventloop) wrote(c *conn, n int) {
	c.bytesOut += uint64(n)
	c.lastActive = time.Now()
	el.engine.stats.bytesWritten.Add(uint64(n))
}

// flush writes out the outbound buffer of c as far as the socket takes it.
func (el *eventloop) flush(c *conn) {
	for !c.outbound.IsEmpty() {
		head, _ := c.outbound.Peek(-1)
		n, err := unix.Write(c.fd, head)
		if n > 0 {
			_, _ = c.outbound.Discard(n)
			el.wrote(c, n)
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		if err != nil {
			el.abort(c, os.NewSyscallError("write", err))
			return
		}
	}

	// All data have been sent, it's no need to monitor the writable events,
	// a closing connection only waits for its peer to hang up from now on.
	if c.State() == StateClosing {
		el.closeWrite(c)
		return
	}
	if err := el.setInterest(c, interestRead); err != nil {
		el.abort(c, err)
	}
}

// writeInterest is the interest set of c while it has pending writes, a closing
// connection keeps reading until its peer hangs up.
func (el *eventloop) writeInterest(c *conn) interest {
	if c.peerClosed {
		return interestWrite
	}
	return interestReadWrite
}

// beginClose moves c to Closing: unread input is dropped, what has been queued
// is flushed, then the write side is shut down and the socket is closed once
// the peer hangs up or the close grace runs out.
func (el *eventloop) beginClose(c *conn, err error) {
	if !el.transition(c, StateClosing) {
		return
	}
	c.closeErr = err
	c.closeDeadline = time.Now().Add(el.engine.opts.CloseGrace)
	c.inbound.Release()

	if el.responder != nil && errorx.IsConnectionScoped(err) {
		if msg := el.responder.OnFailure(c, err); msg != nil {
			_ = el.send(c, msg)
		}
	}

	switch {
	case c.State() == StateClosed:
	case c.outbound.IsEmpty():
		el.closeWrite(c)
	default:
		if err := el.setInterest(c, el.writeInterest(c)); err != nil {
			el.abort(c, err)
		}
	}
}

// closeWrite sends a FIN to the peer of a flushed closing connection.
func (el *eventloop) closeWrite(c *conn) {
	if c.peerClosed {
		el.finalize(c)
		return
	}
	if !c.writeShut {
		if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
			el.getLogger().Debugf("failed to shut down writing of fd=%d in event-loop(%d): %v", c.fd, el.idx, err)
			el.finalize(c)
			return
		}
		c.writeShut = true
	}
	if err := el.setInterest(c, interestRead); err != nil {
		el.abort(c, err)
	}
}

// abort closes c right away, dropping its pending writes.
func (el *eventloop) abort(c *conn, err error) {
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.outbound.Release()
	el.finalize(c)
}

// finalize closes the socket of c and fires OnClose, it runs once per connection.
func (el *eventloop) finalize(c *conn) {
	el.transition(c, StateClosing)
	if !el.transition(c, StateClosed) {
		return
	}

	if err := el.poller.Delete(c.fd); err != nil {
		el.getLogger().Debugf("failed to delete fd=%d from poller in event-loop(%d): %v", c.fd, el.idx, err)
	}
	if err := unix.Close(c.fd); err != nil {
		el.getLogger().Warnf("failed to close fd=%d in event-loop(%d): %v",
			c.fd, el.idx, os.NewSyscallError("close", err))
	}
	el.connections.delConn(c)
	el.engine.stats.active.Add(-1)
	el.engine.stats.closed.Add(1)

	action := el.eventHandler.OnClose(c, c.closeErr)
	c.release()
	el.handleAction(nil, action)
}

func (el *eventloop) handleAction(c *conn, action Action) {
	switch action {
	case Close:
		if c != nil {
			el.beginClose(c, nil)
		}
	case Shutdown:
		el.engine.shutdown(nil)
	}
}

func (el *eventloop) asyncWrite(a any) error {
	req := a.(*asyncWriteReq)
	c := req.c
	err := c.writable()
	if err == nil {
		err = el.send(c, req.msg)
	}
	if req.cb != nil {
		_ = req.cb(c, err)
	}
	return el.drained()
}

func (el *eventloop) asyncClose(a any) error {
	el.beginClose(a.(*conn), nil)
	return el.drained()
}

// drain stops the loop from taking new connections and starts closing the ones it has.
func (el *eventloop) drain(_ any) error {
	el.draining = true
	el.connections.iterate(func(c *conn) bool {
		el.beginClose(c, nil)
		return true
	})
	return el.drained()
}

// sweeper periodically asks the loop to enforce idle timeouts and close deadlines.
func (el *eventloop) sweeper() error {
	ticker := time.NewTicker(el.engine.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-el.done:
			return nil
		case <-ticker.C:
			if err := el.poller.Trigger(queue.LowPriority, el.sweep, nil); err != nil {
				el.getLogger().Debugf("failed to enqueue sweep task for event-loop(%d): %v", el.idx, err)
			}
		}
	}
}

func (el *eventloop) sweep(_ any) error {
	now := time.Now()
	idle := el.engine.opts.IdleTimeout
	el.connections.iterate(func(c *conn) bool {
		switch c.State() {
		case StateEstablished:
			if idle > 0 && now.Sub(c.lastActive) >= idle {
				el.engine.stats.idleTimeouts.Add(1)
				el.beginClose(c, errorx.New(errorx.KindIdleTimeout, c.id, "sweep", nil))
			}
		case StateClosing:
			if !now.After(c.closeDeadline) {
				break
			}
			if c.outbound.IsEmpty() {
				// Everything was written, the peer just never hung up.
				el.finalize(c)
			} else {
				el.engine.stats.writeTimeouts.Add(1)
				c.closeErr = errorx.New(errorx.KindWriteTimeout, c.id, "flush", c.closeErr)
				el.getLogger().Warnf("dropping %d pending bytes of connection %d in event-loop(%d): %v",
					c.outbound.Buffered(), c.id, el.idx, c.closeErr)
				el.abort(c, nil)
			}
		}
		return true
	})
	return el.drained()
}

type snapshotReq struct {
	infos []ConnInfo
	done  chan struct{}
}

func (el *eventloop) snapshot(a any) error {
	req := a.(*snapshotReq)
	el.connections.iterate(func(c *conn) bool {
		req.infos = append(req.infos, c.info())
		return true
	})
	close(req.done)
	return nil
}
