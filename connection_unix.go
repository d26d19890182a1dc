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
	"net"
	"time"

	"github.com/netloom/netloom/internal/queue"
	"github.com/netloom/netloom/pkg/buffer/elastic"
	"github.com/netloom/netloom/pkg/errors"
)

// interest is the set of events a connection is registered for in its poller.
type interest uint8

const (
	interestRead interest = iota
	interestReadWrite
	interestWrite
)

type conn struct {
	id            uint64             // unique id within the engine
	fd            int                // file descriptor
	ctx           any                // user-defined context
	state         atomicState        // lifecycle state
	localAddr     net.Addr           // local addr
	remoteAddr    net.Addr           // remote addr
	loop          *eventloop         // connected event-loop
	pipeline      *Pipeline          // sealed pipeline
	interest      interest           // events registered in the poller
	inbound       elastic.RingBuffer // bytes read but not framed yet
	outbound      elastic.RingBuffer // bytes waiting for the socket to become writable
	openedAt      time.Time          // time of registration
	lastActive    time.Time          // time of the last successful read or write
	closeDeadline time.Time          // time past which pending writes are dropped
	closeErr      error              // error handed to OnClose
	peerClosed    bool               // the peer has sent its FIN
	writeShut     bool               // our FIN has been sent
	bytesIn       uint64
	bytesOut      uint64
}

func newConn(id uint64, fd int, el *eventloop, p *Pipeline, localAddr, remoteAddr net.Addr) *conn {
	return &conn{
		id:         id,
		fd:         fd,
		loop:       el,
		pipeline:   p,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
	}
}

func (c *conn) release() {
	c.pipeline.release()
	c.inbound.Release()
	c.outbound.Release()
	c.ctx = nil
}

func (c *conn) info() ConnInfo {
	return ConnInfo{
		ID:         c.id,
		LocalAddr:  c.localAddr,
		RemoteAddr: c.remoteAddr,
		State:      c.State(),
		Loop:       c.loop.idx,
		Pipeline:   c.pipeline.Names(),
		OpenedAt:   c.openedAt,
		BytesIn:    c.bytesIn,
		BytesOut:   c.bytesOut,
	}
}

// ==================================== Implementation of Conn ====================================

func (c *conn) ID() uint64           { return c.id }
func (c *conn) LocalAddr() net.Addr  { return c.localAddr }
func (c *conn) RemoteAddr() net.Addr { return c.remoteAddr }
func (c *conn) State() State         { return c.state.load() }
func (c *conn) Context() any         { return c.ctx }
func (c *conn) SetContext(ctx any)   { c.ctx = ctx }
func (c *conn) Pipeline() []string   { return c.pipeline.Names() }

func (c *conn) Write(msg Message) error {
	if err := c.writable(); err != nil {
		return err
	}
	return c.loop.send(c, msg)
}

type asyncWriteReq struct {
	c   *conn
	msg Message
	cb  AsyncCallback
}

func (c *conn) AsyncWrite(msg Message, cb AsyncCallback) error {
	if err := c.writable(); err != nil {
		return err
	}
	return c.loop.poller.Trigger(queue.LowPriority, c.loop.asyncWrite, &asyncWriteReq{c, msg, cb})
}

func (c *conn) Close() error {
	if c.State() >= StateClosing {
		return nil
	}
	return c.loop.poller.Trigger(queue.LowPriority, c.loop.asyncClose, c)
}

func (c *conn) writable() error {
	switch c.State() {
	case StateOpen, StateEstablished:
		return nil
	case StateClosing:
		return errors.ErrConnectionClosing
	}
	return errors.ErrConnectionClosed
}
