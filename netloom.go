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

package netloom

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/netloom/netloom/pkg/errors"
)

// Action is an action that occurs after the completion of an event.
type Action int

const (
	// None indicates that no action should occur following an event.
	None Action = iota

	// Close closes the connection.
	Close

	// Shutdown shuts down the engine.
	Shutdown
)

// Message is whatever travels through a pipeline: raw frames come in as []byte,
// decoders may turn them into anything, encoders must end with []byte or string.
type Message = any

// AsyncCallback is called on the event-loop once an asynchronous write has been carried out,
// err is nil when the message was encoded and handed to the socket or the outbound buffer.
type AsyncCallback func(c Conn, err error) error

// Conn is the interface of a connection served by an event-loop.
type Conn interface {
	// ID returns the unique identifier of the connection, ids are never reused within an engine.
	ID() uint64

	// LocalAddr is the connection's local socket address.
	LocalAddr() net.Addr

	// RemoteAddr is the connection's remote peer address.
	RemoteAddr() net.Addr

	// State returns the current lifecycle state, it is safe to call from any goroutine.
	State() State

	// Context returns a user-defined context, it's not concurrency-safe,
	// you must invoke it within any method in EventHandler.
	Context() (ctx any)

	// SetContext sets a user-defined context, it's not concurrency-safe,
	// you must invoke it within any method in EventHandler.
	SetContext(ctx any)

	// Pipeline returns the names of the connection's stages in order.
	Pipeline() []string

	// Write encodes msg through the pipeline and writes it to the peer, it's not
	// concurrency-safe, you must invoke it within any method in EventHandler.
	Write(msg Message) error

	// AsyncWrite encodes and writes msg on the event-loop that owns the connection,
	// it's concurrency-safe. cb is optional.
	AsyncWrite(msg Message, cb AsyncCallback) error

	// Close moves the connection to Closing, flushing what has been queued before
	// the socket is closed. It's concurrency-safe and idempotent.
	Close() error
}

type (
	// EventHandler represents the engine events' callbacks for the Run call.
	// Each event has an Action return value that is used manage the state
	// of the connection and engine.
	EventHandler interface {
		// OnBoot fires when the engine is ready for accepting connections.
		// The parameter engine has information and various utilities.
		OnBoot(eng *Engine) (action Action)

		// OnShutdown fires when the engine is being shut down, it is called right after
		// all event-loops and connections are closed.
		OnShutdown(eng *Engine)

		// OnOpen fires when a new connection has been registered with its event-loop.
		// The parameter out is the return value which is going to be sent back to the peer.
		OnOpen(c Conn) (out Message, action Action)

		// OnMessage fires once for every message decoded from the connection's inbound bytes.
		// A non-nil out is encoded through the same pipeline and written back, a non-nil err
		// closes the connection.
		OnMessage(c Conn, msg Message) (out Message, err error)

		// OnClose fires exactly once when a connection has been closed.
		// The parameter err is the last known connection error.
		OnClose(c Conn, err error) (action Action)

		// OnTick fires immediately after the engine starts and will fire again
		// following the duration specified by the delay return value.
		OnTick() (delay time.Duration, action Action)
	}

	// BuiltinEventEngine is a built-in implementation of EventHandler which sets up each method with a default implementation,
	// you can compose it with your own implementation of EventHandler when you don't want to implement all methods
	// in EventHandler.
	BuiltinEventEngine struct{}
)

// OnBoot fires when the engine is ready for accepting connections.
func (*BuiltinEventEngine) OnBoot(_ *Engine) (action Action) {
	return
}

// OnShutdown fires when the engine is being shut down.
func (*BuiltinEventEngine) OnShutdown(_ *Engine) {
}

// OnOpen fires when a new connection has been registered.
func (*BuiltinEventEngine) OnOpen(_ Conn) (out Message, action Action) {
	return
}

// OnMessage fires when a message has been decoded.
func (*BuiltinEventEngine) OnMessage(_ Conn, _ Message) (out Message, err error) {
	return
}

// OnClose fires when a connection has been closed.
func (*BuiltinEventEngine) OnClose(_ Conn, _ error) (action Action) {
	return
}

// OnTick fires immediately after the engine starts and will fire again
// following the duration specified by the delay return value.
func (*BuiltinEventEngine) OnTick() (delay time.Duration, action Action) {
	return
}

// StateObserver is implemented by handlers that want to see every lifecycle transition.
// It is called on the event-loop that owns c.
type StateObserver interface {
	OnStateChange(c Conn, from, to State)
}

// FailureResponder is implemented by handlers that send a last message to the peer
// when a connection is closed by a decode, handler, encode or idle failure.
// A nil return sends nothing.
type FailureResponder interface {
	OnFailure(c Conn, err error) Message
}

// ConnInfo is a point-in-time view of a connection, see Engine.Snapshot.
type ConnInfo struct {
	ID         uint64
	LocalAddr  net.Addr
	RemoteAddr net.Addr
	State      State
	Loop       int
	Pipeline   []string
	OpenedAt   time.Time
	BytesIn    uint64
	BytesOut   uint64
}

// Engine represents an engine context which provides some functions.
type Engine struct {
	eng *engine
}

// Run starts serving connections and blocks until the engine has been stopped,
// either by Stop or by an event handler returning Shutdown.
func (e *Engine) Run() error {
	return e.eng.run()
}

// Stop gracefully shuts down the engine: the listener is closed first, then every connection
// is drained within the close grace. It waits for Run to return or ctx to be done.
func (e *Engine) Stop(ctx context.Context) error {
	return e.eng.stopWait(ctx)
}

// Addr returns the address the engine is listening on.
func (e *Engine) Addr() net.Addr {
	return e.eng.addr()
}

// CountConnections counts the number of currently active connections.
func (e *Engine) CountConnections() int {
	return e.eng.countConnections()
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return e.eng.stats.load()
}

// Snapshot returns every live connection, sorted by id, as seen by the event-loops
// that own them.
func (e *Engine) Snapshot(ctx context.Context) ([]ConnInfo, error) {
	return e.eng.snapshot(ctx)
}

// Run creates an engine listening on protoAddr and serves it until it is stopped.
//
// protoAddr should use a scheme prefix like "tcp://192.168.0.10:9851" or "unix://socket".
// Valid network schemes:
//
//	tcp   - bind to both IPv4 and IPv6
//	tcp4  - IPv4
//	tcp6  - IPv6
//	unix  - Unix Domain Socket
//
// The "tcp" network scheme is assumed when one is not specified.
func Run(eventHandler EventHandler, protoAddr string, opts ...Option) error {
	eng, err := NewEngine(protoAddr, eventHandler, opts...)
	if err != nil {
		return err
	}
	return eng.Run()
}

func parseProtoAddr(protoAddr string) (network, address string, err error) {
	network, address = "tcp", protoAddr
	if pair := strings.SplitN(protoAddr, "://", 2); len(pair) == 2 {
		network, address = strings.ToLower(pair[0]), pair[1]
	}
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return "", "", errors.ErrUnsupportedProtocol
	}
	if address == "" {
		return "", "", errors.ErrInvalidNetworkAddress
	}
	return
}
