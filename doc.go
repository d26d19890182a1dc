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

/*
Package netloom implements an event-driven TCP and unix stream socket engine.

A main reactor accepts connections and hands each of them to one of a fixed set of
event-loops, every event-loop owns an epoll or kqueue poller and is the only goroutine
that ever touches its connections. Other goroutines reach a connection by submitting
tasks to its event-loop, which is what Conn.AsyncWrite and Conn.Close do.

Inbound bytes go through the connection's Pipeline: an optional FrameDecoder cuts
frames out of the buffered bytes, Decoders transform them, and the resulting message
is dispatched to EventHandler.OnMessage exactly once. Replies run through the Encoders
in reverse order before they hit the socket.

Connections walk through Open, Established, Closing and Closed, and never back.
A connection that is closing stops reading and flushes what has been queued for at
most the close grace before its socket is closed.

Echo server built upon netloom is shown below:

	package main

	import (
		"log"

		"github.com/netloom/netloom"
		"github.com/netloom/netloom/pkg/codec"
	)

	type echoServer struct {
		*netloom.BuiltinEventEngine
	}

	func (es *echoServer) OnMessage(c netloom.Conn, msg netloom.Message) (netloom.Message, error) {
		return msg, nil
	}

	func main() {
		lines := func() *netloom.Pipeline {
			return netloom.NewPipeline().
				AddLast("frame", codec.NewLineBasedFrameDecoder(8192)).
				AddLast("line", codec.NewLineEncoder())
		}
		log.Fatal(netloom.Run(&echoServer{}, "tcp://:9000",
			netloom.WithMulticore(true),
			netloom.WithPipelineFactory(lines)))
	}
*/
package netloom
