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

//go:build freebsd || dragonfly || darwin

package netloom

import "github.com/netloom/netloom/internal/netpoll"

func (c *conn) processIO(filter netpoll.IOEvent) {
	el := c.loop
	switch filter {
	case netpoll.EVFilterWrite:
		if !c.outbound.IsEmpty() {
			el.flush(c)
		}
	case netpoll.EVFilterRead:
		c.readOrDiscard()
	case netpoll.EVFilterSock:
		// EOF or error: whatever is still buffered in the socket is read
		// until read reports the end.
		if !c.outbound.IsEmpty() {
			el.flush(c)
		}
		c.readOrDiscard()
	}
}

func (c *conn) readOrDiscard() {
	switch c.State() {
	case StateEstablished:
		c.loop.read(c)
	case StateClosing:
		c.loop.discard(c)
	}
}
