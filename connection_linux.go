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

import "github.com/netloom/netloom/internal/netpoll"

func (c *conn) processIO(ev netpoll.IOEvent) {
	el := c.loop
	// Flush before reading, a peer that hung up still gets what was queued for it.
	if ev&netpoll.OutEvents != 0 && !c.outbound.IsEmpty() {
		el.flush(c)
	}
	if ev&netpoll.InEvents != 0 {
		switch c.State() {
		case StateEstablished:
			el.read(c)
		case StateClosing:
			el.discard(c)
		}
	}
}
