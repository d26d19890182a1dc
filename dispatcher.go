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
	"fmt"
	"runtime/debug"

	errorx "github.com/netloom/netloom/pkg/errors"
)

// dispatch hands one decoded message to the event handler and writes back its reply.
// A failing or panicking handler only closes c, the event-loop keeps serving the rest.
func (el *eventloop) dispatch(c *conn, msg Message) {
	el.engine.stats.dispatched.Add(1)
	out, err := el.invoke(c, msg)
	if err != nil {
		el.fail(c, errorx.KindHandler, "dispatch", err)
		return
	}
	if out != nil {
		_ = el.send(c, out)
	}
}

func (el *eventloop) invoke(c *conn, msg Message) (out Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			el.getLogger().Errorf("panic in OnMessage of connection %d: %v\n%s", c.id, r, debug.Stack())
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return el.eventHandler.OnMessage(c, msg)
}

// fail classifies cause, counts it and starts closing c.
func (el *eventloop) fail(c *conn, kind errorx.Kind, op string, cause error) error {
	switch kind {
	case errorx.KindDecode:
		el.engine.stats.decodeFailures.Add(1)
	case errorx.KindHandler:
		el.engine.stats.handlerFailures.Add(1)
	case errorx.KindEncode:
		el.engine.stats.encodeFailures.Add(1)
	}
	err := errorx.New(kind, c.id, op, cause)
	el.getLogger().Warnf("closing connection %d from %v in event-loop(%d): %v", c.id, c.remoteAddr, el.idx, err)
	el.beginClose(c, err)
	return err
}
