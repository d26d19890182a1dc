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

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/eapache/queue"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/config"
	errorx "github.com/netloom/netloom/pkg/errors"
	"github.com/netloom/netloom/pkg/group"
	"github.com/netloom/netloom/pkg/logging"
	"github.com/netloom/netloom/pkg/pool/goroutine"
)

// service answers with the decoded line itself in echo mode, or forwards it to
// every other connection in relay mode.
type service struct {
	*netloom.BuiltinEventEngine

	mode    string
	stdout  io.Writer
	logger  logging.Logger
	relay   *group.Group
	workers *goroutine.Pool
}

func newService(cfg *config.Config, stdout io.Writer, logger logging.Logger) (*service, error) {
	s := &service{mode: cfg.Mode, stdout: stdout, logger: logger}
	if cfg.Mode == config.ModeRelay {
		s.relay = group.New("relay",
			group.WithBacklog(cfg.RelayBacklog),
			group.WithMaxMembers(cfg.RelayMaxMembers),
			group.WithLogger(logger))
	}
	if cfg.AsyncWorkers > 0 {
		workers, err := goroutine.New(cfg.AsyncWorkers)
		if err != nil {
			return nil, err
		}
		s.workers = workers
	}
	return s, nil
}

func (s *service) release() {
	if s.workers != nil {
		s.workers.Release()
	}
}

func (s *service) OnBoot(eng *netloom.Engine) netloom.Action {
	addr := eng.Addr()
	fmt.Fprintf(s.stdout, "netloomd %s service listening on %s://%s\n", s.mode, addr.Network(), addr)
	return netloom.None
}

func (s *service) OnShutdown(eng *netloom.Engine) {
	stats := eng.Stats()
	s.logger.Infof("netloomd stopped after serving %d connections and %d messages", stats.Accepted, stats.Dispatched)
}

func (s *service) OnOpen(c netloom.Conn) (netloom.Message, netloom.Action) {
	if s.relay == nil {
		if s.workers != nil {
			c.SetContext(&replies{pending: queue.New()})
		}
		return nil, netloom.None
	}
	if err := s.relay.Join(c); err != nil {
		return "ERROR: " + failureText(err), netloom.Close
	}
	return nil, netloom.None
}

func (s *service) OnMessage(c netloom.Conn, msg netloom.Message) (netloom.Message, error) {
	if s.relay != nil {
		s.relay.Broadcast(c, msg)
		return nil, nil
	}
	if s.workers == nil {
		return msg, nil
	}
	s.reply(c, msg)
	return nil, nil
}

// replies holds the answers of one connection that are waiting for a worker,
// at most one worker writes them at a time so they leave in order.
type replies struct {
	mu      sync.Mutex
	pending *queue.Queue
	running bool
}

func (s *service) reply(c netloom.Conn, msg netloom.Message) {
	r := c.Context().(*replies)
	r.mu.Lock()
	r.pending.Add(msg)
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	if err := s.workers.Submit(func() { s.flushReplies(c, r) }); err != nil {
		// Every worker is busy, answer from the event-loop instead.
		s.logger.Debugf("worker pool unavailable for connection %d: %v", c.ID(), err)
		s.flushReplies(c, r)
	}
}

func (s *service) flushReplies(c netloom.Conn, r *replies) {
	for {
		r.mu.Lock()
		if r.pending.Length() == 0 {
			r.running = false
			r.mu.Unlock()
			return
		}
		msg := r.pending.Remove()
		r.mu.Unlock()
		if err := c.AsyncWrite(msg, nil); err != nil {
			s.logger.Debugf("dropping reply to connection %d: %v", c.ID(), err)
		}
	}
}

func (s *service) OnClose(c netloom.Conn, err error) netloom.Action {
	if s.relay != nil {
		s.relay.Leave(c)
	}
	if err != nil && !errors.Is(err, errorx.ErrPeerClosed) {
		s.logger.Debugf("connection %d from %s closed: %v", c.ID(), c.RemoteAddr(), err)
	}
	return netloom.None
}

// OnFailure is the error line sent to a client before its connection is closed.
func (s *service) OnFailure(_ netloom.Conn, err error) netloom.Message {
	return "ERROR: " + failureText(err)
}

func failureText(err error) string {
	if kind := errorx.KindOf(err); kind != errorx.KindUnknown {
		return kind.String()
	}
	return strings.TrimPrefix(err.Error(), "netloom: ")
}
