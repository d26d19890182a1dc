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

// Package group fans messages out to a set of connections. A group keeps a
// bounded history of what was broadcast and replays it to every member that
// joins later, the oldest entry is dropped once the history is full.
//
// Members are written through Conn.AsyncWrite, so Broadcast may be called
// from any event-loop or goroutine.
package group

import (
	"sort"
	"sync"

	"github.com/eapache/queue"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/errors"
	"github.com/netloom/netloom/pkg/logging"
)

// DefaultBacklog is the number of broadcast messages kept for replay.
const DefaultBacklog = 16

// Member is the part of netloom.Conn a group writes to.
type Member interface {
	ID() uint64
	AsyncWrite(msg netloom.Message, cb netloom.AsyncCallback) error
}

// Option configures a Group.
type Option func(g *Group)

// WithBacklog sets how many broadcast messages are replayed to new members, zero disables the history.
func WithBacklog(n int) Option {
	return func(g *Group) {
		if n >= 0 {
			g.backlog = n
		}
	}
}

// WithMaxMembers limits the size of the group, zero means unlimited.
func WithMaxMembers(n int) Option {
	return func(g *Group) {
		if n >= 0 {
			g.maxMembers = n
		}
	}
}

// WithLogger sets the logger used to report members dropped after a failed write.
func WithLogger(logger logging.Logger) Option {
	return func(g *Group) {
		g.logger = logger
	}
}

// Group is a named set of members sharing a broadcast history.
type Group struct {
	name       string
	backlog    int
	maxMembers int
	logger     logging.Logger

	mu      sync.Mutex
	members map[uint64]Member
	history *queue.Queue
}

// New creates an empty group.
func New(name string, opts ...Option) *Group {
	g := &Group{
		name:    name,
		backlog: DefaultBacklog,
		members: make(map[uint64]Member),
		history: queue.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.GetDefaultLogger()
	}
	return g
}

// Name returns the name of the group.
func (g *Group) Name() string { return g.name }

// Join adds m and replays the history to it. It fails with errors.ErrGroupFull
// once the member limit is reached, joining twice is a no-op.
func (g *Group) Join(m Member) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[m.ID()]; ok {
		return nil
	}
	if g.maxMembers > 0 && len(g.members) >= g.maxMembers {
		return errors.ErrGroupFull
	}
	g.members[m.ID()] = m
	for i := 0; i < g.history.Length(); i++ {
		if err := m.AsyncWrite(g.history.Get(i), g.onWritten); err != nil {
			g.drop(m, err)
			return err
		}
	}
	return nil
}

// Leave removes m from the group and reports whether it was a member.
func (g *Group) Leave(m Member) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remove(m)
}

func (g *Group) remove(m Member) bool {
	cur, ok := g.members[m.ID()]
	if ok && cur == m {
		delete(g.members, m.ID())
		return true
	}
	return false
}

// Broadcast records msg in the history and writes it to every member except from,
// which may be nil. It returns the number of members the message was queued for.
func (g *Group) Broadcast(from Member, msg netloom.Message) (n int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.backlog > 0 {
		for g.history.Length() >= g.backlog {
			g.history.Remove()
		}
		g.history.Add(msg)
	}
	for id, m := range g.members {
		if from != nil && id == from.ID() {
			continue
		}
		if err := m.AsyncWrite(msg, g.onWritten); err != nil {
			g.drop(m, err)
			continue
		}
		n++
	}
	return
}

// drop removes a member whose write failed, g.mu must be held.
func (g *Group) drop(m Member, err error) {
	if g.remove(m) {
		g.logger.Debugf("group %q dropped connection %d: %v", g.name, m.ID(), err)
	}
}

func (g *Group) onWritten(c netloom.Conn, err error) error {
	if err != nil && c != nil {
		g.mu.Lock()
		g.drop(c, err)
		g.mu.Unlock()
	}
	return nil
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Members returns the ids of the members in ascending order.
func (g *Group) Members() []uint64 {
	g.mu.Lock()
	ids := make([]uint64, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// History returns the messages that would be replayed to a new member, oldest first.
func (g *Group) History() []netloom.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := make([]netloom.Message, g.history.Length())
	for i := range msgs {
		msgs[i] = g.history.Get(i)
	}
	return msgs
}
