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

package netpoll

import (
	"errors"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/internal/queue"
	errorx "github.com/netloom/netloom/pkg/errors"
	"github.com/netloom/netloom/pkg/logging"
)

// Poller represents a poller which is in charge of monitoring file-descriptors.
type Poller struct {
	fd                   int
	wakeupCall           atomic.Int32
	asyncTaskQueue       queue.AsyncTaskQueue // queue with low priority
	urgentAsyncTaskQueue queue.AsyncTaskQueue // queue with high priority
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.Kqueue(); err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err = unix.Kevent(poller.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = poller.Close()
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

var note = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

// Trigger enqueues the task into the queue of the given priority and wakes up the poller
// to run it on the polling goroutine. Tasks of the same priority run in the order they
// were triggered.
func (p *Poller) Trigger(priority queue.EventPriority, fn queue.TaskFunc, arg any) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	if priority == queue.HighPriority {
		p.urgentAsyncTaskQueue.Enqueue(task)
	} else {
		p.asyncTaskQueue.Enqueue(task)
	}
	return p.wakeup()
}

func (p *Poller) wakeup() (err error) {
	if !p.wakeupCall.CompareAndSwap(0, 1) {
		return nil
	}
	if _, err = unix.Kevent(p.fd, note, nil, nil); err == unix.EAGAIN {
		err = nil
	}
	return os.NewSyscallError("kevent trigger", err)
}

// Polling blocks the current goroutine, waiting for network-events and running
// the triggered tasks. It returns when the callback or a task returns ErrEngineShutdown,
// or when kevent fails.
func (p *Poller) Polling(callback func(fd int, ev IOEvent) error) error {
	el := newEventList(InitPollEventsCap)

	var (
		ts       unix.Timespec
		tsp      *unix.Timespec
		doChores bool
	)
	for {
		n, err := unix.Kevent(p.fd, nil, el.events, tsp)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			tsp = nil
			runtime.Gosched()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in kqueue: %v", os.NewSyscallError("kevent wait", err))
			return err
		}
		tsp = &ts

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if ev.Filter == unix.EVFILT_USER {
				doChores = true
				continue
			}
			filter := ev.Filter
			if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
				filter = EVFilterSock
			}
			err = callback(int(ev.Ident), filter)
			if errors.Is(err, errorx.ErrEngineShutdown) {
				return err
			} else if err != nil {
				logging.Warnf("error occurs in event-loop: %v", err)
			}
		}

		if doChores {
			doChores = false
			if err = p.runTasks(); err != nil {
				return err
			}
		}

		if n == el.size {
			el.expand()
		} else if n < el.size>>1 {
			el.shrink()
		}
	}
}

func (p *Poller) runTasks() error {
	task := p.urgentAsyncTaskQueue.Dequeue()
	for ; task != nil; task = p.urgentAsyncTaskQueue.Dequeue() {
		if err := runTask(task); err != nil {
			return err
		}
	}
	for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
		if task = p.asyncTaskQueue.Dequeue(); task == nil {
			break
		}
		if err := runTask(task); err != nil {
			return err
		}
	}
	p.wakeupCall.Store(0)
	if !p.asyncTaskQueue.IsEmpty() || !p.urgentAsyncTaskQueue.IsEmpty() {
		if err := p.wakeup(); err != nil {
			logging.Errorf("failed to notify next round of event-loop for leftover tasks, %v", err)
		}
	}
	return nil
}

func runTask(task *queue.Task) error {
	err := task.Run(task.Arg)
	queue.PutTask(task)
	if errors.Is(err, errorx.ErrEngineShutdown) {
		return err
	} else if err != nil {
		logging.Warnf("error occurs in event-loop task, %v", err)
	}
	return nil
}

func (p *Poller) kevent(changes ...unix.Kevent_t) error {
	if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent", err)
	}
	return nil
}

func change(fd int, filter int16, flags uint16) unix.Kevent_t {
	ev := unix.Kevent_t{Filter: filter, Flags: flags}
	unix.SetKevent(&ev, fd, int(filter), int(flags))
	return ev
}

// AddRead registers the given file-descriptor with readable event to the poller.
func (p *Poller) AddRead(fd int) error {
	return p.kevent(change(fd, unix.EVFILT_READ, unix.EV_ADD))
}

// ModRead renews the given file-descriptor with readable event in the poller.
func (p *Poller) ModRead(fd int) error {
	return p.kevent(change(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
}

// ModReadWrite renews the given file-descriptor with readable and writable events in the poller.
func (p *Poller) ModReadWrite(fd int) error {
	return p.kevent(change(fd, unix.EVFILT_WRITE, unix.EV_ADD))
}

// ModWrite renews the given file-descriptor with the writable event only,
// the poller stops reporting it readable.
func (p *Poller) ModWrite(fd int) error {
	return p.kevent(
		change(fd, unix.EVFILT_READ, unix.EV_DELETE),
		change(fd, unix.EVFILT_WRITE, unix.EV_ADD),
	)
}

// Delete removes the given file-descriptor from the poller.
// Closing a file-descriptor drops its kevents, nothing to do here.
func (p *Poller) Delete(_ int) error {
	return nil
}
