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

//go:build linux

package netpoll

import (
	"errors"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/netloom/netloom/internal/queue"
	errorx "github.com/netloom/netloom/pkg/errors"
	"github.com/netloom/netloom/pkg/logging"
)

// Poller represents a poller which is in charge of monitoring file-descriptors.
type Poller struct {
	fd                   int    // epoll fd
	efd                  int    // eventfd
	efdBuf               []byte // efd buffer to read an 8-byte integer
	wakeupCall           atomic.Int32
	asyncTaskQueue       queue.AsyncTaskQueue // queue with low priority
	urgentAsyncTaskQueue queue.AsyncTaskQueue // queue with high priority
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	if poller.efd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	poller.efdBuf = make([]byte, 8)
	if err = poller.AddRead(poller.efd); err != nil {
		_ = poller.Close()
		return nil, err
	}
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	_ = unix.Close(p.efd)
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// Make the endianness of bytes compatible with more linux OSs under different processor-architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

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
	for {
		_, err = unix.Write(p.efd, b)
		if err == unix.EAGAIN {
			_, _ = unix.Read(p.efd, p.efdBuf)
			continue
		}
		return os.NewSyscallError("write", err)
	}
}

// Polling blocks the current goroutine, waiting for network-events and running
// the triggered tasks. It returns when the callback or a task returns ErrEngineShutdown,
// or when epoll_wait fails.
func (p *Poller) Polling(callback func(fd int, ev IOEvent) error) error {
	el := newEventList(InitPollEventsCap)
	var doChores bool

	msec := -1
	for {
		n, err := unix.EpollWait(p.fd, el.events, msec)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			msec = -1
			runtime.Gosched()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in epoll: %v", os.NewSyscallError("epoll_wait", err))
			return err
		}
		msec = 0

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if fd := int(ev.Fd); fd == p.efd {
				_, _ = unix.Read(p.efd, p.efdBuf)
				doChores = true
			} else {
				err = callback(fd, ev.Events)
				if errors.Is(err, errorx.ErrEngineShutdown) {
					return err
				} else if err != nil {
					logging.Warnf("error occurs in event-loop: %v", err)
				}
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

func (p *Poller) ctl(op, fd int, events uint32) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{Fd: int32(fd), Events: events}
	}
	if err := unix.EpollCtl(p.fd, op, fd, ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// AddRead registers the given file-descriptor with readable event to the poller.
func (p *Poller) AddRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, readEvents)
}

// ModRead renews the given file-descriptor with readable event in the poller.
func (p *Poller) ModRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, readEvents)
}

// ModReadWrite renews the given file-descriptor with readable and writable events in the poller.
func (p *Poller) ModReadWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, readWriteEvents)
}

// ModWrite renews the given file-descriptor with the writable event only,
// the poller stops reporting it readable.
func (p *Poller) ModWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, writeEvents)
}

// Delete removes the given file-descriptor from the poller.
func (p *Poller) Delete(fd int) error {
	return p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}
