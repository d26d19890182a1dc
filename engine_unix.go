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
	"context"
	"net"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netloom/netloom/internal/netpoll"
	"github.com/netloom/netloom/internal/queue"
	errorx "github.com/netloom/netloom/pkg/errors"
	"github.com/netloom/netloom/pkg/logging"
)

const (
	engineIdle int32 = iota
	engineRunning
	engineStopped
)

// maxLockedEventLoops bounds the event-loops under LockOSThread mode,
// each of them holds an OS thread.
const maxLockedEventLoops = 10000

type engine struct {
	self         *Engine         // handle passed to the event handler
	ln           *listener       // the listener for accepting new connections
	opts         *Options        // options with engine
	acceptor     *netpoll.Poller // main reactor polling the listener
	acceptorDone chan struct{}   // closed when the main reactor returns
	acceptDelay  time.Duration   // backoff after failed accepts
	eventLoops   loadBalancer    // event-loops for handling events
	eventHandler EventHandler    // user eventHandler
	nextID       atomic.Uint64   // last connection id handed out
	stats        stats           // engine counters
	state        atomic.Int32    // idle, running or stopped
	logFlush     logging.Flusher // flusher of the logger created from LogPath
	releaseOnce  sync.Once
	done         chan struct{} // closed when Run returns
	ticker       struct {
		ctx    context.Context    // context for ticker
		cancel context.CancelFunc // function to stop the ticker
	}
	workerPool struct {
		*errgroup.Group

		shutdownCtx context.Context
		shutdown    context.CancelFunc
		once        sync.Once
	}
}

// NewEngine binds protoAddr and prepares the event-loops, the engine starts serving on Run.
// A failure to bind is reported as an error of kind errors.KindBind.
func NewEngine(protoAddr string, eventHandler EventHandler, opts ...Option) (*Engine, error) {
	options := loadOptions(opts...)
	options.normalize()

	var flush logging.Flusher
	if options.Logger == nil {
		options.Logger = logging.GetDefaultLogger()
		if options.LogPath != "" {
			logger, flusher, err := logging.CreateLoggerAsLocalFile(options.LogPath, options.LogLevel)
			if err != nil {
				return nil, err
			}
			options.Logger, flush = logger, flusher
		}
	}

	// Figure out the proper number of event-loops/goroutines to run.
	numEventLoop := 1
	if options.Multicore {
		numEventLoop = runtime.NumCPU()
	}
	if options.NumEventLoop > 0 {
		numEventLoop = options.NumEventLoop
	}
	if options.LockOSThread && numEventLoop > maxLockedEventLoops {
		return nil, errorx.ErrTooManyEventLoopThreads
	}

	network, address, err := parseProtoAddr(protoAddr)
	if err != nil {
		return nil, errorx.New(errorx.KindBind, 0, "parse", err)
	}
	ln, err := initListener(network, address, options)
	if err != nil {
		return nil, err
	}

	shutdownCtx, shutdown := context.WithCancel(context.Background())
	eng := &engine{
		ln:           ln,
		opts:         options,
		acceptorDone: make(chan struct{}),
		eventLoops:   newLoadBalancer(options.LB),
		eventHandler: eventHandler,
		logFlush:     flush,
		done:         make(chan struct{}),
	}
	eng.self = &Engine{eng}
	eng.workerPool.Group = &errgroup.Group{}
	eng.workerPool.shutdownCtx, eng.workerPool.shutdown = shutdownCtx, shutdown

	for i := 0; i < numEventLoop; i++ {
		el, err := newEventloop(eng)
		if err != nil {
			eng.release()
			return nil, err
		}
		eng.eventLoops.register(el)
	}
	if eng.acceptor, err = netpoll.OpenPoller(); err == nil {
		err = eng.acceptor.AddRead(ln.fd)
	}
	if err != nil {
		eng.release()
		return nil, err
	}
	return eng.self, nil
}

func (eng *engine) addr() net.Addr {
	return eng.ln.addr
}

func (eng *engine) countConnections() (count int) {
	eng.eventLoops.iterate(func(_ int, el *eventloop) bool {
		count += int(el.countConn())
		return true
	})
	return
}

// shutdown signals the engine to shut down.
func (eng *engine) shutdown(err error) {
	if err != nil && err != errorx.ErrEngineShutdown {
		eng.opts.Logger.Errorf("engine is being shutdown with error: %v", err)
	}

	eng.workerPool.once.Do(func() {
		eng.workerPool.shutdown()
	})
}

func (eng *engine) run() error {
	if !eng.state.CompareAndSwap(engineIdle, engineRunning) {
		if eng.state.Load() == engineRunning {
			return errorx.ErrEngineRunning
		}
		return errorx.ErrEngineInShutdown
	}
	defer close(eng.done)

	switch eng.eventHandler.OnBoot(eng.self) {
	case None, Close:
	case Shutdown:
		eng.state.Store(engineStopped)
		eng.release()
		return nil
	}

	eng.start()
	eng.opts.Logger.Infof("netloom engine is listening on %s://%s with %d event-loops",
		eng.ln.network, eng.ln.addr, eng.eventLoops.len())

	<-eng.workerPool.shutdownCtx.Done()
	eng.stop()
	return nil
}

func (eng *engine) start() {
	eng.eventLoops.iterate(func(_ int, el *eventloop) bool {
		eng.workerPool.Go(el.run)
		eng.workerPool.Go(el.sweeper)
		return true
	})
	eng.workerPool.Go(eng.runAcceptor)

	if eng.opts.Ticker {
		eng.ticker.ctx, eng.ticker.cancel = context.WithCancel(context.Background())
		eng.workerPool.Go(func() error {
			eng.tick(eng.ticker.ctx)
			return nil
		})
	}
}

func (eng *engine) stop() {
	// Stop accepting first, new connections would only be rejected by draining loops.
	err := eng.acceptor.Trigger(queue.HighPriority, func(_ any) error { return errorx.ErrEngineShutdown }, nil)
	if err != nil {
		eng.opts.Logger.Errorf("failed to stop main reactor when stopping engine: %v", err)
	}
	<-eng.acceptorDone

	// Low priority so that writes and closes requested before the shutdown go out first.
	eng.eventLoops.iterate(func(i int, el *eventloop) bool {
		if err := el.poller.Trigger(queue.LowPriority, el.drain, nil); err != nil {
			eng.opts.Logger.Errorf("failed to drain event-loop(%d) when stopping engine: %v", i, err)
		}
		return true
	})

	// Stop the ticker.
	if eng.ticker.cancel != nil {
		eng.ticker.cancel()
	}

	if err := eng.workerPool.Wait(); err != nil {
		eng.opts.Logger.Errorf("engine shutdown error: %v", err)
	}

	eng.state.Store(engineStopped)
	eng.closeEventLoops()
	eng.eventHandler.OnShutdown(eng.self)
	eng.flushLogger()
}

// stopWait shuts the engine down and waits for Run to return, an engine that
// has never run just releases its listener and pollers.
func (eng *engine) stopWait(ctx context.Context) error {
	if eng.state.CompareAndSwap(engineIdle, engineStopped) {
		eng.release()
		close(eng.done)
		return nil
	}
	eng.shutdown(nil)
	select {
	case <-eng.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (eng *engine) release() {
	eng.closeEventLoops()
	eng.flushLogger()
}

// closeEventLoops closes the listener and all pollers.
func (eng *engine) closeEventLoops() {
	eng.releaseOnce.Do(func() {
		eng.ln.close()
		eng.eventLoops.iterate(func(i int, el *eventloop) bool {
			if err := el.poller.Close(); err != nil {
				eng.opts.Logger.Errorf("failed to close poller of event-loop(%d): %v", i, err)
			}
			return true
		})
		if eng.acceptor != nil {
			if err := eng.acceptor.Close(); err != nil {
				eng.opts.Logger.Errorf("failed to close poller when stopping engine: %v", err)
			}
		}
	})
}

func (eng *engine) flushLogger() {
	if eng.logFlush != nil {
		_ = eng.logFlush()
		eng.logFlush = nil
	}
}

func (eng *engine) tick(ctx context.Context) {
	var (
		action Action
		delay  time.Duration
		timer  *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		delay, action = eng.eventHandler.OnTick()
		if action == Shutdown {
			eng.shutdown(nil)
			eng.opts.Logger.Debugf("stopping ticker, OnTick asked for shutdown")
			return
		}
		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			eng.opts.Logger.Debugf("stopping ticker from engine, error: %v", ctx.Err())
			return
		case <-timer.C:
		}
	}
}

func (eng *engine) snapshot(ctx context.Context) ([]ConnInfo, error) {
	if eng.state.Load() != engineRunning {
		return nil, nil
	}
	type pending struct {
		el  *eventloop
		req *snapshotReq
	}
	var reqs []pending
	eng.eventLoops.iterate(func(_ int, el *eventloop) bool {
		req := &snapshotReq{done: make(chan struct{})}
		if err := el.poller.Trigger(queue.LowPriority, el.snapshot, req); err == nil {
			reqs = append(reqs, pending{el, req})
		}
		return true
	})

	var infos []ConnInfo
	for _, p := range reqs {
		select {
		case <-p.req.done:
			infos = append(infos, p.req.infos...)
		case <-p.el.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}
