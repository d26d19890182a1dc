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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/config"
	"github.com/netloom/netloom/pkg/metrics"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.1.0"
var version = "1.0.0"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// DefaultStopTimeout bounds the graceful shutdown after a signal.
const DefaultStopTimeout = 10 * time.Second

type cliOptions struct {
	cfgPath     string
	stopTimeout time.Duration
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// newFlagSet binds the command line to cfg, the current values of cfg are the flag defaults.
func newFlagSet(cfg *config.Config, o *cliOptions, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("netloomd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── configuration ────────────────────────────────────────────
	fs.StringVarP(&o.cfgPath, "config", "c", "", "YAML configuration file, flags override its values")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print the effective configuration and exit")

	// ── listener and loops ───────────────────────────────────────
	fs.StringVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Address to serve, e.g. tcp://:9000 or unix:///tmp/netloomd.sock")
	fs.IntVar(&cfg.Loops, "loops", cfg.Loops, "Number of event-loops, 0 picks one per CPU with --multicore")
	fs.BoolVar(&cfg.Multicore, "multicore", cfg.Multicore, "Run one event-loop per CPU")
	fs.StringVar(&cfg.LoadBalancing, "lb", cfg.LoadBalancing, "round-robin, least-connections or source-addr-hash")
	fs.BoolVar(&cfg.ReusePort, "reuse-port", cfg.ReusePort, "Set SO_REUSEPORT on the listener")

	// ── connection lifecycle ─────────────────────────────────────
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close connections idle for this long, 0 disables")
	fs.DurationVar(&cfg.CloseGrace, "close-grace", cfg.CloseGrace, "Time a closing connection gets to flush its writes")
	fs.DurationVar(&cfg.TCPKeepAlive, "tcp-keepalive", cfg.TCPKeepAlive, "TCP keep-alive period, 0 disables")

	// ── framing ──────────────────────────────────────────────────
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "line, delimiter, fixed or length_field")
	fs.IntVar(&cfg.MaxFrameLength, "max-frame-length", cfg.MaxFrameLength, "Longest frame accepted")
	fs.StringVar(&cfg.Delimiter, "delimiter", cfg.Delimiter, `Frame delimiter of the delimiter codec, \n \r \t \0 are unescaped`)
	fs.IntVar(&cfg.FixedLength, "fixed-length", cfg.FixedLength, "Frame size of the fixed codec")
	fs.IntVar(&cfg.LengthFieldLength, "length-field-length", cfg.LengthFieldLength, "Header size of the length_field codec")

	// ── service ──────────────────────────────────────────────────
	fs.StringVarP(&cfg.Mode, "mode", "m", cfg.Mode, "echo or relay")
	fs.IntVar(&cfg.RelayBacklog, "relay-backlog", cfg.RelayBacklog, "Lines replayed to clients joining the relay")
	fs.IntVar(&cfg.RelayMaxMembers, "relay-max-members", cfg.RelayMaxMembers, "Relay member limit, 0 means unlimited")
	fs.IntVar(&cfg.AsyncWorkers, "async-workers", cfg.AsyncWorkers, "Answer echo requests from a worker pool of this size")

	// ── observability ────────────────────────────────────────────
	fs.StringVar(&cfg.MetricsListen, "metrics-addr", cfg.MetricsListen, "Serve Prometheus metrics on this address")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file instead of stdout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.DurationVar(&o.stopTimeout, "stop-timeout", DefaultStopTimeout, "Graceful shutdown deadline")

	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&o.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: netloomd [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	return fs
}

// Execute parses args, runs the daemon until ctx is done and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var o cliOptions
	cfg := config.Default()
	fs := newFlagSet(cfg, &o, stderr)

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "netloomd: %v\n", err)
		return exitUsage
	}
	if o.showHelp {
		fs.Usage()
		return exitOK
	}
	if o.showVersion {
		fmt.Fprintf(stdout, "netloomd %s\n", version)
		return exitOK
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "netloomd: unexpected arguments %v\n", fs.Args())
		return exitUsage
	}

	// Flags given on the command line win over the file, so they are parsed again on top of it.
	if o.cfgPath != "" {
		fileCfg, err := config.Load(o.cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "netloomd: %v\n", err)
			return exitUsage
		}
		if err = newFlagSet(fileCfg, &o, stderr).Parse(args); err != nil {
			fmt.Fprintf(stderr, "netloomd: %v\n", err)
			return exitUsage
		}
		cfg = fileCfg
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "netloomd: %v\n", err)
		return exitUsage
	}

	if o.dryRun {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "netloomd: %v\n", err)
			return exitFailure
		}
		_, _ = stdout.Write(out)
		return exitOK
	}

	if err := serve(ctx, cfg, o.stopTimeout, stdout); err != nil {
		fmt.Fprintf(stderr, "netloomd: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func serve(ctx context.Context, cfg *config.Config, stopTimeout time.Duration, stdout io.Writer) error {
	logger, flush, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer flush() //nolint:errcheck

	svc, err := newService(cfg, stdout, logger)
	if err != nil {
		return err
	}
	defer svc.release()

	eng, err := netloom.NewEngine(cfg.Listen, svc, append(cfg.Options(), netloom.WithLogger(logger))...)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	var metricsLn net.Listener
	if cfg.MetricsListen != "" {
		if metricsLn, err = net.Listen("tcp", cfg.MetricsListen); err != nil {
			_ = eng.Stop(context.Background())
			return fmt.Errorf("metrics: %w", err)
		}
		metricsSrv = newMetricsServer(eng)
		fmt.Fprintf(stdout, "netloomd metrics listening on http://%s/metrics\n", metricsLn.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return eng.Run()
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.Serve(metricsLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-runCtx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(stopCtx)
		}
		return eng.Stop(stopCtx)
	})
	return g.Wait()
}

func newMetricsServer(eng *netloom.Engine) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(eng, nil),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
