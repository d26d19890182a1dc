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

// Package config loads the YAML configuration of the netloom daemon and turns
// it into engine options and a pipeline factory.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/codec"
	"github.com/netloom/netloom/pkg/logging"
)

// Codecs understood by Pipeline.
const (
	CodecLine        = "line"
	CodecDelimiter   = "delimiter"
	CodecFixed       = "fixed"
	CodecLengthField = "length_field"
)

// Service modes of the daemon.
const (
	ModeEcho  = "echo"
	ModeRelay = "relay"
)

var loadBalancers = map[string]netloom.LoadBalancing{
	"round-robin":       netloom.RoundRobin,
	"least-connections": netloom.LeastConnections,
	"source-addr-hash":  netloom.SourceAddrHash,
}

// Config is the daemon configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	Loops         int    `yaml:"loops"`
	Multicore     bool   `yaml:"multicore"`
	LoadBalancing string `yaml:"load_balancing"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	CloseGrace    time.Duration `yaml:"close_grace"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	TCPKeepAlive     time.Duration `yaml:"tcp_keepalive"`
	TCPNoDelay       bool          `yaml:"tcp_no_delay"`
	ReadBufferCap    int           `yaml:"read_buffer_cap"`
	SocketRecvBuffer int           `yaml:"socket_recv_buffer"`
	SocketSendBuffer int           `yaml:"socket_send_buffer"`
	ReusePort        bool          `yaml:"reuse_port"`

	Codec             string `yaml:"codec"`
	MaxFrameLength    int    `yaml:"max_frame_length"`
	Delimiter         string `yaml:"delimiter"`
	FixedLength       int    `yaml:"fixed_length"`
	LengthFieldLength int    `yaml:"length_field_length"`

	MetricsListen string `yaml:"metrics_listen"`
	LogFile       string `yaml:"log_file"`
	LogLevel      string `yaml:"log_level"`

	Mode            string `yaml:"mode"`
	RelayBacklog    int    `yaml:"relay_backlog"`
	RelayMaxMembers int    `yaml:"relay_max_members"`
	AsyncWorkers    int    `yaml:"async_workers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:            "tcp://127.0.0.1:9000",
		Multicore:         true,
		LoadBalancing:     "round-robin",
		CloseGrace:        netloom.DefaultCloseGrace,
		SweepInterval:     netloom.DefaultSweepInterval,
		TCPNoDelay:        true,
		ReadBufferCap:     netloom.DefaultReadBufferCap,
		Codec:             CodecLine,
		MaxFrameLength:    codec.DefaultMaxFrameLength,
		Delimiter:         "\n",
		LengthFieldLength: 4,
		LogLevel:          "info",
		Mode:              ModeEcho,
		RelayBacklog:      16,
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting of c.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("config: "+format, args...))
		}
	}

	check(c.Listen != "", "listen must not be empty")
	check(c.Loops >= 0, "loops must not be negative, got %d", c.Loops)
	_, ok := loadBalancers[c.LoadBalancing]
	check(ok, "unknown load_balancing %q", c.LoadBalancing)
	check(c.IdleTimeout >= 0, "idle_timeout must not be negative")
	check(c.CloseGrace >= 0, "close_grace must not be negative")
	check(c.SweepInterval >= 0, "sweep_interval must not be negative")
	check(c.TCPKeepAlive >= 0, "tcp_keepalive must not be negative")
	check(c.ReadBufferCap >= 0, "read_buffer_cap must not be negative")
	check(c.SocketRecvBuffer >= 0, "socket_recv_buffer must not be negative")
	check(c.SocketSendBuffer >= 0, "socket_send_buffer must not be negative")

	check(c.MaxFrameLength >= 0, "max_frame_length must not be negative")
	switch c.Codec {
	case CodecLine:
	case CodecDelimiter:
		check(c.Delimiter != "", "delimiter must not be empty for the delimiter codec")
	case CodecFixed:
		check(c.FixedLength > 0, "fixed_length must be positive for the fixed codec")
	case CodecLengthField:
		switch c.LengthFieldLength {
		case 1, 2, 3, 4, 8:
		default:
			check(false, "length_field_length must be 1, 2, 3, 4 or 8, got %d", c.LengthFieldLength)
		}
	default:
		check(false, "unknown codec %q", c.Codec)
	}

	_, err := logging.ParseLevel(c.LogLevel)
	check(err == nil, "invalid log_level %q", c.LogLevel)

	check(c.Mode == ModeEcho || c.Mode == ModeRelay, "unknown mode %q", c.Mode)
	check(c.RelayBacklog >= 0, "relay_backlog must not be negative")
	check(c.RelayMaxMembers >= 0, "relay_max_members must not be negative")
	check(c.AsyncWorkers >= 0, "async_workers must not be negative")

	return errors.Join(errs...)
}

// Options maps c to engine options, c must be valid.
func (c *Config) Options() []netloom.Option {
	noDelay := netloom.TCPDelay
	if c.TCPNoDelay {
		noDelay = netloom.TCPNoDelay
	}
	opts := []netloom.Option{
		netloom.WithMulticore(c.Multicore),
		netloom.WithNumEventLoop(c.Loops),
		netloom.WithLoadBalancing(loadBalancers[c.LoadBalancing]),
		netloom.WithIdleTimeout(c.IdleTimeout),
		netloom.WithCloseGrace(c.CloseGrace),
		netloom.WithSweepInterval(c.SweepInterval),
		netloom.WithTCPKeepAlive(c.TCPKeepAlive),
		netloom.WithTCPNoDelay(noDelay),
		netloom.WithReadBufferCap(c.ReadBufferCap),
		netloom.WithSocketRecvBuffer(c.SocketRecvBuffer),
		netloom.WithSocketSendBuffer(c.SocketSendBuffer),
		netloom.WithReusePort(c.ReusePort),
		netloom.WithPipelineFactory(c.Pipeline()),
	}
	if lvl, err := logging.ParseLevel(c.LogLevel); err == nil {
		opts = append(opts, netloom.WithLogLevel(lvl))
	}
	if c.LogFile != "" {
		opts = append(opts, netloom.WithLogPath(c.LogFile))
	}
	return opts
}

// Logger builds the logger of the daemon: a file logger when log_file is set,
// the console otherwise, both at log_level.
func (c *Config) Logger() (logging.Logger, logging.Flusher, error) {
	lvl, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if c.LogFile != "" {
		return logging.CreateLoggerAsLocalFile(c.LogFile, lvl)
	}
	logger, flush := logging.NewConsoleLogger(lvl)
	return logger, flush, nil
}

// Pipeline returns a factory assembling the configured codec followed by a
// string stage, handlers see every message as a string.
func (c *Config) Pipeline() netloom.PipelineFactory {
	maxFrameLength := c.MaxFrameLength
	switch c.Codec {
	case CodecDelimiter:
		delim := []byte(unescape(c.Delimiter))
		return func() *netloom.Pipeline {
			return netloom.NewPipeline().
				AddLast("framer", codec.NewDelimiterBasedFrameDecoder(maxFrameLength, delim)).
				AddLast("string", codec.StringCodec{}).
				AddLast("encoder", codec.NewDelimiterEncoder(delim))
		}
	case CodecFixed:
		frameLength := c.FixedLength
		return func() *netloom.Pipeline {
			return netloom.NewPipeline().
				AddLast("framer", codec.NewFixedLengthFrameCodec(frameLength)).
				AddLast("string", codec.StringCodec{})
		}
	case CodecLengthField:
		n := c.LengthFieldLength
		limit := 0
		if maxFrameLength > 0 {
			limit = maxFrameLength + n
		}
		return func() *netloom.Pipeline {
			return netloom.NewPipeline().
				AddLast("framer", codec.NewLengthFieldBasedFrameDecoder(codec.DecoderConfig{
					LengthFieldLength:   n,
					InitialBytesToStrip: n,
					MaxFrameLength:      limit,
				})).
				AddLast("string", codec.StringCodec{}).
				AddLast("encoder", codec.NewLengthFieldPrepender(codec.EncoderConfig{LengthFieldLength: n}))
		}
	default:
		return func() *netloom.Pipeline {
			return netloom.NewPipeline().
				AddLast("framer", codec.NewLineBasedFrameDecoder(maxFrameLength)).
				AddLast("string", codec.StringCodec{}).
				AddLast("encoder", codec.NewLineEncoder())
		}
	}
}

// unescape turns the escapes \n, \r, \t and \0 written in a YAML single-quoted
// or flag value into the bytes they stand for.
func unescape(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t", `\0`, "\x00").Replace(s)
}
