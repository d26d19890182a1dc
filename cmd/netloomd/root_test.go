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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, Execute(context.Background(), []string{"--version"}, &stdout, &stderr))
	assert.Equal(t, "netloomd "+version+"\n", stdout.String())
}

func TestExecuteHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, Execute(context.Background(), []string{"-h"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "--relay-max-members")
}

func TestExecuteUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--nonexistent-flag"},
		{"--codec", "morse"},
		{"--mode", "chat"},
		{"stray-argument"},
		{"--config", "/nonexistent/netloomd.yaml"},
	} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitUsage, Execute(context.Background(), args, &stdout, &stderr), "args %v", args)
		assert.True(t, strings.HasPrefix(stderr.String(), "netloomd: "), "args %v: %q", args, stderr.String())
	}

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitUsage, Execute(context.Background(), []string{"--loops", "many"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "--loops")

	stderr.Reset()
	assert.Equal(t, exitUsage, Execute(context.Background(), []string{"--bogus"}, &stdout, &stderr))
	assert.Equal(t, "netloomd: unknown flag: --bogus\n", stderr.String())
}

func TestExecuteDryRunMergesFlagsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netloomd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: tcp://127.0.0.1:7001\nloops: 2\nmode: relay\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--config", path, "--loops", "6", "--dry-run"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "listen: tcp://127.0.0.1:7001")
	assert.Contains(t, out, "loops: 6")
	assert.Contains(t, out, "mode: relay")
}

type daemon struct {
	cancel context.CancelFunc
	exit   chan int
	lines  chan string
	stderr *bytes.Buffer
}

func startDaemon(t *testing.T, args ...string) *daemon {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	d := &daemon{cancel: cancel, exit: make(chan int, 1), lines: make(chan string, 16), stderr: new(bytes.Buffer)}

	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			d.lines <- scanner.Text()
		}
		close(d.lines)
	}()
	go func() {
		code := Execute(ctx, append([]string{"--listen", "tcp://127.0.0.1:0", "--loops", "2", "--log-level", "error"}, args...),
			pw, d.stderr)
		_ = pw.Close()
		d.exit <- code
	}()
	t.Cleanup(func() {
		d.cancel()
		select {
		case code := <-d.exit:
			assert.Equal(t, exitOK, code, d.stderr.String())
		case <-time.After(15 * time.Second):
			t.Error("netloomd did not stop")
		}
	})
	return d
}

// address waits for the announcement line containing marker and returns the address after it.
func (d *daemon) address(t *testing.T, marker string) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-d.lines:
			require.True(t, ok, "netloomd exited early")
			if i := strings.Index(line, marker); i >= 0 {
				return strings.TrimSuffix(line[i+len(marker):], "/metrics")
			}
		case <-timeout:
			t.Fatalf("netloomd never printed %q", marker)
		}
	}
}

type lineClient struct {
	net.Conn
	r *bufio.Reader
}

func dialLine(t *testing.T, addr string) *lineClient {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(10*time.Second)))
	return &lineClient{c, bufio.NewReader(c)}
}

func (c *lineClient) roundTrip(t *testing.T, send string) string {
	t.Helper()
	if send != "" {
		_, err := c.Write([]byte(send + "\n"))
		require.NoError(t, err)
	}
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func TestEchoServiceWithMetrics(t *testing.T) {
	d := startDaemon(t, "--metrics-addr", "127.0.0.1:0", "--max-frame-length", "32")
	metricsAddr := d.address(t, "metrics listening on http://")
	addr := d.address(t, "listening on tcp://")

	cli := dialLine(t, addr)
	assert.Equal(t, "hello", cli.roundTrip(t, "hello"))
	assert.Equal(t, "ERROR: decode failure", cli.roundTrip(t, strings.Repeat("x", 64)))

	resp, err := http.Get("http://" + metricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "netloom_connections_accepted_total 1")
	assert.Contains(t, string(body), "netloom_decode_failures_total 1")
}

func TestAsyncEchoService(t *testing.T) {
	d := startDaemon(t, "--async-workers", "4")
	addr := d.address(t, "listening on tcp://")

	cli := dialLine(t, addr)
	for _, msg := range []string{"one", "two", "three"} {
		assert.Equal(t, msg, cli.roundTrip(t, msg))
	}
}

func TestAsyncEchoServiceKeepsOrder(t *testing.T) {
	const lines = 2000
	for _, workers := range []string{"2", "512"} {
		workers := workers
		t.Run("workers="+workers, func(t *testing.T) {
			d := startDaemon(t, "--async-workers", workers)
			addr := d.address(t, "listening on tcp://")

			var burst strings.Builder
			for i := 0; i < lines; i++ {
				fmt.Fprintf(&burst, "msg-%04d\n", i)
			}
			cli := dialLine(t, addr)
			writeErr := make(chan error, 1)
			go func() {
				_, err := cli.Write([]byte(burst.String()))
				writeErr <- err
			}()
			for i := 0; i < lines; i++ {
				require.Equal(t, fmt.Sprintf("msg-%04d", i), cli.roundTrip(t, ""))
			}
			require.NoError(t, <-writeErr)
		})
	}
}

func TestRelayService(t *testing.T) {
	d := startDaemon(t, "--mode", "relay", "--relay-max-members", "2", "--relay-backlog", "4")
	addr := d.address(t, "listening on tcp://")

	alice := dialLine(t, addr)
	_, err := alice.Write([]byte("hi all\n"))
	require.NoError(t, err)

	// bob either sees the live broadcast or its replay, never both.
	bob := dialLine(t, addr)
	assert.Equal(t, "hi all", bob.roundTrip(t, ""))

	_, err = bob.Write([]byte("hi alice\n"))
	require.NoError(t, err)
	assert.Equal(t, "hi alice", alice.roundTrip(t, ""))

	carol := dialLine(t, addr)
	assert.Equal(t, "ERROR: group is full", carol.roundTrip(t, ""))
	_, err = carol.r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}
