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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netloom/netloom"
	"github.com/netloom/netloom/pkg/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netloomd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CodecLine, cfg.Codec)
	assert.Equal(t, ModeEcho, cfg.Mode)
	assert.Len(t, cfg.Options(), 14)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: tcp://0.0.0.0:7000
loops: 4
load_balancing: least-connections
idle_timeout: 30s
close_grace: 2s
codec: length_field
length_field_length: 2
max_frame_length: 1024
mode: relay
relay_backlog: 32
relay_max_members: 100
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://0.0.0.0:7000", cfg.Listen)
	assert.Equal(t, 4, cfg.Loops)
	assert.Equal(t, "least-connections", cfg.LoadBalancing)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.CloseGrace)
	assert.Equal(t, CodecLengthField, cfg.Codec)
	assert.Equal(t, ModeRelay, cfg.Mode)
	assert.Equal(t, 100, cfg.RelayMaxMembers)

	// Untouched keys keep their defaults.
	assert.True(t, cfg.TCPNoDelay)
	assert.Equal(t, netloom.DefaultSweepInterval, cfg.SweepInterval)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(writeConfig(t, "listne: tcp://:9000\n"))
	assert.ErrorContains(t, err, "listne")

	_, err = Load(writeConfig(t, "idle_timeout: soon\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.LoadBalancing = "random"
	cfg.Codec = CodecFixed
	cfg.Mode = "chat"
	cfg.LogLevel = "loud"
	cfg.IdleTimeout = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"listen must not be empty",
		`unknown load_balancing "random"`,
		"fixed_length must be positive",
		`unknown mode "chat"`,
		`invalid log_level "loud"`,
		"idle_timeout must not be negative",
	} {
		assert.ErrorContains(t, err, want)
	}

	cfg = Default()
	cfg.Codec = CodecLengthField
	cfg.LengthFieldLength = 5
	assert.ErrorContains(t, cfg.Validate(), "length_field_length must be 1, 2, 3, 4 or 8")

	cfg = Default()
	cfg.Codec = CodecDelimiter
	cfg.Delimiter = ""
	assert.ErrorContains(t, cfg.Validate(), "delimiter must not be empty")
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "error"
	logger, flush, err := cfg.Logger()
	require.NoError(t, err)
	defer flush() //nolint:errcheck
	sugar, ok := logger.(*zap.SugaredLogger)
	require.True(t, ok, "console logger expected, got %T", logger)
	assert.False(t, sugar.Desugar().Core().Enabled(logging.WarnLevel))
	assert.True(t, sugar.Desugar().Core().Enabled(logging.ErrorLevel))

	cfg.LogFile = filepath.Join(t.TempDir(), "netloomd.log")
	cfg.LogLevel = "warn"
	logger, fileFlush, err := cfg.Logger()
	require.NoError(t, err)
	logger.Infof("hidden line")
	logger.Warnf("shown line")
	require.NoError(t, fileFlush())
	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown line")
	assert.NotContains(t, string(data), "hidden line")

	cfg.LogLevel = "loud"
	_, _, err = cfg.Logger()
	assert.Error(t, err)
}

func TestPipeline(t *testing.T) {
	for _, tc := range []struct {
		codec string
		names []string
	}{
		{CodecLine, []string{"framer", "string", "encoder"}},
		{CodecDelimiter, []string{"framer", "string", "encoder"}},
		{CodecFixed, []string{"framer", "string"}},
		{CodecLengthField, []string{"framer", "string", "encoder"}},
	} {
		cfg := Default()
		cfg.Codec = tc.codec
		cfg.FixedLength = 8
		require.NoError(t, cfg.Validate())

		factory := cfg.Pipeline()
		p := factory()
		assert.NoError(t, p.Validate(), tc.codec)
		assert.Equal(t, tc.names, p.Names(), tc.codec)
		assert.NotSame(t, p, factory(), "every connection gets its own pipeline")
	}
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "\r\n", unescape(`\r\n`))
	assert.Equal(t, "|\x00", unescape(`|\0`))
	assert.Equal(t, ";", unescape(";"))
}
