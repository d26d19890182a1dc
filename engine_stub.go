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

//go:build !linux && !freebsd && !dragonfly && !darwin

package netloom

import (
	"context"
	"net"

	"github.com/netloom/netloom/pkg/errors"
)

type engine struct {
	stats stats
}

// NewEngine is not available on this platform.
func NewEngine(_ string, _ EventHandler, _ ...Option) (*Engine, error) {
	return nil, errors.ErrUnsupportedPlatform
}

func (eng *engine) run() error                                     { return errors.ErrUnsupportedPlatform }
func (eng *engine) stopWait(_ context.Context) error               { return errors.ErrUnsupportedPlatform }
func (eng *engine) addr() net.Addr                                 { return nil }
func (eng *engine) countConnections() int                          { return 0 }
func (eng *engine) snapshot(_ context.Context) ([]ConnInfo, error) { return nil, errors.ErrUnsupportedPlatform }
