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

// Package errors defines common errors for netloom.
package errors

import "errors"

var (
	// ErrEngineShutdown occurs when the engine is closing.
	ErrEngineShutdown = errors.New("netloom: engine is going to be shutdown")
	// ErrEngineInShutdown occurs when attempting to shut the engine down more than once.
	ErrEngineInShutdown = errors.New("netloom: engine is already in shutdown")
	// ErrEngineRunning occurs when Run is called on an engine that has already been started.
	ErrEngineRunning = errors.New("netloom: engine is already running")
	// ErrTooManyEventLoopThreads occurs when attempting to set up more than 10,000 event-loop goroutines under LockOSThread mode.
	ErrTooManyEventLoopThreads = errors.New("netloom: too many event-loops under LockOSThread mode")
	// ErrUnsupportedProtocol occurs when trying to use protocol that is not supported.
	ErrUnsupportedProtocol = errors.New("netloom: only unix, tcp/tcp4/tcp6 are supported")
	// ErrUnsupportedTCPProtocol occurs when trying to use an unsupported TCP protocol.
	ErrUnsupportedTCPProtocol = errors.New("netloom: only tcp/tcp4/tcp6 are supported")
	// ErrUnsupportedUDSProtocol occurs when trying to use an unsupported Unix protocol.
	ErrUnsupportedUDSProtocol = errors.New("netloom: only unix is supported")
	// ErrUnsupportedPlatform occurs when running netloom on an unsupported platform.
	ErrUnsupportedPlatform = errors.New("netloom: unsupported platform in current version")
	// ErrInvalidNetworkAddress occurs when the network address is invalid.
	ErrInvalidNetworkAddress = errors.New("netloom: invalid network address")
	// ErrInvalidPipeline occurs when a pipeline is assembled from stages that cannot work together.
	ErrInvalidPipeline = errors.New("netloom: invalid pipeline")
	// ErrPipelineSealed occurs when adding a stage to a pipeline that is already attached to a connection.
	ErrPipelineSealed = errors.New("netloom: pipeline is sealed")
	// ErrConnectionClosing occurs when writing to a connection that has stopped accepting writes.
	ErrConnectionClosing = errors.New("netloom: connection is closing")
	// ErrConnectionClosed occurs when operating on a connection that has been closed.
	ErrConnectionClosed = errors.New("netloom: connection is closed")
	// ErrPeerClosed occurs when the remote end of a connection closes it.
	ErrPeerClosed = errors.New("netloom: connection closed by peer")
	// ErrUnsupportedMessage occurs when the last encoder does not produce bytes for the wire.
	ErrUnsupportedMessage = errors.New("netloom: outbound message must be encoded into []byte or string")
	// ErrTooLongFrame occurs when a frame exceeds the maximum length allowed by a decoder.
	ErrTooLongFrame = errors.New("netloom: frame length exceeds the maximum")
	// ErrInvalidFrame occurs when a frame header carries a value the decoder cannot accept.
	ErrInvalidFrame = errors.New("netloom: invalid frame")
	// ErrUnsupportedLength occurs when unsupported lengthFieldLength is from input data.
	ErrUnsupportedLength = errors.New("netloom: unsupported lengthFieldLength. (expected: 1, 2, 3, 4, or 8)")
	// ErrTooLessLength occurs when adjusted frame length is less than zero.
	ErrTooLessLength = errors.New("netloom: adjusted frame length is less than zero")
	// ErrGroupFull occurs when joining a group that already holds its maximum number of members.
	ErrGroupFull = errors.New("netloom: group is full")
)
