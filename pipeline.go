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

package netloom

import (
	"fmt"

	"github.com/netloom/netloom/internal/toolkit"
	"github.com/netloom/netloom/pkg/errors"
)

// FrameDecoder cuts complete frames out of the buffered inbound bytes of a connection.
// buf holds every byte received and not yet consumed, n is the number of bytes the
// frame took from buf, n == 0 means more data is needed. frame may alias buf.
// A FrameDecoder must be the first inbound stage of a pipeline.
type FrameDecoder interface {
	DecodeFrame(buf []byte) (frame []byte, n int, err error)
}

// Decoder transforms an inbound message, a nil result drops the message.
type Decoder interface {
	Decode(msg Message) (Message, error)
}

// Encoder transforms an outbound message. Encoders run in the reverse order of their
// registration, and the last one must produce []byte or string.
type Encoder interface {
	Encode(msg Message) (Message, error)
}

// Releaser is implemented by stages that hold resources, Release is called once
// when the connection is closed.
type Releaser interface {
	Release()
}

// PipelineFactory builds a fresh pipeline for every accepted connection.
type PipelineFactory func() *Pipeline

// Pipeline is the ordered list of named stages a connection runs its messages through.
// It is assembled with AddLast and sealed when it is attached to a connection,
// after which its order never changes.
type Pipeline struct {
	names     []string
	stages    []any
	framer    FrameDecoder
	decoders  []Decoder
	encoders  []Encoder
	releasers []Releaser
	sealed    bool
	err       error
}

// NewPipeline returns an empty pipeline, without stages every inbound chunk
// is dispatched as it was read and outbound messages are written as they are.
func NewPipeline() *Pipeline {
	return new(Pipeline)
}

// AddLast appends a stage under the given name. Errors are recorded and reported
// by Validate, so calls can be chained.
func (p *Pipeline) AddLast(name string, stage any) *Pipeline {
	if p.err != nil {
		return p
	}
	if p.sealed {
		p.err = errors.ErrPipelineSealed
		return p
	}
	p.names = append(p.names, name)
	p.stages = append(p.stages, stage)
	return p
}

// Names returns the stage names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.names))
	copy(names, p.names)
	return names
}

// Validate reports whether the stages can work together.
func (p *Pipeline) Validate() error {
	if p.err != nil {
		return p.err
	}
	var (
		seen    = make(map[string]struct{}, len(p.names))
		framers int
		inbound int
	)
	for i, stage := range p.stages {
		name := p.names[i]
		if name == "" {
			return fmt.Errorf("%w: stage #%d has no name", errors.ErrInvalidPipeline, i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: duplicate stage %q", errors.ErrInvalidPipeline, name)
		}
		seen[name] = struct{}{}

		_, isFramer := stage.(FrameDecoder)
		_, isDecoder := stage.(Decoder)
		_, isEncoder := stage.(Encoder)
		if !isFramer && !isDecoder && !isEncoder {
			return fmt.Errorf("%w: stage %q is neither a decoder nor an encoder", errors.ErrInvalidPipeline, name)
		}
		if isFramer {
			if framers++; framers > 1 {
				return fmt.Errorf("%w: stage %q is a second frame decoder", errors.ErrInvalidPipeline, name)
			}
			if inbound > 0 {
				return fmt.Errorf("%w: frame decoder %q is not the first inbound stage", errors.ErrInvalidPipeline, name)
			}
		}
		if isFramer || isDecoder {
			inbound++
		}
	}
	return nil
}

func (p *Pipeline) seal() error {
	if p.sealed {
		return errors.ErrPipelineSealed
	}
	if err := p.Validate(); err != nil {
		return err
	}
	for _, stage := range p.stages {
		if fd, ok := stage.(FrameDecoder); ok {
			p.framer = fd
		}
		if d, ok := stage.(Decoder); ok {
			p.decoders = append(p.decoders, d)
		}
		if r, ok := stage.(Releaser); ok {
			p.releasers = append(p.releasers, r)
		}
	}
	for i := len(p.stages) - 1; i >= 0; i-- {
		if e, ok := p.stages[i].(Encoder); ok {
			p.encoders = append(p.encoders, e)
		}
	}
	p.sealed = true
	return nil
}

func (p *Pipeline) frame(buf []byte) (frame []byte, n int, err error) {
	if p.framer == nil {
		return buf, len(buf), nil
	}
	if frame, n, err = p.framer.DecodeFrame(buf); err == nil && (n < 0 || n > len(buf)) {
		err = fmt.Errorf("%w: frame decoder consumed %d of %d bytes", errors.ErrInvalidFrame, n, len(buf))
	}
	return
}

func (p *Pipeline) decode(msg Message) (Message, error) {
	var err error
	for _, d := range p.decoders {
		if msg, err = d.Decode(msg); err != nil || msg == nil {
			return nil, err
		}
	}
	return msg, nil
}

// encode runs msg through the encoders, a nil result means there is nothing to write.
func (p *Pipeline) encode(msg Message) ([]byte, error) {
	var err error
	for _, e := range p.encoders {
		if msg, err = e.Encode(msg); err != nil {
			return nil, err
		}
	}
	switch v := msg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return toolkit.StringToBytes(v), nil
	}
	return nil, fmt.Errorf("%w: got %T", errors.ErrUnsupportedMessage, msg)
}

func (p *Pipeline) release() {
	for _, r := range p.releasers {
		r.Release()
	}
	p.releasers = nil
}
