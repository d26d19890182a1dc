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

// Package codec provides the built-in pipeline stages of netloom: frame decoders
// cutting a byte stream into frames, and the matching encoders.
//
// Stages are plain values implementing the capability methods, so they plug into
// netloom.Pipeline without this package depending on netloom:
//
//	DecodeFrame(buf []byte) (frame []byte, n int, err error)
//	Decode(msg any) (any, error)
//	Encode(msg any) (any, error)
package codec

import (
	"bytes"
	"fmt"

	"github.com/netloom/netloom/pkg/errors"
)

// DefaultMaxFrameLength is the longest frame the frame decoders accept unless told otherwise.
const DefaultMaxFrameLength = 8192

// DelimiterBasedFrameDecoder cuts frames at any of its delimiters, the delimiter is
// not part of the frame. When several delimiters match, the one producing the
// shortest frame wins.
type DelimiterBasedFrameDecoder struct {
	maxFrameLength int
	delimiters     [][]byte
	lineBased      bool
	slack          int // bytes of a delimiter that may trail a frame of maximum length
}

// NewDelimiterBasedFrameDecoder instantiates a decoder splitting on the given delimiters,
// frames longer than maxFrameLength fail the decoder as soon as they are detected.
func NewDelimiterBasedFrameDecoder(maxFrameLength int, delimiters ...[]byte) *DelimiterBasedFrameDecoder {
	if maxFrameLength <= 0 {
		maxFrameLength = DefaultMaxFrameLength
	}
	d := &DelimiterBasedFrameDecoder{maxFrameLength: maxFrameLength}
	for _, delim := range delimiters {
		if len(delim) > 0 {
			d.delimiters = append(d.delimiters, delim)
		}
	}
	if len(d.delimiters) == 0 {
		d.delimiters = [][]byte{{'\n'}}
	}
	for _, delim := range d.delimiters {
		if len(delim)-1 > d.slack {
			d.slack = len(delim) - 1
		}
	}
	return d
}

// NewLineBasedFrameDecoder instantiates a decoder splitting on "\n" and "\r\n".
func NewLineBasedFrameDecoder(maxFrameLength int) *DelimiterBasedFrameDecoder {
	d := NewDelimiterBasedFrameDecoder(maxFrameLength, []byte{'\n'})
	d.lineBased = true
	d.slack++
	return d
}

// MaxFrameLength returns the longest frame accepted.
func (d *DelimiterBasedFrameDecoder) MaxFrameLength() int {
	return d.maxFrameLength
}

// DecodeFrame implements netloom.FrameDecoder.
func (d *DelimiterBasedFrameDecoder) DecodeFrame(buf []byte) (frame []byte, n int, err error) {
	idx, delimLen := -1, 0
	for _, delim := range d.delimiters {
		if i := bytes.Index(buf, delim); i >= 0 && (idx < 0 || i < idx) {
			idx, delimLen = i, len(delim)
		}
	}
	if idx < 0 {
		if len(buf) > d.maxFrameLength+d.slack {
			return nil, 0, fmt.Errorf("%w: over %d bytes without a delimiter", errors.ErrTooLongFrame, d.maxFrameLength)
		}
		return nil, 0, nil
	}

	frame = buf[:idx]
	if d.lineBased && idx > 0 && buf[idx-1] == '\r' {
		frame = buf[:idx-1]
	}
	if len(frame) > d.maxFrameLength {
		return nil, 0, fmt.Errorf("%w: %d > %d", errors.ErrTooLongFrame, len(frame), d.maxFrameLength)
	}
	return frame, idx + delimLen, nil
}

// DelimiterEncoder appends its delimiter to every outbound message.
type DelimiterEncoder struct {
	delimiter []byte
}

// NewDelimiterEncoder instantiates an encoder terminating messages with delimiter.
func NewDelimiterEncoder(delimiter []byte) *DelimiterEncoder {
	return &DelimiterEncoder{delimiter}
}

// NewLineEncoder instantiates an encoder terminating messages with "\n".
func NewLineEncoder() *DelimiterEncoder {
	return NewDelimiterEncoder([]byte{'\n'})
}

// Encode implements netloom.Encoder.
func (e *DelimiterEncoder) Encode(msg any) (any, error) {
	switch v := msg.(type) {
	case []byte:
		out := make([]byte, 0, len(v)+len(e.delimiter))
		return append(append(out, v...), e.delimiter...), nil
	case string:
		out := make([]byte, 0, len(v)+len(e.delimiter))
		return append(append(out, v...), e.delimiter...), nil
	}
	return nil, fmt.Errorf("%w: delimiter encoder got %T", errors.ErrUnsupportedMessage, msg)
}

// StringCodec turns inbound frames into strings and outbound strings into bytes.
type StringCodec struct{}

// Decode implements netloom.Decoder.
func (StringCodec) Decode(msg any) (any, error) {
	switch v := msg.(type) {
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("%w: string decoder got %T", errors.ErrInvalidFrame, msg)
}

// Encode implements netloom.Encoder.
func (StringCodec) Encode(msg any) (any, error) {
	switch v := msg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	}
	return nil, fmt.Errorf("%w: string encoder got %T", errors.ErrUnsupportedMessage, msg)
}
