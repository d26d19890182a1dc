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

package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/netloom/netloom/pkg/errors"
)

// FixedLengthFrameCodec cuts the stream into frames of the same length and
// checks outbound messages are made of whole frames.
type FixedLengthFrameCodec struct {
	frameLength int
}

// NewFixedLengthFrameCodec instantiates and returns a codec with fixed length.
func NewFixedLengthFrameCodec(frameLength int) *FixedLengthFrameCodec {
	if frameLength <= 0 {
		frameLength = 1
	}
	return &FixedLengthFrameCodec{frameLength}
}

// DecodeFrame implements netloom.FrameDecoder.
func (cc *FixedLengthFrameCodec) DecodeFrame(buf []byte) ([]byte, int, error) {
	if len(buf) < cc.frameLength {
		return nil, 0, nil
	}
	return buf[:cc.frameLength], cc.frameLength, nil
}

// Encode implements netloom.Encoder.
func (cc *FixedLengthFrameCodec) Encode(msg any) (any, error) {
	buf, err := toBytes(msg)
	if err != nil {
		return nil, err
	}
	if len(buf)%cc.frameLength != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", errors.ErrInvalidFrame, len(buf), cc.frameLength)
	}
	return buf, nil
}

// EncoderConfig config for encoder.
type EncoderConfig struct {
	// ByteOrder is the ByteOrder of the length field.
	ByteOrder binary.ByteOrder
	// LengthFieldLength is the length of the length field.
	LengthFieldLength int
	// LengthAdjustment is the compensation value to add to the value of the length field
	LengthAdjustment int
	// LengthIncludesLengthFieldLength is true, the length of the prepended length field is added to the value of the prepended length field
	LengthIncludesLengthFieldLength bool
}

// DecoderConfig config for decoder.
type DecoderConfig struct {
	// ByteOrder is the ByteOrder of the length field.
	ByteOrder binary.ByteOrder
	// LengthFieldOffset is the offset of the length field
	LengthFieldOffset int
	// LengthFieldLength is the length of the length field
	LengthFieldLength int
	// LengthAdjustment is the compensation value to add to the value of the length field
	LengthAdjustment int
	// InitialBytesToStrip is the number of first bytes to strip out from the decoded frame
	InitialBytesToStrip int
	// MaxFrameLength is the longest frame accepted, header included, DefaultMaxFrameLength when zero
	MaxFrameLength int
}

// LengthFieldBasedFrameDecoder cuts frames whose length is carried in a header field.
// It follows the semantics of netty's LengthFieldBasedFrameDecoder.
type LengthFieldBasedFrameDecoder struct {
	config DecoderConfig
}

// NewLengthFieldBasedFrameDecoder instantiates a decoder with the given config,
// a nil ByteOrder means big endian.
func NewLengthFieldBasedFrameDecoder(config DecoderConfig) *LengthFieldBasedFrameDecoder {
	if config.ByteOrder == nil {
		config.ByteOrder = binary.BigEndian
	}
	if config.MaxFrameLength <= 0 {
		config.MaxFrameLength = DefaultMaxFrameLength
	}
	return &LengthFieldBasedFrameDecoder{config}
}

// DecodeFrame implements netloom.FrameDecoder.
func (d *LengthFieldBasedFrameDecoder) DecodeFrame(buf []byte) ([]byte, int, error) {
	cfg := &d.config
	headerEnd := cfg.LengthFieldOffset + cfg.LengthFieldLength
	if len(buf) < headerEnd {
		return nil, 0, nil
	}
	length, err := readLength(cfg.ByteOrder, buf[cfg.LengthFieldOffset:headerEnd])
	if err != nil {
		return nil, 0, err
	}
	if length > math.MaxInt32 {
		return nil, 0, fmt.Errorf("%w: length field carries %d", errors.ErrTooLongFrame, length)
	}

	frameLength := headerEnd + int(length) + cfg.LengthAdjustment
	if frameLength < headerEnd {
		return nil, 0, errors.ErrTooLessLength
	}
	if frameLength > cfg.MaxFrameLength {
		return nil, 0, fmt.Errorf("%w: %d > %d", errors.ErrTooLongFrame, frameLength, cfg.MaxFrameLength)
	}
	if cfg.InitialBytesToStrip > frameLength {
		return nil, 0, fmt.Errorf("%w: cannot strip %d bytes from a %d-byte frame",
			errors.ErrInvalidFrame, cfg.InitialBytesToStrip, frameLength)
	}
	if len(buf) < frameLength {
		return nil, 0, nil
	}
	return buf[cfg.InitialBytesToStrip:frameLength], frameLength, nil
}

// LengthFieldPrepender prepends the length of every outbound message.
// It follows the semantics of netty's LengthFieldPrepender.
type LengthFieldPrepender struct {
	config EncoderConfig
}

// NewLengthFieldPrepender instantiates an encoder with the given config,
// a nil ByteOrder means big endian.
func NewLengthFieldPrepender(config EncoderConfig) *LengthFieldPrepender {
	if config.ByteOrder == nil {
		config.ByteOrder = binary.BigEndian
	}
	return &LengthFieldPrepender{config}
}

// Encode implements netloom.Encoder.
func (e *LengthFieldPrepender) Encode(msg any) (any, error) {
	buf, err := toBytes(msg)
	if err != nil {
		return nil, err
	}
	cfg := &e.config
	length := len(buf) + cfg.LengthAdjustment
	if cfg.LengthIncludesLengthFieldLength {
		length += cfg.LengthFieldLength
	}
	if length < 0 {
		return nil, errors.ErrTooLessLength
	}

	out := make([]byte, cfg.LengthFieldLength, cfg.LengthFieldLength+len(buf))
	switch cfg.LengthFieldLength {
	case 1:
		if length >= 256 {
			return nil, fmt.Errorf("length does not fit into a byte: %d", length)
		}
		out[0] = byte(length)
	case 2:
		if length >= 65536 {
			return nil, fmt.Errorf("length does not fit into a short integer: %d", length)
		}
		cfg.ByteOrder.PutUint16(out, uint16(length))
	case 3:
		if length >= 16777216 {
			return nil, fmt.Errorf("length does not fit into a medium integer: %d", length)
		}
		writeUint24(cfg.ByteOrder, out, length)
	case 4:
		cfg.ByteOrder.PutUint32(out, uint32(length))
	case 8:
		cfg.ByteOrder.PutUint64(out, uint64(length))
	default:
		return nil, errors.ErrUnsupportedLength
	}
	return append(out, buf...), nil
}

func readLength(byteOrder binary.ByteOrder, b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(byteOrder.Uint16(b)), nil
	case 3:
		return readUint24(byteOrder, b), nil
	case 4:
		return uint64(byteOrder.Uint32(b)), nil
	case 8:
		return byteOrder.Uint64(b), nil
	}
	return 0, errors.ErrUnsupportedLength
}

func readUint24(byteOrder binary.ByteOrder, b []byte) uint64 {
	_ = b[2]
	if byteOrder == binary.LittleEndian {
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	}
	return uint64(b[2]) | uint64(b[1])<<8 | uint64(b[0])<<16
}

func writeUint24(byteOrder binary.ByteOrder, b []byte, v int) {
	_ = b[2]
	if byteOrder == binary.LittleEndian {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	} else {
		b[2] = byte(v)
		b[1] = byte(v >> 8)
		b[0] = byte(v >> 16)
	}
}

func toBytes(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("%w: got %T", errors.ErrUnsupportedMessage, msg)
}
