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

package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by where it happened and how far it propagates.
type Kind uint8

const (
	// KindUnknown is the zero Kind, it is never attached to an *Error by this package.
	KindUnknown Kind = iota
	// KindBind is fatal and aborts the engine startup.
	KindBind
	// KindAccept is recoverable, the listener logs it and continues.
	KindAccept
	// KindDecode closes the connection whose inbound bytes could not be decoded.
	KindDecode
	// KindHandler closes the connection whose handler failed or panicked.
	KindHandler
	// KindEncode closes the connection whose outbound message could not be encoded.
	KindEncode
	// KindWriteTimeout forces a connection closed after its close grace expired with data still queued.
	KindWriteTimeout
	// KindIdleTimeout closes a connection that had no traffic for longer than the idle timeout.
	KindIdleTimeout
)

var kindNames = [...]string{
	KindUnknown:      "unknown",
	KindBind:         "bind failure",
	KindAccept:       "accept failure",
	KindDecode:       "decode failure",
	KindHandler:      "handler failure",
	KindEncode:       "encode failure",
	KindWriteTimeout: "write timeout",
	KindIdleTimeout:  "idle timeout",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ConnectionScoped reports whether failures of this kind are contained within a single connection.
func (k Kind) ConnectionScoped() bool {
	switch k {
	case KindDecode, KindHandler, KindEncode, KindWriteTimeout, KindIdleTimeout:
		return true
	}
	return false
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrBindFailure    = &kindError{KindBind}
	ErrAcceptFailure  = &kindError{KindAccept}
	ErrDecodeFailure  = &kindError{KindDecode}
	ErrHandlerFailure = &kindError{KindHandler}
	ErrEncodeFailure  = &kindError{KindEncode}
	ErrWriteTimeout   = &kindError{KindWriteTimeout}
	ErrIdleTimeout    = &kindError{KindIdleTimeout}
)

type kindError struct{ kind Kind }

func (e *kindError) Error() string { return "netloom: " + e.kind.String() }

// Error is a classified failure. ConnID is zero for failures outside of any connection.
type Error struct {
	Kind   Kind
	ConnID uint64
	Op     string
	Err    error
}

// New returns a classified error for the connection identified by connID.
func New(kind Kind, connID uint64, op string, err error) *Error {
	return &Error{Kind: kind, ConnID: connID, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := "netloom: " + e.Kind.String()
	if e.ConnID != 0 {
		msg += fmt.Sprintf(" on connection %d", e.ConnID)
	}
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	if ke, ok := target.(*kindError); ok {
		return ke.kind == e.Kind
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConnectionScoped reports whether err is a classified failure confined to one connection.
func IsConnectionScoped(err error) bool {
	return KindOf(err).ConnectionScoped()
}
