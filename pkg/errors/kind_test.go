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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	err := New(KindDecode, 7, "decode", ErrTooLongFrame)
	assert.ErrorIs(t, err, ErrDecodeFailure)
	assert.ErrorIs(t, err, ErrTooLongFrame)
	assert.NotErrorIs(t, err, ErrHandlerFailure)
	assert.Equal(t, KindDecode, KindOf(err))
	assert.True(t, IsConnectionScoped(err))
	assert.Equal(t, "netloom: decode failure on connection 7 (decode): "+ErrTooLongFrame.Error(), err.Error())

	wrapped := fmt.Errorf("serving: %w", err)
	assert.ErrorIs(t, wrapped, ErrDecodeFailure)
	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.EqualValues(t, 7, e.ConnID)
}

func TestKindScope(t *testing.T) {
	bind := New(KindBind, 0, "listen", io.ErrUnexpectedEOF)
	assert.False(t, IsConnectionScoped(bind))
	assert.Equal(t, "netloom: bind failure (listen): unexpected EOF", bind.Error())
	assert.False(t, KindAccept.ConnectionScoped())
	for _, k := range []Kind{KindDecode, KindHandler, KindEncode, KindWriteTimeout, KindIdleTimeout} {
		assert.Truef(t, k.ConnectionScoped(), "kind %s", k)
	}
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
	assert.Equal(t, "kind(200)", Kind(200).String())
}
