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

package byteslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPut(t *testing.T) {
	assert.Nil(t, Get(0))

	buf := Get(100)
	assert.Len(t, buf, 100)
	assert.Equal(t, 128, cap(buf))
	buf[0], buf[99] = 'a', 'z'
	Put(buf)

	again := Get(120)
	assert.Len(t, again, 120)
	assert.Equal(t, 128, cap(again))

	// A slice of odd capacity goes to the class below it.
	Put(make([]byte, 0, 100))
	small := Get(64)
	assert.Len(t, small, 64)
	assert.GreaterOrEqual(t, cap(small), 64)
}
