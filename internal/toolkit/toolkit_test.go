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

package toolkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilToPowerOfTwo(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{name: "zero", n: 0, want: 2},
		{name: "one", n: 1, want: 2},
		{name: "two", n: 2, want: 2},
		{name: "three", n: 3, want: 4},
		{name: "five", n: 5, want: 8},
		{name: "power_of_two_1024", n: 1 << 10, want: 1 << 10},
		{name: "near_power_1025", n: 1<<10 + 1, want: 1 << 11},
		{name: "medium_5000", n: 5000, want: 1 << 13},
		{name: "huge_1G_plus_1", n: 1<<30 + 1, want: 1 << 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CeilToPowerOfTwo(tt.n))
			assert.True(t, IsPowerOfTwo(CeilToPowerOfTwo(tt.n)))
		})
	}
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(12))
}

func TestBytesStringConversion(t *testing.T) {
	assert.Equal(t, "netloom", BytesToString([]byte("netloom")))
	assert.Equal(t, "", BytesToString(nil))
	assert.Equal(t, []byte("frame"), StringToBytes("frame"))
	assert.Nil(t, StringToBytes(""))
}
