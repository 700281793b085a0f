// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nn

import (
	"testing"

	"github.com/gorse-io/rectool/base"
	"github.com/stretchr/testify/assert"
)

var testRng = base.NewRandomGenerator(0)

// Rand creates a tensor filled with uniform random floats in [0, 1).
func Rand(shape ...int) *Tensor {
	return Uniform(testRng, 0, 1, shape...)
}

// LinSpace creates a tensor filled with evenly spaced values from start to end.
func LinSpace(start, end float32, shape ...int) *Tensor {
	n := prod(shape)
	data := make([]float32, n)
	delta := (end - start) / float32(n-1)
	for i := range data {
		data[i] = start + delta*float32(i)
	}
	return NewTensor(data, shape...)
}

func TestTensor_Get(t *testing.T) {
	x := LinSpace(0, 23, 2, 3, 4)
	assert.Equal(t, []int{2, 3, 4}, x.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, float32(i*12+j*4+k), x.Get(i, j, k))
			}
		}
	}
	assert.Panics(t, func() { x.Get(0, 0) })
}

func TestTensor_String(t *testing.T) {
	assert.Equal(t, "3", NewScalar(3).String())
	assert.Equal(t, "[1, 2, 3]", NewTensor([]float32{1, 2, 3}, 3).String())
	assert.Equal(t, "[0, 1, 2, 3, 4, ..., 7, 8, 9, 10, 11]", LinSpace(0, 11, 12).String())
}

func TestNewTensor(t *testing.T) {
	assert.Panics(t, func() { NewTensor([]float32{1, 2, 3}, 2, 2) })
	assert.Equal(t, []float32{0, 1, 2}, NewIndices(0, 1, 2).Data())
}
