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
	"github.com/chewxy/math32"
	"github.com/gorse-io/rectool/base"
)

// Initializer creates a tensor of the given shape filled with initial weights.
type Initializer func(shape ...int) *Tensor

// fans follows the Keras convention: for a matrix the first dimension is fan-in and the second is fan-out,
// higher dimensions are treated as receptive fields.
func fans(shape []int) (fanIn, fanOut float32) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return float32(shape[0]), float32(shape[0])
	default:
		receptive := float32(prod(shape[2:]))
		return float32(shape[0]) * receptive, float32(shape[1]) * receptive
	}
}

// GlorotUniform draws from U(-limit, limit) with limit = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform(rng base.RandomGenerator) Initializer {
	return func(shape ...int) *Tensor {
		fanIn, fanOut := fans(shape)
		limit := math32.Sqrt(6 / (fanIn + fanOut))
		return Uniform(rng, -limit, limit, shape...)
	}
}

// LeCunUniform draws from U(-limit, limit) with limit = sqrt(3 / fanIn).
func LeCunUniform(rng base.RandomGenerator) Initializer {
	return func(shape ...int) *Tensor {
		fanIn, _ := fans(shape)
		limit := math32.Sqrt(3 / fanIn)
		return Uniform(rng, -limit, limit, shape...)
	}
}
