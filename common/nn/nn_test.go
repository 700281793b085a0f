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

	"github.com/chewxy/math32"
	"github.com/gorse-io/rectool/base"
	"github.com/stretchr/testify/assert"
)

func TestLinear(t *testing.T) {
	layer := NewLinear(3, 2, nil)
	assert.Equal(t, []int{3, 2}, layer.W.Shape())
	assert.Equal(t, []float32{0, 0}, layer.B.Data())
	limit := math32.Sqrt(6.0 / 5.0)
	for _, w := range layer.W.Data() {
		assert.LessOrEqual(t, math32.Abs(w), limit)
	}
	y := layer.Forward(Rand(4, 3))
	assert.Equal(t, []int{4, 2}, y.Shape())
	assert.Len(t, layer.Parameters(), 2)
}

func TestInitializers(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	w := LeCunUniform(rng)(16, 1)
	for _, v := range w.Data() {
		assert.LessOrEqual(t, math32.Abs(v), math32.Sqrt(3.0/16.0))
	}
	w = GlorotUniform(rng)(100, 8)
	for _, v := range w.Data() {
		assert.LessOrEqual(t, math32.Abs(v), math32.Sqrt(6.0/108.0))
	}
}

func TestSequential(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	embedding := NewEmbedding(10, 4, GlorotUniform(rng))
	model := NewSequential(
		embedding,
		NewFlatten(),
		NewLinear(4, 8, GlorotUniform(rng)),
		NewReLU(),
		NewLinear(8, 1, LeCunUniform(rng)),
	)
	assert.Len(t, model.Parameters(), 5)
	y := model.Forward(Reshape(NewIndices(1, 3, 5), 3, 1))
	assert.Equal(t, []int{3, 1}, y.Shape())

	// only looked up rows receive gradients
	Sum(y).Backward()
	grad := embedding.W.Grad()
	for row := 0; row < 10; row++ {
		nonZero := false
		for col := 0; col < 4; col++ {
			if grad.Get(row, col) != 0 {
				nonZero = true
			}
		}
		if row != 1 && row != 3 && row != 5 {
			assert.False(t, nonZero, "row %d", row)
		}
	}
}
