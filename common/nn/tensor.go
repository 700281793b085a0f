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
	"fmt"
	"strings"

	"github.com/gorse-io/rectool/base"
)

type Tensor struct {
	data  []float32
	shape []int
	grad  *Tensor
	op    op
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if size := prod(shape); size != len(data) {
		panic(fmt.Sprintf("data size %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

// NewIndices creates a 1-D tensor of indices used by embedding lookups. Indices are stored as float32, so
// they must be less than 2^24 to be represented exactly.
func NewIndices(indices ...int32) *Tensor {
	data := make([]float32, len(indices))
	for i, index := range indices {
		data[i] = float32(index)
	}
	return NewTensor(data, len(indices))
}

// Uniform creates a tensor filled with uniform random floats in [low, high).
func Uniform(rng base.RandomGenerator, low, high float32, shape ...int) *Tensor {
	return &Tensor{
		data:  rng.UniformVector(prod(shape), low, high),
		shape: shape,
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	n := prod(shape)
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, prod(shape)),
		shape: shape,
	}
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Data() []float32 {
	return t.data
}

// Get returns the element at the given indices.
func (t *Tensor) Get(indices ...int) float32 {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("expect %d indices but got %d", len(t.shape), len(indices)))
	}
	offset := 0
	for i, index := range indices {
		offset = offset*t.shape[i] + index
	}
	return t.data[offset]
}

func (t *Tensor) String() string {
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward computes gradients of all tensors in the graph with respect to t. Ops are visited in reverse
// topological order and gradients are accumulated, so a tensor consumed by several ops receives the sum.
// Gradients of leaf tensors accumulate across calls until they are cleared.
func (t *Tensor) Backward() {
	t.grad = Ones(t.shape...)
	var (
		ops     []op
		visited = make(map[op]struct{})
		visit   func(x *Tensor)
	)
	visit = func(x *Tensor) {
		if x.op == nil {
			return
		}
		if _, ok := visited[x.op]; ok {
			return
		}
		visited[x.op] = struct{}{}
		inputs, _ := x.op.inputsAndOutput()
		for _, input := range inputs {
			visit(input)
		}
		ops = append(ops, x.op)
	}
	visit(t)
	for i := len(ops) - 1; i >= 0; i-- {
		inputs, output := ops[i].inputsAndOutput()
		if output.grad == nil {
			continue
		}
		grads := ops[i].backward(output.grad)
		for j, grad := range grads {
			if grad == nil {
				continue
			}
			if inputs[j].grad == nil {
				inputs[j].grad = grad
			} else {
				inputs[j].grad.add(grad)
			}
		}
	}
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return &Tensor{
		data:  newData,
		shape: shape,
	}
}

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) scale(s float32) *Tensor {
	for i := range t.data {
		t.data[i] *= s
	}
	return t
}

func (t *Tensor) square() *Tensor {
	for i := range t.data {
		t.data[i] = t.data[i] * t.data[i]
	}
	return t
}

func (t *Tensor) maximum(v float32) *Tensor {
	for i := range t.data {
		t.data[i] = max(t.data[i], v)
	}
	return t
}

func (t *Tensor) sum() float32 {
	sum := float32(0)
	for i := range t.data {
		sum += t.data[i]
	}
	return sum
}

// matMul multiplies two matrices. If transA is set, t is treated as transposed. If transB is set, other is
// treated as transposed.
func (t *Tensor) matMul(other *Tensor, transA, transB bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic("matMul requires 2-D tensors")
	}
	m, k := t.shape[0], t.shape[1]
	if transA {
		m, k = k, m
	}
	k2, n := other.shape[0], other.shape[1]
	if transB {
		k2, n = n, k2
	}
	if k != k2 {
		panic(fmt.Sprintf("matMul shape mismatch: %v and %v", t.shape, other.shape))
	}
	y := Zeros(m, n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			var a float32
			if transA {
				a = t.data[l*m+i]
			} else {
				a = t.data[i*k+l]
			}
			if a == 0 {
				continue
			}
			row := y.data[i*n : (i+1)*n]
			if transB {
				for j := range row {
					row[j] += a * other.data[j*k+l]
				}
			} else {
				b := other.data[l*n : (l+1)*n]
				for j := range row {
					row[j] += a * b[j]
				}
			}
		}
	}
	return y
}

func prod(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
