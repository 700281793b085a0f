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
	"slices"

	"github.com/chewxy/math32"
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduce sums a gradient of the broadcast shape back into the shape of the suffix operand.
func reduce(dy *Tensor, shape []int) *Tensor {
	gx := Zeros(shape...)
	wSize := len(gx.data)
	for i := range dy.data {
		gx.data[i%wSize] += dy.data[i]
	}
	return gx
}

// checkSuffix panics unless the shape of x1 is a suffix of the shape of x0.
func checkSuffix(name string, x0, x1 *Tensor) {
	if len(x1.shape) > len(x0.shape) || !slices.Equal(x0.shape[len(x0.shape)-len(x1.shape):], x1.shape) {
		panic(fmt.Sprintf("%s: the shape of the second tensor %v must be a suffix of the shape of the first tensor %v",
			name, x1.shape, x0.shape))
	}
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.clone(), reduce(dy, a.inputs[1].shape)}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sub(inputs[1])
	return y
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx1 := reduce(dy, s.inputs[1].shape)
	gx1.scale(-1)
	return []*Tensor{dy.clone(), gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.mul(inputs[1])
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx0.mul(m.inputs[1])
	gx1 := dy.clone()
	gx1.mul(m.inputs[0])
	return []*Tensor{gx0, reduce(gx1, m.inputs[1].shape)}
}

type matMul struct {
	base
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], false, false)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.matMul(m.inputs[1], false, true)
	gx1 := m.inputs[0].matMul(dy, true, false)
	return []*Tensor{gx0, gx1}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.maximum(0)
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	for i, x := range r.inputs[0].data {
		if x <= 0 {
			gx.data[i] = 0
		}
	}
	return []*Tensor{gx}
}

type square struct {
	base
}

func (s *square) String() string {
	return "Square"
}

func (s *square) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.square()
	return y
}

func (s *square) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	gx.mul(s.inputs[0])
	gx.scale(2)
	return []*Tensor{gx}
}

type sum struct {
	base
}

func (s *sum) String() string {
	return "Sum"
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	return NewScalar(inputs[0].sum())
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	gx := Zeros(s.inputs[0].shape...)
	for i := range gx.data {
		gx.data[i] = dy.data[0]
	}
	return []*Tensor{gx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	return NewScalar(x.sum() / float32(len(x.data)))
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	gx := Zeros(m.inputs[0].shape...)
	g := dy.data[0] / float32(len(gx.data))
	for i := range gx.data {
		gx.data[i] = g
	}
	return []*Tensor{gx}
}

type embedding struct {
	base
}

func (e *embedding) String() string {
	return "Embedding"
}

func (e *embedding) forward(inputs ...*Tensor) *Tensor {
	w, x := inputs[0], inputs[1]
	dim := len(w.data) / w.shape[0]
	shape := append(slices.Clone(x.shape), w.shape[1:]...)
	y := Zeros(shape...)
	for i, v := range x.data {
		index := int(v)
		if index < 0 || index >= w.shape[0] {
			panic(fmt.Sprintf("embedding index %d out of range [0, %d)", index, w.shape[0]))
		}
		copy(y.data[i*dim:(i+1)*dim], w.data[index*dim:(index+1)*dim])
	}
	return y
}

func (e *embedding) backward(dy *Tensor) []*Tensor {
	w, x := e.inputs[0], e.inputs[1]
	dim := len(w.data) / w.shape[0]
	gw := Zeros(w.shape...)
	for i, v := range x.data {
		index := int(v)
		row := gw.data[index*dim : (index+1)*dim]
		for j := range row {
			row[j] += dy.data[i*dim+j]
		}
	}
	return []*Tensor{gw, nil}
}

// slice selects columns [begin, end) of a 2-D tensor.
type slice struct {
	base
	begin int
	end   int
}

func (s *slice) String() string {
	return "Slice"
}

func (s *slice) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	rows, cols := x.shape[0], x.shape[1]
	width := s.end - s.begin
	y := Zeros(rows, width)
	for i := 0; i < rows; i++ {
		copy(y.data[i*width:(i+1)*width], x.data[i*cols+s.begin:i*cols+s.end])
	}
	return y
}

func (s *slice) backward(dy *Tensor) []*Tensor {
	x := s.inputs[0]
	rows, cols := x.shape[0], x.shape[1]
	width := s.end - s.begin
	gx := Zeros(x.shape...)
	for i := 0; i < rows; i++ {
		copy(gx.data[i*cols+s.begin:i*cols+s.end], dy.data[i*width:(i+1)*width])
	}
	return []*Tensor{gx}
}

// concat joins 2-D tensors along columns.
type concat struct {
	base
}

func (c *concat) String() string {
	return "Concat"
}

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	rows := inputs[0].shape[0]
	cols := 0
	for _, x := range inputs {
		if len(x.shape) != 2 || x.shape[0] != rows {
			panic(fmt.Sprintf("concat requires 2-D tensors with %d rows but got %v", rows, x.shape))
		}
		cols += x.shape[1]
	}
	y := Zeros(rows, cols)
	for i := 0; i < rows; i++ {
		offset := i * cols
		for _, x := range inputs {
			width := x.shape[1]
			copy(y.data[offset:offset+width], x.data[i*width:(i+1)*width])
			offset += width
		}
	}
	return y
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	rows, cols := dy.shape[0], dy.shape[1]
	grads := make([]*Tensor, len(c.inputs))
	for j, x := range c.inputs {
		grads[j] = Zeros(x.shape...)
	}
	for i := 0; i < rows; i++ {
		offset := i * cols
		for j, x := range c.inputs {
			width := x.shape[1]
			copy(grads[j].data[i*width:(i+1)*width], dy.data[offset:offset+width])
			offset += width
		}
	}
	return grads
}

type reshape struct {
	base
	shape []int
}

func (r *reshape) String() string {
	return "Reshape"
}

func (r *reshape) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	if prod(r.shape) != len(x.data) {
		panic(fmt.Sprintf("cannot reshape %v into %v", x.shape, r.shape))
	}
	y := x.clone()
	y.shape = slices.Clone(r.shape)
	return y
}

func (r *reshape) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	gx.shape = slices.Clone(r.inputs[0].shape)
	return []*Tensor{gx}
}

// Add returns the element-wise sum of two tensors. The shape of the smaller tensor must be a suffix of the
// shape of the larger one.
func Add(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix("Add", x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns x0 - x1. The shape of x1 must be a suffix of the shape of x0.
func Sub(x0, x1 *Tensor) *Tensor {
	checkSuffix("Sub", x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors.
func Mul(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix("Mul", x0, x1)
	return apply(&mul{}, x0, x1)
}

// MatMul returns the product of two matrices.
func MatMul(x, y *Tensor) *Tensor {
	return apply(&matMul{}, x, y)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

func Square(x *Tensor) *Tensor {
	return apply(&square{}, x)
}

// Sum returns the sum of all elements as a scalar.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Mean returns the mean of all elements as a scalar.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

// Embedding gathers rows of w by the indices in x. The result has shape x.shape + w.shape[1:].
func Embedding(w, x *Tensor) *Tensor {
	return apply(&embedding{}, w, x)
}

// Slice returns columns [begin, end) of a 2-D tensor.
func Slice(x *Tensor, begin, end int) *Tensor {
	if len(x.shape) != 2 || begin < 0 || end > x.shape[1] || begin >= end {
		panic(fmt.Sprintf("invalid slice [%d, %d) of %v", begin, end, x.shape))
	}
	return apply(&slice{begin: begin, end: end}, x)
}

// Concat joins 2-D tensors along columns.
func Concat(inputs ...*Tensor) *Tensor {
	return apply(&concat{}, inputs...)
}

func Reshape(x *Tensor, shape ...int) *Tensor {
	return apply(&reshape{shape: shape}, x)
}

// Flatten reshapes a tensor into [batch, features].
func Flatten(x *Tensor) *Tensor {
	if len(x.shape) == 0 {
		return Reshape(x, 1, 1)
	}
	return Reshape(x, x.shape[0], prod(x.shape[1:]))
}
