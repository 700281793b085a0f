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

// MSE returns the mean squared error between predictions and targets of the same shape.
func MSE(x, y *Tensor) *Tensor {
	return Mean(Square(Sub(x, y)))
}

// L2 returns factor * sum(w^2) over all parameters.
func L2(factor float32, params ...*Tensor) *Tensor {
	var penalty *Tensor
	for _, p := range params {
		term := Sum(Square(p))
		if penalty == nil {
			penalty = term
		} else {
			penalty = Add(penalty, term)
		}
	}
	if penalty == nil {
		return NewScalar(0)
	}
	return Mul(penalty, NewScalar(factor))
}
