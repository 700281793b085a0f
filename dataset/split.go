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

package dataset

import (
	"math"

	"github.com/gorse-io/rectool/base"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// SplitRatings shuffles ratings with seed and holds out ceil(n * testSize) of them for testing.
func SplitRatings(ratings []Rating, testSize float64, seed int64) (train, test []Rating, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NotValidf("test size %v", testSize)
	}
	n := len(ratings)
	numTest := int(math.Ceil(float64(n) * testSize))
	if n > 0 && numTest >= n {
		return nil, nil, errors.NotValidf("test size %v for %d ratings", testSize, n)
	}
	perm := base.NewRandomGenerator(seed).PermInt32(n)
	pick := func(i int32, _ int) Rating { return ratings[i] }
	return lo.Map(perm[numTest:], pick), lo.Map(perm[:numTest], pick), nil
}
