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
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func makeRatings(n int) []Rating {
	ratings := make([]Rating, n)
	for i := range ratings {
		ratings[i] = Rating{UserId: i % 7, ItemId: i, Rating: float32(i%5 + 1), Timestamp: int64(i)}
	}
	return ratings
}

func TestSplitRatings(t *testing.T) {
	ratings := makeRatings(101)
	train, test, err := SplitRatings(ratings, 0.2, 42)
	assert.NoError(t, err)
	assert.Len(t, test, 21)
	assert.Len(t, train, 80)

	// partition without overlap
	trainSet := mapset.NewSet[int]()
	for _, r := range train {
		trainSet.Add(r.ItemId)
	}
	testSet := mapset.NewSet[int]()
	for _, r := range test {
		testSet.Add(r.ItemId)
	}
	assert.Zero(t, trainSet.Intersect(testSet).Cardinality())
	assert.Equal(t, 101, trainSet.Union(testSet).Cardinality())

	// deterministic
	train2, test2, err := SplitRatings(ratings, 0.2, 42)
	assert.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
	_, test3, err := SplitRatings(ratings, 0.2, 7)
	assert.NoError(t, err)
	assert.NotEqual(t, test, test3)
}

func TestSplitRatings_Invalid(t *testing.T) {
	_, _, err := SplitRatings(makeRatings(10), 0, 42)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, _, err = SplitRatings(makeRatings(10), 1, 42)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, _, err = SplitRatings(makeRatings(1), 0.2, 42)
	assert.True(t, errors.Is(err, errors.NotValid))
	train, test, err := SplitRatings(nil, 0.2, 42)
	assert.NoError(t, err)
	assert.Empty(t, train)
	assert.Empty(t, test)
}
