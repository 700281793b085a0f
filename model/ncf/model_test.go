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

package ncf

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gorse-io/rectool/common/nn"
	"github.com/gorse-io/rectool/dataset"
	"github.com/gorse-io/rectool/model"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

const (
	numTestUsers = 20
	numTestItems = 15
)

// newTestRatings generates ratings with a user bias and an item bias.
func newTestRatings() (train, test []dataset.Rating) {
	var ratings []dataset.Rating
	for u := 1; u <= numTestUsers; u++ {
		for i := 1; i <= numTestItems; i++ {
			if (u*7+i*3)%4 == 0 {
				continue
			}
			ratings = append(ratings, dataset.Rating{
				UserId:    u,
				ItemId:    i,
				Rating:    float32(1 + u%3 + i%3),
				Timestamp: int64(u*100 + i),
			})
		}
	}
	train, test, _ = dataset.SplitRatings(ratings, 0.2, 42)
	return
}

func TestNCF_Forward(t *testing.T) {
	for _, layers := range [][]int{{4, 2}, {8, 4}, {16, 16, 16}, {64, 32, 16, 8}} {
		m, err := NewNCF(10, 20, model.Params{model.Layers: layers})
		assert.NoError(t, err)
		y := m.Forward(nn.NewIndices(0, 1, 9), nn.NewIndices(3, 4, 19))
		assert.Equal(t, []int{3, 1}, y.Shape(), "layers %v", layers)
		// embeddings, hidden kernels and biases, prediction kernel and bias
		assert.Len(t, m.Parameters(), 2+2*(len(layers)-1)+2)
		assert.Equal(t, []int{10, layers[0] / 2}, m.userEmbedding.W.Shape())
		assert.Equal(t, []int{20, layers[0] / 2}, m.itemEmbedding.W.Shape())
	}
}

func TestNCF_MFDim(t *testing.T) {
	m, err := NewNCF(10, 20, model.Params{model.Layers: []int{32, 16, 8}, model.MFDim: 8})
	assert.NoError(t, err)
	assert.Equal(t, 8, m.mfDim)
	assert.Equal(t, []int{16, 16}, m.hidden[0].W.Shape())
	assert.Equal(t, []int{16, 1}, m.prediction.W.Shape())

	m, err = NewNCF(10, 20, model.Params{model.Layers: []int{32, 16, 8}})
	assert.NoError(t, err)
	assert.Equal(t, 8, m.mfDim)
	assert.Equal(t, []int{8 + 8, 1}, m.prediction.W.Shape())
}

func TestNCF_DefaultLayers(t *testing.T) {
	m, err := NewNCF(10, 20, model.Params{})
	assert.NoError(t, err)
	assert.Equal(t, []int{256, 256, 128, 64}, m.layers)
	assert.Equal(t, []int{10, 128}, m.userEmbedding.W.Shape())
	assert.Equal(t, 64, m.mfDim)
	// Dense and ReLU per hidden width
	assert.Len(t, m.tower.Layers, 6)
	assert.Len(t, m.hidden, 3)
	assert.Equal(t, []int{128, 256}, m.hidden[0].W.Shape())
	assert.Equal(t, []int{64 + 64, 1}, m.prediction.W.Shape())
}

func TestNCF_Invalid(t *testing.T) {
	for _, c := range []struct {
		numUsers int
		numItems int
		params   model.Params
	}{
		{0, 10, model.Params{}},
		{10, 0, model.Params{}},
		{10, 10, model.Params{model.Layers: []int{8}}},
		{10, 10, model.Params{model.Layers: []int{7, 4}}},
		{10, 10, model.Params{model.Layers: []int{8, 0}}},
		{10, 10, model.Params{model.Layers: []int{-8, 4}}},
		{10, 10, model.Params{model.Layers: []int{8, 4}, model.MFDim: 4}},
		{10, 10, model.Params{model.Layers: []int{8, 4}, model.MFDim: 0}},
		{10, 10, model.Params{model.Layers: []int{8, 4, 2}, model.RegLayers: []float32{0.1}}},
		{10, 10, model.Params{model.BatchSize: 0}},
	} {
		_, err := NewNCF(c.numUsers, c.numItems, c.params)
		assert.True(t, errors.Is(err, errors.NotValid), "%v", c)
	}
}

func TestNCF_Gradient(t *testing.T) {
	m, err := NewNCF(5, 5, model.Params{model.Layers: []int{8, 6, 4}})
	assert.NoError(t, err)
	users := nn.NewIndices(0, 1, 1, 4)
	items := nn.NewIndices(2, 2, 3, 0)
	loss := func() float32 {
		return nn.Sum(m.Forward(users, items)).Data()[0]
	}
	nn.Sum(m.Forward(users, items)).Backward()

	const eps = 1e-3
	for _, param := range []*nn.Tensor{m.userEmbedding.W, m.itemEmbedding.W, m.hidden[0].W, m.prediction.W} {
		data := param.Data()
		for i := range data {
			v := data[i]
			data[i] = v + eps
			y1 := loss()
			data[i] = v - eps
			y0 := loss()
			data[i] = v
			numerical := (y1 - y0) / (2 * eps)
			analytic := param.Grad().Data()[i]
			assert.LessOrEqual(t, math32.Abs(numerical-analytic), 5e-3+1e-2*math32.Abs(numerical))
		}
	}
}

func TestNCF_Fit(t *testing.T) {
	train, test := newTestRatings()
	m, err := NewNCF(numTestUsers, numTestItems, model.Params{
		model.Layers:      []int{8, 4},
		model.Lr:          0.05,
		model.NEpochs:     20,
		model.BatchSize:   32,
		model.RandomState: 0,
	})
	assert.NoError(t, err)
	var losses []float32
	var epochs []int
	score, err := m.Fit(context.Background(), train, test, NewFitConfig().SetCallback(func(epoch int, loss float32, _ Score) {
		epochs = append(epochs, epoch)
		losses = append(losses, loss)
	}))
	assert.NoError(t, err)
	assert.Len(t, epochs, 20)
	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.False(t, math32.IsNaN(score.RMSE))
	assert.Greater(t, score.RMSE, float32(0))
	assert.LessOrEqual(t, score.MAE, score.RMSE)
	assert.Equal(t, score, m.Evaluate(test))
	assert.Equal(t, float64(20), testutil.ToFloat64(TrainEpoch))
	assert.Equal(t, float64(losses[len(losses)-1]), testutil.ToFloat64(TrainLoss))
	assert.Equal(t, float64(score.RMSE), testutil.ToFloat64(TestRMSE))
	assert.Equal(t, float64(score.MAE), testutil.ToFloat64(TestMAE))

	// evaluate only every five epochs
	epochs = nil
	_, err = m.Fit(context.Background(), train, test, NewFitConfig().SetVerbose(5).SetCallback(func(epoch int, _ float32, _ Score) {
		epochs = append(epochs, epoch)
	}))
	assert.NoError(t, err)
	assert.Equal(t, []int{5, 10, 15, 20}, epochs)
}

func TestNCF_FitErrors(t *testing.T) {
	train, test := newTestRatings()
	m, err := NewNCF(numTestUsers-1, numTestItems, model.Params{model.Layers: []int{8, 4}, model.NEpochs: 1})
	assert.NoError(t, err)
	_, err = m.Fit(context.Background(), train, test, nil)
	assert.True(t, errors.Is(err, errors.NotValid))

	m, err = NewNCF(numTestUsers, numTestItems, model.Params{model.Layers: []int{8, 4}, model.NEpochs: 1})
	assert.NoError(t, err)
	_, err = m.Fit(context.Background(), nil, test, nil)
	assert.True(t, errors.Is(err, errors.NotValid))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Fit(ctx, train, test, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNCF_Predict(t *testing.T) {
	train, test := newTestRatings()
	// user 21 only appears in the test set
	test = append(test, dataset.Rating{UserId: numTestUsers + 1, ItemId: 1, Rating: 5})
	m, err := NewNCF(numTestUsers+1, numTestItems, model.Params{model.Layers: []int{8, 4}, model.NEpochs: 2})
	assert.NoError(t, err)
	assert.True(t, m.Invalid())
	assert.Zero(t, m.Predict("1", "1"))
	_, err = m.Fit(context.Background(), train, test, nil)
	assert.NoError(t, err)
	assert.False(t, m.Invalid())

	userIndex, ok := m.UserIndex.Lookup(strconv.Itoa(numTestUsers + 1))
	assert.True(t, ok)
	assert.False(t, m.IsUserPredictable(int32(userIndex)))
	assert.Equal(t, m.GlobalMean, m.Predict(strconv.Itoa(numTestUsers+1), "1"))
	assert.Equal(t, m.GlobalMean, m.Predict("unknown", "1"))
	assert.Equal(t, m.GlobalMean, m.Predict("1", "unknown"))
	assert.NotEqual(t, m.GlobalMean, m.Predict("1", "2"))

	m.Clear()
	assert.True(t, m.Invalid())
}

func TestNCF_Marshal(t *testing.T) {
	train, test := newTestRatings()
	m, err := NewNCF(numTestUsers, numTestItems, model.Params{
		model.Layers:    []int{8, 4},
		model.NEpochs:   2,
		model.RegLayers: []float32{0.05},
	})
	assert.NoError(t, err)
	score, err := m.Fit(context.Background(), train, test, nil)
	assert.NoError(t, err)

	buf := bytes.NewBuffer(nil)
	assert.NoError(t, m.Marshal(buf))
	restored := new(NCF)
	assert.NoError(t, restored.Unmarshal(buf))
	assert.Equal(t, m.GetParams(), restored.GetParams())
	assert.Equal(t, m.GlobalMean, restored.GlobalMean)
	assert.Equal(t, []float32{0.05}, restored.regLayers)
	assert.Equal(t, score, restored.Evaluate(test))
	for u := 1; u <= numTestUsers; u++ {
		userId := strconv.Itoa(u)
		assert.Equal(t, m.Predict(userId, "3"), restored.Predict(userId, "3"))
	}

	// unfitted model
	m.Clear()
	assert.True(t, errors.Is(m.Marshal(bytes.NewBuffer(nil)), errors.NotValid))
	// truncated stream
	assert.Error(t, new(NCF).Unmarshal(bytes.NewBuffer([]byte{1, 2, 3})))
}

func TestParseLayers(t *testing.T) {
	layers, err := ParseLayers("64, 32,16,8")
	assert.NoError(t, err)
	assert.Equal(t, []int{64, 32, 16, 8}, layers)
	_, err = ParseLayers("64,x")
	assert.True(t, errors.Is(err, errors.NotValid))
	for _, schedule := range LayerSchedules {
		_, err = ParseLayers(schedule)
		assert.NoError(t, err)
	}
}
