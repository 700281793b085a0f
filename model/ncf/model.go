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
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/c-bata/goptuna"
	"github.com/gorse-io/rectool/base/encoding"
	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/common/nn"
	"github.com/gorse-io/rectool/dataset"
	"github.com/gorse-io/rectool/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DefaultLr        = 0.001
	DefaultReg       = 0.01
	DefaultRegLayer  = 0.01
	DefaultNEpochs   = 20
	DefaultBatchSize = 256
	DefaultOptimizer = "adam"
)

var DefaultLayers = []int{256, 256, 128, 64}

// NCF is the neural collaborative filtering model. Each user and item embedding is split into a
// factorization slice and an MLP slice. The factorization slices are multiplied element-wise (GMF), the MLP
// slices are concatenated and passed through a ReLU tower, and both branches are projected to one rating.
type NCF struct {
	model.BaseModel
	UserIndex       *dataset.FreqDict
	ItemIndex       *dataset.FreqDict
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	GlobalMean      float32

	numUsers int
	numItems int
	// Hyper parameters
	layers    []int
	regLayers []float32
	mfDim     int
	lr        float32
	reg       float32
	nEpochs   int
	batchSize int
	optimizer string
	// Graph
	userEmbedding *nn.EmbeddingLayer
	itemEmbedding *nn.EmbeddingLayer
	userLatent    *nn.Sequential
	itemLatent    *nn.Sequential
	hidden        []*nn.LinearLayer
	tower         *nn.Sequential
	prediction    *nn.LinearLayer
}

// NewNCF creates a NCF model with embedding tables for numUsers users and numItems items.
func NewNCF(numUsers, numItems int, params model.Params) (*NCF, error) {
	ncf := &NCF{numUsers: numUsers, numItems: numItems}
	ncf.SetParams(params)
	if err := ncf.build(); err != nil {
		return nil, err
	}
	return ncf, nil
}

func (ncf *NCF) SetParams(params model.Params) {
	ncf.BaseModel.SetParams(params)
	ncf.layers = ncf.Params.GetIntSlice(model.Layers, DefaultLayers)
	embeddingDim := 0
	if len(ncf.layers) > 0 {
		embeddingDim = ncf.layers[0] / 2
	}
	ncf.mfDim = ncf.Params.GetInt(model.MFDim, embeddingDim/2)
	ncf.regLayers = ncf.Params.GetFloat32Slice(model.RegLayers, nil)
	if len(ncf.regLayers) == 0 && len(ncf.layers) > 1 {
		ncf.regLayers = lo.Times(len(ncf.layers)-1, func(int) float32 { return DefaultRegLayer })
	}
	ncf.lr = ncf.Params.GetFloat32(model.Lr, DefaultLr)
	ncf.reg = ncf.Params.GetFloat32(model.Reg, DefaultReg)
	ncf.nEpochs = ncf.Params.GetInt(model.NEpochs, DefaultNEpochs)
	ncf.batchSize = ncf.Params.GetInt(model.BatchSize, DefaultBatchSize)
	ncf.optimizer = ncf.Params.GetString(model.Optimizer, DefaultOptimizer)
}

func (ncf *NCF) validate() error {
	if ncf.numUsers <= 0 {
		return errors.NotValidf("number of users %d", ncf.numUsers)
	}
	if ncf.numItems <= 0 {
		return errors.NotValidf("number of items %d", ncf.numItems)
	}
	if len(ncf.layers) < 2 {
		return errors.NotValidf("layers %v with less than two widths", ncf.layers)
	}
	for _, width := range ncf.layers {
		if width <= 0 {
			return errors.NotValidf("layers %v with non-positive width", ncf.layers)
		}
	}
	if ncf.layers[0]%2 != 0 {
		return errors.NotValidf("odd first layer %d", ncf.layers[0])
	}
	if ncf.mfDim <= 0 || ncf.mfDim >= ncf.layers[0]/2 {
		return errors.NotValidf("factorization dimension %d for embedding dimension %d", ncf.mfDim, ncf.layers[0]/2)
	}
	if len(ncf.regLayers) != len(ncf.layers)-1 {
		return errors.NotValidf("%d layer regularizations for %d hidden layers", len(ncf.regLayers), len(ncf.layers)-1)
	}
	if ncf.batchSize <= 0 {
		return errors.NotValidf("batch size %d", ncf.batchSize)
	}
	return nil
}

// build validates hyper-parameters and initializes the graph.
func (ncf *NCF) build() error {
	if err := ncf.validate(); err != nil {
		return err
	}
	rng := ncf.GetRandomGenerator()
	embeddingDim := ncf.layers[0] / 2
	ncf.userEmbedding = nn.NewEmbedding(ncf.numUsers, embeddingDim, nn.GlorotUniform(rng))
	ncf.itemEmbedding = nn.NewEmbedding(ncf.numItems, embeddingDim, nn.GlorotUniform(rng))
	// [batch, 1] -> [batch, 1, dim] -> [batch, dim]
	ncf.userLatent = nn.NewSequential(ncf.userEmbedding, nn.NewFlatten())
	ncf.itemLatent = nn.NewSequential(ncf.itemEmbedding, nn.NewFlatten())
	ncf.hidden = make([]*nn.LinearLayer, 0, len(ncf.layers)-1)
	ncf.tower = nn.NewSequential()
	in := 2 * (embeddingDim - ncf.mfDim)
	for _, out := range ncf.layers[1:] {
		dense := nn.NewLinear(in, out, nn.GlorotUniform(rng))
		ncf.hidden = append(ncf.hidden, dense)
		ncf.tower.Layers = append(ncf.tower.Layers, dense, nn.NewReLU())
		in = out
	}
	ncf.prediction = nn.NewLinear(ncf.mfDim+in, 1, nn.LeCunUniform(rng))
	return nil
}

// Forward predicts ratings for a batch of user indices and item indices of shape [batch]. The result has
// shape [batch, 1].
func (ncf *NCF) Forward(users, items *nn.Tensor) *nn.Tensor {
	embeddingDim := ncf.layers[0] / 2
	userLatent := ncf.userLatent.Forward(nn.Reshape(users, len(users.Data()), 1))
	itemLatent := ncf.itemLatent.Forward(nn.Reshape(items, len(items.Data()), 1))
	// GMF branch
	gmf := nn.Mul(nn.Slice(userLatent, 0, ncf.mfDim), nn.Slice(itemLatent, 0, ncf.mfDim))
	// MLP branch
	mlp := nn.Concat(
		nn.Slice(userLatent, ncf.mfDim, embeddingDim),
		nn.Slice(itemLatent, ncf.mfDim, embeddingDim))
	mlp = ncf.tower.Forward(mlp)
	return ncf.prediction.Forward(nn.Concat(gmf, mlp))
}

func (ncf *NCF) Parameters() []*nn.Tensor {
	params := append(ncf.userLatent.Parameters(), ncf.itemLatent.Parameters()...)
	params = append(params, ncf.tower.Parameters()...)
	return append(params, ncf.prediction.Parameters()...)
}

// Regularization returns the L2 penalty of embeddings and hidden kernels. The prediction layer is not
// regularized.
func (ncf *NCF) Regularization() *nn.Tensor {
	penalty := nn.L2(ncf.reg, ncf.userEmbedding.W, ncf.itemEmbedding.W)
	for i, layer := range ncf.hidden {
		penalty = nn.Add(penalty, nn.L2(ncf.regLayers[i], layer.W))
	}
	return penalty
}

// Predict the rating given by a user to an item. Unknown or untrained users and items get the global mean.
func (ncf *NCF) Predict(userId, itemId string) float32 {
	if ncf.Invalid() {
		log.Logger().Warn("predict with an unfitted model")
		return 0
	}
	userIndex, ok := ncf.UserIndex.Lookup(userId)
	if !ok {
		log.Logger().Warn("unknown user", zap.String("user_id", userId))
		return ncf.GlobalMean
	}
	itemIndex, ok := ncf.ItemIndex.Lookup(itemId)
	if !ok {
		log.Logger().Warn("unknown item", zap.String("item_id", itemId))
		return ncf.GlobalMean
	}
	return ncf.internalPredict([]int32{int32(userIndex)}, []int32{int32(itemIndex)})[0]
}

func (ncf *NCF) internalPredict(userIndices, itemIndices []int32) []float32 {
	predictions := make([]float32, len(userIndices))
	var users, items []int32
	var positions []int
	for i := range userIndices {
		if ncf.IsUserPredictable(userIndices[i]) && ncf.IsItemPredictable(itemIndices[i]) {
			users = append(users, userIndices[i])
			items = append(items, itemIndices[i])
			positions = append(positions, i)
		} else {
			predictions[i] = ncf.GlobalMean
		}
	}
	if len(users) > 0 {
		output := ncf.Forward(nn.NewIndices(users...), nn.NewIndices(items...)).Data()
		for j, i := range positions {
			predictions[i] = output[j]
		}
	}
	return predictions
}

// IsUserPredictable returns false if user has no feedback and its embedding vector never be trained.
func (ncf *NCF) IsUserPredictable(userIndex int32) bool {
	if ncf.UserPredictable == nil || userIndex < 0 {
		return false
	}
	return ncf.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if item has no feedback and its embedding vector never be trained.
func (ncf *NCF) IsItemPredictable(itemIndex int32) bool {
	if ncf.ItemPredictable == nil || itemIndex < 0 {
		return false
	}
	return ncf.ItemPredictable.Test(uint(itemIndex))
}

func (ncf *NCF) Clear() {
	ncf.UserIndex = nil
	ncf.ItemIndex = nil
	ncf.UserPredictable = nil
	ncf.ItemPredictable = nil
	ncf.userEmbedding = nil
	ncf.itemEmbedding = nil
	ncf.userLatent = nil
	ncf.itemLatent = nil
	ncf.hidden = nil
	ncf.tower = nil
	ncf.prediction = nil
}

func (ncf *NCF) Invalid() bool {
	return ncf == nil ||
		ncf.UserIndex == nil ||
		ncf.ItemIndex == nil ||
		ncf.userEmbedding == nil ||
		ncf.itemEmbedding == nil ||
		ncf.prediction == nil
}

// Marshal model into byte stream.
func (ncf *NCF) Marshal(w io.Writer) error {
	if ncf.Invalid() {
		return errors.NotValidf("unfitted model")
	}
	// write params
	if err := encoding.WriteGob(w, ncf.Params); err != nil {
		return errors.Trace(err)
	}
	// write shape and mean
	for _, v := range []any{int64(ncf.numUsers), int64(ncf.numItems), ncf.GlobalMean} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Trace(err)
		}
	}
	// write indices
	if err := encoding.WriteGob(w, ncf.UserIndex.Strings()); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteGob(w, ncf.ItemIndex.Strings()); err != nil {
		return errors.Trace(err)
	}
	if _, err := ncf.UserPredictable.WriteTo(w); err != nil {
		return errors.Trace(err)
	}
	if _, err := ncf.ItemPredictable.WriteTo(w); err != nil {
		return errors.Trace(err)
	}
	// write weights
	for _, param := range ncf.Parameters() {
		if err := encoding.WriteVector(w, param.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (ncf *NCF) Unmarshal(r io.Reader) error {
	// read params
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	ncf.SetParams(params)
	// read shape and mean
	var numUsers, numItems int64
	for _, v := range []any{&numUsers, &numItems, &ncf.GlobalMean} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.Trace(err)
		}
	}
	ncf.numUsers, ncf.numItems = int(numUsers), int(numItems)
	if err := ncf.build(); err != nil {
		return errors.Trace(err)
	}
	// read indices
	var userIds, itemIds []string
	if err := encoding.ReadGob(r, &userIds); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadGob(r, &itemIds); err != nil {
		return errors.Trace(err)
	}
	ncf.UserIndex = dataset.RestoreFreqDict(userIds)
	ncf.ItemIndex = dataset.RestoreFreqDict(itemIds)
	ncf.UserPredictable = new(bitset.BitSet)
	if _, err := ncf.UserPredictable.ReadFrom(r); err != nil {
		return errors.Trace(err)
	}
	ncf.ItemPredictable = new(bitset.BitSet)
	if _, err := ncf.ItemPredictable.ReadFrom(r); err != nil {
		return errors.Trace(err)
	}
	// read weights
	for _, param := range ncf.Parameters() {
		data, err := encoding.ReadVector(r)
		if err != nil {
			return errors.Trace(err)
		}
		if len(data) != len(param.Data()) {
			return errors.NotValidf("weights of size %d, expect %d", len(data), len(param.Data()))
		}
		copy(param.Data(), data)
	}
	return nil
}

// LayerSchedules are the candidate layer schedules explored by SuggestParams.
var LayerSchedules = []string{"32,16,8", "64,32,16,8", "128,64,32,16"}

func (ncf *NCF) SuggestParams(trial goptuna.Trial) model.Params {
	schedule := lo.Must(trial.SuggestCategorical("Layers", LayerSchedules))
	return ncf.Params.Overwrite(model.Params{
		model.Lr:     lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.0001, 0.01)),
		model.Reg:    lo.Must(trial.SuggestLogFloat(string(model.Reg), 0.0001, 0.1)),
		model.Layers: lo.Must(ParseLayers(schedule)),
	})
}

// ParseLayers parses a comma separated layer schedule such as "64,32,16,8".
func ParseLayers(s string) ([]int, error) {
	tokens := strings.Split(s, ",")
	layers := make([]int, 0, len(tokens))
	for _, token := range tokens {
		width, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return nil, errors.NewNotValid(err, fmt.Sprintf("layer schedule %q", s))
		}
		layers = append(layers, width)
	}
	return layers, nil
}
