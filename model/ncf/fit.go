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
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/common/nn"
	"github.com/gorse-io/rectool/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type FitConfig struct {
	Verbose int
	// Callback is invoked after every evaluated epoch.
	Callback func(epoch int, loss float32, score Score)
	Logger   *zap.Logger
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Verbose: 1,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetCallback(callback func(epoch int, loss float32, score Score)) *FitConfig {
	config.Callback = callback
	return config
}

func (config *FitConfig) SetLogger(logger *zap.Logger) *FitConfig {
	config.Logger = logger
	return config
}

func (config *FitConfig) logger() *zap.Logger {
	if config.Logger != nil {
		return config.Logger
	}
	return log.Logger()
}

// initIndex maps raw ids to embedding rows. Users and items of the training set come first and are
// marked as predictable, then those only found in the test set are appended.
func (ncf *NCF) initIndex(train, test []dataset.Rating) error {
	ncf.UserIndex = dataset.NewFreqDict()
	ncf.ItemIndex = dataset.NewFreqDict()
	ncf.UserPredictable = bitset.New(uint(ncf.numUsers))
	ncf.ItemPredictable = bitset.New(uint(ncf.numItems))
	sum := float64(0)
	for _, r := range train {
		ncf.UserPredictable.Set(uint(ncf.UserIndex.Id(strconv.Itoa(r.UserId))))
		ncf.ItemPredictable.Set(uint(ncf.ItemIndex.Id(strconv.Itoa(r.ItemId))))
		sum += float64(r.Rating)
	}
	if len(train) > 0 {
		ncf.GlobalMean = float32(sum / float64(len(train)))
	}
	for _, r := range test {
		ncf.UserIndex.NotCount(strconv.Itoa(r.UserId))
		ncf.ItemIndex.NotCount(strconv.Itoa(r.ItemId))
	}
	if ncf.UserIndex.Count() > ncf.numUsers {
		return errors.NotValidf("%d distinct users for %d user embeddings", ncf.UserIndex.Count(), ncf.numUsers)
	}
	if ncf.ItemIndex.Count() > ncf.numItems {
		return errors.NotValidf("%d distinct items for %d item embeddings", ncf.ItemIndex.Count(), ncf.numItems)
	}
	return nil
}

// Fit trains the model on train with shuffled mini-batches minimizing MSE plus regularization. The test set
// is evaluated every config.Verbose epochs and after the last epoch.
func (ncf *NCF) Fit(ctx context.Context, train, test []dataset.Rating, config *FitConfig) (Score, error) {
	if config == nil {
		config = NewFitConfig()
	}
	logger := config.logger()
	logger.Info("fit ncf",
		zap.Int("train_set_size", len(train)),
		zap.Int("test_set_size", len(test)),
		zap.Any("params", ncf.GetParams()),
		zap.Int("verbose", config.Verbose))
	if len(train) == 0 {
		return Score{}, errors.NotValidf("empty training set")
	}
	if err := ncf.build(); err != nil {
		return Score{}, errors.Trace(err)
	}
	if err := ncf.initIndex(train, test); err != nil {
		return Score{}, errors.Trace(err)
	}
	userIndices := make([]int32, len(train))
	itemIndices := make([]int32, len(train))
	ratings := make([]float32, len(train))
	for i, r := range train {
		userIndex, _ := ncf.UserIndex.Lookup(strconv.Itoa(r.UserId))
		itemIndex, _ := ncf.ItemIndex.Lookup(strconv.Itoa(r.ItemId))
		userIndices[i] = int32(userIndex)
		itemIndices[i] = int32(itemIndex)
		ratings[i] = r.Rating
	}

	optimizer := nn.NewOptimizer(ncf.optimizer, ncf.Parameters(), ncf.lr)
	rng := ncf.GetRandomGenerator()
	var (
		score Score
		err   error
	)
	for epoch := 1; epoch <= ncf.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return score, errors.Trace(err)
		}
		fitStart := time.Now()
		perm := rng.PermInt32(len(train))
		cost := float32(0)
		for begin := 0; begin < len(perm); begin += ncf.batchSize {
			end := min(begin+ncf.batchSize, len(perm))
			batchUsers := make([]int32, end-begin)
			batchItems := make([]int32, end-begin)
			batchRatings := make([]float32, end-begin)
			for j, k := range perm[begin:end] {
				batchUsers[j] = userIndices[k]
				batchItems[j] = itemIndices[k]
				batchRatings[j] = ratings[k]
			}
			predictions := ncf.Forward(nn.NewIndices(batchUsers...), nn.NewIndices(batchItems...))
			mse := nn.MSE(predictions, nn.NewTensor(batchRatings, len(batchRatings), 1))
			loss := nn.Add(mse, ncf.Regularization())
			optimizer.ZeroGrad()
			loss.Backward()
			optimizer.Step()
			cost += mse.Data()[0] * float32(end-begin)
		}
		cost /= float32(len(train))
		fitTime := time.Since(fitStart)
		TrainEpoch.Set(float64(epoch))
		TrainLoss.Set(float64(cost))
		TrainEpochSeconds.Set(fitTime.Seconds())
		// Cross validation
		if (config.Verbose > 0 && epoch%config.Verbose == 0) || epoch == ncf.nEpochs {
			evalStart := time.Now()
			if score, err = ncf.EvaluateContext(ctx, test); err != nil {
				return score, errors.Trace(err)
			}
			evalTime := time.Since(evalStart)
			TestRMSE.Set(float64(score.RMSE))
			TestMAE.Set(float64(score.MAE))
			logger.Info(fmt.Sprintf("fit ncf %v/%v", epoch, ncf.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32("loss", cost),
				zap.Float32("RMSE", score.RMSE),
				zap.Float32("MAE", score.MAE))
			if config.Callback != nil {
				config.Callback(epoch, cost, score)
			}
		} else {
			logger.Debug(fmt.Sprintf("fit ncf %v/%v", epoch, ncf.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.Float32("loss", cost))
		}
	}
	logger.Info("fit ncf complete",
		zap.Float32("RMSE", score.RMSE),
		zap.Float32("MAE", score.MAE))
	return score, nil
}
