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
	"math"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/dataset"
	"github.com/gorse-io/rectool/model"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type SearchResult struct {
	Params model.Params
	Score  Score
	Trials int
}

// ModelSearch tunes hyper-parameters of NCF by minimizing test RMSE.
type ModelSearch struct {
	numUsers int
	numItems int
	params   model.Params
	trainSet []dataset.Rating
	testSet  []dataset.Rating
	config   *FitConfig
	ctx      context.Context
	result   SearchResult
}

func NewModelSearch(numUsers, numItems int, params model.Params, trainSet, testSet []dataset.Rating, config *FitConfig) *ModelSearch {
	return &ModelSearch{
		numUsers: numUsers,
		numItems: numItems,
		params:   params,
		trainSet: trainSet,
		testSet:  testSet,
		config:   config,
		ctx:      context.Background(),
	}
}

func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	m := &NCF{numUsers: ms.numUsers, numItems: ms.numItems}
	m.SetParams(ms.params)
	m.SetParams(m.SuggestParams(trial))
	score, err := m.Fit(ms.ctx, ms.trainSet, ms.testSet, ms.config)
	if err != nil {
		return 0, errors.Trace(err)
	}
	ms.result.Trials++
	if ms.result.Params == nil || score.RMSE < ms.result.Score.RMSE {
		ms.result.Params = m.GetParams()
		ms.result.Score = score
	}
	return float64(score.RMSE), nil
}

func (ms *ModelSearch) Result() SearchResult {
	return ms.result
}

// Search runs numTrials trials of the TPE sampler seeded by seed.
func (ms *ModelSearch) Search(ctx context.Context, numTrials int, seed int64) (SearchResult, error) {
	study, err := goptuna.CreateStudy("rectool-ncf",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMinimize),
		goptuna.StudyOptionSampler(tpe.NewSampler(tpe.SamplerOptionSeed(seed))))
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	ms.ctx = ctx
	if err = study.Optimize(ms.Objective, numTrials); err != nil {
		return ms.result, errors.Trace(err)
	}
	best, err := study.GetBestValue()
	if err != nil {
		return ms.result, errors.Trace(err)
	}
	log.Logger().Info("complete ncf search",
		zap.Int("n_trials", ms.result.Trials),
		zap.Float64("best_rmse", best),
		zap.Any("params", ms.result.Params))
	if math.IsNaN(best) {
		return ms.result, errors.Errorf("search diverged")
	}
	return ms.result, nil
}
