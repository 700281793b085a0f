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
	"runtime"
	"strconv"

	"github.com/chewxy/math32"
	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/common/parallel"
	"github.com/gorse-io/rectool/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

type Score struct {
	RMSE float32
	MAE  float32
}

// evalBatchSize is the number of pairs predicted per forward pass during evaluation.
const evalBatchSize = 4096

// Evaluate computes RMSE and MAE of predictions on test ratings.
func (ncf *NCF) Evaluate(test []dataset.Rating) Score {
	score, err := ncf.EvaluateContext(context.Background(), test)
	if err != nil {
		log.Logger().Error("failed to evaluate ncf", zap.Error(err))
	}
	return score
}

// EvaluateContext computes RMSE and MAE of predictions on test ratings. Batches are predicted in parallel
// and evaluation stops once ctx is canceled.
func (ncf *NCF) EvaluateContext(ctx context.Context, test []dataset.Rating) (Score, error) {
	if len(test) == 0 || ncf.Invalid() {
		return Score{}, nil
	}
	predictions := make([]float32, len(test))
	truths := make([]float32, len(test))
	numBatches := (len(test) + evalBatchSize - 1) / evalBatchSize
	err := parallel.Parallel(ctx, numBatches, runtime.GOMAXPROCS(0), func(_, batch int) error {
		begin := batch * evalBatchSize
		end := min(begin+evalBatchSize, len(test))
		userIndices := make([]int32, end-begin)
		itemIndices := make([]int32, end-begin)
		for i, r := range test[begin:end] {
			userIndices[i] = ncf.lookup(ncf.UserIndex, r.UserId)
			itemIndices[i] = ncf.lookup(ncf.ItemIndex, r.ItemId)
			truths[begin+i] = r.Rating
		}
		copy(predictions[begin:end], ncf.internalPredict(userIndices, itemIndices))
		return nil
	})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return Score{
		RMSE: RMSE(predictions, truths),
		MAE:  MAE(predictions, truths),
	}, nil
}

// lookup returns the index of a raw id, or -1 if it is unknown.
func (ncf *NCF) lookup(index *dataset.FreqDict, id int) int32 {
	i, ok := index.Lookup(strconv.Itoa(id))
	if !ok {
		return -1
	}
	return int32(i)
}

// RMSE is the root mean square error.
func RMSE(predictions, truths []float32) float32 {
	if len(predictions) == 0 {
		return 0
	}
	sum := float32(0)
	for i := range predictions {
		diff := predictions[i] - truths[i]
		sum += diff * diff
	}
	return math32.Sqrt(sum / float32(len(predictions)))
}

// MAE is the mean absolute error.
func MAE(predictions, truths []float32) float32 {
	if len(predictions) == 0 {
		return 0
	}
	sum := float32(0)
	for i := range predictions {
		sum += math32.Abs(predictions[i] - truths[i])
	}
	return sum / float32(len(predictions))
}
