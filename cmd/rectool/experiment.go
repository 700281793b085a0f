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

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorse-io/rectool/base/encoding"
	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/config"
	"github.com/gorse-io/rectool/dataset"
	"github.com/gorse-io/rectool/model"
	"github.com/gorse-io/rectool/model/ncf"
	"github.com/gorse-io/rectool/storage/blob"
	"github.com/gorse-io/rectool/storage/meta"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const modelName = "ncf"

// experiment runs training and tuning. Runs are recorded in the tracking database and trained models are
// saved to the blob store.
type experiment struct {
	conf    *config.Config
	tracker meta.Database
	store   blob.Store
}

func newExperiment(conf *config.Config) (*experiment, error) {
	tracker, err := meta.Open(conf.Tracking.Database, conf.Tracking.TablePrefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = tracker.Init(); err != nil {
		_ = tracker.Close()
		return nil, errors.Trace(err)
	}
	log.Logger().Info("connect tracking database", zap.String("database", log.RedactDBURL(conf.Tracking.Database)))
	store, err := blob.Open(conf.Blob)
	if err != nil {
		_ = tracker.Close()
		return nil, errors.Trace(err)
	}
	return &experiment{conf: conf, tracker: tracker, store: store}, nil
}

func (e *experiment) Close() error {
	return e.tracker.Close()
}

// ratingsPrepared checks whether every CSV written by preparation exists.
func ratingsPrepared(opts dataset.PrepareOptions) bool {
	for _, path := range []string{
		filepath.Join(opts.MovieLensPath, "ratings.csv"),
		filepath.Join(opts.TrainDataPath, "ratings.csv"),
		filepath.Join(opts.TestDataPath, "ratings.csv"),
	} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// loadData reuses prepared files if download is skipped and they exist, otherwise prepares the dataset.
func (e *experiment) loadData(ctx context.Context, progress bool) (*dataset.Split, error) {
	opts := e.conf.Dataset.PrepareOptions()
	opts.Progress = progress
	if e.conf.Train.SkipDownload && ratingsPrepared(opts) {
		log.Logger().Info("load prepared dataset", zap.String("path", opts.MovieLensPath))
		return dataset.LoadPrepared(opts)
	}
	return dataset.Prepare(ctx, opts)
}

type epochRecord struct {
	Epoch int
	Loss  float32
	Score ncf.Score
}

type trainResult struct {
	RunId   string
	Model   string
	Score   ncf.Score
	History []epochRecord
}

func formatParams(params model.Params) map[string]string {
	return lo.MapEntries(params, func(name model.ParamName, value any) (string, string) {
		switch value := value.(type) {
		case float32:
			return string(name), encoding.FormatFloat32(value)
		default:
			return string(name), fmt.Sprint(value)
		}
	})
}

func (e *experiment) finish(runId string, err error) {
	status := meta.RunFinished
	if err != nil {
		status = meta.RunFailed
	}
	if finishErr := e.tracker.FinishRun(runId, status, time.Now()); finishErr != nil {
		log.RunLogger(runId).Error("failed to finish run", zap.Error(finishErr))
	}
}

// train fits NCF on the split, records metrics of every evaluated epoch and saves the model as
// <run id>.ncf.
func (e *experiment) train(ctx context.Context, split *dataset.Split) (result *trainResult, err error) {
	params := e.conf.Model.Params()
	run := &meta.Run{Name: "train", Model: modelName, Dataset: e.conf.Dataset.Type, Params: formatParams(params)}
	if err = e.tracker.CreateRun(run); err != nil {
		return nil, errors.Trace(err)
	}
	defer func() { e.finish(run.Id, err) }()
	logger := log.RunLogger(run.Id)

	m, err := ncf.NewNCF(split.NumUsers, split.NumItems, params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result = &trainResult{RunId: run.Id, Model: run.Id + "." + modelName}
	var trackErr error
	fitConfig := ncf.NewFitConfig().
		SetVerbose(e.conf.Train.Verbose).
		SetLogger(logger).
		SetCallback(func(epoch int, loss float32, score ncf.Score) {
			result.History = append(result.History, epochRecord{Epoch: epoch, Loss: loss, Score: score})
			for name, value := range map[string]float32{"loss": loss, "rmse": score.RMSE, "mae": score.MAE} {
				if err := e.tracker.LogMetric(run.Id, epoch, name, float64(value)); err != nil && trackErr == nil {
					trackErr = err
				}
			}
		})
	if result.Score, err = m.Fit(ctx, split.Train, split.Test, fitConfig); err != nil {
		return nil, errors.Trace(err)
	}
	if trackErr != nil {
		return nil, errors.Trace(trackErr)
	}

	// save model
	w, done, err := e.store.Create(result.Model)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = m.Marshal(w); err != nil {
		_ = w.Close()
		return nil, errors.Trace(err)
	}
	if err = w.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	<-done
	logger.Info("save model", zap.String("name", result.Model))

	if err = writeMetrics(filepath.Join(e.conf.Dataset.EvalDataPath, "metrics.csv"), result.History); err != nil {
		return nil, errors.Trace(err)
	}
	return result, nil
}

// loadModel restores a model saved by a training run.
func (e *experiment) loadModel(runId string) (*ncf.NCF, error) {
	r, err := e.store.Open(runId + "." + modelName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	m := new(ncf.NCF)
	if err = m.Unmarshal(r); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// evaluate scores the model saved by a training run on the test set and records the result as a new run.
func (e *experiment) evaluate(ctx context.Context, modelRunId string, split *dataset.Split) (score ncf.Score, runId string, err error) {
	run := &meta.Run{
		Name:    "evaluate",
		Model:   modelName,
		Dataset: e.conf.Dataset.Type,
		Params:  map[string]string{"model_run_id": modelRunId},
	}
	if err = e.tracker.CreateRun(run); err != nil {
		return score, "", errors.Trace(err)
	}
	defer func() { e.finish(run.Id, err) }()
	m, err := e.loadModel(modelRunId)
	if err != nil {
		return score, run.Id, errors.Trace(err)
	}
	if score, err = m.EvaluateContext(ctx, split.Test); err != nil {
		return score, run.Id, errors.Trace(err)
	}
	for name, value := range map[string]float32{"rmse": score.RMSE, "mae": score.MAE} {
		if err = e.tracker.LogMetric(run.Id, 0, name, float64(value)); err != nil {
			return score, run.Id, errors.Trace(err)
		}
	}
	log.RunLogger(run.Id).Info("evaluate model",
		zap.String("model_run_id", modelRunId),
		zap.Float32("RMSE", score.RMSE),
		zap.Float32("MAE", score.MAE))
	return score, run.Id, nil
}

// tune searches hyper-parameters by TPE and records the best trial.
func (e *experiment) tune(ctx context.Context, split *dataset.Split) (result ncf.SearchResult, runId string, err error) {
	params := e.conf.Model.Params()
	run := &meta.Run{Name: "tune", Model: modelName, Dataset: e.conf.Dataset.Type}
	if err = e.tracker.CreateRun(run); err != nil {
		return result, "", errors.Trace(err)
	}
	defer func() { e.finish(run.Id, err) }()

	trial := 0
	fitConfig := ncf.NewFitConfig().
		SetVerbose(e.conf.Model.NEpochs).
		SetLogger(log.RunLogger(run.Id)).
		SetCallback(func(epoch int, loss float32, score ncf.Score) {
			if epoch == e.conf.Model.NEpochs {
				trial++
				if err := e.tracker.LogMetric(run.Id, trial, "rmse", float64(score.RMSE)); err != nil {
					log.RunLogger(run.Id).Error("failed to log metric", zap.Error(err))
				}
			}
		})
	search := ncf.NewModelSearch(split.NumUsers, split.NumItems, params, split.Train, split.Test, fitConfig)
	if result, err = search.Search(ctx, e.conf.Train.NumTrials, e.conf.Dataset.Seed); err != nil {
		return result, run.Id, errors.Trace(err)
	}
	if err = e.tracker.LogParams(run.Id, formatParams(result.Params)); err != nil {
		return result, run.Id, errors.Trace(err)
	}
	return result, run.Id, nil
}

// writeMetrics writes the training history as CSV.
func writeMetrics(path string, history []epochRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err = writer.Write([]string{"epoch", "loss", "rmse", "mae"}); err != nil {
		return errors.Trace(err)
	}
	for _, record := range history {
		if err = writer.Write([]string{
			strconv.Itoa(record.Epoch),
			encoding.FormatFloat32(record.Loss),
			encoding.FormatFloat32(record.Score.RMSE),
			encoding.FormatFloat32(record.Score.MAE),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	writer.Flush()
	return errors.Trace(writer.Error())
}
