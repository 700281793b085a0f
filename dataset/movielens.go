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
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/common/datautil"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "http://files.grouplens.org/datasets/movielens/"
	DefaultTestSize = 0.2
	DefaultSeed     = 42
	Separator       = "::"
)

// workingDirs maps dataset identifiers to the directories their archives extract into.
var workingDirs = map[string]string{
	"ml-1m":  "ml-1m",
	"ml-10m": "ml-10M100K",
}

// WorkingDir returns the directory name a MovieLens archive extracts into.
func WorkingDir(datasetType string) string {
	if dir, ok := workingDirs[datasetType]; ok {
		return dir
	}
	return datasetType
}

type PrepareOptions struct {
	DatasetType   string
	MovieLensPath string
	TrainDataPath string
	EvalDataPath  string
	TestDataPath  string
	Clear         bool
	BaseURL       string
	TestSize      float64
	Seed          int64
	Progress      bool
}

// DefaultPrepareOptions returns options that prepare datasetType under the current directory with an
// 80/20 split seeded by 42.
func DefaultPrepareOptions(datasetType string) PrepareOptions {
	return PrepareOptions{
		DatasetType:   datasetType,
		MovieLensPath: "movielens",
		TrainDataPath: "train",
		EvalDataPath:  "eval",
		TestDataPath:  "test",
		Clear:         true,
		BaseURL:       DefaultBaseURL,
		TestSize:      DefaultTestSize,
		Seed:          DefaultSeed,
	}
}

func (opts *PrepareOptions) setDefaults() {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.TestSize == 0 {
		opts.TestSize = DefaultTestSize
	}
}

func (opts *PrepareOptions) dirs() []string {
	return []string{opts.MovieLensPath, opts.TrainDataPath, opts.EvalDataPath, opts.TestDataPath}
}

type Split struct {
	Train    []Rating
	Test     []Rating
	NumUsers int
	NumItems int
}

// Prepare runs the MovieLens preparation pipeline: clear and recreate directories, download and extract the
// archive, reformat ratings and movies into CSV, copy them into MovieLensPath, count users and items, then
// split ratings into training and test sets written to TrainDataPath and TestDataPath. Steps run
// sequentially and the first error is returned.
func Prepare(ctx context.Context, opts PrepareOptions) (*Split, error) {
	opts.setDefaults()
	if opts.DatasetType == "" {
		return nil, errors.NotValidf("empty dataset type")
	}
	logger := log.Logger().With(zap.String("dataset", opts.DatasetType))
	step := newStepTimer()

	// clear and recreate directories
	if opts.Clear {
		for _, dir := range opts.dirs() {
			_ = os.RemoveAll(dir)
		}
	}
	for _, dir := range opts.dirs() {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, errors.Trace(err)
		}
	}
	step.done("mkdir")

	// download and extract
	url := opts.BaseURL + opts.DatasetType + ".zip"
	archive, err := datautil.Download(ctx, url, opts.MovieLensPath, opts.Progress)
	if err != nil {
		return nil, errors.Trace(err)
	}
	step.done("download")
	if _, err = datautil.Unzip(archive, opts.MovieLensPath); err != nil {
		return nil, errors.Trace(err)
	}
	if err = os.Remove(archive); err != nil {
		return nil, errors.Trace(err)
	}
	step.done("unzip")

	// reformat
	workDir := filepath.Join(opts.MovieLensPath, WorkingDir(opts.DatasetType))
	files := []struct {
		name   string
		header []string
	}{
		{"ratings", RatingsHeader},
		{"movies", MoviesHeader},
	}
	for _, file := range files {
		if err = TransformCSV(
			filepath.Join(workDir, file.name+".dat"),
			filepath.Join(workDir, file.name+".csv"),
			file.header, false, Separator); err != nil {
			return nil, errors.Trace(err)
		}
	}
	step.done("transform")

	// copy up one level and remove the working directory
	for _, file := range files {
		if err = datautil.CopyFile(
			filepath.Join(workDir, file.name+".csv"),
			filepath.Join(opts.MovieLensPath, file.name+".csv")); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err = os.RemoveAll(workDir); err != nil {
		return nil, errors.Trace(err)
	}
	step.done("copy")

	// count and split
	ratings, err := LoadRatings(filepath.Join(opts.MovieLensPath, "ratings.csv"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	split := &Split{}
	split.NumUsers, split.NumItems = CountDistinct(ratings)
	logger.Info("load ratings",
		zap.Int("n_ratings", len(ratings)),
		zap.Int("n_users", split.NumUsers),
		zap.Int("n_items", split.NumItems))
	if split.Train, split.Test, err = SplitRatings(ratings, opts.TestSize, opts.Seed); err != nil {
		return nil, errors.Trace(err)
	}
	if err = WriteRatings(filepath.Join(opts.TrainDataPath, "ratings.csv"), split.Train); err != nil {
		return nil, errors.Trace(err)
	}
	if err = WriteRatings(filepath.Join(opts.TestDataPath, "ratings.csv"), split.Test); err != nil {
		return nil, errors.Trace(err)
	}
	step.done("split")
	split.observe(len(ratings))
	logger.Info("prepare dataset complete",
		zap.Int("n_train", len(split.Train)),
		zap.Int("n_test", len(split.Test)))
	return split, nil
}

// LoadPrepared reads the outputs of a previous Prepare run.
func LoadPrepared(opts PrepareOptions) (*Split, error) {
	ratings, err := LoadRatings(filepath.Join(opts.MovieLensPath, "ratings.csv"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	split := &Split{}
	split.NumUsers, split.NumItems = CountDistinct(ratings)
	if split.Train, err = LoadRatings(filepath.Join(opts.TrainDataPath, "ratings.csv")); err != nil {
		return nil, errors.Trace(err)
	}
	if split.Test, err = LoadRatings(filepath.Join(opts.TestDataPath, "ratings.csv")); err != nil {
		return nil, errors.Trace(err)
	}
	split.observe(len(ratings))
	return split, nil
}

func (s *Split) observe(n int) {
	NumRatings.WithLabelValues("all").Set(float64(n))
	NumRatings.WithLabelValues("train").Set(float64(len(s.Train)))
	NumRatings.WithLabelValues("test").Set(float64(len(s.Test)))
	NumUsers.Set(float64(s.NumUsers))
	NumItems.Set(float64(s.NumItems))
}

type stepTimer struct {
	start time.Time
}

func newStepTimer() *stepTimer {
	return &stepTimer{start: time.Now()}
}

func (t *stepTimer) done(step string) {
	now := time.Now()
	PrepareStepSeconds.WithLabelValues(step).Set(now.Sub(t.start).Seconds())
	log.Logger().Debug("prepare step complete", zap.String("step", step), zap.Duration("elapsed", now.Sub(t.start)))
	t.start = now
}
