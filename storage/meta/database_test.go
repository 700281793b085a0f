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

package meta

import (
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) TestRuns() {
	start := time.Now().Add(-time.Hour)
	first := &Run{Name: "ncf", Model: "ncf", Dataset: "ml-1m", StartTime: start}
	suite.NoError(suite.Database.CreateRun(first))
	suite.NotEmpty(first.Id)
	suite.Equal(RunRunning, first.Status)
	second := &Run{Id: "run-2", Name: "tune", Model: "ncf", Dataset: "ml-10m", Params: map[string]string{"lr": "0.001"}}
	suite.NoError(suite.Database.CreateRun(second))

	// get run
	run, err := suite.Database.GetRun(first.Id)
	suite.NoError(err)
	suite.Equal("ncf", run.Name)
	suite.Equal("ml-1m", run.Dataset)
	suite.Equal(RunRunning, run.Status)
	suite.WithinDuration(start, run.StartTime, time.Second)
	suite.True(run.EndTime.IsZero())
	suite.Empty(run.Params)

	// finish run
	end := time.Now()
	suite.NoError(suite.Database.FinishRun(first.Id, RunFinished, end))
	run, err = suite.Database.GetRun(first.Id)
	suite.NoError(err)
	suite.Equal(RunFinished, run.Status)
	suite.WithinDuration(end, run.EndTime, time.Second)

	// list runs
	runs, err := suite.Database.ListRuns()
	suite.NoError(err)
	if suite.Len(runs, 2) {
		suite.Equal("run-2", runs[0].Id)
		suite.Equal(map[string]string{"lr": "0.001"}, runs[0].Params)
		suite.Equal(first.Id, runs[1].Id)
	}

	// missing run
	_, err = suite.Database.GetRun("unknown")
	suite.True(errors.Is(err, errors.NotFound))
	err = suite.Database.FinishRun("unknown", RunFailed, end)
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *baseTestSuite) TestParams() {
	suite.NoError(suite.Database.CreateRun(&Run{Id: "run-1", Name: "ncf", Model: "ncf", Dataset: "ml-1m"}))
	suite.NoError(suite.Database.LogParams("run-1", map[string]string{"lr": "0.001", "layers": "[64,32,16,8]"}))
	// overwrite
	suite.NoError(suite.Database.LogParams("run-1", map[string]string{"lr": "0.01"}))
	run, err := suite.Database.GetRun("run-1")
	suite.NoError(err)
	suite.Equal(map[string]string{"lr": "0.01", "layers": "[64,32,16,8]"}, run.Params)

	err = suite.Database.LogParams("unknown", map[string]string{"lr": "0.01"})
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *baseTestSuite) TestMetrics() {
	suite.NoError(suite.Database.CreateRun(&Run{Id: "run-1", Name: "ncf", Model: "ncf", Dataset: "ml-1m"}))
	suite.NoError(suite.Database.LogMetric("run-1", 2, "rmse", 0.9))
	suite.NoError(suite.Database.LogMetric("run-1", 1, "rmse", 1.1))
	suite.NoError(suite.Database.LogMetric("run-1", 1, "mae", 0.8))
	// overwrite
	suite.NoError(suite.Database.LogMetric("run-1", 2, "rmse", 0.95))

	metrics, err := suite.Database.ListMetrics("run-1")
	suite.NoError(err)
	suite.Equal([]lo.Tuple3[int, string, float64]{
		{A: 1, B: "mae", C: 0.8},
		{A: 1, B: "rmse", C: 1.1},
		{A: 2, B: "rmse", C: 0.95},
	}, lo.Map(metrics, func(m Metric, _ int) lo.Tuple3[int, string, float64] {
		return lo.Tuple3[int, string, float64]{A: m.Step, B: m.Name, C: m.Value}
	}))
	for _, metric := range metrics {
		suite.Equal("run-1", metric.RunId)
		suite.WithinDuration(time.Now(), metric.Timestamp, time.Minute)
	}

	err = suite.Database.LogMetric("unknown", 1, "rmse", 1)
	suite.True(errors.Is(err, errors.NotFound))
	_, err = suite.Database.ListMetrics("unknown")
	suite.True(errors.Is(err, errors.NotFound))
}
