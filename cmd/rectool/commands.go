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
	"fmt"
	"os"
	"time"

	"github.com/gorse-io/rectool/base/encoding"
	"github.com/gorse-io/rectool/base/log"
	"github.com/gorse-io/rectool/dataset"
	"github.com/gorse-io/rectool/model/ncf"
	"github.com/gorse-io/rectool/storage/meta"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCommand.AddCommand(prepareCommand, trainCommand, tuneCommand, evaluateCommand, runsCommand)
	runsCommand.AddCommand(metricsCommand)
	trainCommand.Flags().Bool("skip-download", false, "reuse prepared CSV files if they exist")
	tuneCommand.Flags().Bool("skip-download", false, "reuse prepared CSV files if they exist")
	evaluateCommand.Flags().Bool("skip-download", false, "reuse prepared CSV files if they exist")
	tuneCommand.Flags().Int("n-trials", 0, "number of trials (overrides train.num_trials)")
}

var prepareCommand = &cobra.Command{
	Use:   "prepare",
	Short: "Download and split the MovieLens dataset",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		ctx, cancel := commandContext(conf)
		defer cancel()
		opts := conf.Dataset.PrepareOptions()
		opts.Progress = true
		split, err := dataset.Prepare(ctx, opts)
		if err != nil {
			log.Logger().Fatal("failed to prepare dataset", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Dataset", "#users", "#items", "#train", "#test")
		_ = table.Append([]string{
			conf.Dataset.Type,
			fmt.Sprint(split.NumUsers),
			fmt.Sprint(split.NumItems),
			fmt.Sprint(len(split.Train)),
			fmt.Sprint(len(split.Test)),
		})
		_ = table.Render()
	},
}

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train NCF and record the run",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if cmd.Flags().Changed("skip-download") {
			conf.Train.SkipDownload, _ = cmd.Flags().GetBool("skip-download")
		}
		ctx, cancel := commandContext(conf)
		defer cancel()
		e, err := newExperiment(conf)
		if err != nil {
			log.Logger().Fatal("failed to create experiment", zap.Error(err))
		}
		defer e.Close()
		split, err := e.loadData(ctx, true)
		if err != nil {
			log.Logger().Fatal("failed to load dataset", zap.Error(err))
		}
		start := time.Now()
		result, err := e.train(ctx, split)
		if err != nil {
			log.Logger().Fatal("failed to train model", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Epoch", "Loss", "RMSE", "MAE")
		for _, record := range result.History {
			_ = table.Append([]string{
				fmt.Sprint(record.Epoch),
				encoding.FormatFloat32(record.Loss),
				encoding.FormatFloat32(record.Score.RMSE),
				encoding.FormatFloat32(record.Score.MAE),
			})
		}
		_ = table.Render()
		log.Logger().Info("complete training",
			zap.String("run_id", result.RunId),
			zap.String("model", result.Model),
			zap.Duration("elapsed", time.Since(start)))
	},
}

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Tune learning rate, regularization and layers of NCF by TPE",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if cmd.Flags().Changed("skip-download") {
			conf.Train.SkipDownload, _ = cmd.Flags().GetBool("skip-download")
		}
		if cmd.Flags().Changed("n-trials") {
			conf.Train.NumTrials, _ = cmd.Flags().GetInt("n-trials")
		}
		ctx, cancel := commandContext(conf)
		defer cancel()
		e, err := newExperiment(conf)
		if err != nil {
			log.Logger().Fatal("failed to create experiment", zap.Error(err))
		}
		defer e.Close()
		split, err := e.loadData(ctx, true)
		if err != nil {
			log.Logger().Fatal("failed to load dataset", zap.Error(err))
		}
		result, runId, err := e.tune(ctx, split)
		if err != nil {
			log.Logger().Fatal("failed to tune model", zap.Error(err))
		}
		printSearchResult(runId, result)
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate <run id>",
	Short: "Evaluate the model saved by a training run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if cmd.Flags().Changed("skip-download") {
			conf.Train.SkipDownload, _ = cmd.Flags().GetBool("skip-download")
		}
		ctx, cancel := commandContext(conf)
		defer cancel()
		e, err := newExperiment(conf)
		if err != nil {
			log.Logger().Fatal("failed to create experiment", zap.Error(err))
		}
		defer e.Close()
		split, err := e.loadData(ctx, true)
		if err != nil {
			log.Logger().Fatal("failed to load dataset", zap.Error(err))
		}
		score, runId, err := e.evaluate(ctx, args[0], split)
		if err != nil {
			log.Logger().Fatal("failed to evaluate model", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Run", "Model", "RMSE", "MAE")
		_ = table.Append([]string{
			runId,
			args[0] + "." + modelName,
			encoding.FormatFloat32(score.RMSE),
			encoding.FormatFloat32(score.MAE),
		})
		_ = table.Render()
	},
}

func printSearchResult(runId string, result ncf.SearchResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run", "Trials", "RMSE", "MAE", "Params")
	_ = table.Append([]string{
		runId,
		fmt.Sprint(result.Trials),
		encoding.FormatFloat32(result.Score.RMSE),
		encoding.FormatFloat32(result.Score.MAE),
		result.Params.ToString(),
	})
	_ = table.Render()
}

var runsCommand = &cobra.Command{
	Use:   "runs",
	Short: "List tracked runs",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		tracker, err := meta.Open(conf.Tracking.Database, conf.Tracking.TablePrefix)
		if err != nil {
			log.Logger().Fatal("failed to connect tracking database", zap.Error(err))
		}
		defer tracker.Close()
		if err = tracker.Init(); err != nil {
			log.Logger().Fatal("failed to init tracking database", zap.Error(err))
		}
		runs, err := tracker.ListRuns()
		if err != nil {
			log.Logger().Fatal("failed to list runs", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "Dataset", "Status", "Start", "Duration")
		for _, run := range runs {
			duration := ""
			if !run.EndTime.IsZero() {
				duration = run.EndTime.Sub(run.StartTime).Round(time.Millisecond).String()
			}
			_ = table.Append([]string{
				run.Id,
				run.Name,
				run.Dataset,
				run.Status,
				run.StartTime.Local().Format(time.DateTime),
				duration,
			})
		}
		_ = table.Render()
	},
}

var metricsCommand = &cobra.Command{
	Use:   "metrics <run id>",
	Short: "Show metrics of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		tracker, err := meta.Open(conf.Tracking.Database, conf.Tracking.TablePrefix)
		if err != nil {
			log.Logger().Fatal("failed to connect tracking database", zap.Error(err))
		}
		defer tracker.Close()
		if err = tracker.Init(); err != nil {
			log.Logger().Fatal("failed to init tracking database", zap.Error(err))
		}
		metrics, err := tracker.ListMetrics(args[0])
		if err != nil {
			log.Logger().Fatal("failed to list metrics", zap.Error(err))
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Step", "Name", "Value")
		for _, metric := range metrics {
			_ = table.Append([]string{fmt.Sprint(metric.Step), metric.Name, fmt.Sprint(metric.Value)})
		}
		_ = table.Render()
		names := lo.Uniq(lo.Map(metrics, func(m meta.Metric, _ int) string { return m.Name }))
		log.Logger().Info("list metrics", zap.String("run_id", args[0]), zap.Strings("names", names))
	},
}
