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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "ncf",
		Name:      "train_epoch",
	})
	TrainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "ncf",
		Name:      "train_loss",
	})
	TrainEpochSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "ncf",
		Name:      "train_epoch_seconds",
	})
	TestRMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "ncf",
		Name:      "test_rmse",
	})
	TestMAE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "ncf",
		Name:      "test_mae",
	})
)
