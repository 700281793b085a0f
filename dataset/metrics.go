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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PrepareStepSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "dataset",
		Name:      "prepare_step_seconds",
	}, []string{"step"})
	NumRatings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "dataset",
		Name:      "ratings",
	}, []string{"split"})
	NumUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "dataset",
		Name:      "users",
	})
	NumItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rectool",
		Subsystem: "dataset",
		Name:      "items",
	})
)
