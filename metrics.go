// Copyright 2025 Lexatic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package arcparse

import "github.com/prometheus/client_golang/prometheus"

var (
	trainSteps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "train_steps_total",
			Help:      "The total number of optimizer steps taken.",
		},
	)
	trainBatchLoss = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "train_batch_loss",
			Help:      "Loss of the most recent training batch.",
		},
	)
	evalRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "eval_runs_total",
			Help:      "The total number of periodic evaluations.",
		},
	)
	devScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "dev_score",
			Help:      "Labeled attachment score of the latest dev evaluation.",
		},
	)
	bestDevScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "best_dev_score",
			Help:      "Best labeled attachment score seen on the dev set.",
		},
	)
	checkpointsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "checkpoints_saved_total",
			Help:      "The total number of best-model checkpoints written.",
		},
	)
	layersThawed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "layers_thawed_total",
			Help:      "The total number of recurrent layers unfrozen during training.",
		},
	)
	optimizerSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lexatic",
			Subsystem: "arcparse",
			Name:      "optimizer_switches_total",
			Help:      "The total number of switches to the AMSGrad optimizer.",
		},
	)
)

func init() {
	prometheus.MustRegister(trainSteps)
	prometheus.MustRegister(trainBatchLoss)
	prometheus.MustRegister(evalRuns)
	prometheus.MustRegister(devScore)
	prometheus.MustRegister(bestDevScore)
	prometheus.MustRegister(checkpointsSaved)
	prometheus.MustRegister(layersThawed)
	prometheus.MustRegister(optimizerSwitches)
}
