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

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/lexatic/arcparse/lib/conllu"
	"github.com/lexatic/arcparse/lib/data"
	"github.com/lexatic/arcparse/lib/eval"
	"github.com/lexatic/arcparse/lib/nn"
	"github.com/lexatic/arcparse/lib/pretrain"
	"github.com/lexatic/arcparse/lib/tensor"
)

// StopReason explains why a training run ended.
type StopReason string

const (
	StopMaxSteps StopReason = "max-steps"
	StopPatience StopReason = "patience-exhausted"
	StopNoData   StopReason = "no-data"
)

// Paths names the files a training run reads and writes.
type Paths struct {
	TrainFile   string // gold training treebank, also the train-eval reference
	DevFile     string // dev treebank fed to the model
	GoldFile    string // dev reference for scoring; defaults to DevFile
	OutputFile  string // scratch file for system predictions
	ModelFile   string // best-checkpoint artifact
	HistoryFile string // JSON training history, optional
}

// ScoreFunc scores a system prediction file against a gold file. Tests
// substitute this to drive the controller without real treebanks.
type ScoreFunc func(systemFile, goldFile string) (eval.Scores, error)

// Result summarizes a finished run.
type Result struct {
	Steps     int        `json:"steps"`
	BestScore float64    `json:"best_score"`
	BestStep  int        `json:"best_step"`
	Reason    StopReason `json:"stop_reason"`
}

type trainHistory struct {
	DevScores []float64 `json:"dev_scores"`
	Result
}

// Trainer owns all cross-batch training state: the optimizer, the step
// counter, the dev-score history, unfreezing progress and the
// stagnation clock.
//
// The controller runs a flat step loop over reshuffled epochs. Every
// EvalInterval steps it scores the model on the train and dev sets and
// checkpoints on a strict dev improvement. When no improvement has
// been seen for MaxStepsBeforeStop steps it switches once to a fresh
// AMSGrad optimizer; a second stagnation of the same length, or
// reaching MaxSteps, ends the run.
type Trainer struct {
	cfg    Config
	parser *Parser
	paths  Paths
	logger *zap.Logger

	train    *data.Loader
	trainDev *data.Loader
	dev      *data.Loader

	opt   *nn.Adam
	Score ScoreFunc

	step         int
	lastBestStep int
	unfreezeIdx  int
	usingAMSGrad bool

	history   []float64
	bestScore float64
	bestStep  int
}

// NewTrainer prepares a run over the given documents. pre may be nil
// when the configuration disables pretrained vectors. When unfreeze
// points are configured the recurrent stack starts frozen and layers
// are thawed top-down as the points are reached.
func NewTrainer(p *Parser, trainDoc, devDoc *conllu.Document, pre *pretrain.Embeddings, paths Paths, logger *zap.Logger) *Trainer {
	cfg := p.Config()
	if paths.GoldFile == "" {
		paths.GoldFile = paths.DevFile
	}

	t := &Trainer{
		cfg:    cfg,
		parser: p,
		paths:  paths,
		logger: logger.Named("trainer"),
		Score:  eval.Score,

		train:    data.NewLoader(trainDoc, p.Vocabs(), pre, cfg.BatchTokens, rand.New(rand.NewSource(cfg.Seed))),
		trainDev: data.NewLoader(trainDoc, p.Vocabs(), pre, cfg.BatchTokens, nil),
		dev:      data.NewLoader(devDoc, p.Vocabs(), pre, cfg.BatchTokens, nil),
	}

	params := p.Parameters()
	if len(cfg.UnfreezePoints) > 0 {
		p.FreezeContext()
		params = t.nonContextParams()
	}
	t.opt = nn.NewAdam(params, cfg.LR, cfg.Beta1, cfg.Beta2, cfg.Eps, cfg.WeightDecay, false)
	return t
}

// nonContextParams returns every parameter outside the recurrent
// stack. Thawed layers join the optimizer later as their own groups
// with shrunk rates, so they must not sit in the base group.
func (t *Trainer) nonContextParams() []*tensor.Tensor {
	context := make(map[*tensor.Tensor]bool)
	for l := 0; l < t.parser.NumContextLayers(); l++ {
		for _, p := range t.parser.ContextLayerParams(l) {
			context[p] = true
		}
	}
	var out []*tensor.Tensor
	for _, p := range t.parser.Parameters() {
		if !context[p] {
			out = append(out, p)
		}
	}
	return out
}

// Step returns the number of optimizer steps taken so far.
func (t *Trainer) Step() int { return t.step }

// UsingAMSGrad reports whether the stagnation switch has fired.
func (t *Trainer) UsingAMSGrad() bool { return t.usingAMSGrad }

// Run drives the training loop until a stopping criterion fires. An
// empty train or dev split is a recognized degenerate case and returns
// immediately with StopNoData.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	if t.train.Len() == 0 || t.dev.Len() == 0 {
		t.logger.Info("skipping training, empty split",
			zap.Int("train_batches", t.train.Len()),
			zap.Int("dev_batches", t.dev.Len()))
		return Result{Reason: StopNoData}, nil
	}

	var logLoss, evalLoss float64
	for {
		var reason StopReason
		for i := 0; i < t.train.Len() && reason == ""; i++ {
			select {
			case <-ctx.Done():
				return t.result(""), ctx.Err()
			default:
			}

			t.maybeUnfreeze()

			t.step++
			loss := t.parser.Loss(t.train.Batch(i))
			t.opt.ZeroGrad()
			loss.Backward()
			nn.ClipGradNorm(t.parser.Parameters(), t.cfg.MaxGradNorm)
			t.opt.Step()

			v := loss.Value()
			logLoss += v
			evalLoss += v
			trainSteps.Inc()
			trainBatchLoss.Set(v)

			if t.cfg.LogStep > 0 && t.step%t.cfg.LogStep == 0 {
				t.logger.Info("train step",
					zap.Int("step", t.step),
					zap.Int("max_steps", t.cfg.MaxSteps),
					zap.Float64("loss", logLoss/float64(t.cfg.LogStep)))
				logLoss = 0
			}

			if t.step%t.cfg.EvalInterval == 0 {
				if err := t.evaluate(evalLoss / float64(t.cfg.EvalInterval)); err != nil {
					return t.result(""), err
				}
				evalLoss = 0
			}

			if t.step-t.lastBestStep >= t.cfg.MaxStepsBeforeStop {
				if !t.usingAMSGrad {
					t.switchToAMSGrad()
				} else {
					reason = StopPatience
				}
			}
			if reason == "" && t.step >= t.cfg.MaxSteps {
				reason = StopMaxSteps
			}
		}

		if reason != "" {
			res := t.result(reason)
			t.logger.Info("training ended",
				zap.Int("steps", res.Steps),
				zap.String("reason", string(res.Reason)),
				zap.Float64("best_dev_score", res.BestScore),
				zap.Int("best_step", res.BestStep))
			if err := t.writeHistory(res); err != nil {
				return res, err
			}
			return res, nil
		}
		t.train.Reshuffle()
	}
}

// maybeUnfreeze thaws recurrent layers whose configured step has been
// reached, topmost first, each with a geometrically shrunk rate.
func (t *Trainer) maybeUnfreeze() {
	for t.unfreezeIdx < len(t.cfg.UnfreezePoints) && t.step == t.cfg.UnfreezePoints[t.unfreezeIdx] {
		layer := t.parser.NumContextLayers() - 1 - t.unfreezeIdx
		if layer < 0 {
			t.unfreezeIdx++
			continue
		}
		lr := t.cfg.LR * math.Pow(t.cfg.LRShrink, float64(t.unfreezeIdx+1))
		t.parser.ThawContextLayer(layer)
		t.opt.AddGroup(t.parser.ContextLayerParams(layer), lr)
		layersThawed.Inc()
		t.logger.Info("unfroze recurrent layer",
			zap.Int("layer", layer),
			zap.Int("step", t.step),
			zap.Float64("lr", lr))
		t.unfreezeIdx++
	}
}

// switchToAMSGrad replaces the optimizer with a fresh AMSGrad Adam over
// all parameters and resets the stagnation clock. Fires at most once.
func (t *Trainer) switchToAMSGrad() {
	t.logger.Info("dev score stagnant, switching to AMSGrad", zap.Int("step", t.step))
	t.lastBestStep = t.step
	t.usingAMSGrad = true
	t.opt = nn.NewAdam(t.parser.Parameters(), t.cfg.LR, 0.9, t.cfg.Beta2, 1e-6, 0, true)
	optimizerSwitches.Inc()
}

// evaluate scores the current model on the train and dev splits and
// checkpoints when the dev score strictly improves on all previous
// evaluations.
func (t *Trainer) evaluate(trainLoss float64) error {
	trainScores, err := t.scoreSplit(t.trainDev, t.paths.TrainFile)
	if err != nil {
		return fmt.Errorf("evaluating on train: %w", err)
	}
	devScores, err := t.scoreSplit(t.dev, t.paths.GoldFile)
	if err != nil {
		return fmt.Errorf("evaluating on dev: %w", err)
	}
	evalRuns.Inc()
	devScore.Set(devScores.LAS)

	t.logger.Info("evaluation",
		zap.Int("step", t.step),
		zap.Float64("train_loss", trainLoss),
		zap.Float64("train_las", trainScores.LAS),
		zap.Float64("dev_las", devScores.LAS),
		zap.Float64("dev_uas", devScores.UAS))

	best := len(t.history) == 0
	if !best {
		best = devScores.LAS > maxOf(t.history)
	}
	if best {
		t.lastBestStep = t.step
		t.bestScore = devScores.LAS
		t.bestStep = t.step
		if t.paths.ModelFile != "" {
			if err := SaveCheckpoint(t.paths.ModelFile, t.parser); err != nil {
				return fmt.Errorf("saving checkpoint: %w", err)
			}
		}
		checkpointsSaved.Inc()
		bestDevScore.Set(devScores.LAS)
		t.logger.Info("new best model saved",
			zap.Int("step", t.step),
			zap.Float64("dev_las", devScores.LAS),
			zap.String("path", t.paths.ModelFile))
	}
	t.history = append(t.history, devScores.LAS)
	return nil
}

// scoreSplit predicts over one split, writes the predictions back in
// document order and scores them against the gold file.
func (t *Trainer) scoreSplit(l *data.Loader, goldFile string) (eval.Scores, error) {
	doc := l.Doc()
	heads := make([][]int, len(doc.Sentences))
	deprels := make([][]string, len(doc.Sentences))
	for i := 0; i < l.Len(); i++ {
		batch := l.Batch(i)
		for k, pr := range t.parser.Predict(batch) {
			orig := batch.OrigIdx[k]
			heads[orig] = pr.Heads
			deprels[orig] = pr.Deprels
		}
	}
	if err := doc.SetPredictions(heads, deprels); err != nil {
		return eval.Scores{}, err
	}
	if err := doc.WriteFile(t.paths.OutputFile); err != nil {
		return eval.Scores{}, err
	}
	return t.Score(t.paths.OutputFile, goldFile)
}

func (t *Trainer) result(reason StopReason) Result {
	return Result{Steps: t.step, BestScore: t.bestScore, BestStep: t.bestStep, Reason: reason}
}

func (t *Trainer) writeHistory(res Result) error {
	if t.paths.HistoryFile == "" {
		return nil
	}
	buf, err := sonic.Marshal(trainHistory{DevScores: t.history, Result: res})
	if err != nil {
		return err
	}
	return os.WriteFile(t.paths.HistoryFile, buf, 0o644)
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
