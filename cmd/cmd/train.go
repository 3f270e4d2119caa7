// Copyright 2025 Lexatic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lexatic/arcparse"
	"github.com/lexatic/arcparse/lib/conllu"
	"github.com/lexatic/arcparse/lib/pretrain"
	"github.com/lexatic/arcparse/lib/vocab"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a parser on a treebank",
	Long:  `Train the deep biaffine parser end-to-end, checkpointing the best model by dev-set labeled attachment score.`,
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	f := trainCmd.Flags()
	def := arcparse.DefaultConfig()

	f.String("train-file", "", "training treebank (CoNLL-U)")
	f.String("dev-file", "", "development treebank (CoNLL-U)")
	f.String("gold-file", "", "dev reference for scoring (defaults to --dev-file)")
	f.String("output-file", "predictions.conllu", "scratch file for system predictions")
	f.String("model-file", "parser.bin", "path for the best-model checkpoint")
	f.String("history-file", "", "optional JSON training history output")
	f.String("wordvec-file", "", "pretrained word vector file")
	f.String("wordvec-cache", "", "binary cache for word vectors (defaults to <wordvec-file>.bin)")

	f.Int("word-emb-dim", def.WordEmbDim, "trained word embedding width")
	f.Int("lemma-emb-dim", def.LemmaEmbDim, "lemma embedding width")
	f.Int("tag-emb-dim", def.TagEmbDim, "POS/morphology embedding width")
	f.Int("char-emb-dim", def.CharEmbDim, "character embedding width")
	f.Int("char-hidden-dim", def.CharHiddenDim, "character LSTM width")
	f.Int("transformed-dim", def.TransformedDim, "projected width of char and pretrained vectors")
	f.Bool("no-char", false, "disable the character model")
	f.Bool("no-pretrain", false, "disable pretrained vectors")
	f.Float64("word-dropout", def.WordDropout, "whole-token dropout probability")

	f.String("lstm-type", def.LSTMType, "contextualizer variant (bihlstm, hlstm, wdlstm)")
	f.Int("hidden-dim", def.HiddenDim, "recurrent hidden width")
	f.Int("num-layers", def.NumLayers, "recurrent stack depth")
	f.Float64("dropout", def.Dropout, "dropout probability")
	f.Float64("rec-dropout", def.RecDropout, "recurrent dropout (weight drop for wdlstm)")

	f.String("scorer", def.Scorer, "pairwise scorer family (biaffine, mlp)")
	f.Int("deep-biaff-hidden-dim", def.DeepBiaffHiddenDim, "scorer hidden width")
	f.Bool("no-deprel-loss", false, "disable the relation label loss")
	f.Bool("no-linearization", false, "disable the linearization term")
	f.Bool("no-distance", false, "disable the distance term")

	f.Float64("lr", def.LR, "learning rate")
	f.Float64("beta1", def.Beta1, "Adam beta1")
	f.Float64("beta2", def.Beta2, "Adam beta2")
	f.Float64("eps", def.Eps, "Adam epsilon")
	f.Float64("wdecay", def.WeightDecay, "weight decay applied to all weights")
	f.Float64("max-grad-norm", def.MaxGradNorm, "gradient clipping threshold")
	f.Int("batch-size", def.BatchTokens, "token budget per batch")
	f.Int("max-steps", def.MaxSteps, "hard step ceiling")
	f.Int("eval-interval", def.EvalInterval, "steps between evaluations")
	f.Int("max-steps-before-stop", def.MaxStepsBeforeStop, "patience in steps before the AMSGrad switch / stop")
	f.Int("log-step", def.LogStep, "steps between loss log lines")
	f.IntSlice("unfreeze-points", nil, "steps at which to thaw recurrent layers, topmost first")
	f.Float64("lr-shrink", def.LRShrink, "lr shrink ratio per thawed layer")
	f.Int("vocab-cutoff", def.VocabCutoff, "word frequency threshold for the trained vocabulary")
	f.Int64("seed", def.Seed, "random seed")

	for _, name := range []string{
		"train-file", "dev-file", "gold-file", "output-file", "model-file", "history-file",
		"wordvec-file", "wordvec-cache",
		"word-emb-dim", "lemma-emb-dim", "tag-emb-dim", "char-emb-dim", "char-hidden-dim",
		"transformed-dim", "no-char", "no-pretrain", "word-dropout",
		"lstm-type", "hidden-dim", "num-layers", "dropout", "rec-dropout",
		"scorer", "deep-biaff-hidden-dim", "no-deprel-loss", "no-linearization", "no-distance",
		"lr", "beta1", "beta2", "eps", "wdecay", "max-grad-norm", "batch-size",
		"max-steps", "eval-interval", "max-steps-before-stop", "log-step",
		"unfreeze-points", "lr-shrink", "vocab-cutoff", "seed",
	} {
		mustBindPFlag(flagKey(name), f.Lookup(name))
	}
	_ = trainCmd.MarkFlagRequired("train-file")
	_ = trainCmd.MarkFlagRequired("dev-file")
}

func trainConfig() arcparse.Config {
	cfg := arcparse.DefaultConfig()
	cfg.WordEmbDim = viper.GetInt("word_emb_dim")
	cfg.LemmaEmbDim = viper.GetInt("lemma_emb_dim")
	cfg.TagEmbDim = viper.GetInt("tag_emb_dim")
	cfg.CharEmbDim = viper.GetInt("char_emb_dim")
	cfg.CharHiddenDim = viper.GetInt("char_hidden_dim")
	cfg.TransformedDim = viper.GetInt("transformed_dim")
	cfg.UseChar = !viper.GetBool("no_char")
	cfg.UsePretrained = !viper.GetBool("no_pretrain")
	cfg.WordDropout = viper.GetFloat64("word_dropout")

	cfg.LSTMType = viper.GetString("lstm_type")
	cfg.HiddenDim = viper.GetInt("hidden_dim")
	cfg.NumLayers = viper.GetInt("num_layers")
	cfg.Dropout = viper.GetFloat64("dropout")
	cfg.RecDropout = viper.GetFloat64("rec_dropout")

	cfg.Scorer = viper.GetString("scorer")
	cfg.DeepBiaffHiddenDim = viper.GetInt("deep_biaff_hidden_dim")
	cfg.DeprelLoss = !viper.GetBool("no_deprel_loss")
	cfg.Linearization = !viper.GetBool("no_linearization")
	cfg.Distance = !viper.GetBool("no_distance")

	cfg.LR = viper.GetFloat64("lr")
	cfg.Beta1 = viper.GetFloat64("beta1")
	cfg.Beta2 = viper.GetFloat64("beta2")
	cfg.Eps = viper.GetFloat64("eps")
	cfg.WeightDecay = viper.GetFloat64("wdecay")
	cfg.MaxGradNorm = viper.GetFloat64("max_grad_norm")
	cfg.BatchTokens = viper.GetInt("batch_size")
	cfg.MaxSteps = viper.GetInt("max_steps")
	cfg.EvalInterval = viper.GetInt("eval_interval")
	cfg.MaxStepsBeforeStop = viper.GetInt("max_steps_before_stop")
	cfg.LogStep = viper.GetInt("log_step")
	cfg.UnfreezePoints = viper.GetIntSlice("unfreeze_points")
	cfg.LRShrink = viper.GetFloat64("lr_shrink")
	cfg.VocabCutoff = viper.GetInt("vocab_cutoff")
	cfg.Seed = viper.GetInt64("seed")
	return cfg
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()
	maybeServeMetrics(logger)

	cfg := trainConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	trainDoc, err := conllu.ReadFile(viper.GetString("train_file"))
	if err != nil {
		return fmt.Errorf("reading train file: %w", err)
	}
	devDoc, err := conllu.ReadFile(viper.GetString("dev_file"))
	if err != nil {
		return fmt.Errorf("reading dev file: %w", err)
	}

	var pre *pretrain.Embeddings
	if cfg.UsePretrained {
		vecFile := viper.GetString("wordvec_file")
		if vecFile == "" {
			return fmt.Errorf("pretrained vectors enabled but no --wordvec-file given (use --no-pretrain to disable)")
		}
		cache := viper.GetString("wordvec_cache")
		if cache == "" {
			cache = vecFile + ".bin"
		}
		pre, err = pretrain.Load(vecFile, cache, logger)
		if err != nil {
			return fmt.Errorf("loading word vectors: %w", err)
		}
	}

	vocabs := vocab.Build(trainDoc, cfg.VocabCutoff)
	parser, err := arcparse.NewParser(cfg, vocabs, pre)
	if err != nil {
		return err
	}

	n := 0
	for _, p := range parser.Parameters() {
		n += len(p.Data)
	}
	logger.Info("parser built",
		zap.Int("parameters", n),
		zap.Int("input_dim", parser.InputDim()),
		zap.Int("context_dim", parser.ContextDim()),
		zap.String("lstm_type", cfg.LSTMType),
		zap.String("scorer", cfg.Scorer))

	paths := arcparse.Paths{
		TrainFile:   viper.GetString("train_file"),
		DevFile:     viper.GetString("dev_file"),
		GoldFile:    viper.GetString("gold_file"),
		OutputFile:  viper.GetString("output_file"),
		ModelFile:   viper.GetString("model_file"),
		HistoryFile: viper.GetString("history_file"),
	}
	trainer := arcparse.NewTrainer(parser, trainDoc, devDoc, pre, paths, logger)
	res, err := trainer.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("training finished",
		zap.Int("steps", res.Steps),
		zap.Float64("best_dev_score", res.BestScore),
		zap.Int("best_step", res.BestStep),
		zap.String("reason", string(res.Reason)))
	return nil
}
