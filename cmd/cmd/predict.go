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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lexatic/arcparse"
	"github.com/lexatic/arcparse/lib/conllu"
	"github.com/lexatic/arcparse/lib/data"
	"github.com/lexatic/arcparse/lib/eval"
	"github.com/lexatic/arcparse/lib/pretrain"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Parse a treebank with a trained model",
	Long:  `Load a checkpoint, predict heads and relation labels for every sentence, and write the annotated treebank.`,
	RunE:  runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)
	f := predictCmd.Flags()

	f.String("model-file", "parser.bin", "checkpoint to load")
	f.String("eval-file", "", "input treebank (CoNLL-U)")
	f.String("output-file", "predictions.conllu", "annotated output treebank")
	f.String("score-against", "", "optional gold file; when given, attachment scores are logged")
	f.String("wordvec-file", "", "pretrained word vector file (required if the model was trained with one)")
	f.String("wordvec-cache", "", "binary cache for word vectors (defaults to <wordvec-file>.bin)")

	for _, name := range []string{
		"model-file", "eval-file", "output-file", "score-against", "wordvec-file", "wordvec-cache",
	} {
		mustBindPFlag("predict."+flagKey(name), f.Lookup(name))
	}
	_ = predictCmd.MarkFlagRequired("eval-file")
}

func runPredict(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	var pre *pretrain.Embeddings
	if vecFile := viper.GetString("predict.wordvec_file"); vecFile != "" {
		cache := viper.GetString("predict.wordvec_cache")
		if cache == "" {
			cache = vecFile + ".bin"
		}
		var err error
		pre, err = pretrain.Load(vecFile, cache, logger)
		if err != nil {
			return fmt.Errorf("loading word vectors: %w", err)
		}
	}

	parser, err := arcparse.LoadCheckpoint(viper.GetString("predict.model_file"), pre)
	if err != nil {
		return err
	}
	cfg := parser.Config()
	logger.Info("model loaded",
		zap.String("path", viper.GetString("predict.model_file")),
		zap.String("lstm_type", cfg.LSTMType),
		zap.String("scorer", cfg.Scorer))

	doc, err := conllu.ReadFile(viper.GetString("predict.eval_file"))
	if err != nil {
		return fmt.Errorf("reading eval file: %w", err)
	}

	loader := data.NewLoader(doc, parser.Vocabs(), pre, cfg.BatchTokens, nil)
	heads := make([][]int, len(doc.Sentences))
	deprels := make([][]string, len(doc.Sentences))
	for i := 0; i < loader.Len(); i++ {
		batch := loader.Batch(i)
		for k, pr := range parser.Predict(batch) {
			orig := batch.OrigIdx[k]
			heads[orig] = pr.Heads
			deprels[orig] = pr.Deprels
		}
	}
	if err := doc.SetPredictions(heads, deprels); err != nil {
		return err
	}
	outFile := viper.GetString("predict.output_file")
	if err := doc.WriteFile(outFile); err != nil {
		return err
	}
	logger.Info("predictions written",
		zap.String("path", outFile),
		zap.Int("sentences", len(doc.Sentences)))

	if gold := viper.GetString("predict.score_against"); gold != "" {
		scores, err := eval.Score(outFile, gold)
		if err != nil {
			return err
		}
		logger.Info("scored against gold",
			zap.Float64("uas", scores.UAS),
			zap.Float64("las", scores.LAS))
	}
	return nil
}
