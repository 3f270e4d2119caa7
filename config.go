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

import "fmt"

// Contextualizer variants.
const (
	LSTMTypeBiHighway  = "bihlstm" // one bidirectional highway stack
	LSTMTypeHighway    = "hlstm"   // two unidirectional highway stacks
	LSTMTypeWeightDrop = "wdlstm"  // two weight-drop stacks
)

// Pairwise scorer families.
const (
	ScorerBiaffine = "biaffine"
	ScorerMLP      = "mlp"
)

// Config holds every hyperparameter of the parser and its training
// loop. Zero-width embedding dimensions switch the source off.
type Config struct {
	// Feature fusion.
	WordEmbDim     int     `json:"word_emb_dim"`
	LemmaEmbDim    int     `json:"lemma_emb_dim"`
	TagEmbDim      int     `json:"tag_emb_dim"`
	CharEmbDim     int     `json:"char_emb_dim"`
	CharHiddenDim  int     `json:"char_hidden_dim"`
	TransformedDim int     `json:"transformed_dim"`
	UseChar        bool    `json:"char"`
	UsePretrained  bool    `json:"pretrain"`
	WordDropout    float64 `json:"word_dropout"`

	// Sequence contextualizer.
	LSTMType   string  `json:"lstm_type"`
	HiddenDim  int     `json:"hidden_dim"`
	NumLayers  int     `json:"num_layers"`
	Dropout    float64 `json:"dropout"`
	RecDropout float64 `json:"rec_dropout"`

	// Pairwise scoring.
	Scorer             string `json:"scorer"`
	DeepBiaffHiddenDim int    `json:"deep_biaff_hidden_dim"`
	DeprelLoss         bool   `json:"deprel_loss"`
	Linearization      bool   `json:"linearization"`
	Distance           bool   `json:"distance"`

	// Optimization.
	LR                 float64 `json:"lr"`
	Beta1              float64 `json:"beta1"`
	Beta2              float64 `json:"beta2"`
	Eps                float64 `json:"eps"`
	WeightDecay        float64 `json:"wdecay"`
	MaxGradNorm        float64 `json:"max_grad_norm"`
	BatchTokens        int     `json:"batch_size"`
	MaxSteps           int     `json:"max_steps"`
	EvalInterval       int     `json:"eval_interval"`
	MaxStepsBeforeStop int     `json:"max_steps_before_stop"`
	LogStep            int     `json:"log_step"`
	UnfreezePoints     []int   `json:"unfreeze_points"`
	LRShrink           float64 `json:"lr_shrink"`
	VocabCutoff        int     `json:"vocab_cutoff"`
	Seed               int64   `json:"seed"`
}

// DefaultConfig returns the reference hyperparameters.
func DefaultConfig() Config {
	return Config{
		WordEmbDim:     75,
		LemmaEmbDim:    75,
		TagEmbDim:      50,
		CharEmbDim:     100,
		CharHiddenDim:  400,
		TransformedDim: 125,
		UseChar:        true,
		UsePretrained:  true,
		WordDropout:    0.33,

		LSTMType:   LSTMTypeBiHighway,
		HiddenDim:  400,
		NumLayers:  3,
		Dropout:    0.5,
		RecDropout: 0,

		Scorer:             ScorerBiaffine,
		DeepBiaffHiddenDim: 400,
		DeprelLoss:         true,
		Linearization:      true,
		Distance:           true,

		LR:                 3e-3,
		Beta1:              0.9,
		Beta2:              0.999,
		Eps:                1e-6,
		WeightDecay:        1e-6,
		MaxGradNorm:        1.0,
		BatchTokens:        5000,
		MaxSteps:           50000,
		EvalInterval:       100,
		MaxStepsBeforeStop: 6000,
		LogStep:            20,
		LRShrink:           1 / 2.6,
		VocabCutoff:        7,
		Seed:               1234,
	}
}

// Validate fails fast on configurations that cannot build a model.
func (c Config) Validate() error {
	switch c.LSTMType {
	case LSTMTypeBiHighway, LSTMTypeHighway, LSTMTypeWeightDrop:
	default:
		return fmt.Errorf("arcparse: unknown lstm type %q", c.LSTMType)
	}
	switch c.Scorer {
	case ScorerBiaffine, ScorerMLP:
	default:
		return fmt.Errorf("arcparse: unknown scorer %q", c.Scorer)
	}
	if c.WordEmbDim <= 0 && c.LemmaEmbDim <= 0 && c.TagEmbDim <= 0 &&
		!(c.UseChar && c.CharEmbDim > 0) && !c.UsePretrained {
		return fmt.Errorf("arcparse: no embedding source enabled")
	}
	if c.HiddenDim <= 0 || c.NumLayers <= 0 {
		return fmt.Errorf("arcparse: recurrent stack needs positive hidden dim and layer count")
	}
	if c.DeepBiaffHiddenDim <= 0 {
		return fmt.Errorf("arcparse: scorer hidden dim must be positive")
	}
	if c.UseChar && c.CharEmbDim > 0 && (c.CharHiddenDim <= 0 || c.TransformedDim <= 0) {
		return fmt.Errorf("arcparse: char model needs positive hidden and transformed dims")
	}
	if c.UsePretrained && c.TransformedDim <= 0 {
		return fmt.Errorf("arcparse: pretrained projection needs a positive transformed dim")
	}
	if c.MaxSteps <= 0 || c.EvalInterval <= 0 || c.MaxStepsBeforeStop <= 0 {
		return fmt.Errorf("arcparse: max steps, eval interval and patience must all be positive")
	}
	return nil
}
