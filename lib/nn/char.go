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

package nn

import (
	"math/rand"

	"github.com/lexatic/arcparse/lib/tensor"
)

// CharEncoder turns each word's character sequence into a single dense
// vector: character embeddings run through a unidirectional LSTM, taking
// the hidden state at the word's last character.
type CharEncoder struct {
	emb    *Embedding
	cell   *LSTMCell
	hidden int
}

// NewCharEncoder builds the encoder over a character vocabulary.
func NewCharEncoder(rng *rand.Rand, charVocab, embDim, hidden int) *CharEncoder {
	return &CharEncoder{
		emb:    NewEmbedding(rng, charVocab, embDim),
		cell:   NewLSTMCell(rng, embDim, hidden),
		hidden: hidden,
	}
}

// Forward encodes one batch of words. words holds each word's character
// ids; the result has one row per word, in order.
func (c *CharEncoder) Forward(rng *rand.Rand, words [][]int, train bool) *tensor.Tensor {
	n := len(words)
	maxLen := 1
	lens := make([]int, n)
	for i, w := range words {
		lens[i] = len(w)
		if len(w) > maxLen {
			maxLen = len(w)
		}
		if len(w) == 0 {
			lens[i] = 1 // degenerate token; the pad embedding is zero
		}
	}

	flat := make([]int, n*maxLen)
	for i, w := range words {
		copy(flat[i*maxLen:], w)
	}
	embedded := c.emb.Forward(flat)
	states := c.cell.Run(embedded, n, maxLen, c.cell.weights(), rng, 0, train)

	// Hidden state at each word's final character.
	idx := make([]int, n)
	for i := range words {
		idx[i] = i*maxLen + lens[i] - 1
	}
	return tensor.Rows(states, idx)
}

// OutputDim returns the per-word vector width.
func (c *CharEncoder) OutputDim() int { return c.hidden }

// Parameters returns every learnable tensor of the encoder.
func (c *CharEncoder) Parameters() []*tensor.Tensor {
	return append(c.emb.Parameters(), c.cell.Parameters()...)
}
