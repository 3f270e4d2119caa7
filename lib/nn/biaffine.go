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

// PairScorer scores every ordered token pair of one sentence. Given two
// T-row views of the contextual vectors, Score returns a (T·T)×O matrix
// where row i·T+j holds the O scores pairing row i of the first view
// with row j of the second. Reshaped to T×T, the first view indexes
// rows and the second indexes columns.
type PairScorer interface {
	Module
	Score(rng *rand.Rand, x1, x2 *tensor.Tensor, train bool) *tensor.Tensor
	OutSize() int
}

// DeepBiaffine is the deep biaffine attention scorer: both token views
// are passed through their own projection with a nonlinearity, extended
// with a constant bias feature, and combined by a learned bilinear form
// per output channel.
type DeepBiaffine struct {
	proj1   *Linear
	proj2   *Linear
	U       []*tensor.Tensor // one (hidden+1)×(hidden+1) form per output
	dropout float64
}

// NewDeepBiaffine builds a scorer mapping in1/in2-wide views through a
// hidden-wide projection into out score channels.
func NewDeepBiaffine(rng *rand.Rand, in1, in2, hidden, out int, dropout float64) *DeepBiaffine {
	d := &DeepBiaffine{
		proj1:   NewLinear(rng, in1, hidden, true),
		proj2:   NewLinear(rng, in2, hidden, true),
		dropout: dropout,
	}
	for o := 0; o < out; o++ {
		d.U = append(d.U, tensor.Randn(rng, hidden+1, hidden+1, 1.0/float64(hidden+1)))
	}
	return d
}

// appendOnes extends every row with a constant 1, turning the bilinear
// form into a full biaffine one (linear and bias terms included).
func appendOnes(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Concat(x, tensor.New(x.Rows, 1, onesVec(x.Rows), false))
}

// Score implements PairScorer.
func (d *DeepBiaffine) Score(rng *rand.Rand, x1, x2 *tensor.Tensor, train bool) *tensor.Tensor {
	h := appendOnes(tensor.Dropout(rng, tensor.Relu(d.proj1.Forward(x1)), d.dropout, train))
	m := appendOnes(tensor.Dropout(rng, tensor.Relu(d.proj2.Forward(x2)), d.dropout, train))

	t := x1.Rows
	cols := make([]*tensor.Tensor, len(d.U))
	for o, u := range d.U {
		s := tensor.MatMul(tensor.MatMul(h, u), tensor.Transpose(m)) // T×T, first view on rows
		cols[o] = tensor.Reshape(s, t*t, 1)
	}
	if len(cols) == 1 {
		return cols[0]
	}
	return tensor.Concat(cols...)
}

// OutSize returns the number of score channels.
func (d *DeepBiaffine) OutSize() int { return len(d.U) }

// Parameters returns every learnable tensor of the scorer.
func (d *DeepBiaffine) Parameters() []*tensor.Tensor {
	params := append(d.proj1.Parameters(), d.proj2.Parameters()...)
	return append(params, d.U...)
}

// MLPScorer scores pairs with a single-hidden-layer perceptron over the
// sum of independently projected views: score(i,j) = W·tanh(P₁hᵢ + P₂hⱼ + b).
type MLPScorer struct {
	proj1   *Linear
	proj2   *Linear
	out     *Linear
	bias    *tensor.Tensor
	dropout float64
}

// NewMLPScorer builds the pairwise MLP scorer.
func NewMLPScorer(rng *rand.Rand, in1, in2, hidden, out int, dropout float64) *MLPScorer {
	return &MLPScorer{
		proj1:   NewLinear(rng, in1, hidden, false),
		proj2:   NewLinear(rng, in2, hidden, false),
		out:     NewLinear(rng, hidden, out, true),
		bias:    tensor.Zeros(1, hidden, true),
		dropout: dropout,
	}
}

// Score implements PairScorer.
func (s *MLPScorer) Score(rng *rand.Rand, x1, x2 *tensor.Tensor, train bool) *tensor.Tensor {
	t := x1.Rows
	p1 := s.proj1.Forward(x1) // T×hidden
	p2 := s.proj2.Forward(x2) // T×hidden

	// Pairwise sums: row i·T+j = p1[i] + p2[j].
	idx1 := make([]int, t*t)
	idx2 := make([]int, t*t)
	for i := 0; i < t; i++ {
		for j := 0; j < t; j++ {
			idx1[i*t+j] = i
			idx2[i*t+j] = j
		}
	}
	pairs := tensor.AddBias(tensor.Add(tensor.Rows(p1, idx1), tensor.Rows(p2, idx2)), s.bias)
	hiddenOut := tensor.Dropout(rng, tensor.Tanh(pairs), s.dropout, train)
	return s.out.Forward(hiddenOut)
}

// OutSize returns the number of score channels.
func (s *MLPScorer) OutSize() int { return s.out.W.Cols }

// Parameters returns every learnable tensor of the scorer.
func (s *MLPScorer) Parameters() []*tensor.Tensor {
	params := append(s.proj1.Parameters(), s.proj2.Parameters()...)
	params = append(params, s.out.Parameters()...)
	return append(params, s.bias)
}
