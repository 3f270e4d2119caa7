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

// Package nn provides the neural layers the parser is assembled from:
// embeddings, linear maps, recurrent stacks, pairwise scorers, and the
// regularizers (word dropout, weight drop) the architecture calls for.
//
// Batched sequences are represented flat: a batch of B sentences padded
// to T tokens is a (B·T)×D tensor in (sentence, position) row order,
// with true sentence lengths carried alongside.
package nn

import (
	"math"
	"math/rand"

	"github.com/lexatic/arcparse/lib/tensor"
)

// Module is anything owning learnable tensors.
type Module interface {
	Parameters() []*tensor.Tensor
}

// Linear is a fully connected layer, optionally bias-free.
type Linear struct {
	W *tensor.Tensor
	B *tensor.Tensor
}

// NewLinear creates a linear layer with He-initialized weights.
func NewLinear(rng *rand.Rand, in, out int, bias bool) *Linear {
	l := &Linear{W: tensor.Randn(rng, in, out, math.Sqrt(2.0/float64(in)))}
	if bias {
		l.B = tensor.Zeros(1, out, true)
	}
	return l
}

// Forward applies x·W (+ b).
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.MatMul(x, l.W)
	if l.B != nil {
		out = tensor.AddBias(out, l.B)
	}
	return out
}

// Parameters returns the layer's learnable tensors.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.B == nil {
		return []*tensor.Tensor{l.W}
	}
	return []*tensor.Tensor{l.W, l.B}
}

// Embedding maps integer ids to dense rows of a learned table. Id 0 is
// the pad/unknown sentinel: its output is forced to zero and receives no
// gradient, so the reserved row never drifts.
type Embedding struct {
	W *tensor.Tensor
}

// NewEmbedding creates a vocabSize×dim embedding table.
func NewEmbedding(rng *rand.Rand, vocabSize, dim int) *Embedding {
	e := &Embedding{W: tensor.Randn(rng, vocabSize, dim, 1.0/math.Sqrt(float64(dim)))}
	for j := 0; j < dim; j++ {
		e.W.Data[j] = 0 // sentinel row
	}
	return e
}

// Forward looks up one row per id.
func (e *Embedding) Forward(ids []int) *tensor.Tensor {
	keep := make([]float64, len(ids))
	for i, id := range ids {
		if id != 0 {
			keep[i] = 1
		}
	}
	return tensor.ScaleRows(tensor.Rows(e.W, ids), keep)
}

// Parameters returns the embedding table.
func (e *Embedding) Parameters() []*tensor.Tensor { return []*tensor.Tensor{e.W} }

// Dim returns the embedding width.
func (e *Embedding) Dim() int { return e.W.Cols }

// WordDropout replaces whole token vectors with a shared learned
// substitution vector with probability P. Unlike elementwise dropout it
// removes a token's entire lexical identity at once.
type WordDropout struct {
	P           float64
	Replacement *tensor.Tensor // 1×dim
}

// NewWordDropout creates the regularizer with its replacement vector.
func NewWordDropout(rng *rand.Rand, p float64, dim int) *WordDropout {
	return &WordDropout{
		P:           p,
		Replacement: tensor.Randn(rng, 1, dim, 1.0/math.Sqrt(float64(dim))),
	}
}

// Forward applies word dropout to the rows of x during training; at
// evaluation it is the identity.
func (w *WordDropout) Forward(rng *rand.Rand, x *tensor.Tensor, train bool) *tensor.Tensor {
	if !train || w.P <= 0 {
		return x
	}
	keep := make([]float64, x.Rows)
	replaced := make([]float64, x.Rows)
	for i := range keep {
		if rng.Float64() < w.P {
			replaced[i] = 1
		} else {
			keep[i] = 1
		}
	}
	kept := tensor.ScaleRows(x, keep)
	subst := tensor.MatMul(tensor.New(x.Rows, 1, replaced, false), w.Replacement)
	return tensor.Add(kept, subst)
}

// Parameters returns the replacement vector.
func (w *WordDropout) Parameters() []*tensor.Tensor { return []*tensor.Tensor{w.Replacement} }

// ReversePerm builds the row permutation that reverses each sentence's
// valid prefix inside a flattened B×T layout, leaving every padding
// suffix where it is. It is its own inverse.
func ReversePerm(lens []int, maxLen int) []int {
	perm := make([]int, len(lens)*maxLen)
	for b, n := range lens {
		base := b * maxLen
		for t := 0; t < maxLen; t++ {
			if t < n {
				perm[base+t] = base + n - 1 - t
			} else {
				perm[base+t] = base + t
			}
		}
	}
	return perm
}

// ReverseByLength applies ReversePerm to the rows of x.
func ReverseByLength(x *tensor.Tensor, lens []int, maxLen int) *tensor.Tensor {
	return tensor.Rows(x, ReversePerm(lens, maxLen))
}

// PadKeep returns the per-row 1/0 keep vector for valid positions.
func PadKeep(lens []int, maxLen int) []float64 {
	keep := make([]float64, len(lens)*maxLen)
	for b, n := range lens {
		for t := 0; t < n; t++ {
			keep[b*maxLen+t] = 1
		}
	}
	return keep
}
