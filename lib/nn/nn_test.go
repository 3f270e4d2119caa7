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
	"testing"

	"github.com/lexatic/arcparse/lib/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseByLength(t *testing.T) {
	// Two sentences padded to length 4: lengths 3 and 2.
	lens := []int{3, 2}
	x := tensor.New(8, 1, []float64{
		1, 2, 3, 0, // sentence 0, pad at position 3
		4, 5, 0, 0, // sentence 1, pads at positions 2-3
	}, false)

	rev := ReverseByLength(x, lens, 4)
	assert.Equal(t, []float64{3, 2, 1, 0, 5, 4, 0, 0}, rev.Data,
		"each valid prefix reversed in place, padding suffix untouched")

	t.Run("idempotent", func(t *testing.T) {
		back := ReverseByLength(rev, lens, 4)
		assert.Equal(t, x.Data, back.Data)
	})
}

func TestRecurrentIgnoresPadding(t *testing.T) {
	// The same sentence padded to different lengths must produce the
	// same context vectors at its valid positions.
	rng := rand.New(rand.NewSource(3))
	stack := NewHighwayLSTM(rng, 2, 4, 2, true, 0, 0)

	sent := []float64{0.3, -0.1, 0.8, 0.5, -0.4, 0.2}

	short := tensor.New(3, 2, append([]float64{}, sent...), false)
	padded := make([]float64, 12)
	copy(padded, sent)
	for i := 6; i < 12; i++ {
		padded[i] = 42 // garbage beyond the true length
	}
	long := tensor.New(6, 2, padded, false)

	outShort := stack.Forward(rng, short, []int{3}, 3, false)
	outLong := stack.Forward(rng, long, []int{3}, 6, false)

	for i := 0; i < 3*stack.OutputDim(); i++ {
		assert.InDelta(t, outShort.Data[i], outLong.Data[i], 1e-12)
	}
	for i := 3 * stack.OutputDim(); i < 6*stack.OutputDim(); i++ {
		assert.Equal(t, 0.0, outLong.Data[i], "padded positions must be zeroed")
	}
}

func TestRecurrentVariantsShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	lens := []int{3, 2}
	x := tensor.Randn(rng, 8, 6, 1)
	x.SetRequiresGrad(false)

	tests := []struct {
		name   string
		stack  Recurrent
		outDim int
	}{
		{"bidirectional highway", NewHighwayLSTM(rng, 6, 5, 2, true, 0.1, 0.1), 10},
		{"unidirectional highway", NewHighwayLSTM(rng, 6, 5, 2, false, 0.1, 0.1), 5},
		{"weight drop", NewWeightDropLSTM(rng, 6, 5, 2, 0.1, 0.2), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.stack.Forward(rng, x, lens, 4, true)
			require.Equal(t, 8, out.Rows)
			require.Equal(t, tt.outDim, out.Cols)
			require.Equal(t, tt.outDim, tt.stack.OutputDim())
			require.Equal(t, 2, tt.stack.NumLayers())
			require.NotEmpty(t, tt.stack.LayerParameters(1))
		})
	}
}

func TestWordDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	wd := NewWordDropout(rng, 1.0, 3) // always replace
	x := tensor.New(2, 3, []float64{1, 2, 3, 4, 5, 6}, false)

	out := wd.Forward(rng, x, true)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, wd.Replacement.Data[j], out.At(i, j),
				"dropped rows carry the shared replacement vector")
		}
	}

	t.Run("identity at eval", func(t *testing.T) {
		require.Same(t, x, wd.Forward(rng, x, false))
	})
}

func TestPairScorerShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	head := tensor.Randn(rng, 4, 6, 1)
	dep := tensor.Randn(rng, 4, 6, 1)

	tests := []struct {
		name   string
		scorer PairScorer
		out    int
	}{
		{"biaffine arcs", NewDeepBiaffine(rng, 6, 6, 8, 1, 0), 1},
		{"biaffine labels", NewDeepBiaffine(rng, 6, 6, 8, 5, 0), 5},
		{"mlp arcs", NewMLPScorer(rng, 6, 6, 8, 1, 0), 1},
		{"mlp labels", NewMLPScorer(rng, 6, 6, 8, 5, 0), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := tt.scorer.Score(rng, head, dep, false)
			require.Equal(t, 16, scores.Rows)
			require.Equal(t, tt.out, scores.Cols)
			require.Equal(t, tt.out, tt.scorer.OutSize())
		})
	}
}

func TestCharEncoder(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	enc := NewCharEncoder(rng, 30, 8, 12)

	words := [][]int{{3, 4, 5}, {6}, {7, 8}}
	out := enc.Forward(rng, words, false)
	require.Equal(t, 3, out.Rows)
	require.Equal(t, 12, out.Cols)

	// A word's vector must not depend on other words in the batch.
	alone := enc.Forward(rng, [][]int{{6}}, false)
	for j := 0; j < 12; j++ {
		assert.InDelta(t, alone.At(0, j), out.At(1, j), 1e-12)
	}
}

func TestEmbeddingPadSentinel(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	emb := NewEmbedding(rng, 10, 4)
	out := emb.Forward([]int{0, 3})
	for j := 0; j < 4; j++ {
		assert.Equal(t, 0.0, out.At(0, j), "sentinel id 0 embeds to zero")
	}
}
