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

package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numericGrad approximates d loss(x) / d x[i] by central differences.
func numericGrad(x *Tensor, i int, loss func() float64) float64 {
	const h = 1e-6
	orig := x.Data[i]
	x.Data[i] = orig + h
	up := loss()
	x.Data[i] = orig - h
	down := loss()
	x.Data[i] = orig
	return (up - down) / (2 * h)
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	tests := []struct {
		name    string
		forward func(a, b *Tensor) *Tensor
	}{
		{"add", func(a, b *Tensor) *Tensor { return SumAll(Add(a, b)) }},
		{"sub", func(a, b *Tensor) *Tensor { return SumAll(Sub(a, b)) }},
		{"mul", func(a, b *Tensor) *Tensor { return SumAll(Mul(a, b)) }},
		{"matmul", func(a, b *Tensor) *Tensor { return SumAll(MatMul(a, Transpose(b))) }},
		{"sigmoid", func(a, b *Tensor) *Tensor { return SumAll(Sigmoid(Mul(a, b))) }},
		{"tanh", func(a, b *Tensor) *Tensor { return SumAll(Tanh(Mul(a, b))) }},
		{"softplus", func(a, b *Tensor) *Tensor { return SumAll(Softplus(Mul(a, b))) }},
		{"logsigmoid", func(a, b *Tensor) *Tensor { return SumAll(LogSigmoid(Mul(a, b))) }},
		{"concat", func(a, b *Tensor) *Tensor { return SumAll(Sigmoid(Concat(a, b))) }},
		{"logsoftmax", func(a, b *Tensor) *Tensor { return SumAll(Mul(LogSoftmaxRows(a), b)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Randn(rng, 3, 4, 1)
			b := Randn(rng, 3, 4, 1)
			out := tt.forward(a, b)
			out.Backward()

			for _, p := range []*Tensor{a, b} {
				for i := range p.Data {
					want := numericGrad(p, i, func() float64 { return tt.forward(a, b).Value() })
					assert.InDelta(t, want, p.Grad[i], 1e-4)
				}
			}
		})
	}
}

func TestCrossEntropySum(t *testing.T) {
	logits := New(3, 4, []float64{
		1, 2, 3, 4,
		0.5, 0.5, 0.5, 0.5,
		-1, 0, 1, 2,
	}, true)

	t.Run("ignores sentinel rows", func(t *testing.T) {
		loss := CrossEntropySum(logits, []int{-1, -1, -1})
		require.Equal(t, 0.0, loss.Value())
		loss.Backward()
		for _, g := range logits.Grad {
			require.Equal(t, 0.0, g)
		}
	})

	t.Run("sums over counted rows", func(t *testing.T) {
		logits.ZeroGrad()
		loss := CrossEntropySum(logits, []int{3, -1, 0})
		require.Greater(t, loss.Value(), 0.0)

		loss.Backward()
		// The ignored middle row must stay gradient-free.
		for j := 0; j < 4; j++ {
			assert.Equal(t, 0.0, logits.Grad[4+j])
		}
		for i := range logits.Data {
			want := numericGrad(logits, i, func() float64 {
				return CrossEntropySum(logits, []int{3, -1, 0}).Value()
			})
			assert.InDelta(t, want, logits.Grad[i], 1e-4)
		}
	})
}

func TestMaskFillExcludesFromSoftmax(t *testing.T) {
	x := New(1, 4, []float64{10, 2, 3, 4}, true)
	masked := MaskFill(x, []bool{true, false, false, false}, NegInf)
	logp := LogSoftmaxRows(masked)

	assert.True(t, math.IsInf(logp.Data[0], -1))
	var sum float64
	for _, v := range logp.Data[1:] {
		sum += math.Exp(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-12)

	// No gradient may leak through the masked position.
	SumAll(Mul(logp, New(1, 4, []float64{0, 1, 1, 1}, false))).Backward()
	assert.Equal(t, 0.0, x.Grad[0])
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := Randn(rng, 2, 5, 1)
	out := Dropout(rng, x, 0.5, false)
	require.Same(t, x, out)
}

func TestRowsAccumulatesDuplicateGradients(t *testing.T) {
	table := New(3, 2, []float64{1, 2, 3, 4, 5, 6}, true)
	out := Rows(table, []int{1, 1, 0})
	SumAll(out).Backward()
	assert.Equal(t, []float64{1, 1, 2, 2, 0, 0}, table.Grad)
}
