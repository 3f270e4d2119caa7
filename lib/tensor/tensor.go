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

// Package tensor implements reverse-mode automatic differentiation over
// dense row-major float64 matrices. Every operation records a backward
// closure; calling Backward on a scalar result propagates gradients to
// every reachable tensor created with gradient tracking enabled.
//
// The package is deliberately two-dimensional: batched and sequential
// structure is expressed by callers as slices of matrices, which keeps
// every backward pass short enough to verify by hand.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a dense row-major matrix, optionally carrying a gradient and
// a node in the autograd tape.
type Tensor struct {
	Data  []float64
	Rows  int
	Cols  int
	Grad  []float64

	requiresGrad bool
	back         func()
	prev         []*Tensor
}

// New wraps data as a rows×cols tensor. The slice is not copied.
func New(rows, cols int, data []float64, requiresGrad bool) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: %d×%d shape does not match %d values", rows, cols, len(data)))
	}
	t := &Tensor{Data: data, Rows: rows, Cols: cols, requiresGrad: requiresGrad}
	if requiresGrad {
		t.Grad = make([]float64, len(data))
	}
	return t
}

// Zeros returns a zero-filled tensor.
func Zeros(rows, cols int, requiresGrad bool) *Tensor {
	return New(rows, cols, make([]float64, rows*cols), requiresGrad)
}

// Randn returns a tensor of normal samples scaled by std, drawn from rng.
// All parameter initialization goes through an explicit source so that a
// fixed seed reproduces the model bit-for-bit.
func Randn(rng *rand.Rand, rows, cols int, std float64) *Tensor {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return New(rows, cols, data, true)
}

// Param returns a zero-initialized learnable tensor.
func Param(rows, cols int) *Tensor {
	return Zeros(rows, cols, true)
}

// RequiresGrad reports whether the tensor participates in gradient
// accumulation.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad toggles gradient accumulation for a parameter. Used by
// the trainer to freeze and thaw layers; the gradient buffer is retained.
func (t *Tensor) SetRequiresGrad(v bool) {
	t.requiresGrad = v
	if v && t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
}

// ZeroGrad clears the accumulated gradient in place.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// At returns element (i, j).
func (t *Tensor) At(i, j int) float64 { return t.Data[i*t.Cols+j] }

// Set assigns element (i, j).
func (t *Tensor) Set(i, j int, v float64) { t.Data[i*t.Cols+j] = v }

// Clone returns a deep copy that does not share the tape.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return New(t.Rows, t.Cols, data, false)
}

// tracked reports whether any input carries gradient state, which decides
// whether the result joins the tape.
func tracked(ts ...*Tensor) bool {
	for _, t := range ts {
		if t.requiresGrad {
			return true
		}
	}
	return false
}

// result builds an output tensor wired to its inputs with a backward
// closure. When no input is tracked the closure is dropped entirely, so
// inference builds no tape.
func result(rows, cols int, data []float64, back func(out *Tensor), inputs ...*Tensor) *Tensor {
	out := &Tensor{Data: data, Rows: rows, Cols: cols}
	if tracked(inputs...) {
		out.requiresGrad = true
		out.Grad = make([]float64, len(data))
		out.prev = inputs
		out.back = func() { back(out) }
	}
	return out
}

// Backward runs reverse-mode differentiation from t, which must be a 1×1
// scalar. Gradients accumulate into every tracked tensor on the tape.
func (t *Tensor) Backward() {
	if t.Rows != 1 || t.Cols != 1 {
		panic("tensor: Backward requires a scalar")
	}
	if !t.requiresGrad {
		return
	}
	// Topological order over the tape, leaves last.
	var order []*Tensor
	seen := map[*Tensor]bool{}
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, p := range n.prev {
			visit(p)
		}
		order = append(order, n)
	}
	visit(t)

	t.Grad[0] = 1
	for i := len(order) - 1; i >= 0; i-- {
		if order[i].back != nil {
			order[i].back()
		}
	}
}

// Value returns the single element of a 1×1 tensor.
func (t *Tensor) Value() float64 {
	if t.Rows != 1 || t.Cols != 1 {
		panic("tensor: Value requires a scalar")
	}
	return t.Data[0]
}

// NegInf is the masking value used to exclude positions from a softmax.
var NegInf = math.Inf(-1)
