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
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func sameShape(a, b *Tensor) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("tensor: shape mismatch %d×%d vs %d×%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
}

// Add returns a + b elementwise.
func Add(a, b *Tensor) *Tensor {
	sameShape(a, b)
	data := make([]float64, len(a.Data))
	copy(data, a.Data)
	floats.Add(data, b.Data)
	return result(a.Rows, a.Cols, data, func(out *Tensor) {
		if a.requiresGrad {
			floats.Add(a.Grad, out.Grad)
		}
		if b.requiresGrad {
			floats.Add(b.Grad, out.Grad)
		}
	}, a, b)
}

// Sub returns a - b elementwise.
func Sub(a, b *Tensor) *Tensor {
	sameShape(a, b)
	data := make([]float64, len(a.Data))
	copy(data, a.Data)
	floats.Sub(data, b.Data)
	return result(a.Rows, a.Cols, data, func(out *Tensor) {
		if a.requiresGrad {
			floats.Add(a.Grad, out.Grad)
		}
		if b.requiresGrad {
			floats.AddScaled(b.Grad, -1, out.Grad)
		}
	}, a, b)
}

// Mul returns a ⊙ b elementwise.
func Mul(a, b *Tensor) *Tensor {
	sameShape(a, b)
	data := make([]float64, len(a.Data))
	for i := range data {
		data[i] = a.Data[i] * b.Data[i]
	}
	return result(a.Rows, a.Cols, data, func(out *Tensor) {
		if a.requiresGrad {
			for i := range a.Grad {
				a.Grad[i] += out.Grad[i] * b.Data[i]
			}
		}
		if b.requiresGrad {
			for i := range b.Grad {
				b.Grad[i] += out.Grad[i] * a.Data[i]
			}
		}
	}, a, b)
}

// Scale returns s·a.
func Scale(a *Tensor, s float64) *Tensor {
	data := make([]float64, len(a.Data))
	floats.AddScaled(data, s, a.Data)
	return result(a.Rows, a.Cols, data, func(out *Tensor) {
		if a.requiresGrad {
			floats.AddScaled(a.Grad, s, out.Grad)
		}
	}, a)
}

// AddConst returns a + c elementwise.
func AddConst(a *Tensor, c float64) *Tensor {
	data := make([]float64, len(a.Data))
	for i := range data {
		data[i] = a.Data[i] + c
	}
	return result(a.Rows, a.Cols, data, func(out *Tensor) {
		if a.requiresGrad {
			floats.Add(a.Grad, out.Grad)
		}
	}, a)
}

// AddBias broadcasts a 1×c bias over the rows of x.
func AddBias(x, bias *Tensor) *Tensor {
	if bias.Rows != 1 || bias.Cols != x.Cols {
		panic(fmt.Sprintf("tensor: bias 1×%d does not match %d columns", bias.Cols, x.Cols))
	}
	data := make([]float64, len(x.Data))
	for i := 0; i < x.Rows; i++ {
		for j := 0; j < x.Cols; j++ {
			data[i*x.Cols+j] = x.Data[i*x.Cols+j] + bias.Data[j]
		}
	}
	return result(x.Rows, x.Cols, data, func(out *Tensor) {
		if x.requiresGrad {
			floats.Add(x.Grad, out.Grad)
		}
		if bias.requiresGrad {
			for i := 0; i < out.Rows; i++ {
				for j := 0; j < out.Cols; j++ {
					bias.Grad[j] += out.Grad[i*out.Cols+j]
				}
			}
		}
	}, x, bias)
}

// MatMul returns a·b using gonum's dense kernels.
func MatMul(a, b *Tensor) *Tensor {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("tensor: matmul %d×%d · %d×%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	am := mat.NewDense(a.Rows, a.Cols, a.Data)
	bm := mat.NewDense(b.Rows, b.Cols, b.Data)
	om := mat.NewDense(a.Rows, b.Cols, nil)
	om.Mul(am, bm)
	return result(a.Rows, b.Cols, om.RawMatrix().Data, func(out *Tensor) {
		gm := mat.NewDense(out.Rows, out.Cols, out.Grad)
		if a.requiresGrad {
			da := mat.NewDense(a.Rows, a.Cols, nil)
			da.Mul(gm, bm.T())
			floats.Add(a.Grad, da.RawMatrix().Data)
		}
		if b.requiresGrad {
			db := mat.NewDense(b.Rows, b.Cols, nil)
			db.Mul(am.T(), gm)
			floats.Add(b.Grad, db.RawMatrix().Data)
		}
	}, a, b)
}

// Transpose returns aᵀ.
func Transpose(a *Tensor) *Tensor {
	data := make([]float64, len(a.Data))
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			data[j*a.Rows+i] = a.Data[i*a.Cols+j]
		}
	}
	return result(a.Cols, a.Rows, data, func(out *Tensor) {
		if a.requiresGrad {
			for i := 0; i < a.Rows; i++ {
				for j := 0; j < a.Cols; j++ {
					a.Grad[i*a.Cols+j] += out.Grad[j*a.Rows+i]
				}
			}
		}
	}, a)
}

// Concat joins tensors with equal row counts along the column axis.
func Concat(ts ...*Tensor) *Tensor {
	rows := ts[0].Rows
	cols := 0
	for _, t := range ts {
		if t.Rows != rows {
			panic("tensor: concat requires equal row counts")
		}
		cols += t.Cols
	}
	data := make([]float64, rows*cols)
	off := 0
	for _, t := range ts {
		for i := 0; i < rows; i++ {
			copy(data[i*cols+off:i*cols+off+t.Cols], t.Data[i*t.Cols:(i+1)*t.Cols])
		}
		off += t.Cols
	}
	return result(rows, cols, data, func(out *Tensor) {
		off := 0
		for _, t := range ts {
			if t.requiresGrad {
				for i := 0; i < rows; i++ {
					for j := 0; j < t.Cols; j++ {
						t.Grad[i*t.Cols+j] += out.Grad[i*cols+off+j]
					}
				}
			}
			off += t.Cols
		}
	}, ts...)
}

// ConcatRows stacks tensors with equal column counts along the row axis.
func ConcatRows(ts ...*Tensor) *Tensor {
	cols := ts[0].Cols
	rows := 0
	for _, t := range ts {
		if t.Cols != cols {
			panic("tensor: concat rows requires equal column counts")
		}
		rows += t.Rows
	}
	data := make([]float64, 0, rows*cols)
	for _, t := range ts {
		data = append(data, t.Data...)
	}
	return result(rows, cols, data, func(out *Tensor) {
		off := 0
		for _, t := range ts {
			if t.requiresGrad {
				floats.Add(t.Grad, out.Grad[off:off+len(t.Grad)])
			}
			off += len(t.Data)
		}
	}, ts...)
}

// Rows gathers the given rows of t. Duplicate indices accumulate their
// gradients, which is what makes this usable as an embedding lookup.
func Rows(t *Tensor, ids []int) *Tensor {
	data := make([]float64, len(ids)*t.Cols)
	for i, id := range ids {
		copy(data[i*t.Cols:(i+1)*t.Cols], t.Data[id*t.Cols:(id+1)*t.Cols])
	}
	return result(len(ids), t.Cols, data, func(out *Tensor) {
		if t.requiresGrad {
			for i, id := range ids {
				for j := 0; j < t.Cols; j++ {
					t.Grad[id*t.Cols+j] += out.Grad[i*t.Cols+j]
				}
			}
		}
	}, t)
}

// Select gathers elements (rowIdx[k], colIdx[k]) into an n×1 column.
func Select(t *Tensor, rowIdx, colIdx []int) *Tensor {
	if len(rowIdx) != len(colIdx) {
		panic("tensor: select index length mismatch")
	}
	data := make([]float64, len(rowIdx))
	for k := range rowIdx {
		data[k] = t.Data[rowIdx[k]*t.Cols+colIdx[k]]
	}
	return result(len(rowIdx), 1, data, func(out *Tensor) {
		if t.requiresGrad {
			for k := range rowIdx {
				t.Grad[rowIdx[k]*t.Cols+colIdx[k]] += out.Grad[k]
			}
		}
	}, t)
}

// ScaleRows multiplies row i of x by s[i]. Used for padding masks and
// whole-row (word level) dropout keeps.
func ScaleRows(x *Tensor, s []float64) *Tensor {
	if len(s) != x.Rows {
		panic("tensor: row scale length mismatch")
	}
	data := make([]float64, len(x.Data))
	for i := 0; i < x.Rows; i++ {
		for j := 0; j < x.Cols; j++ {
			data[i*x.Cols+j] = x.Data[i*x.Cols+j] * s[i]
		}
	}
	return result(x.Rows, x.Cols, data, func(out *Tensor) {
		if x.requiresGrad {
			for i := 0; i < x.Rows; i++ {
				for j := 0; j < x.Cols; j++ {
					x.Grad[i*x.Cols+j] += out.Grad[i*x.Cols+j] * s[i]
				}
			}
		}
	}, x)
}

// MaskFill sets entries where mask is true to v; those entries receive no
// gradient. Masking with NegInf before a softmax is the intended use.
func MaskFill(x *Tensor, mask []bool, v float64) *Tensor {
	if len(mask) != len(x.Data) {
		panic("tensor: mask length mismatch")
	}
	data := make([]float64, len(x.Data))
	for i := range data {
		if mask[i] {
			data[i] = v
		} else {
			data[i] = x.Data[i]
		}
	}
	return result(x.Rows, x.Cols, data, func(out *Tensor) {
		if x.requiresGrad {
			for i := range mask {
				if !mask[i] {
					x.Grad[i] += out.Grad[i]
				}
			}
		}
	}, x)
}

// Reshape reinterprets x as rows×cols without moving data.
func Reshape(x *Tensor, rows, cols int) *Tensor {
	if rows*cols != len(x.Data) {
		panic(fmt.Sprintf("tensor: cannot reshape %d values to %d×%d", len(x.Data), rows, cols))
	}
	data := make([]float64, len(x.Data))
	copy(data, x.Data)
	return result(rows, cols, data, func(out *Tensor) {
		if x.requiresGrad {
			floats.Add(x.Grad, out.Grad)
		}
	}, x)
}

// Detach returns a constant copy of x: same values, no tape edge. The
// auxiliary linearization and distance terms are injected through this.
func Detach(x *Tensor) *Tensor {
	data := make([]float64, len(x.Data))
	copy(data, x.Data)
	return New(x.Rows, x.Cols, data, false)
}

func unary(x *Tensor, f func(float64) float64, df func(x, y float64) float64) *Tensor {
	data := make([]float64, len(x.Data))
	for i, v := range x.Data {
		data[i] = f(v)
	}
	return result(x.Rows, x.Cols, data, func(out *Tensor) {
		if x.requiresGrad {
			for i := range x.Grad {
				x.Grad[i] += out.Grad[i] * df(x.Data[i], out.Data[i])
			}
		}
	}, x)
}

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

// Sigmoid applies the logistic function elementwise.
func Sigmoid(x *Tensor) *Tensor {
	return unary(x, sigmoid, func(_, y float64) float64 { return y * (1 - y) })
}

// Tanh applies the hyperbolic tangent elementwise.
func Tanh(x *Tensor) *Tensor {
	return unary(x, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

// Relu applies max(0, x) elementwise.
func Relu(x *Tensor) *Tensor {
	return unary(x, func(v float64) float64 { return math.Max(0, v) },
		func(v, _ float64) float64 {
			if v > 0 {
				return 1
			}
			return 0
		})
}

// Softplus applies log(1+eˣ) elementwise, numerically stable.
func Softplus(x *Tensor) *Tensor {
	return unary(x, func(v float64) float64 {
		return math.Max(v, 0) + math.Log1p(math.Exp(-math.Abs(v)))
	}, func(v, _ float64) float64 { return sigmoid(v) })
}

// LogSigmoid applies log σ(x) elementwise, numerically stable.
func LogSigmoid(x *Tensor) *Tensor {
	return unary(x, func(v float64) float64 {
		return math.Min(v, 0) - math.Log1p(math.Exp(-math.Abs(v)))
	}, func(v, _ float64) float64 { return sigmoid(-v) })
}

// Log applies the natural logarithm elementwise.
func Log(x *Tensor) *Tensor {
	return unary(x, math.Log, func(v, _ float64) float64 { return 1 / v })
}

// Dropout applies inverted elementwise dropout with probability p when
// train is set; at evaluation it is the identity.
func Dropout(rng *rand.Rand, x *Tensor, p float64, train bool) *Tensor {
	if !train || p <= 0 {
		return x
	}
	keep := 1 - p
	scale := make([]float64, len(x.Data))
	data := make([]float64, len(x.Data))
	for i := range data {
		if rng.Float64() < keep {
			scale[i] = 1 / keep
			data[i] = x.Data[i] * scale[i]
		}
	}
	return result(x.Rows, x.Cols, data, func(out *Tensor) {
		if x.requiresGrad {
			for i := range x.Grad {
				x.Grad[i] += out.Grad[i] * scale[i]
			}
		}
	}, x)
}

// SumAll reduces x to a 1×1 scalar.
func SumAll(x *Tensor) *Tensor {
	data := []float64{floats.Sum(x.Data)}
	return result(1, 1, data, func(out *Tensor) {
		if x.requiresGrad {
			for i := range x.Grad {
				x.Grad[i] += out.Grad[0]
			}
		}
	}, x)
}

// logSoftmaxRow writes the log-softmax of src into dst, treating -Inf
// entries as excluded (probability exactly zero).
func logSoftmaxRow(dst, src []float64) {
	max := floats.Max(src)
	if math.IsInf(max, -1) {
		// Every class masked; leave the row at -Inf.
		copy(dst, src)
		return
	}
	var sum float64
	for _, v := range src {
		if !math.IsInf(v, -1) {
			sum += math.Exp(v - max)
		}
	}
	lse := max + math.Log(sum)
	for i, v := range src {
		dst[i] = v - lse
	}
}

// LogSoftmaxRows applies a log-softmax independently to every row.
func LogSoftmaxRows(x *Tensor) *Tensor {
	data := make([]float64, len(x.Data))
	for i := 0; i < x.Rows; i++ {
		logSoftmaxRow(data[i*x.Cols:(i+1)*x.Cols], x.Data[i*x.Cols:(i+1)*x.Cols])
	}
	return result(x.Rows, x.Cols, data, func(out *Tensor) {
		if !x.requiresGrad {
			return
		}
		for i := 0; i < x.Rows; i++ {
			row := out.Data[i*x.Cols : (i+1)*x.Cols]
			grow := out.Grad[i*x.Cols : (i+1)*x.Cols]
			gsum := floats.Sum(grow)
			for j := range row {
				p := math.Exp(row[j])
				x.Grad[i*x.Cols+j] += grow[j] - p*gsum
			}
		}
	}, x)
}

// CrossEntropySum returns the summed negative log-likelihood of targets
// under row-wise softmaxes of logits. Rows whose target is negative are
// ignored entirely: they contribute neither loss nor gradient. This is
// the padding-sentinel convention used throughout the parser.
func CrossEntropySum(logits *Tensor, targets []int) *Tensor {
	if len(targets) != logits.Rows {
		panic("tensor: target length mismatch")
	}
	var total float64
	logp := make([]float64, logits.Cols)
	for i, tgt := range targets {
		if tgt < 0 {
			continue
		}
		logSoftmaxRow(logp, logits.Data[i*logits.Cols:(i+1)*logits.Cols])
		total -= logp[tgt]
	}
	return result(1, 1, []float64{total}, func(out *Tensor) {
		if !logits.requiresGrad {
			return
		}
		g := out.Grad[0]
		for i, tgt := range targets {
			if tgt < 0 {
				continue
			}
			logSoftmaxRow(logp, logits.Data[i*logits.Cols:(i+1)*logits.Cols])
			for j := range logp {
				p := math.Exp(logp[j])
				if j == tgt {
					p -= 1
				}
				logits.Grad[i*logits.Cols+j] += g * p
			}
		}
	}, logits)
}
