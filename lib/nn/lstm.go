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
	"math"
	"math/rand"

	"github.com/lexatic/arcparse/lib/tensor"
)

// Recurrent is a stack of recurrent layers over flattened padded
// batches. Implementations must guarantee that padded positions never
// influence the vectors computed for valid positions.
type Recurrent interface {
	Module
	Forward(rng *rand.Rand, x *tensor.Tensor, lens []int, maxLen int, train bool) *tensor.Tensor
	NumLayers() int
	// LayerParameters returns the parameters of one recurrent layer,
	// topmost layers last. The trainer thaws layers through this.
	LayerParameters(layer int) []*tensor.Tensor
	OutputDim() int
}

// LSTMCell holds the weights of a single-direction LSTM with learned
// initial states.
type LSTMCell struct {
	In, Hidden int

	Wxi, Whi, Wxf, Whf, Wxg, Whg, Wxo, Who *tensor.Tensor
	Bi, Bf, Bg, Bo                         *tensor.Tensor
	H0, C0                                 *tensor.Tensor
}

// cellWeights are the recurrent matrices actually used for one forward
// run; weight drop substitutes masked copies here.
type cellWeights struct {
	whi, whf, whg, who *tensor.Tensor
}

// NewLSTMCell creates a cell with He-initialized weights.
func NewLSTMCell(rng *rand.Rand, in, hidden int) *LSTMCell {
	w := func(r, c int) *tensor.Tensor {
		return tensor.Randn(rng, r, c, math.Sqrt(2.0/float64(r)))
	}
	return &LSTMCell{
		In: in, Hidden: hidden,
		Wxi: w(in, hidden), Whi: w(hidden, hidden),
		Wxf: w(in, hidden), Whf: w(hidden, hidden),
		Wxg: w(in, hidden), Whg: w(hidden, hidden),
		Wxo: w(in, hidden), Who: w(hidden, hidden),
		Bi: tensor.Zeros(1, hidden, true), Bf: tensor.Zeros(1, hidden, true),
		Bg: tensor.Zeros(1, hidden, true), Bo: tensor.Zeros(1, hidden, true),
		H0: tensor.Zeros(1, hidden, true), C0: tensor.Zeros(1, hidden, true),
	}
}

func (c *LSTMCell) weights() cellWeights {
	return cellWeights{whi: c.Whi, whf: c.Whf, whg: c.Whg, who: c.Who}
}

// maskedWeights returns the recurrent matrices with DropConnect applied:
// one mask per matrix, sampled once and reused for every timestep.
func (c *LSTMCell) maskedWeights(rng *rand.Rand, p float64) cellWeights {
	mask := func(w *tensor.Tensor) *tensor.Tensor {
		m := make([]float64, len(w.Data))
		for i := range m {
			if rng.Float64() >= p {
				m[i] = 1 / (1 - p)
			}
		}
		return tensor.Mul(w, tensor.New(w.Rows, w.Cols, m, false))
	}
	return cellWeights{whi: mask(c.Whi), whf: mask(c.Whf), whg: mask(c.Whg), who: mask(c.Who)}
}

func (c *LSTMCell) step(x, h, cPrev *tensor.Tensor, w cellWeights) (*tensor.Tensor, *tensor.Tensor) {
	i := tensor.Sigmoid(tensor.AddBias(tensor.Add(tensor.MatMul(x, c.Wxi), tensor.MatMul(h, w.whi)), c.Bi))
	f := tensor.Sigmoid(tensor.AddBias(tensor.Add(tensor.MatMul(x, c.Wxf), tensor.MatMul(h, w.whf)), c.Bf))
	g := tensor.Tanh(tensor.AddBias(tensor.Add(tensor.MatMul(x, c.Wxg), tensor.MatMul(h, w.whg)), c.Bg))
	o := tensor.Sigmoid(tensor.AddBias(tensor.Add(tensor.MatMul(x, c.Wxo), tensor.MatMul(h, w.who)), c.Bo))
	cNext := tensor.Add(tensor.Mul(f, cPrev), tensor.Mul(i, g))
	hNext := tensor.Mul(o, tensor.Tanh(cNext))
	return hNext, cNext
}

// Run unrolls the cell left to right over a flattened B×T batch and
// returns the per-position hidden states in the same layout. Padding is
// a suffix of every sentence, so pad steps can only write into pad rows.
func (c *LSTMCell) Run(x *tensor.Tensor, batch, maxLen int, w cellWeights, rng *rand.Rand, recDropout float64, train bool) *tensor.Tensor {
	ones := tensor.New(batch, 1, onesVec(batch), false)
	h := tensor.MatMul(ones, c.H0)
	cs := tensor.MatMul(ones, c.C0)

	outs := make([]*tensor.Tensor, maxLen)
	idx := make([]int, batch)
	for t := 0; t < maxLen; t++ {
		for b := 0; b < batch; b++ {
			idx[b] = b*maxLen + t
		}
		xt := tensor.Rows(x, idx)
		if recDropout > 0 {
			h = tensor.Dropout(rng, h, recDropout, train)
		}
		h, cs = c.step(xt, h, cs, w)
		outs[t] = h
	}
	// Stacked output is time-major; permute back to (sentence, position).
	stacked := tensor.ConcatRows(outs...)
	perm := make([]int, batch*maxLen)
	for b := 0; b < batch; b++ {
		for t := 0; t < maxLen; t++ {
			perm[b*maxLen+t] = t*batch + b
		}
	}
	return tensor.Rows(stacked, perm)
}

// Parameters returns every learnable tensor of the cell.
func (c *LSTMCell) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{
		c.Wxi, c.Whi, c.Wxf, c.Whf, c.Wxg, c.Whg, c.Wxo, c.Who,
		c.Bi, c.Bf, c.Bg, c.Bo, c.H0, c.C0,
	}
}

func onesVec(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// HighwayLSTM is a stack of LSTM layers with a gated residual (highway)
// path from each layer's input to its output. Optionally bidirectional:
// the backward direction runs over the per-length reversed sequence and
// is un-reversed before concatenation.
type HighwayLSTM struct {
	fwd, bwd []*LSTMCell
	gates    []*Linear
	carries  []*Linear

	hidden        int
	bidirectional bool
	dropout       float64
	recDropout    float64
}

// NewHighwayLSTM builds the stack. The first layer consumes in features;
// subsequent layers consume the previous layer's output.
func NewHighwayLSTM(rng *rand.Rand, in, hidden, layers int, bidirectional bool, dropout, recDropout float64) *HighwayLSTM {
	h := &HighwayLSTM{hidden: hidden, bidirectional: bidirectional, dropout: dropout, recDropout: recDropout}
	outDim := hidden
	if bidirectional {
		outDim = 2 * hidden
	}
	layerIn := in
	for l := 0; l < layers; l++ {
		h.fwd = append(h.fwd, NewLSTMCell(rng, layerIn, hidden))
		if bidirectional {
			h.bwd = append(h.bwd, NewLSTMCell(rng, layerIn, hidden))
		}
		h.gates = append(h.gates, NewLinear(rng, layerIn, outDim, true))
		h.carries = append(h.carries, NewLinear(rng, layerIn, outDim, true))
		layerIn = outDim
	}
	return h
}

// Forward runs the stack and zeroes padded positions in the output.
func (h *HighwayLSTM) Forward(rng *rand.Rand, x *tensor.Tensor, lens []int, maxLen int, train bool) *tensor.Tensor {
	batch := len(lens)
	input := x
	for l := range h.fwd {
		if l > 0 {
			input = tensor.Dropout(rng, input, h.dropout, train)
		}
		out := h.fwd[l].Run(input, batch, maxLen, h.fwd[l].weights(), rng, h.recDropout, train)
		if h.bidirectional {
			rev := ReverseByLength(input, lens, maxLen)
			back := h.bwd[l].Run(rev, batch, maxLen, h.bwd[l].weights(), rng, h.recDropout, train)
			out = tensor.Concat(out, ReverseByLength(back, lens, maxLen))
		}
		gate := tensor.Sigmoid(h.gates[l].Forward(input))
		out = tensor.Add(out, tensor.Mul(gate, tensor.Tanh(h.carries[l].Forward(input))))
		input = out
	}
	return tensor.ScaleRows(input, PadKeep(lens, maxLen))
}

// NumLayers returns the stack depth.
func (h *HighwayLSTM) NumLayers() int { return len(h.fwd) }

// OutputDim returns the per-position output width.
func (h *HighwayLSTM) OutputDim() int {
	if h.bidirectional {
		return 2 * h.hidden
	}
	return h.hidden
}

// LayerParameters returns the parameters of one layer, both directions.
func (h *HighwayLSTM) LayerParameters(layer int) []*tensor.Tensor {
	params := h.fwd[layer].Parameters()
	if h.bidirectional {
		params = append(params, h.bwd[layer].Parameters()...)
	}
	params = append(params, h.gates[layer].Parameters()...)
	params = append(params, h.carries[layer].Parameters()...)
	return params
}

// Parameters returns every learnable tensor in the stack.
func (h *HighwayLSTM) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for l := range h.fwd {
		params = append(params, h.LayerParameters(l)...)
	}
	return params
}

// WeightDropLSTM is a unidirectional stack applying DropConnect to the
// recurrent weight matrices, one mask per forward run.
type WeightDropLSTM struct {
	cells      []*LSTMCell
	dropout    float64
	weightDrop float64
	hidden     int
}

// NewWeightDropLSTM builds the stack.
func NewWeightDropLSTM(rng *rand.Rand, in, hidden, layers int, dropout, weightDrop float64) *WeightDropLSTM {
	w := &WeightDropLSTM{dropout: dropout, weightDrop: weightDrop, hidden: hidden}
	layerIn := in
	for l := 0; l < layers; l++ {
		w.cells = append(w.cells, NewLSTMCell(rng, layerIn, hidden))
		layerIn = hidden
	}
	return w
}

// Forward runs the stack and zeroes padded positions in the output.
func (w *WeightDropLSTM) Forward(rng *rand.Rand, x *tensor.Tensor, lens []int, maxLen int, train bool) *tensor.Tensor {
	batch := len(lens)
	input := x
	for l, cell := range w.cells {
		if l > 0 {
			input = tensor.Dropout(rng, input, w.dropout, train)
		}
		cw := cell.weights()
		if train && w.weightDrop > 0 {
			cw = cell.maskedWeights(rng, w.weightDrop)
		}
		input = cell.Run(input, batch, maxLen, cw, rng, 0, train)
	}
	return tensor.ScaleRows(input, PadKeep(lens, maxLen))
}

// NumLayers returns the stack depth.
func (w *WeightDropLSTM) NumLayers() int { return len(w.cells) }

// OutputDim returns the per-position output width.
func (w *WeightDropLSTM) OutputDim() int { return w.hidden }

// LayerParameters returns the parameters of one layer.
func (w *WeightDropLSTM) LayerParameters(layer int) []*tensor.Tensor {
	return w.cells[layer].Parameters()
}

// Parameters returns every learnable tensor in the stack.
func (w *WeightDropLSTM) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, c := range w.cells {
		params = append(params, c.Parameters()...)
	}
	return params
}
