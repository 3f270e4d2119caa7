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

	"github.com/lexatic/arcparse/lib/tensor"
	"gonum.org/v1/gonum/floats"
)

// ParamGroup is a set of parameters sharing a learning rate. Layer-wise
// unfreezing adds groups with shrunk rates as layers thaw.
type ParamGroup struct {
	Params []*tensor.Tensor
	LR     float64
}

// Adam implements the Adam update rule with optional AMSGrad variant
// and decoupled-from-nothing classic L2 weight decay (added to the raw
// gradient, matching the reference optimizer).
type Adam struct {
	Groups []*ParamGroup

	beta1, beta2 float64
	eps          float64
	weightDecay  float64
	amsgrad      bool

	t    int
	m    map[*tensor.Tensor][]float64
	v    map[*tensor.Tensor][]float64
	vMax map[*tensor.Tensor][]float64
}

// NewAdam creates an optimizer over one initial parameter group.
func NewAdam(params []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64, amsgrad bool) *Adam {
	return &Adam{
		Groups:      []*ParamGroup{{Params: params, LR: lr}},
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		amsgrad:     amsgrad,
		m:           map[*tensor.Tensor][]float64{},
		v:           map[*tensor.Tensor][]float64{},
		vMax:        map[*tensor.Tensor][]float64{},
	}
}

// AMSGrad reports whether the AMSGrad variant is active.
func (a *Adam) AMSGrad() bool { return a.amsgrad }

// AddGroup registers additional parameters under their own rate.
func (a *Adam) AddGroup(params []*tensor.Tensor, lr float64) {
	a.Groups = append(a.Groups, &ParamGroup{Params: params, LR: lr})
}

// Step applies one update to every trainable parameter. Frozen tensors
// (gradient tracking disabled) are skipped without touching their
// moment state.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for _, g := range a.Groups {
		for _, p := range g.Params {
			if !p.RequiresGrad() {
				continue
			}
			m, ok := a.m[p]
			if !ok {
				m = make([]float64, len(p.Data))
				a.m[p] = m
				a.v[p] = make([]float64, len(p.Data))
				if a.amsgrad {
					a.vMax[p] = make([]float64, len(p.Data))
				}
			}
			v := a.v[p]
			for i := range p.Data {
				grad := p.Grad[i]
				if a.weightDecay > 0 {
					grad += a.weightDecay * p.Data[i]
				}
				m[i] = a.beta1*m[i] + (1-a.beta1)*grad
				v[i] = a.beta2*v[i] + (1-a.beta2)*grad*grad
				denom := v[i]
				if a.amsgrad {
					if v[i] > a.vMax[p][i] {
						a.vMax[p][i] = v[i]
					}
					denom = a.vMax[p][i]
				}
				p.Data[i] -= g.LR * (m[i] / bc1) / (math.Sqrt(denom/bc2) + a.eps)
			}
		}
	}
}

// ZeroGrad clears every parameter gradient.
func (a *Adam) ZeroGrad() {
	for _, g := range a.Groups {
		for _, p := range g.Params {
			p.ZeroGrad()
		}
	}
}

// ClipGradNorm rescales all gradients so their global L2 norm does not
// exceed maxNorm, and returns the pre-clip norm.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		if p.RequiresGrad() {
			sq += floats.Dot(p.Grad, p.Grad)
		}
	}
	norm := math.Sqrt(sq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, p := range params {
			if p.RequiresGrad() {
				floats.Scale(scale, p.Grad)
			}
		}
	}
	return norm
}
