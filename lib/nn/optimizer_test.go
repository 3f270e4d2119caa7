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
	"testing"

	"github.com/lexatic/arcparse/lib/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadGrad fills p.Grad with the gradient of 0.5*sum(p^2), whose
// minimum is the origin.
func quadGrad(p *tensor.Tensor) {
	p.ZeroGrad()
	copy(p.Grad, p.Data)
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	p := tensor.New(1, 2, []float64{3.0, -2.0}, true)
	opt := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0, false)

	for i := 0; i < 500; i++ {
		quadGrad(p)
		opt.Step()
	}
	assert.InDelta(t, 0, p.Data[0], 1e-2)
	assert.InDelta(t, 0, p.Data[1], 1e-2)
}

func TestAdamFirstStepMagnitude(t *testing.T) {
	// With bias correction the very first update moves each weight by
	// roughly lr, regardless of gradient scale.
	p := tensor.New(1, 2, []float64{1.0, -4.0}, true)
	opt := NewAdam([]*tensor.Tensor{p}, 0.05, 0.9, 0.999, 1e-8, 0, false)

	quadGrad(p)
	opt.Step()
	assert.InDelta(t, 1.0-0.05, p.Data[0], 1e-6)
	assert.InDelta(t, -4.0+0.05, p.Data[1], 1e-6)
}

func TestAdamSkipsFrozenParams(t *testing.T) {
	live := tensor.New(1, 1, []float64{1}, true)
	frozen := tensor.New(1, 1, []float64{1}, true)
	frozen.SetRequiresGrad(false)

	opt := NewAdam([]*tensor.Tensor{live, frozen}, 0.1, 0.9, 0.999, 1e-8, 0, false)
	quadGrad(live)
	opt.Step()

	assert.NotEqual(t, 1.0, live.Data[0])
	assert.Equal(t, 1.0, frozen.Data[0])
}

func TestAdamWeightDecayPullsTowardZero(t *testing.T) {
	// Zero gradient, nonzero weight: only decay moves the parameter.
	p := tensor.New(1, 1, []float64{2}, true)
	opt := NewAdam([]*tensor.Tensor{p}, 0.01, 0.9, 0.999, 1e-8, 0.1, false)

	p.ZeroGrad()
	opt.Step()
	assert.Less(t, p.Data[0], 2.0)
	assert.Greater(t, p.Data[0], 0.0)
}

func TestAdamGroups(t *testing.T) {
	base := tensor.New(1, 1, []float64{1}, true)
	thawed := tensor.New(1, 1, []float64{1}, true)

	opt := NewAdam([]*tensor.Tensor{base}, 0.1, 0.9, 0.999, 1e-8, 0, false)
	opt.AddGroup([]*tensor.Tensor{thawed}, 0.01)
	require.Len(t, opt.Groups, 2)
	assert.Equal(t, 0.01, opt.Groups[1].LR)

	quadGrad(base)
	quadGrad(thawed)
	opt.Step()

	// Same gradient, ten-times-smaller rate, ten-times-smaller move.
	baseMove := 1.0 - base.Data[0]
	thawedMove := 1.0 - thawed.Data[0]
	assert.InDelta(t, baseMove/10, thawedMove, 1e-9)
}

func TestAMSGradKeepsMaxSecondMoment(t *testing.T) {
	run := func(amsgrad bool) float64 {
		p := tensor.New(1, 1, []float64{0}, true)
		opt := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0, amsgrad)
		require.Equal(t, amsgrad, opt.AMSGrad())

		// A burst of large gradients, then a long stretch of small
		// ones. Plain Adam lets v decay and speeds back up; AMSGrad
		// pins the denominator at its maximum.
		for i := 0; i < 10; i++ {
			p.ZeroGrad()
			p.Grad[0] = 100
			opt.Step()
		}
		start := p.Data[0]
		for i := 0; i < 200; i++ {
			p.ZeroGrad()
			p.Grad[0] = 0.1
			opt.Step()
		}
		return math.Abs(p.Data[0] - start)
	}

	assert.Less(t, run(true), run(false))
}

func TestZeroGrad(t *testing.T) {
	p := tensor.New(1, 2, []float64{1, 2}, true)
	opt := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0, false)

	p.Grad[0], p.Grad[1] = 5, -5
	opt.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad)
}

func TestClipGradNorm(t *testing.T) {
	p := tensor.New(1, 2, []float64{0, 0}, true)
	p.Grad[0], p.Grad[1] = 3, 4 // norm 5

	norm := ClipGradNorm([]*tensor.Tensor{p}, 1.0)
	assert.InDelta(t, 5.0, norm, 1e-9)

	clipped := math.Hypot(p.Grad[0], p.Grad[1])
	assert.InDelta(t, 1.0, clipped, 1e-5)

	// Under the cap nothing is scaled.
	p.Grad[0], p.Grad[1] = 0.3, 0.4
	norm = ClipGradNorm([]*tensor.Tensor{p}, 1.0)
	assert.InDelta(t, 0.5, norm, 1e-9)
	assert.InDelta(t, 0.3, p.Grad[0], 1e-12)
}
