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

// Package arcparse implements a graph-based neural dependency parser:
// a deep biaffine attention model over a recurrent contextualizer, with
// auxiliary linearization and distance scorers biasing the arc scores.
package arcparse

import (
	"fmt"
	"math/rand"

	"github.com/lexatic/arcparse/lib/data"
	"github.com/lexatic/arcparse/lib/nn"
	"github.com/lexatic/arcparse/lib/pretrain"
	"github.com/lexatic/arcparse/lib/tensor"
	"github.com/lexatic/arcparse/lib/vocab"
)

// Parser scores head attachments and relation labels for every token
// of a sentence. Lexical features are fused into one vector per token,
// contextualized by a recurrent stack, and scored pairwise.
type Parser struct {
	cfg    Config
	vocabs *vocab.Set
	rng    *rand.Rand

	wordEmb  *nn.Embedding
	lemmaEmb *nn.Embedding
	uposEmb  *nn.Embedding
	xposEmb  []*nn.Embedding // one per composite slot
	featsEmb []*nn.Embedding

	charModel *nn.CharEncoder
	transChar *nn.Linear

	pretrained *tensor.Tensor // frozen lookup table, never saved
	transPre   *nn.Linear

	wordDrop *nn.WordDropout

	// bwd is nil for the bidirectional stack; the two-stack variants
	// run bwd over the length-reversed input and concatenate.
	fwd nn.Recurrent
	bwd nn.Recurrent

	arc  nn.PairScorer
	rel  nn.PairScorer
	lin  nn.PairScorer
	dist nn.PairScorer

	inputDim int
	ctxDim   int
}

// NewParser builds a parser over the given vocabularies. pre may be nil
// when pretrained vectors are disabled in cfg.
func NewParser(cfg Config, vocabs *vocab.Set, pre *pretrain.Embeddings) (*Parser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UsePretrained && pre == nil {
		return nil, fmt.Errorf("arcparse: pretrained vectors enabled but none supplied")
	}

	p := &Parser{cfg: cfg, vocabs: vocabs, rng: rand.New(rand.NewSource(cfg.Seed))}

	if cfg.UsePretrained {
		p.pretrained = tensor.New(pre.Rows(), pre.Dim, pre.Vecs, false)
		p.transPre = nn.NewLinear(p.rng, pre.Dim, cfg.TransformedDim, false)
		p.inputDim += cfg.TransformedDim
	}
	if cfg.WordEmbDim > 0 {
		p.wordEmb = nn.NewEmbedding(p.rng, vocabs.Word.Len(), cfg.WordEmbDim)
		p.inputDim += cfg.WordEmbDim
	}
	if cfg.LemmaEmbDim > 0 {
		p.lemmaEmb = nn.NewEmbedding(p.rng, vocabs.Lemma.Len(), cfg.LemmaEmbDim)
		p.inputDim += cfg.LemmaEmbDim
	}
	if cfg.TagEmbDim > 0 {
		p.uposEmb = nn.NewEmbedding(p.rng, vocabs.UPOS.Len(), cfg.TagEmbDim)
		for _, sub := range vocabs.XPOS.Subs {
			p.xposEmb = append(p.xposEmb, nn.NewEmbedding(p.rng, sub.Len(), cfg.TagEmbDim))
		}
		for _, sub := range vocabs.Feats.Subs {
			p.featsEmb = append(p.featsEmb, nn.NewEmbedding(p.rng, sub.Len(), cfg.TagEmbDim))
		}
		p.inputDim += 2 * cfg.TagEmbDim
	}
	if cfg.UseChar && cfg.CharEmbDim > 0 {
		p.charModel = nn.NewCharEncoder(p.rng, vocabs.Char.Len(), cfg.CharEmbDim, cfg.CharHiddenDim)
		p.transChar = nn.NewLinear(p.rng, cfg.CharHiddenDim, cfg.TransformedDim, false)
		p.inputDim += cfg.TransformedDim
	}

	p.wordDrop = nn.NewWordDropout(p.rng, cfg.WordDropout, p.inputDim)

	switch cfg.LSTMType {
	case LSTMTypeBiHighway:
		p.fwd = nn.NewHighwayLSTM(p.rng, p.inputDim, cfg.HiddenDim, cfg.NumLayers, true, cfg.Dropout, cfg.RecDropout)
	case LSTMTypeHighway:
		p.fwd = nn.NewHighwayLSTM(p.rng, p.inputDim, cfg.HiddenDim, cfg.NumLayers, false, cfg.Dropout, cfg.RecDropout)
		p.bwd = nn.NewHighwayLSTM(p.rng, p.inputDim, cfg.HiddenDim, cfg.NumLayers, false, cfg.Dropout, cfg.RecDropout)
	case LSTMTypeWeightDrop:
		p.fwd = nn.NewWeightDropLSTM(p.rng, p.inputDim, cfg.HiddenDim, cfg.NumLayers, cfg.Dropout, cfg.RecDropout)
		p.bwd = nn.NewWeightDropLSTM(p.rng, p.inputDim, cfg.HiddenDim, cfg.NumLayers, cfg.Dropout, cfg.RecDropout)
	}
	p.ctxDim = p.fwd.OutputDim()
	if p.bwd != nil {
		p.ctxDim += p.bwd.OutputDim()
	}

	scorer := func(out int) nn.PairScorer {
		if cfg.Scorer == ScorerMLP {
			return nn.NewMLPScorer(p.rng, p.ctxDim, p.ctxDim, cfg.DeepBiaffHiddenDim, out, cfg.Dropout)
		}
		return nn.NewDeepBiaffine(p.rng, p.ctxDim, p.ctxDim, cfg.DeepBiaffHiddenDim, out, cfg.Dropout)
	}
	p.arc = scorer(1)
	if cfg.DeprelLoss {
		p.rel = scorer(vocabs.Deprel.Len())
	}
	if cfg.Linearization {
		p.lin = scorer(1)
	}
	if cfg.Distance {
		p.dist = scorer(1)
	}

	return p, nil
}

// Config returns the configuration the parser was built with.
func (p *Parser) Config() Config { return p.cfg }

// Vocabs returns the vocabularies the parser indexes with.
func (p *Parser) Vocabs() *vocab.Set { return p.vocabs }

// InputDim returns the fused per-token feature width.
func (p *Parser) InputDim() int { return p.inputDim }

// ContextDim returns the per-token contextual vector width.
func (p *Parser) ContextDim() int { return p.ctxDim }

func flatten(rows [][]int, maxLen int) []int {
	flat := make([]int, len(rows)*maxLen)
	for i, r := range rows {
		copy(flat[i*maxLen:], r)
	}
	return flat
}

// flattenSlot extracts one composite slot across the whole batch.
func flattenSlot(rows [][][]int, maxLen, slot int) []int {
	flat := make([]int, len(rows)*maxLen)
	for i, r := range rows {
		for j, ids := range r {
			if slot < len(ids) {
				flat[i*maxLen+j] = ids[slot]
			}
		}
	}
	return flat
}

// encode fuses all feature sources into a (B·T)×inputDim tensor with
// word dropout and elementwise dropout applied.
func (p *Parser) encode(batch *data.Batch, train bool) *tensor.Tensor {
	n := batch.Size * batch.MaxLen
	var parts []*tensor.Tensor

	if p.transPre != nil {
		ids := flatten(batch.Pretrained, batch.MaxLen)
		parts = append(parts, p.transPre.Forward(tensor.Rows(p.pretrained, ids)))
	}
	if p.wordEmb != nil {
		parts = append(parts, p.wordEmb.Forward(flatten(batch.Words, batch.MaxLen)))
	}
	if p.lemmaEmb != nil {
		parts = append(parts, p.lemmaEmb.Forward(flatten(batch.Lemmas, batch.MaxLen)))
	}
	if p.uposEmb != nil {
		pos := p.uposEmb.Forward(flatten(batch.UPOS, batch.MaxLen))
		for s, emb := range p.xposEmb {
			pos = tensor.Add(pos, emb.Forward(flattenSlot(batch.XPOS, batch.MaxLen, s)))
		}
		feats := tensor.Zeros(n, p.cfg.TagEmbDim, false)
		for s, emb := range p.featsEmb {
			feats = tensor.Add(feats, emb.Forward(flattenSlot(batch.Feats, batch.MaxLen, s)))
		}
		parts = append(parts, pos, feats)
	}
	if p.charModel != nil {
		words := make([][]int, n)
		for i, sent := range batch.Chars {
			for j, w := range sent {
				words[i*batch.MaxLen+j] = w
			}
		}
		reps := p.charModel.Forward(p.rng, words, train)
		parts = append(parts, p.transChar.Forward(tensor.Dropout(p.rng, reps, p.cfg.Dropout, train)))
	}

	fused := parts[0]
	if len(parts) > 1 {
		fused = tensor.Concat(parts...)
	}
	fused = p.wordDrop.Forward(p.rng, fused, train)
	return tensor.Dropout(p.rng, fused, p.cfg.Dropout, train)
}

// contextualize runs the recurrent stack(s) over the fused features.
func (p *Parser) contextualize(x *tensor.Tensor, lens []int, maxLen int, train bool) *tensor.Tensor {
	if p.bwd == nil {
		return p.fwd.Forward(p.rng, x, lens, maxLen, train)
	}
	fwd := p.fwd.Forward(p.rng, x, lens, maxLen, train)
	rev := nn.ReverseByLength(x, lens, maxLen)
	bwd := p.bwd.Forward(p.rng, rev, lens, maxLen, train)
	return tensor.Concat(fwd, nn.ReverseByLength(bwd, lens, maxLen))
}

// sentenceScores holds all pairwise scores of one sentence. Flattened
// (T·T)-row tensors index pairs as dep·T+head.
type sentenceScores struct {
	arc     *tensor.Tensor // T×T, dependents on rows; diagonal masked
	rel     *tensor.Tensor // (T·T)×L, nil when label scoring is off
	linRaw  *tensor.Tensor // (T·T)×1 raw direction scores
	distKLD *tensor.Tensor // (T·T)×1 distance log-penalty, not detached
}

// scoreSentence computes arc scores for one sentence of true length T,
// injecting the detached linearization and distance terms and masking
// self-attachment.
func (p *Parser) scoreSentence(sent *tensor.Tensor, train bool) sentenceScores {
	t := sent.Rows
	drop := func() *tensor.Tensor {
		return tensor.Dropout(p.rng, sent, p.cfg.Dropout, train)
	}

	var ss sentenceScores
	arcFlat := p.arc.Score(p.rng, drop(), drop(), train)
	if p.rel != nil {
		ss.rel = p.rel.Score(p.rng, drop(), drop(), train)
	}

	var offSign, offAbs *tensor.Tensor
	if p.lin != nil || p.dist != nil {
		sign := make([]float64, t*t)
		abs := make([]float64, t*t)
		for dep := 0; dep < t; dep++ {
			for head := 0; head < t; head++ {
				off := head - dep
				abs[dep*t+head] = float64(off)
				if off > 0 {
					sign[dep*t+head] = 1
				} else if off < 0 {
					sign[dep*t+head] = -1
					abs[dep*t+head] = float64(-off)
				}
			}
		}
		offSign = tensor.New(t*t, 1, sign, false)
		offAbs = tensor.New(t*t, 1, abs, false)
	}

	if p.lin != nil {
		ss.linRaw = p.lin.Score(p.rng, drop(), drop(), train)
		bias := tensor.LogSigmoid(tensor.Mul(ss.linRaw, offSign))
		arcFlat = tensor.Add(arcFlat, tensor.Detach(bias))
	}
	if p.dist != nil {
		raw := p.dist.Score(p.rng, drop(), drop(), train)
		pred := tensor.AddConst(tensor.Softplus(raw), 1)
		diff := tensor.Sub(offAbs, pred)
		ss.distKLD = tensor.Scale(tensor.Log(tensor.AddConst(tensor.Scale(tensor.Mul(diff, diff), 0.5), 1)), -1)
		arcFlat = tensor.Add(arcFlat, tensor.Detach(ss.distKLD))
	}

	diag := make([]bool, t*t)
	for i := 0; i < t; i++ {
		diag[i*t+i] = true
	}
	ss.arc = tensor.MaskFill(tensor.Reshape(arcFlat, t, t), diag, tensor.NegInf)
	return ss
}

// sentenceRows extracts sentence b's true-length rows from the
// flattened batch tensor.
func sentenceRows(ctx *tensor.Tensor, b, maxLen, t int) *tensor.Tensor {
	idx := make([]int, t)
	for i := range idx {
		idx[i] = b*maxLen + i
	}
	return tensor.Rows(ctx, idx)
}

// Loss runs the training forward pass over one batch and returns the
// summed attachment loss normalized by the number of real tokens. The
// loss adds, per sentence: head-selection cross entropy over dependents
// (root excluded as dependent), teacher-forced label cross entropy at
// the gold head, the two-way direction loss of the linearization
// scorer, and the negated distance penalty at the gold head. Gold heads
// carrying the ignore sentinel contribute nothing.
func (p *Parser) Loss(batch *data.Batch) *tensor.Tensor {
	ctx := p.contextualize(p.encode(batch, true), batch.Lens, batch.MaxLen, true)

	total := tensor.Zeros(1, 1, false)
	for b := 0; b < batch.Size; b++ {
		t := batch.Lens[b]
		if t < 2 {
			continue
		}
		ss := p.scoreSentence(sentenceRows(ctx, b, batch.MaxLen, t), true)
		heads := batch.Heads[b][:t-1]

		// Head selection: drop the root row, one softmax per dependent.
		depIdx := make([]int, t-1)
		gather := make([]int, t-1)
		for i := 1; i < t; i++ {
			depIdx[i-1] = i
			g := heads[i-1]
			if g < 0 {
				g = 0 // ignored below via the target sentinel
			}
			gather[i-1] = i*t + g
		}
		total = tensor.Add(total, tensor.CrossEntropySum(tensor.Rows(ss.arc, depIdx), heads))

		if ss.rel != nil {
			rels := make([]int, t-1)
			for i, g := range heads {
				if g < 0 {
					rels[i] = data.HeadIgnore
				} else {
					rels[i] = batch.Deprels[b][i]
				}
			}
			total = tensor.Add(total, tensor.CrossEntropySum(tensor.Rows(ss.rel, gather), rels))
		}
		if ss.linRaw != nil {
			s := tensor.Rows(ss.linRaw, gather)
			logits := tensor.Concat(tensor.Scale(s, -0.5), tensor.Scale(s, 0.5))
			targets := make([]int, t-1)
			for i := 1; i < t; i++ {
				switch g := heads[i-1]; {
				case g < 0:
					targets[i-1] = data.HeadIgnore
				case g > i:
					targets[i-1] = 1
				}
			}
			total = tensor.Add(total, tensor.CrossEntropySum(logits, targets))
		}
		if ss.distKLD != nil {
			keep := make([]float64, t-1)
			for i := range heads {
				if heads[i] >= 0 {
					keep[i] = 1
				}
			}
			kld := tensor.ScaleRows(tensor.Rows(ss.distKLD, gather), keep)
			total = tensor.Add(total, tensor.Scale(tensor.SumAll(kld), -1))
		}
	}

	n := batch.Tokens()
	if n == 0 {
		return total
	}
	return tensor.Scale(total, 1/float64(n))
}

// Prediction is the parser output for one sentence: one head position
// and relation label per dependent (position 0 is the artificial root,
// head 0 means attachment to it), plus the full log-probability
// distribution over candidate heads for downstream tree decoders.
type Prediction struct {
	Heads        []int
	Deprels      []string
	HeadLogProbs [][]float64
}

// Predict runs inference over one batch. Results follow batch sentence
// order; use the batch's OrigIdx to restore document order. When label
// scoring is disabled every label degrades to the unannotated marker.
func (p *Parser) Predict(batch *data.Batch) []Prediction {
	ctx := p.contextualize(p.encode(batch, false), batch.Lens, batch.MaxLen, false)

	preds := make([]Prediction, batch.Size)
	for b := 0; b < batch.Size; b++ {
		t := batch.Lens[b]
		if t < 2 {
			continue
		}
		ss := p.scoreSentence(sentenceRows(ctx, b, batch.MaxLen, t), false)
		logProbs := tensor.LogSoftmaxRows(ss.arc)

		pr := Prediction{
			Heads:        make([]int, t-1),
			Deprels:      make([]string, t-1),
			HeadLogProbs: make([][]float64, t),
		}
		for i := 0; i < t; i++ {
			row := make([]float64, t)
			copy(row, logProbs.Data[i*t:(i+1)*t])
			pr.HeadLogProbs[i] = row
		}
		for i := 1; i < t; i++ {
			best := 0
			for j := 1; j < t; j++ {
				if logProbs.At(i, j) > logProbs.At(i, best) {
					best = j
				}
			}
			pr.Heads[i-1] = best
			if ss.rel == nil {
				pr.Deprels[i-1] = "_"
				continue
			}
			r := i*t + best
			label := 0
			for l := 1; l < ss.rel.Cols; l++ {
				if ss.rel.At(r, l) > ss.rel.At(r, label) {
					label = l
				}
			}
			pr.Deprels[i-1] = p.vocabs.Deprel.Item(label)
		}
		preds[b] = pr
	}
	return preds
}

// NamedParam pairs a learnable tensor with a stable name used for
// checkpoint serialization.
type NamedParam struct {
	Name string
	T    *tensor.Tensor
}

// NamedParameters returns every learnable tensor with a stable name.
// The frozen pretrained table is excluded. Order is deterministic for
// a given configuration.
func (p *Parser) NamedParameters() []NamedParam {
	var out []NamedParam
	add := func(prefix string, ts []*tensor.Tensor) {
		for i, t := range ts {
			out = append(out, NamedParam{Name: fmt.Sprintf("%s.%d", prefix, i), T: t})
		}
	}

	if p.wordEmb != nil {
		add("word_emb", p.wordEmb.Parameters())
	}
	if p.lemmaEmb != nil {
		add("lemma_emb", p.lemmaEmb.Parameters())
	}
	if p.uposEmb != nil {
		add("upos_emb", p.uposEmb.Parameters())
		for s, emb := range p.xposEmb {
			add(fmt.Sprintf("xpos_emb.%d", s), emb.Parameters())
		}
		for s, emb := range p.featsEmb {
			add(fmt.Sprintf("feats_emb.%d", s), emb.Parameters())
		}
	}
	if p.charModel != nil {
		add("char_model", p.charModel.Parameters())
		add("trans_char", p.transChar.Parameters())
	}
	if p.transPre != nil {
		add("trans_pretrained", p.transPre.Parameters())
	}
	add("word_dropout", p.wordDrop.Parameters())
	add("rnn_fwd", p.fwd.Parameters())
	if p.bwd != nil {
		add("rnn_bwd", p.bwd.Parameters())
	}
	add("arc", p.arc.Parameters())
	if p.rel != nil {
		add("rel", p.rel.Parameters())
	}
	if p.lin != nil {
		add("lin", p.lin.Parameters())
	}
	if p.dist != nil {
		add("dist", p.dist.Parameters())
	}
	return out
}

// Parameters returns every learnable tensor.
func (p *Parser) Parameters() []*tensor.Tensor {
	named := p.NamedParameters()
	out := make([]*tensor.Tensor, len(named))
	for i, np := range named {
		out[i] = np.T
	}
	return out
}

// NumContextLayers returns the depth of the recurrent stack.
func (p *Parser) NumContextLayers() int { return p.fwd.NumLayers() }

// ContextLayerParams returns the parameters of one recurrent layer
// across both stacks.
func (p *Parser) ContextLayerParams(layer int) []*tensor.Tensor {
	params := p.fwd.LayerParameters(layer)
	if p.bwd != nil {
		params = append(params, p.bwd.LayerParameters(layer)...)
	}
	return params
}

// FreezeContext marks every recurrent-stack parameter as not trainable.
// The trainer thaws layers back one at a time.
func (p *Parser) FreezeContext() {
	for l := 0; l < p.NumContextLayers(); l++ {
		for _, t := range p.ContextLayerParams(l) {
			t.SetRequiresGrad(false)
		}
	}
}

// ThawContextLayer re-enables training for one recurrent layer.
func (p *Parser) ThawContextLayer(layer int) {
	for _, t := range p.ContextLayerParams(layer) {
		t.SetRequiresGrad(true)
	}
}
