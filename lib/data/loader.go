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

// Package data turns documents into padded id batches. Sentences are
// sorted by length and cut into batches under a token budget, which
// keeps padding waste low; each batch remembers the original sentence
// indices so predictions can be written back in document order.
package data

import (
	"math/rand"
	"sort"

	"github.com/lexatic/arcparse/lib/conllu"
	"github.com/lexatic/arcparse/lib/pretrain"
	"github.com/lexatic/arcparse/lib/vocab"
)

// HeadIgnore marks padded dependent positions in gold head and label
// slices; the loss must skip them entirely.
const HeadIgnore = -1

// Batch is one padded group of sentences. All token-indexed slices are
// Size×MaxLen with the artificial root at position 0; Heads and Deprels
// are Size×(MaxLen-1), excluding the root, padded with HeadIgnore.
type Batch struct {
	Size   int
	MaxLen int

	Words      [][]int
	Lemmas     [][]int
	UPOS       [][]int
	XPOS       [][][]int // composite: per token, one id per slot
	Feats      [][][]int
	Pretrained [][]int
	Chars      [][][]int // per token character ids; empty for root/pad

	Heads   [][]int
	Deprels [][]int

	Lens    []int // true lengths including the root token
	Mask    [][]bool
	OrigIdx []int // position in the source document, per sentence
}

// Tokens returns the number of real (non-root, non-padding) tokens.
func (b *Batch) Tokens() int {
	n := 0
	for _, l := range b.Lens {
		n += l - 1
	}
	return n
}

// Loader yields batches over a document and reshuffles between epochs.
type Loader struct {
	doc     *conllu.Document
	vocabs  *vocab.Set
	pre     *pretrain.Embeddings
	batches []*Batch
	rng     *rand.Rand
}

// NewLoader batches doc under a budget of roughly batchTokens tokens
// per batch. pre may be nil when pretrained vectors are disabled. rng
// drives the batch-order shuffle; a nil rng keeps the sorted order
// (evaluation mode).
func NewLoader(doc *conllu.Document, vocabs *vocab.Set, pre *pretrain.Embeddings, batchTokens int, rng *rand.Rand) *Loader {
	l := &Loader{doc: doc, vocabs: vocabs, pre: pre, rng: rng}

	// Length-sorted sentence order; stable under equal lengths so batch
	// composition stays deterministic.
	order := make([]int, len(doc.Sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(doc.Sentences[order[i]].Tokens) < len(doc.Sentences[order[j]].Tokens)
	})

	var group []int
	groupTokens := 0
	flush := func() {
		if len(group) > 0 {
			l.batches = append(l.batches, l.build(group))
			group = nil
			groupTokens = 0
		}
	}
	for _, si := range order {
		n := len(doc.Sentences[si].Tokens) + 1
		if groupTokens+n > batchTokens && len(group) > 0 {
			flush()
		}
		group = append(group, si)
		groupTokens += n
	}
	flush()

	l.Reshuffle()
	return l
}

// Len returns the number of batches; zero is the recognized degenerate
// case for an empty split.
func (l *Loader) Len() int { return len(l.batches) }

// Batch returns batch i under the current shuffle.
func (l *Loader) Batch(i int) *Batch { return l.batches[i] }

// Doc exposes the source document for prediction write-back.
func (l *Loader) Doc() *conllu.Document { return l.doc }

// Reshuffle permutes the batch order in place; called between epochs.
func (l *Loader) Reshuffle() {
	if l.rng == nil {
		return
	}
	l.rng.Shuffle(len(l.batches), func(i, j int) {
		l.batches[i], l.batches[j] = l.batches[j], l.batches[i]
	})
}

// build assembles one padded batch from document sentence indices.
func (l *Loader) build(sentIdx []int) *Batch {
	b := &Batch{Size: len(sentIdx), OrigIdx: append([]int(nil), sentIdx...)}
	for _, si := range sentIdx {
		if n := len(l.doc.Sentences[si].Tokens) + 1; n > b.MaxLen {
			b.MaxLen = n
		}
	}

	v := l.vocabs
	xposSlots := v.XPOS.NumSlots()
	featSlots := v.Feats.NumSlots()

	for _, si := range sentIdx {
		toks := l.doc.Sentences[si].Tokens
		n := len(toks) + 1

		words := make([]int, b.MaxLen)
		lemmas := make([]int, b.MaxLen)
		upos := make([]int, b.MaxLen)
		xpos := make([][]int, b.MaxLen)
		feats := make([][]int, b.MaxLen)
		pre := make([]int, b.MaxLen)
		chars := make([][]int, b.MaxLen)
		mask := make([]bool, b.MaxLen)
		heads := make([]int, b.MaxLen-1)
		deprels := make([]int, b.MaxLen-1)

		words[0] = v.Word.ID(vocab.Root)
		lemmas[0] = v.Lemma.ID(vocab.Root)
		upos[0] = v.UPOS.ID(vocab.Root)
		xpos[0] = make([]int, xposSlots)
		feats[0] = make([]int, featSlots)

		for t := 1; t < b.MaxLen; t++ {
			if t < n {
				tok := toks[t-1]
				words[t] = v.Word.ID(tok.Form)
				lemmas[t] = v.Lemma.ID(tok.Lemma)
				upos[t] = v.UPOS.ID(tok.UPOS)
				xpos[t] = v.XPOS.IDs(tok.XPOS)
				feats[t] = v.Feats.IDs(tok.Feats)
				if l.pre != nil {
					pre[t] = l.pre.ID(tok.Form)
				}
				ids := make([]int, 0, len(tok.Form))
				for _, r := range tok.Form {
					ids = append(ids, v.Char.ID(string(r)))
				}
				chars[t] = ids
				heads[t-1] = tok.Head
				deprels[t-1] = v.Deprel.ID(tok.Deprel)
			} else {
				xpos[t] = make([]int, xposSlots)
				feats[t] = make([]int, featSlots)
				mask[t] = true
				heads[t-1] = HeadIgnore
				deprels[t-1] = HeadIgnore
			}
		}

		b.Words = append(b.Words, words)
		b.Lemmas = append(b.Lemmas, lemmas)
		b.UPOS = append(b.UPOS, upos)
		b.XPOS = append(b.XPOS, xpos)
		b.Feats = append(b.Feats, feats)
		b.Pretrained = append(b.Pretrained, pre)
		b.Chars = append(b.Chars, chars)
		b.Mask = append(b.Mask, mask)
		b.Heads = append(b.Heads, heads)
		b.Deprels = append(b.Deprels, deprels)
		b.Lens = append(b.Lens, n)
	}
	return b
}
