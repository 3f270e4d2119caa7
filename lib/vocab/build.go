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

package vocab

import "github.com/lexatic/arcparse/lib/conllu"

// Root is the surface form of the artificial root token prepended to
// every sentence.
const Root = "<ROOT>"

// Set bundles the six id mappings the parser consumes. XPOS and Feats
// are composite: a plain fine tag degrades to a single-slot bundle.
type Set struct {
	Word   *Vocab
	Lemma  *Vocab
	UPOS   *Vocab
	XPOS   *Composite
	Feats  *Composite
	Deprel *Vocab
	Char   *Vocab
}

// Build constructs all vocabularies from a training document. cutoff is
// the word-frequency threshold; all other categories keep everything.
func Build(doc *conllu.Document, cutoff int) *Set {
	words := map[string]int{Root: cutoff + 1}
	lemmas := map[string]int{Root: 1}
	upos := map[string]int{Root: 1}
	deprels := map[string]int{}
	chars := map[string]int{}
	var xpos, feats []string

	for _, sent := range doc.Sentences {
		for _, tok := range sent.Tokens {
			words[tok.Form]++
			lemmas[tok.Lemma]++
			upos[tok.UPOS]++
			if tok.Deprel != "" && tok.Deprel != "_" {
				deprels[tok.Deprel]++
			}
			for _, r := range tok.Form {
				chars[string(r)]++
			}
			xpos = append(xpos, tok.XPOS)
			feats = append(feats, tok.Feats)
		}
	}

	return &Set{
		Word:   New(words, cutoff),
		Lemma:  New(lemmas, 1),
		UPOS:   New(upos, 1),
		XPOS:   NewComposite(xpos),
		Feats:  NewComposite(feats),
		Deprel: New(deprels, 1),
		Char:   New(chars, 1),
	}
}
