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

// Package conllu reads and writes ten-column CoNLL-U treebank files.
// Comment lines and multi-word token ranges are passed through verbatim
// on write but are not part of the token sequence.
package conllu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const numFields = 10

// Token is one syntactic word of a sentence.
type Token struct {
	ID     int
	Form   string
	Lemma  string
	UPOS   string
	XPOS   string
	Feats  string
	Head   int // 0 is the artificial root
	Deprel string
	Deps   string
	Misc   string
}

// Sentence is an ordered token sequence plus the verbatim non-token
// lines (comments, multi-word ranges) needed to reproduce the file.
type Sentence struct {
	Tokens []Token
	Extra  []extraLine
}

type extraLine struct {
	before int // index of the token line this precedes
	text   string
}

// Document is a parsed treebank file.
type Document struct {
	Sentences []Sentence
}

// Read parses a CoNLL-U document from r.
func Read(r io.Reader) (*Document, error) {
	doc := &Document{}
	var cur Sentence
	lineNo := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			if len(cur.Tokens) > 0 {
				doc.Sentences = append(doc.Sentences, cur)
				cur = Sentence{}
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			cur.Extra = append(cur.Extra, extraLine{before: len(cur.Tokens), text: line})
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != numFields {
			return nil, fmt.Errorf("conllu: line %d: got %d fields, want %d", lineNo, len(fields), numFields)
		}
		if strings.ContainsAny(fields[0], "-.") {
			// Multi-word range or empty node; not a syntactic word.
			cur.Extra = append(cur.Extra, extraLine{before: len(cur.Tokens), text: line})
			continue
		}

		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("conllu: line %d: bad token id %q: %w", lineNo, fields[0], err)
		}
		head := -1
		if fields[6] != "_" {
			head, err = strconv.Atoi(fields[6])
			if err != nil {
				return nil, fmt.Errorf("conllu: line %d: bad head %q: %w", lineNo, fields[6], err)
			}
		}
		cur.Tokens = append(cur.Tokens, Token{
			ID: id, Form: fields[1], Lemma: fields[2], UPOS: fields[3], XPOS: fields[4],
			Feats: fields[5], Head: head, Deprel: fields[7], Deps: fields[8], Misc: fields[9],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("conllu: read: %w", err)
	}
	if len(cur.Tokens) > 0 {
		doc.Sentences = append(doc.Sentences, cur)
	}
	return doc, nil
}

// ReadFile parses the CoNLL-U file at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("conllu: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Write renders the document back to CoNLL-U.
func (d *Document) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, sent := range d.Sentences {
		extra := 0
		for i, tok := range sent.Tokens {
			for extra < len(sent.Extra) && sent.Extra[extra].before <= i {
				fmt.Fprintln(bw, sent.Extra[extra].text)
				extra++
			}
			head := "_"
			if tok.Head >= 0 {
				head = strconv.Itoa(tok.Head)
			}
			fmt.Fprintf(bw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				tok.ID, tok.Form, tok.Lemma, tok.UPOS, tok.XPOS, tok.Feats,
				head, tok.Deprel, tok.Deps, tok.Misc)
		}
		for ; extra < len(sent.Extra); extra++ {
			fmt.Fprintln(bw, sent.Extra[extra].text)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// WriteFile renders the document to the file at path, replacing it.
func (d *Document) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("conllu: create %s: %w", path, err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("conllu: close %s: %w", path, err)
	}
	return nil
}

// SetPredictions writes predicted heads and relation labels back into
// the document. heads and deprels hold one slice per sentence, in the
// document's own sentence order.
func (d *Document) SetPredictions(heads [][]int, deprels [][]string) error {
	if len(heads) != len(d.Sentences) || len(deprels) != len(d.Sentences) {
		return fmt.Errorf("conllu: predictions for %d sentences, document has %d", len(heads), len(d.Sentences))
	}
	for si := range d.Sentences {
		toks := d.Sentences[si].Tokens
		if len(heads[si]) != len(toks) {
			return fmt.Errorf("conllu: sentence %d: %d head predictions for %d tokens", si, len(heads[si]), len(toks))
		}
		for ti := range toks {
			toks[ti].Head = heads[si][ti]
			toks[ti].Deprel = deprels[si][ti]
		}
	}
	return nil
}
