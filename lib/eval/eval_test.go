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

package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lexatic/arcparse/lib/conllu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(parses ...[]conllu.Token) *conllu.Document {
	d := &conllu.Document{}
	for _, toks := range parses {
		d.Sentences = append(d.Sentences, conllu.Sentence{Tokens: toks})
	}
	return d
}

func tok(id, head int, deprel string) conllu.Token {
	return conllu.Token{
		ID: id, Form: "w", Lemma: "w", UPOS: "X", XPOS: "_", Feats: "_",
		Head: head, Deprel: deprel, Deps: "_", Misc: "_",
	}
}

func TestCompare(t *testing.T) {
	gold := doc([]conllu.Token{tok(1, 2, "nsubj"), tok(2, 0, "root"), tok(3, 2, "obj"), tok(4, 2, "punct")})
	system := doc([]conllu.Token{tok(1, 2, "nsubj"), tok(2, 0, "root"), tok(3, 2, "nmod"), tok(4, 3, "punct")})

	scores, err := Compare(system, gold)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, scores.UAS, 1e-12)
	assert.InDelta(t, 0.50, scores.LAS, 1e-12)
}

func TestCompareLabelNeedsHead(t *testing.T) {
	// A correct label on a wrong head scores nothing.
	gold := doc([]conllu.Token{tok(1, 2, "nsubj"), tok(2, 0, "root")})
	system := doc([]conllu.Token{tok(1, 0, "nsubj"), tok(2, 1, "root")})

	scores, err := Compare(system, gold)
	require.NoError(t, err)
	assert.Zero(t, scores.UAS)
	assert.Zero(t, scores.LAS)
}

func TestComparePerfect(t *testing.T) {
	gold := doc(
		[]conllu.Token{tok(1, 0, "root")},
		[]conllu.Token{tok(1, 2, "det"), tok(2, 0, "root")},
	)
	scores, err := Compare(gold, gold)
	require.NoError(t, err)
	assert.Equal(t, Scores{UAS: 1, LAS: 1}, scores)
}

func TestCompareEmpty(t *testing.T) {
	scores, err := Compare(&conllu.Document{}, &conllu.Document{})
	require.NoError(t, err)
	assert.Equal(t, Scores{}, scores)
}

func TestCompareMismatch(t *testing.T) {
	gold := doc([]conllu.Token{tok(1, 0, "root")})

	_, err := Compare(&conllu.Document{}, gold)
	assert.ErrorContains(t, err, "0 system sentences vs 1 gold")

	system := doc([]conllu.Token{tok(1, 0, "root"), tok(2, 1, "obj")})
	_, err = Compare(system, gold)
	assert.ErrorContains(t, err, "2 system tokens vs 1 gold")
}

func TestScoreFiles(t *testing.T) {
	dir := t.TempDir()
	goldFile := filepath.Join(dir, "gold.conllu")
	sysFile := filepath.Join(dir, "system.conllu")

	gold := doc([]conllu.Token{tok(1, 2, "nsubj"), tok(2, 0, "root")})
	system := doc([]conllu.Token{tok(1, 2, "obj"), tok(2, 0, "root")})
	require.NoError(t, gold.WriteFile(goldFile))
	require.NoError(t, system.WriteFile(sysFile))

	scores, err := Score(sysFile, goldFile)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores.UAS, 1e-12)
	assert.InDelta(t, 0.5, scores.LAS, 1e-12)

	_, err = Score(filepath.Join(dir, "missing.conllu"), goldFile)
	assert.Error(t, err)
	_, err = Score(sysFile, string(os.PathSeparator)+"no-such-dir-anywhere/gold.conllu")
	assert.Error(t, err)
}
