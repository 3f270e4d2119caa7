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

package conllu

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# sent_id = dev-1
# text = I haven't slept.
1	I	I	PRON	PRP	Case=Nom	3	nsubj	_	_
2-3	haven't	_	_	_	_	_	_	_	_
2	have	have	AUX	VBP	Mood=Ind	3	aux	_	_
3	slept	sleep	VERB	VBN	Tense=Past	0	root	_	SpaceAfter=No
4	.	.	PUNCT	.	_	3	punct	_	_

# sent_id = dev-2
1	Go	go	VERB	VB	_	0	root	_	_
`

func TestRead(t *testing.T) {
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, doc.Sentences, 2)

	toks := doc.Sentences[0].Tokens
	require.Len(t, toks, 4) // the 2-3 range is not a syntactic word
	assert.Equal(t, "have", toks[1].Form)
	assert.Equal(t, 3, toks[0].Head)
	assert.Equal(t, 0, toks[2].Head)
	assert.Equal(t, "nsubj", toks[0].Deprel)
	assert.Equal(t, "Tense=Past", toks[2].Feats)
	assert.Equal(t, "SpaceAfter=No", toks[2].Misc)

	assert.Len(t, doc.Sentences[1].Tokens, 1)
}

func TestReadUnannotatedHead(t *testing.T) {
	doc, err := Read(strings.NewReader("1\tword\tword\tX\t_\t_\t_\t_\t_\t_\n\n"))
	require.NoError(t, err)
	assert.Equal(t, -1, doc.Sentences[0].Tokens[0].Head)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("1\ttoo\tfew\tfields\n"))
	assert.ErrorContains(t, err, "want 10")

	_, err = Read(strings.NewReader("x\tword\tword\tX\t_\t_\t0\troot\t_\t_\n"))
	assert.ErrorContains(t, err, "bad token id")

	_, err = Read(strings.NewReader("1\tword\tword\tX\t_\t_\tq\troot\t_\t_\n"))
	assert.ErrorContains(t, err, "bad head")
}

func TestWriteRoundTrip(t *testing.T) {
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))

	// Comments and the multi-word range come back verbatim, in place.
	assert.Equal(t, sample+"\n", buf.String())
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.conllu")
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	require.NoError(t, doc.WriteFile(path))
	again, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Sentences, again.Sentences)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.conllu"))
	assert.Error(t, err)
}

func TestSetPredictions(t *testing.T) {
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	heads := [][]int{{2, 0, 2, 2}, {0}}
	deprels := [][]string{{"nsubj", "root", "aux", "punct"}, {"root"}}
	require.NoError(t, doc.SetPredictions(heads, deprels))

	assert.Equal(t, 2, doc.Sentences[0].Tokens[0].Head)
	assert.Equal(t, "root", doc.Sentences[0].Tokens[1].Deprel)
	assert.Equal(t, 0, doc.Sentences[1].Tokens[0].Head)
}

func TestSetPredictionsLengthMismatch(t *testing.T) {
	doc, err := Read(strings.NewReader(sample))
	require.NoError(t, err)

	err = doc.SetPredictions([][]int{{0}}, [][]string{{"root"}})
	assert.ErrorContains(t, err, "predictions for 1 sentences")

	err = doc.SetPredictions([][]int{{0}, {0}}, [][]string{{"root"}, {"root"}})
	assert.ErrorContains(t, err, "1 head predictions for 4 tokens")
}
