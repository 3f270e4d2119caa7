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

import (
	"strings"
	"testing"

	"github.com/lexatic/arcparse/lib/conllu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesCutoff(t *testing.T) {
	v := New(map[string]int{"common": 10, "rare": 2, "mid": 7}, 7)

	assert.Equal(t, 3, v.Len()) // sentinel + common + mid
	assert.NotEqual(t, PadID, v.ID("common"))
	assert.NotEqual(t, PadID, v.ID("mid"))
	assert.Equal(t, PadID, v.ID("rare"))
	assert.Equal(t, PadID, v.ID("never seen"))
}

func TestNewIsDeterministic(t *testing.T) {
	counts := map[string]int{"b": 1, "a": 1, "c": 1}
	v1 := New(counts, 1)
	v2 := New(counts, 1)

	require.Equal(t, v1.Items, v2.Items)
	// Sorted assignment: "a" before "b" before "c".
	assert.Equal(t, []string{"<PAD>", "a", "b", "c"}, v1.Items)
}

func TestItemRoundTrip(t *testing.T) {
	v := New(map[string]int{"dog": 1, "cat": 1}, 1)

	assert.Equal(t, "dog", v.Item(v.ID("dog")))
	assert.Equal(t, "<PAD>", v.Item(0))
	assert.Equal(t, "<PAD>", v.Item(-3))
	assert.Equal(t, "<PAD>", v.Item(v.Len()))
}

func TestSplitBundle(t *testing.T) {
	assert.Nil(t, SplitBundle("_"))
	assert.Nil(t, SplitBundle(""))

	parts := SplitBundle("Case=Nom|Number=Sing")
	assert.Equal(t, map[string]string{"Case": "Nom", "Number": "Sing"}, parts)

	// A bare fine tag degrades to the "_" key.
	assert.Equal(t, map[string]string{"_": "NN"}, SplitBundle("NN"))
}

func TestCompositeSlots(t *testing.T) {
	c := NewComposite([]string{
		"Case=Nom|Number=Sing",
		"Case=Acc",
		"Tense=Past",
		"_",
	})

	require.Equal(t, []string{"Case", "Number", "Tense"}, c.Keys)
	require.Equal(t, 3, c.NumSlots())

	ids := c.IDs("Case=Acc|Tense=Past")
	require.Len(t, ids, 3)
	assert.NotEqual(t, PadID, ids[0])
	assert.Equal(t, PadID, ids[1]) // Number unfilled
	assert.NotEqual(t, PadID, ids[2])

	assert.Equal(t, []int{PadID, PadID, PadID}, c.IDs("_"))
	// Unknown value in a known slot maps to the sentinel.
	assert.Equal(t, PadID, c.IDs("Case=Erg")[0])
}

func TestCompositeBareTags(t *testing.T) {
	c := NewComposite([]string{"NN", "VB", "_", "NN"})

	require.Equal(t, 1, c.NumSlots())
	assert.NotEqual(t, c.IDs("NN")[0], c.IDs("VB")[0])
	assert.Equal(t, PadID, c.IDs("JJ")[0])
}

func buildDoc(t *testing.T, text string) *conllu.Document {
	t.Helper()
	doc, err := conllu.Read(strings.NewReader(text))
	require.NoError(t, err)
	return doc
}

func TestBuild(t *testing.T) {
	doc := buildDoc(t, ""+
		"1\tthe\tthe\tDET\tDT\tDefinite=Def\t2\tdet\t_\t_\n"+
		"2\tdog\tdog\tNOUN\tNN\tNumber=Sing\t3\tnsubj\t_\t_\n"+
		"3\tbarks\tbark\tVERB\tVBZ\tNumber=Sing|Tense=Pres\t0\troot\t_\t_\n"+
		"\n"+
		"1\tdog\tdog\tNOUN\tNN\tNumber=Sing\t0\troot\t_\t_\n\n")

	set := Build(doc, 2)

	// The root marker survives any cutoff.
	assert.NotEqual(t, PadID, set.Word.ID(Root))
	assert.NotEqual(t, PadID, set.Lemma.ID(Root))
	assert.NotEqual(t, PadID, set.UPOS.ID(Root))

	// Word cutoff 2: only "dog" appears twice.
	assert.NotEqual(t, PadID, set.Word.ID("dog"))
	assert.Equal(t, PadID, set.Word.ID("the"))
	assert.Equal(t, PadID, set.Word.ID("barks"))

	// Everything else keeps singletons.
	assert.NotEqual(t, PadID, set.Lemma.ID("bark"))
	assert.NotEqual(t, PadID, set.UPOS.ID("DET"))
	assert.NotEqual(t, PadID, set.Deprel.ID("nsubj"))
	assert.NotEqual(t, PadID, set.Char.ID("b"))

	assert.Equal(t, 1, set.XPOS.NumSlots()) // bare tags
	assert.Equal(t, 4, set.Deprel.Len())    // sentinel + det, nsubj, root
}

func TestBuildSkipsUnannotatedDeprel(t *testing.T) {
	doc := buildDoc(t, "1\tword\tword\tX\t_\t_\t_\t_\t_\t_\n\n")
	set := Build(doc, 1)
	assert.Equal(t, 1, set.Deprel.Len())
}
