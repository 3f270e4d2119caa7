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

package pretrain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const vectors = `3 2
the 0.1 0.2
dog -1.5 0.25
runs 3 4
`

func writeVectors(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vecs.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeVectors(t, vectors)
	emb, err := Load(path, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 2, emb.Dim)
	assert.Equal(t, 4, emb.Rows()) // 3 words + sentinel row
	require.Len(t, emb.Index, 3)

	id := emb.ID("dog")
	require.NotZero(t, id)
	assert.Equal(t, []float64{-1.5, 0.25}, emb.Vecs[id*emb.Dim:(id+1)*emb.Dim])

	// Row 0 is the zero sentinel for unknown words.
	assert.Zero(t, emb.ID("cat"))
	assert.Equal(t, []float64{0, 0}, emb.Vecs[:emb.Dim])
}

func TestLoadWithoutHeader(t *testing.T) {
	path := writeVectors(t, "a 1 2 3\nb 4 5 6\n")
	emb, err := Load(path, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 3, emb.Dim)
	assert.Len(t, emb.Index, 2)
}

func TestLoadLowercaseLookup(t *testing.T) {
	path := writeVectors(t, "the 1 1\nParis 2 2\n")
	emb, err := Load(path, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	// Lowercased form wins; the exact form is the fallback.
	assert.Equal(t, emb.ID("the"), emb.ID("The"))
	assert.NotZero(t, emb.ID("Paris"))
	assert.Zero(t, emb.ID("paris smith"))
}

func TestLoadDuplicateKeepsFirst(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := writeVectors(t, "a 1 1\na 2 2\nb 3 3\n")
	cache := filepath.Join(t.TempDir(), "vecs.bin")

	emb, err := Load(path, cache, logger)
	require.NoError(t, err)

	// The repeated row is dropped entirely: ids stay contiguous and
	// every surviving word maps to its first vector.
	assert.Equal(t, 3, emb.Rows()) // sentinel + a + b
	a, b := emb.ID("a"), emb.ID("b")
	assert.Equal(t, []float64{1, 1}, emb.Vecs[a*emb.Dim:(a+1)*emb.Dim])
	assert.Equal(t, []float64{3, 3}, emb.Vecs[b*emb.Dim:(b+1)*emb.Dim])

	// The cache round trip preserves the word-to-vector alignment.
	again, err := Load(path, cache, logger)
	require.NoError(t, err)
	assert.Equal(t, emb.Index, again.Index)
	assert.Equal(t, emb.Vecs, again.Vecs)
}

func TestLoadErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"), "", logger)
	assert.Error(t, err)

	_, err = Load(writeVectors(t, ""), "", logger)
	assert.ErrorContains(t, err, "empty")

	_, err = Load(writeVectors(t, "a 1 2\nb 3\n"), "", logger)
	assert.ErrorContains(t, err, "got 1 values, want 2")

	_, err = Load(writeVectors(t, "a 1 oops\n"), "", logger)
	assert.Error(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := writeVectors(t, vectors)
	cache := filepath.Join(t.TempDir(), "vecs.bin")

	first, err := Load(path, cache, logger)
	require.NoError(t, err)
	require.FileExists(t, cache)

	second, err := Load(path, cache, logger)
	require.NoError(t, err)
	assert.Equal(t, first.Dim, second.Dim)
	assert.Equal(t, first.Index, second.Index)
	assert.Equal(t, first.Vecs, second.Vecs)
}

func TestCacheStaleOnSourceChange(t *testing.T) {
	logger := zaptest.NewLogger(t)
	path := writeVectors(t, vectors)
	cache := filepath.Join(t.TempDir(), "vecs.bin")

	_, err := Load(path, cache, logger)
	require.NoError(t, err)

	// Rewrite the source; the stale cache must be ignored and rebuilt.
	require.NoError(t, os.WriteFile(path, []byte("only 7 8\n"), 0o644))
	emb, err := Load(path, cache, logger)
	require.NoError(t, err)
	assert.Len(t, emb.Index, 1)
	assert.NotZero(t, emb.ID("only"))

	// The rebuilt cache now serves the new contents.
	again, err := Load(path, cache, logger)
	require.NoError(t, err)
	assert.Equal(t, emb.Index, again.Index)
}
