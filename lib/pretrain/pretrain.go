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

// Package pretrain loads frozen pretrained word vectors. Text files in
// word2vec format are parsed once and cached in a binary sidecar keyed
// by a content hash of the source, so subsequent runs skip the parse.
// The matrix is never gradient-updated and never checkpointed: it is
// reconstructible from the external file.
package pretrain

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Embeddings is a frozen word-vector table. Row 0 is the all-zero
// pad/unknown vector.
type Embeddings struct {
	Dim   int
	Index map[string]int
	Vecs  []float64 // (len(Index)+1)×Dim, row-major
}

type cacheFile struct {
	SourceHash uint64
	Dim        int
	Words      []string
	Vecs       []float64
}

// Load reads word vectors from the text file at path, going through the
// binary cache at cachePath when it matches the source file's hash.
func Load(path, cachePath string, logger *zap.Logger) (*Embeddings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pretrain: read %s: %w", path, err)
	}
	hash := xxhash.Sum64(raw)

	if cachePath != "" {
		if emb, err := loadCache(cachePath, hash); err == nil {
			logger.Info("Loaded pretrained vectors from cache",
				zap.String("cache", cachePath),
				zap.Int("words", len(emb.Index)),
				zap.Int("dim", emb.Dim))
			return emb, nil
		}
	}

	emb, err := parse(raw)
	if err != nil {
		return nil, err
	}
	logger.Info("Parsed pretrained vectors",
		zap.String("file", path),
		zap.Int("words", len(emb.Index)),
		zap.Int("dim", emb.Dim))

	if cachePath != "" {
		if err := writeCache(cachePath, hash, emb); err != nil {
			return nil, fmt.Errorf("pretrain: write cache %s: %w", cachePath, err)
		}
	}
	return emb, nil
}

// parse reads word2vec text format: an optional "count dim" header,
// then one word and its vector per line. Lines are parsed in parallel
// chunks; float parsing dominates the cost on large vector files.
func parse(raw []byte) (*Embeddings, error) {
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("pretrain: empty vector file")
	}

	start := 0
	header := strings.Fields(lines[0])
	if len(header) == 2 {
		start = 1
	}
	if len(lines) <= start {
		return nil, fmt.Errorf("pretrain: vector file has no entries")
	}

	first := strings.Fields(lines[start])
	dim := len(first) - 1
	if dim <= 0 {
		return nil, fmt.Errorf("pretrain: malformed first vector line")
	}

	n := len(lines) - start
	words := make([]string, n)
	vecs := make([]float64, (n+1)*dim) // row 0 stays zero for the sentinel

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	const chunk = 4096
	for lo := 0; lo < n; lo += chunk {
		lo := lo
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				fields := strings.Fields(lines[start+i])
				if len(fields) != dim+1 {
					return fmt.Errorf("pretrain: line %d: got %d values, want %d", start+i+1, len(fields)-1, dim)
				}
				words[i] = fields[0]
				row := vecs[(i+1)*dim : (i+2)*dim]
				for j, f := range fields[1:] {
					v, err := strconv.ParseFloat(f, 64)
					if err != nil {
						return fmt.Errorf("pretrain: line %d: %w", start+i+1, err)
					}
					row[j] = v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// First occurrence of a repeated word wins. Rows are compacted so
	// ids stay contiguous; the cache codec depends on that.
	emb := &Embeddings{Dim: dim, Index: make(map[string]int, n)}
	next := 1
	for i, w := range words {
		if _, dup := emb.Index[w]; dup {
			continue
		}
		if next != i+1 {
			copy(vecs[next*dim:(next+1)*dim], vecs[(i+1)*dim:(i+2)*dim])
		}
		emb.Index[w] = next
		next++
	}
	emb.Vecs = vecs[:next*dim]
	return emb, nil
}

// ID returns the row of word, or 0 when the word is unknown.
func (e *Embeddings) ID(word string) int {
	if id, ok := e.Index[strings.ToLower(word)]; ok {
		return id
	}
	if id, ok := e.Index[word]; ok {
		return id
	}
	return 0
}

// Rows returns the number of vector rows including the sentinel.
func (e *Embeddings) Rows() int { return len(e.Vecs) / e.Dim }

func loadCache(path string, hash uint64) (*Embeddings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cf cacheFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&cf); err != nil {
		return nil, err
	}
	if cf.SourceHash != hash {
		return nil, fmt.Errorf("pretrain: cache is stale")
	}
	emb := &Embeddings{Dim: cf.Dim, Index: make(map[string]int, len(cf.Words)), Vecs: cf.Vecs}
	for i, w := range cf.Words {
		emb.Index[w] = i + 1
	}
	return emb, nil
}

func writeCache(path string, hash uint64, emb *Embeddings) error {
	words := make([]string, len(emb.Index))
	for w, id := range emb.Index {
		words[id-1] = w
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := gob.NewEncoder(bw).Encode(cacheFile{SourceHash: hash, Dim: emb.Dim, Words: words, Vecs: emb.Vecs}); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
