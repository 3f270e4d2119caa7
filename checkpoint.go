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

package arcparse

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/lexatic/arcparse/lib/pretrain"
	"github.com/lexatic/arcparse/lib/vocab"
)

// checkpointFile is the on-disk model artifact: configuration,
// vocabularies and every named parameter. The frozen pretrained table
// is deliberately absent; it is rebuilt from its own source at load.
type checkpointFile struct {
	Config Config
	Vocabs *vocab.Set
	Params map[string]savedTensor
}

type savedTensor struct {
	Rows, Cols int
	Data       []float64
}

// SaveCheckpoint writes the parser to path atomically.
func SaveCheckpoint(path string, p *Parser) error {
	cf := checkpointFile{
		Config: p.cfg,
		Vocabs: p.vocabs,
		Params: make(map[string]savedTensor),
	}
	for _, np := range p.NamedParameters() {
		cf.Params[np.Name] = savedTensor{Rows: np.T.Rows, Cols: np.T.Cols, Data: np.T.Data}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := gob.NewEncoder(bw).Encode(cf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint rebuilds a parser from a saved artifact. pre must be
// supplied when the saved configuration uses pretrained vectors, and
// must match the table the model was trained with.
func LoadCheckpoint(path string, pre *pretrain.Embeddings) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cf checkpointFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&cf); err != nil {
		return nil, fmt.Errorf("arcparse: decoding checkpoint %s: %w", path, err)
	}

	p, err := NewParser(cf.Config, cf.Vocabs, pre)
	if err != nil {
		return nil, err
	}
	for _, np := range p.NamedParameters() {
		saved, ok := cf.Params[np.Name]
		if !ok {
			return nil, fmt.Errorf("arcparse: checkpoint %s is missing parameter %s", path, np.Name)
		}
		if saved.Rows != np.T.Rows || saved.Cols != np.T.Cols {
			return nil, fmt.Errorf("arcparse: checkpoint parameter %s has shape %dx%d, want %dx%d",
				np.Name, saved.Rows, saved.Cols, np.T.Rows, np.T.Cols)
		}
		copy(np.T.Data, saved.Data)
	}
	return p, nil
}
