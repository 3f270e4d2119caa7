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

// Package eval scores system parses against gold treebanks with the
// standard attachment metrics.
package eval

import (
	"fmt"

	"github.com/lexatic/arcparse/lib/conllu"
)

// Scores holds unlabeled and labeled attachment scores in [0, 1].
type Scores struct {
	UAS float64
	LAS float64
}

// Score compares the system parse file against the gold file. The two
// files must contain the same sentences in the same order.
func Score(systemFile, goldFile string) (Scores, error) {
	system, err := conllu.ReadFile(systemFile)
	if err != nil {
		return Scores{}, fmt.Errorf("eval: system file: %w", err)
	}
	gold, err := conllu.ReadFile(goldFile)
	if err != nil {
		return Scores{}, fmt.Errorf("eval: gold file: %w", err)
	}
	return Compare(system, gold)
}

// Compare scores two parsed documents token by token.
func Compare(system, gold *conllu.Document) (Scores, error) {
	if len(system.Sentences) != len(gold.Sentences) {
		return Scores{}, fmt.Errorf("eval: %d system sentences vs %d gold", len(system.Sentences), len(gold.Sentences))
	}
	var total, headHits, labelHits int
	for si := range gold.Sentences {
		gToks := gold.Sentences[si].Tokens
		sToks := system.Sentences[si].Tokens
		if len(sToks) != len(gToks) {
			return Scores{}, fmt.Errorf("eval: sentence %d: %d system tokens vs %d gold", si, len(sToks), len(gToks))
		}
		for ti := range gToks {
			total++
			if sToks[ti].Head == gToks[ti].Head {
				headHits++
				if sToks[ti].Deprel == gToks[ti].Deprel {
					labelHits++
				}
			}
		}
	}
	if total == 0 {
		return Scores{}, nil
	}
	return Scores{
		UAS: float64(headHits) / float64(total),
		LAS: float64(labelHits) / float64(total),
	}, nil
}
