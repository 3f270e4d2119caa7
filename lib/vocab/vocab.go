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

// Package vocab maps surface categories (words, lemmas, tags, features,
// relation labels, characters) to dense integer ids. Id 0 is reserved
// everywhere as the shared padding/unknown sentinel.
package vocab

import (
	"sort"
	"strings"
)

// PadID is the reserved padding/unknown sentinel present in every
// vocabulary and sub-vocabulary.
const PadID = 0

// Vocab is a single id mapping.
type Vocab struct {
	Index map[string]int
	Items []string // Items[0] is the sentinel
}

// New builds a vocabulary from counted surface forms. Items seen fewer
// than cutoff times are dropped (mapped to the sentinel); cutoff <= 1
// keeps everything. Items are id-assigned in sorted order so that two
// builds over the same data agree.
func New(counts map[string]int, cutoff int) *Vocab {
	kept := make([]string, 0, len(counts))
	for item, n := range counts {
		if cutoff <= 1 || n >= cutoff {
			kept = append(kept, item)
		}
	}
	sort.Strings(kept)

	v := &Vocab{Index: make(map[string]int, len(kept)+1), Items: make([]string, 1, len(kept)+1)}
	v.Items[0] = "<PAD>"
	for _, item := range kept {
		v.Index[item] = len(v.Items)
		v.Items = append(v.Items, item)
	}
	return v
}

// ID returns the id of item, or the sentinel when unknown.
func (v *Vocab) ID(item string) int {
	if id, ok := v.Index[item]; ok {
		return id
	}
	return PadID
}

// Item returns the surface form of id.
func (v *Vocab) Item(id int) string {
	if id < 0 || id >= len(v.Items) {
		return v.Items[PadID]
	}
	return v.Items[id]
}

// Len returns the vocabulary size including the sentinel.
func (v *Vocab) Len() int { return len(v.Items) }

// Composite is a vocabulary over multi-valued bundles such as
// "Case=Nom|Number=Sing": each feature key gets its own independent
// sub-vocabulary of values, and a bundle decomposes into one id per
// slot. Embeddings of the slots are summed by the consumer, so the
// fused width is independent of how many slots a bundle fills.
type Composite struct {
	Keys []string // sorted feature keys, fixing slot order
	Subs []*Vocab // value vocabulary per slot
}

// NewComposite builds slot vocabularies from observed bundles. Bundles
// use "|" between parts and "=" between key and value; a part without
// "=" is treated as the key "_" (bare-tag bundles degrade to a single
// slot).
func NewComposite(bundles []string) *Composite {
	perKey := map[string]map[string]int{}
	for _, bundle := range bundles {
		for key, value := range SplitBundle(bundle) {
			if perKey[key] == nil {
				perKey[key] = map[string]int{}
			}
			perKey[key][value]++
		}
	}

	c := &Composite{}
	for key := range perKey {
		c.Keys = append(c.Keys, key)
	}
	sort.Strings(c.Keys)
	for _, key := range c.Keys {
		c.Subs = append(c.Subs, New(perKey[key], 1))
	}
	return c
}

// SplitBundle decomposes a bundle into key/value parts. The empty
// bundle marker "_" yields nothing.
func SplitBundle(bundle string) map[string]string {
	if bundle == "" || bundle == "_" {
		return nil
	}
	parts := map[string]string{}
	for _, part := range strings.Split(bundle, "|") {
		if key, value, ok := strings.Cut(part, "="); ok {
			parts[key] = value
		} else {
			parts["_"] = part
		}
	}
	return parts
}

// IDs maps a bundle to one id per slot; slots the bundle does not fill
// get the sentinel.
func (c *Composite) IDs(bundle string) []int {
	parts := SplitBundle(bundle)
	ids := make([]int, len(c.Keys))
	for i, key := range c.Keys {
		if value, ok := parts[key]; ok {
			ids[i] = c.Subs[i].ID(value)
		}
	}
	return ids
}

// NumSlots returns the number of independent sub-vocabularies.
func (c *Composite) NumSlots() int { return len(c.Keys) }
