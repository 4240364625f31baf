// Package index implements the weighted inverted index behind catalog
// search.
//
// An Index is built once from a corpus and never modified afterwards, so it
// can be shared by any number of concurrent readers without locking. A
// changed corpus is handled by building a new Index and swapping the
// reference.
package index

import (
	"cmp"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/OpenModelDB/model-search/internal/search/condition"
	"github.com/OpenModelDB/model-search/internal/search/tokenizer"
)

// WeightedText is one searchable field of an entry. Every token produced
// from Text contributes Weight to the entry's score for that token.
type WeightedText struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Entry is a corpus item: an identifier, its tags and its weighted text
// fields.
type Entry[ID cmp.Ordered, T comparable] struct {
	ID    ID
	Tags  condition.Set[T]
	Texts []WeightedText
}

// Result is a retrieved entry with its text score.
type Result[ID cmp.Ordered] struct {
	ID    ID      `json:"id"`
	Score float64 `json:"score"`
}

// Stats describes the size of a built index.
type Stats struct {
	Entries    int `json:"entries"`
	Terms      int `json:"terms"`
	Postings   int `json:"postings"`
	Tokens     int `json:"tokens"`
	Duplicates int `json:"duplicates"`
}

// Index maps tokens to the entries that produced them, with the summed
// weight of every occurrence.
type Index[ID cmp.Ordered, T comparable] struct {
	order    []ID
	entries  map[ID]Entry[ID, T]
	inverted map[string]map[ID]float64
	terms    []string
	stats    Stats
}

// Build indexes corpus. Every token of every text field adds the field's
// weight to inverted[token][id], so a token seen k times in a field adds
// k*weight, and occurrences in different fields add up. Fields with a
// non-positive weight are not indexed.
//
// Identifiers are expected to be unique. When one repeats, the last entry
// wins but keeps the position of the first occurrence; Stats().Duplicates
// counts how many entries were replaced this way.
func Build[ID cmp.Ordered, T comparable](corpus []Entry[ID, T]) *Index[ID, T] {
	x := &Index[ID, T]{
		order:    make([]ID, 0, len(corpus)),
		entries:  make(map[ID]Entry[ID, T], len(corpus)),
		inverted: make(map[string]map[ID]float64),
	}
	last := make(map[ID]int, len(corpus))
	for i, e := range corpus {
		if _, seen := last[e.ID]; seen {
			x.stats.Duplicates++
		} else {
			x.order = append(x.order, e.ID)
		}
		last[e.ID] = i
	}

	for _, id := range x.order {
		e := corpus[last[id]]
		x.entries[id] = Entry[ID, T]{
			ID:    id,
			Tags:  maps.Clone(e.Tags),
			Texts: slices.Clone(e.Texts),
		}
		for _, field := range e.Texts {
			if field.Weight <= 0 {
				continue
			}
			for _, token := range tokenizer.Tokenize(field.Text) {
				postings, ok := x.inverted[token]
				if !ok {
					postings = make(map[ID]float64)
					x.inverted[token] = postings
				}
				if _, ok := postings[id]; !ok {
					x.stats.Postings++
				}
				postings[id] += field.Weight
				x.stats.Tokens++
			}
		}
	}

	x.terms = make([]string, 0, len(x.inverted))
	for term := range x.inverted {
		x.terms = append(x.terms, term)
	}
	sort.Strings(x.terms)
	x.stats.Entries = len(x.order)
	x.stats.Terms = len(x.terms)
	return x
}

// Len returns the number of distinct entries.
func (x *Index[ID, T]) Len() int {
	return len(x.order)
}

// Stats returns size counters gathered during Build.
func (x *Index[ID, T]) Stats() Stats {
	return x.stats
}

// IDs returns entry identifiers in corpus order.
func (x *Index[ID, T]) IDs() []ID {
	return slices.Clone(x.order)
}

// Entry looks up an entry by identifier. The returned tag set and text
// slice are shared with the index and must not be modified.
func (x *Index[ID, T]) Entry(id ID) (Entry[ID, T], bool) {
	e, ok := x.entries[id]
	return e, ok
}

// Entries returns all entries in corpus order. The same sharing rule as
// Entry applies.
func (x *Index[ID, T]) Entries() []Entry[ID, T] {
	out := make([]Entry[ID, T], 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.entries[id])
	}
	return out
}

// Weight returns the accumulated weight of token for entry id, or 0.
func (x *Index[ID, T]) Weight(token string, id ID) float64 {
	return x.inverted[token][id]
}

// Retrieve returns every entry whose tags satisfy pred, scored against
// tokens. The score is the sum over tokens of Weight(token, id), with exact
// token equality. An empty token list scores every candidate 0; only the tag
// predicate can exclude an entry. A nil pred accepts every entry.
//
// Results come back in corpus order. Use Rank or Top for presentation order.
func (x *Index[ID, T]) Retrieve(pred *condition.Compiled[T], tokens []string) []Result[ID] {
	acceptAll := pred == nil
	if pred != nil {
		if value, ok := pred.Constant(); ok {
			if !value {
				return []Result[ID]{}
			}
			acceptAll = true
		}
	}

	postings := make([]map[ID]float64, 0, len(tokens))
	for _, token := range tokens {
		postings = append(postings, x.inverted[token])
	}

	results := make([]Result[ID], 0, len(x.order))
	for _, id := range x.order {
		if !acceptAll && !pred.Evaluate(x.entries[id].Tags) {
			continue
		}
		var score float64
		for _, p := range postings {
			score += p[id]
		}
		results = append(results, Result[ID]{ID: id, Score: score})
	}
	return results
}

// PrefixScores is a secondary scoring pass kept apart from Retrieve. For
// each query token it sums the weights of every indexed token that starts
// with it and is strictly longer, so "ultra" picks up "ultrasharp" but not
// "ultra" itself. Entries without any such match are absent from the map.
func (x *Index[ID, T]) PrefixScores(tokens []string) map[ID]float64 {
	scores := make(map[ID]float64)
	for _, token := range tokens {
		if token == "" {
			continue
		}
		start := sort.SearchStrings(x.terms, token)
		for _, term := range x.terms[start:] {
			if !strings.HasPrefix(term, token) {
				break
			}
			if term == token {
				continue
			}
			for id, w := range x.inverted[term] {
				scores[id] += w
			}
		}
	}
	return scores
}
