// Package parser turns the raw search box text and the picked filter tags
// into a QueryPlan.
package parser

import (
	"slices"
	"strconv"
	"strings"

	"github.com/OpenModelDB/model-search/internal/search/tagselect"
	"github.com/OpenModelDB/model-search/internal/search/tokenizer"
)

// tagPrefix marks a word of the query as a tag filter, e.g. "tag:anime".
const tagPrefix = "tag:"

type QueryPlan struct {
	RawQuery string   `json:"raw_query"`
	Tokens   []string `json:"tokens"`
	Tags     []string `json:"tags"`
}

// Parse tokenizes query and merges tags with any "tag:<id>" words found in
// the query. Tags are deduplicated and sorted; tokens keep query order.
func Parse(query string, tags []string) *QueryPlan {
	plan := &QueryPlan{
		RawQuery: query,
		Tokens:   make([]string, 0),
		Tags:     make([]string, 0, len(tags)),
	}
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			plan.Tags = append(plan.Tags, t)
		}
	}
	var text []string
	for _, word := range strings.Fields(query) {
		if len(word) > len(tagPrefix) && strings.EqualFold(word[:len(tagPrefix)], tagPrefix) {
			plan.Tags = append(plan.Tags, word[len(tagPrefix):])
			continue
		}
		text = append(text, word)
	}
	plan.Tokens = append(plan.Tokens, tokenizer.Tokenize(strings.Join(text, " "))...)
	slices.Sort(plan.Tags)
	plan.Tags = slices.Compact(plan.Tags)
	return plan
}

// Selection returns the plan's tags as a filter-panel selection.
func (p *QueryPlan) Selection() tagselect.Selection[string] {
	return tagselect.NewSelection(p.Tags...)
}

// IsEmpty reports whether the plan neither searches text nor filters.
func (p *QueryPlan) IsEmpty() bool {
	return len(p.Tokens) == 0 && len(p.Tags) == 0
}

// Fingerprint is a canonical form of the plan: two plans with the same
// fingerprint produce the same results. Scores are sums over tokens, so
// token order is irrelevant but repetitions are kept. Tokens never contain
// separators; tags are caller input and are quoted.
func (p *QueryPlan) Fingerprint() string {
	tokens := slices.Clone(p.Tokens)
	slices.Sort(tokens)
	tags := make([]string, len(p.Tags))
	for i, tag := range p.Tags {
		tags[i] = strconv.Quote(tag)
	}
	return "q=" + strings.Join(tokens, " ") + "|tags=" + strings.Join(tags, ",")
}
