package catalog

import (
	"strings"

	"github.com/OpenModelDB/model-search/internal/search/condition"
	"github.com/OpenModelDB/model-search/internal/search/index"
)

// Weights sets how much a query token matching each field of a model
// contributes to its score.
type Weights struct {
	Name         float64
	Author       float64
	Architecture float64
	Description  float64
}

// DefaultWeights ranks name matches far above description matches.
func DefaultWeights() Weights {
	return Weights{Name: 10, Author: 6, Architecture: 4, Description: 1}
}

// Corpus turns the catalog into index entries, one per model in ID order.
// The ID is indexed together with the display name so that searching for
// "4x" or a file-style ID finds the model.
func Corpus(c *Catalog, w Weights) []index.Entry[string, string] {
	out := make([]index.Entry[string, string], 0, len(c.modelIDs))
	for _, id := range c.modelIDs {
		m := c.Models[id]
		authors := make([]string, 0, 2*len(m.Authors))
		for _, a := range m.Authors {
			authors = append(authors, a)
			if name := c.AuthorName(a); !strings.EqualFold(name, a) {
				authors = append(authors, name)
			}
		}
		out = append(out, index.Entry[string, string]{
			ID:   id,
			Tags: condition.NewSet(m.Tags...),
			Texts: []index.WeightedText{
				{Text: id + " " + m.Name, Weight: w.Name},
				{Text: strings.Join(authors, " "), Weight: w.Author},
				{Text: m.Architecture, Weight: w.Architecture},
				{Text: m.Description, Weight: w.Description},
			},
		})
	}
	return out
}
