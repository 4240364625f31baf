package catalog

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError lists every consistency problem found in a catalog, keyed
// by the location of the problem (for example "models/4x-Foo.tags").
type ValidationError struct {
	Problems map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Problems))
	for k := range e.Problems {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Problems[k], ", ")))
	}
	return strings.Join(parts, "; ")
}

// Count returns the total number of problems.
func (e *ValidationError) Count() int {
	n := 0
	for _, p := range e.Problems {
		n += len(p)
	}
	return n
}

func (e *ValidationError) add(key, format string, args ...any) {
	if e.Problems == nil {
		e.Problems = make(map[string][]string)
	}
	e.Problems[key] = append(e.Problems[key], fmt.Sprintf(format, args...))
}

// Validate checks cross-references inside the catalog: model authors and
// tags must exist, required model fields must be set, and every category
// tag must exist and belong to exactly one category. It returns nil or a
// *ValidationError. Problems are not fatal; a catalog with problems can
// still be indexed.
func Validate(c *Catalog) error {
	var verr ValidationError

	for _, id := range c.modelIDs {
		m := c.Models[id]
		key := "models/" + id
		if strings.TrimSpace(m.Name) == "" {
			verr.add(key+".name", "name is required")
		}
		if len(m.Authors) == 0 {
			verr.add(key+".author", "at least one author is required")
		}
		for _, a := range m.Authors {
			if _, ok := c.Users[a]; !ok {
				verr.add(key+".author", "unknown user %q", a)
			}
		}
		for _, t := range m.Tags {
			if _, ok := c.Tags[t]; !ok {
				verr.add(key+".tags", "unknown tag %q", t)
			}
		}
		if m.Scale < 1 {
			verr.add(key+".scale", "scale must be at least 1, got %d", m.Scale)
		}
		if ref := m.PretrainedModelG; ref != nil && ref.ID != "" {
			if _, ok := c.Models[ref.ID]; !ok {
				verr.add(key+".pretrainedModelG", "unknown model %q", ref.ID)
			}
		}
	}

	owner := make(map[string]string)
	catIDs := make([]string, 0, len(c.Categories))
	for id := range c.Categories {
		catIDs = append(catIDs, id)
	}
	slices.Sort(catIDs)
	for _, cid := range catIDs {
		key := "tag-categories/" + cid
		for _, t := range c.Categories[cid].Tags {
			if _, ok := c.Tags[t]; !ok {
				verr.add(key+".tags", "unknown tag %q", t)
			}
			if prev, ok := owner[t]; ok {
				verr.add(key+".tags", "tag %q already belongs to category %q", t, prev)
				continue
			}
			owner[t] = cid
		}
	}

	if len(verr.Problems) == 0 {
		return nil
	}
	return &verr
}
