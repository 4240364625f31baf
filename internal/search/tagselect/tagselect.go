// Package tagselect translates the tags a user picked in the catalog's filter
// panel into a condition over entry tags.
//
// Tags are grouped into categories. Within a category the picked tags are
// alternatives (any of them satisfies the category); across categories every
// category with a pick must be satisfied. A category's Exclusive flag only
// governs how picks are toggled, never how they are evaluated.
package tagselect

import (
	"github.com/OpenModelDB/model-search/internal/search/condition"
)

// Category is a named group of tags.
type Category[T comparable] struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tags        []T    `json:"tags"`
	Exclusive   bool   `json:"exclusive"`
}

// Contains reports whether tag belongs to the category.
func (c Category[T]) Contains(tag T) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Selection is the set of tags the user has switched on. The zero value is
// an empty selection. Selections are values; Toggle returns a new one.
type Selection[T comparable] struct {
	picked condition.Set[T]
	order  []T
}

// NewSelection returns a selection with the given tags switched on, without
// applying any category rule.
func NewSelection[T comparable](tags ...T) Selection[T] {
	var s Selection[T]
	for _, tag := range tags {
		s = s.with(tag)
	}
	return s
}

// Has reports whether tag is switched on.
func (s Selection[T]) Has(tag T) bool {
	return s.picked.Has(tag)
}

// Len returns the number of switched-on tags.
func (s Selection[T]) Len() int {
	return len(s.order)
}

// Tags returns the switched-on tags in the order they were picked.
func (s Selection[T]) Tags() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// Toggle flips tag. Switching a tag on inside an exclusive category switches
// every other tag of that category off. Tags outside any category toggle
// freely.
func (s Selection[T]) Toggle(tag T, categories []Category[T]) Selection[T] {
	if s.Has(tag) {
		return s.without(func(t T) bool { return t == tag })
	}
	for _, cat := range categories {
		if cat.Exclusive && cat.Contains(tag) {
			s = s.without(cat.Contains)
		}
	}
	return s.with(tag)
}

func (s Selection[T]) with(tag T) Selection[T] {
	if s.Has(tag) {
		return s
	}
	next := Selection[T]{
		picked: make(condition.Set[T], len(s.order)+1),
		order:  make([]T, 0, len(s.order)+1),
	}
	for _, t := range s.order {
		next.picked[t] = struct{}{}
		next.order = append(next.order, t)
	}
	next.picked[tag] = struct{}{}
	next.order = append(next.order, tag)
	return next
}

func (s Selection[T]) without(drop func(T) bool) Selection[T] {
	next := Selection[T]{
		picked: make(condition.Set[T], len(s.order)),
		order:  make([]T, 0, len(s.order)),
	}
	for _, t := range s.order {
		if drop(t) {
			continue
		}
		next.picked[t] = struct{}{}
		next.order = append(next.order, t)
	}
	return next
}

// TagCondition builds the filter condition for sel.
//
// Each category contributes Or(picked tags of the category), or
// Literal(true) when nothing in it is picked; the contributions are joined
// with And. A picked tag that belongs to no category can never be satisfied
// and contributes Literal(false), even for entries that carry it.
func TagCondition[T comparable](sel Selection[T], categories []Category[T]) condition.Condition[T] {
	terms := make([]condition.Condition[T], 0, len(categories)+1)
	categorized := make(condition.Set[T])
	for _, cat := range categories {
		var picked []condition.Condition[T]
		for _, tag := range cat.Tags {
			categorized[tag] = struct{}{}
			if sel.Has(tag) {
				picked = append(picked, condition.Var(tag))
			}
		}
		if len(picked) == 0 {
			terms = append(terms, condition.True[T]())
			continue
		}
		terms = append(terms, condition.Any(picked...))
	}

	for _, tag := range sel.order {
		if !categorized.Has(tag) {
			terms = append(terms, condition.False[T]())
			break
		}
	}
	return condition.All(terms...)
}
