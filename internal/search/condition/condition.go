// Package condition implements boolean formulas over tag identifiers and
// compiles them into reusable predicates.
//
// A Condition is one of exactly five variants: Literal, Variable, And, Or
// and Not. The variant set is closed: Condition carries an unexported marker
// method, so no other package can add a variant, and every switch in this
// package handles all five.
//
// A Variable(t) holds for a subject when t is a member of the subject's tag
// set. And of no terms is true and Or of no terms is false.
package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition is a boolean formula over variables of type T.
type Condition[T comparable] interface {
	// isCondition mentions T so that T can be inferred from a Condition[T]
	// argument.
	isCondition(T)
	String() string
}

// Literal is a constant truth value.
type Literal[T comparable] struct {
	Value bool
}

// Variable holds when Name is present in the evaluated set.
type Variable[T comparable] struct {
	Name T
}

// And holds when every term holds. An empty And is true.
type And[T comparable] struct {
	Terms []Condition[T]
}

// Or holds when any term holds. An empty Or is false.
type Or[T comparable] struct {
	Terms []Condition[T]
}

// Not negates Term.
type Not[T comparable] struct {
	Term Condition[T]
}

func (Literal[T]) isCondition(T)  {}
func (Variable[T]) isCondition(T) {}
func (And[T]) isCondition(T)      {}
func (Or[T]) isCondition(T)       {}
func (Not[T]) isCondition(T)      {}

// True returns Literal(true).
func True[T comparable]() Condition[T] { return Literal[T]{Value: true} }

// False returns Literal(false).
func False[T comparable]() Condition[T] { return Literal[T]{Value: false} }

// Var returns Variable(name).
func Var[T comparable](name T) Condition[T] { return Variable[T]{Name: name} }

// All returns the conjunction of terms.
func All[T comparable](terms ...Condition[T]) Condition[T] { return And[T]{Terms: terms} }

// Any returns the disjunction of terms.
func Any[T comparable](terms ...Condition[T]) Condition[T] { return Or[T]{Terms: terms} }

// Negate returns Not(term).
func Negate[T comparable](term Condition[T]) Condition[T] { return Not[T]{Term: term} }

// Set is the tag set a condition is evaluated against.
type Set[T comparable] map[T]struct{}

// NewSet builds a Set from items. Duplicates collapse.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set. A nil Set is empty.
func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Equal reports whether a and b are structurally identical. Term order is
// significant; a nil condition only equals another nil.
func Equal[T comparable](a, b Condition[T]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a := a.(type) {
	case Literal[T]:
		bl, ok := b.(Literal[T])
		return ok && a.Value == bl.Value
	case Variable[T]:
		bv, ok := b.(Variable[T])
		return ok && a.Name == bv.Name
	case And[T]:
		ba, ok := b.(And[T])
		return ok && equalTerms(a.Terms, ba.Terms)
	case Or[T]:
		bo, ok := b.(Or[T])
		return ok && equalTerms(a.Terms, bo.Terms)
	case Not[T]:
		bn, ok := b.(Not[T])
		return ok && Equal(a.Term, bn.Term)
	default:
		panic(fmt.Sprintf("condition: unknown variant %T", a))
	}
}

func equalTerms[T comparable](a, b []Condition[T]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (l Literal[T]) String() string {
	return strconv.FormatBool(l.Value)
}

func (v Variable[T]) String() string {
	return strconv.Quote(fmt.Sprint(v.Name))
}

func (a And[T]) String() string {
	return "and(" + joinTerms(a.Terms) + ")"
}

func (o Or[T]) String() string {
	return "or(" + joinTerms(o.Terms) + ")"
}

func (n Not[T]) String() string {
	if n.Term == nil {
		return "not(true)"
	}
	return "not(" + n.Term.String() + ")"
}

func joinTerms[T comparable](terms []Condition[T]) string {
	parts := make([]string, len(terms))
	for i, term := range terms {
		if term == nil {
			parts[i] = "true"
			continue
		}
		parts[i] = term.String()
	}
	return strings.Join(parts, ", ")
}
