package condition

import "fmt"

// Compiled is a reusable evaluator for a Condition. It holds no per-call
// state and is safe for concurrent use.
type Compiled[T comparable] struct {
	root     Condition[T]
	eval     func(Set[T]) bool
	vars     []T
	constant bool
	value    bool
}

// Compile simplifies c and builds an evaluator for it. It never fails. A nil
// condition compiles to Literal(true).
func Compile[T comparable](c Condition[T]) *Compiled[T] {
	root := Simplify(c)
	compiled := &Compiled[T]{
		root: root,
		eval: build(root),
		vars: collectVariables(root, nil, make(map[T]struct{})),
	}
	if lit, ok := root.(Literal[T]); ok {
		compiled.constant = true
		compiled.value = lit.Value
	}
	return compiled
}

// Evaluate reports whether the condition holds for the given tag set.
func (c *Compiled[T]) Evaluate(active Set[T]) bool {
	return c.eval(active)
}

// Constant reports whether the condition reduced to a literal and, if so,
// its value. Callers can skip per-subject evaluation in that case.
func (c *Compiled[T]) Constant() (value bool, ok bool) {
	return c.value, c.constant
}

// Variables returns the distinct variables the simplified condition refers
// to, in first-appearance order.
func (c *Compiled[T]) Variables() []T {
	out := make([]T, len(c.vars))
	copy(out, c.vars)
	return out
}

// Condition returns the simplified form the evaluator was built from.
func (c *Compiled[T]) Condition() Condition[T] {
	return c.root
}

func (c *Compiled[T]) String() string {
	return c.root.String()
}

// Simplify returns a condition with the same truth table as c in which
// nested And/Or chains of the same kind are flattened, literals are folded
// away, single-term chains are unwrapped and double negations removed. The
// result is either a Literal or contains no Literal at all.
func Simplify[T comparable](c Condition[T]) Condition[T] {
	if c == nil {
		return True[T]()
	}
	switch c := c.(type) {
	case Literal[T]:
		return c
	case Variable[T]:
		return c
	case Not[T]:
		inner := Simplify(c.Term)
		switch inner := inner.(type) {
		case Literal[T]:
			return Literal[T]{Value: !inner.Value}
		case Not[T]:
			return inner.Term
		}
		return Not[T]{Term: inner}
	case And[T]:
		terms := make([]Condition[T], 0, len(c.Terms))
		for _, term := range c.Terms {
			s := Simplify(term)
			switch s := s.(type) {
			case Literal[T]:
				if !s.Value {
					return s
				}
				continue
			case And[T]:
				terms = append(terms, s.Terms...)
				continue
			}
			terms = append(terms, s)
		}
		return reduce(terms, true, func(ts []Condition[T]) Condition[T] { return And[T]{Terms: ts} })
	case Or[T]:
		terms := make([]Condition[T], 0, len(c.Terms))
		for _, term := range c.Terms {
			s := Simplify(term)
			switch s := s.(type) {
			case Literal[T]:
				if s.Value {
					return s
				}
				continue
			case Or[T]:
				terms = append(terms, s.Terms...)
				continue
			}
			terms = append(terms, s)
		}
		return reduce(terms, false, func(ts []Condition[T]) Condition[T] { return Or[T]{Terms: ts} })
	default:
		panic(fmt.Sprintf("condition: unknown variant %T", c))
	}
}

func reduce[T comparable](terms []Condition[T], identity bool, wrap func([]Condition[T]) Condition[T]) Condition[T] {
	switch len(terms) {
	case 0:
		return Literal[T]{Value: identity}
	case 1:
		return terms[0]
	default:
		return wrap(terms)
	}
}

// build turns a simplified condition into a closure tree. Chains made only
// of variables are evaluated with a single membership loop.
func build[T comparable](c Condition[T]) func(Set[T]) bool {
	switch c := c.(type) {
	case Literal[T]:
		v := c.Value
		return func(Set[T]) bool { return v }
	case Variable[T]:
		name := c.Name
		return func(s Set[T]) bool {
			_, ok := s[name]
			return ok
		}
	case Not[T]:
		inner := build(c.Term)
		return func(s Set[T]) bool { return !inner(s) }
	case And[T]:
		if names, ok := variableNames(c.Terms); ok {
			return func(s Set[T]) bool {
				for _, name := range names {
					if _, ok := s[name]; !ok {
						return false
					}
				}
				return true
			}
		}
		fns := buildAll(c.Terms)
		return func(s Set[T]) bool {
			for _, fn := range fns {
				if !fn(s) {
					return false
				}
			}
			return true
		}
	case Or[T]:
		if names, ok := variableNames(c.Terms); ok {
			return func(s Set[T]) bool {
				for _, name := range names {
					if _, ok := s[name]; ok {
						return true
					}
				}
				return false
			}
		}
		fns := buildAll(c.Terms)
		return func(s Set[T]) bool {
			for _, fn := range fns {
				if fn(s) {
					return true
				}
			}
			return false
		}
	default:
		panic(fmt.Sprintf("condition: unknown variant %T", c))
	}
}

func buildAll[T comparable](terms []Condition[T]) []func(Set[T]) bool {
	fns := make([]func(Set[T]) bool, len(terms))
	for i, term := range terms {
		fns[i] = build(term)
	}
	return fns
}

func variableNames[T comparable](terms []Condition[T]) ([]T, bool) {
	names := make([]T, 0, len(terms))
	for _, term := range terms {
		v, ok := term.(Variable[T])
		if !ok {
			return nil, false
		}
		names = append(names, v.Name)
	}
	return names, true
}

func collectVariables[T comparable](c Condition[T], out []T, seen map[T]struct{}) []T {
	switch c := c.(type) {
	case Literal[T]:
	case Variable[T]:
		if _, ok := seen[c.Name]; !ok {
			seen[c.Name] = struct{}{}
			out = append(out, c.Name)
		}
	case Not[T]:
		out = collectVariables(c.Term, out, seen)
	case And[T]:
		for _, term := range c.Terms {
			out = collectVariables(term, out, seen)
		}
	case Or[T]:
		for _, term := range c.Terms {
			out = collectVariables(term, out, seen)
		}
	}
	return out
}
