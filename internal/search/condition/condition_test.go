package condition

import (
	"math/rand"
	"reflect"
	"testing"
)

var domain = []string{"a", "b", "c", "d"}

// interpret evaluates c directly, without simplification or closures.
func interpret(c Condition[string], s Set[string]) bool {
	if c == nil {
		return true
	}
	switch c := c.(type) {
	case Literal[string]:
		return c.Value
	case Variable[string]:
		return s.Has(c.Name)
	case And[string]:
		for _, term := range c.Terms {
			if !interpret(term, s) {
				return false
			}
		}
		return true
	case Or[string]:
		for _, term := range c.Terms {
			if interpret(term, s) {
				return true
			}
		}
		return false
	case Not[string]:
		return !interpret(c.Term, s)
	}
	panic("unreachable")
}

// subsets returns all 2^len(domain) subsets of domain.
func subsets() []Set[string] {
	out := make([]Set[string], 0, 1<<len(domain))
	for mask := 0; mask < 1<<len(domain); mask++ {
		s := make(Set[string])
		for i, name := range domain {
			if mask&(1<<i) != 0 {
				s[name] = struct{}{}
			}
		}
		out = append(out, s)
	}
	return out
}

func leaves() []Condition[string] {
	out := []Condition[string]{True[string](), False[string]()}
	for _, name := range domain {
		out = append(out, Var(name))
	}
	return out
}

// grow returns every tree whose children come from prev: Not(x), and And/Or
// over lists of zero, one or two children.
func grow(prev []Condition[string]) []Condition[string] {
	out := make([]Condition[string], 0, len(prev)*len(prev)*2)
	out = append(out, prev...)
	out = append(out, All[string](), Any[string]())
	for _, x := range prev {
		out = append(out, Negate(x), All(x), Any(x))
	}
	for _, x := range prev {
		for _, y := range prev {
			out = append(out, All(x, y), Any(x, y))
		}
	}
	return out
}

func checkAgainstInterpreter(t *testing.T, c Condition[string], sets []Set[string]) {
	t.Helper()
	compiled := Compile(c)
	simplified := Simplify(c)
	for _, s := range sets {
		want := interpret(c, s)
		if got := compiled.Evaluate(s); got != want {
			t.Fatalf("Compile(%s).Evaluate(%v) = %v, want %v", c, s, got, want)
		}
		if got := interpret(simplified, s); got != want {
			t.Fatalf("Simplify(%s) = %s changes result on %v", c, simplified, s)
		}
	}
}

func TestCompileMatchesInterpreterExhaustive(t *testing.T) {
	sets := subsets()
	depth1 := grow(leaves())
	depth2 := grow(depth1)
	for _, c := range depth2 {
		checkAgainstInterpreter(t, c, sets)
	}
}

func randomTree(rng *rand.Rand, depth int) Condition[string] {
	if depth == 0 || rng.Intn(4) == 0 {
		l := leaves()
		return l[rng.Intn(len(l))]
	}
	switch rng.Intn(3) {
	case 0:
		return Negate(randomTree(rng, depth-1))
	case 1:
		terms := make([]Condition[string], rng.Intn(4))
		for i := range terms {
			terms[i] = randomTree(rng, depth-1)
		}
		return All(terms...)
	default:
		terms := make([]Condition[string], rng.Intn(4))
		for i := range terms {
			terms[i] = randomTree(rng, depth-1)
		}
		return Any(terms...)
	}
}

func TestCompileMatchesInterpreterDepthThree(t *testing.T) {
	sets := subsets()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		checkAgainstInterpreter(t, randomTree(rng, 3), sets)
	}
}

func TestEmptyConjunctionAndDisjunction(t *testing.T) {
	for _, s := range subsets() {
		if !Compile(All[string]()).Evaluate(s) {
			t.Errorf("And([]) evaluated false on %v", s)
		}
		if Compile(Any[string]()).Evaluate(s) {
			t.Errorf("Or([]) evaluated true on %v", s)
		}
	}
}

func TestEvaluateNilSet(t *testing.T) {
	if Compile(Var("a")).Evaluate(nil) {
		t.Error("Variable should not hold on a nil set")
	}
	if !Compile(Negate(Var("a"))).Evaluate(nil) {
		t.Error("Not(Variable) should hold on a nil set")
	}
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		name string
		in   Condition[string]
		want Condition[string]
	}{
		{"nil is true", nil, True[string]()},
		{"empty and", All[string](), True[string]()},
		{"empty or", Any[string](), False[string]()},
		{"and of trues", All(True[string](), All[string]()), True[string]()},
		{"false absorbs and", All(Var("a"), False[string]()), False[string]()},
		{"true absorbs or", Any(Var("a"), True[string]()), True[string]()},
		{"single term unwrapped", All(Var("a")), Var("a")},
		{"double negation", Negate(Negate(Var("a"))), Var("a")},
		{"negated literal", Negate(True[string]()), False[string]()},
		{
			"nested chains flattened",
			All(Var("a"), All(Var("b"), True[string](), All(Var("c")))),
			All(Var("a"), Var("b"), Var("c")),
		},
		{
			"mixed chains kept",
			All(Any(Var("a"), Var("b")), Var("c")),
			All(Any(Var("a"), Var("b")), Var("c")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Simplify(tt.in); !Equal(got, tt.want) {
				t.Errorf("Simplify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCompiledConstant(t *testing.T) {
	if v, ok := Compile(All(True[string](), Any(True[string]()))).Constant(); !ok || !v {
		t.Errorf("Constant() = %v, %v; want true, true", v, ok)
	}
	if v, ok := Compile(Any[string]()).Constant(); !ok || v {
		t.Errorf("Constant() = %v, %v; want false, true", v, ok)
	}
	if _, ok := Compile(Var("a")).Constant(); ok {
		t.Error("Variable should not be constant")
	}
}

func TestCompiledVariables(t *testing.T) {
	c := All(Any(Var("b"), Var("a")), Negate(Var("b")), Any(False[string](), Var("c")))
	got := Compile(c).Variables()
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Variables() = %v, want %v", got, want)
	}
}

func TestEqual(t *testing.T) {
	a := All(Any(Var("x"), Var("y")), Negate(Var("z")))
	b := All(Any(Var("x"), Var("y")), Negate(Var("z")))
	if !Equal(a, b) {
		t.Error("identical trees should be equal")
	}
	if Equal(a, All(Any(Var("y"), Var("x")), Negate(Var("z")))) {
		t.Error("term order should matter")
	}
	if Equal(All[string](), Any[string]()) {
		t.Error("And and Or should differ")
	}
	if !Equal[string](nil, nil) || Equal(nil, True[string]()) {
		t.Error("nil handling is wrong")
	}
}

func TestString(t *testing.T) {
	c := All(Any(Var("anime"), Var("photo")), Negate(Var("x")), True[string]())
	want := `and(or("anime", "photo"), not("x"), true)`
	if got := c.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	c := Compile(All(Any(Var("anime"), Var("cartoon")), Any(Var("4x")), Negate(Var("deprecated"))))
	s := NewSet("anime", "4x", "esrgan", "photo")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Evaluate(s)
	}
}

func TestTypeInferenceFromConditions(t *testing.T) {
	var c Condition[string] = Var("a")
	negated := Negate(c)
	both := All(c, negated)
	if got := Simplify(Negate(negated)); !Equal(got, c) {
		t.Errorf("Simplify(not(not(a))) = %s, want %s", got, c)
	}
	if Compile(both).Evaluate(NewSet("a")) {
		t.Errorf("%s held for {a}", both)
	}
	if got := Compile(negated).Variables(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Variables() = %v, want [a]", got)
	}
}
