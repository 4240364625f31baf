package tagselect

import (
	"reflect"
	"slices"
	"testing"

	"github.com/OpenModelDB/model-search/internal/search/condition"
)

var testCategories = []Category[string]{
	{ID: "content", Name: "Content", Tags: []string{"anime", "photo", "cartoon"}},
	{ID: "scale", Name: "Scale", Tags: []string{"1x", "2x", "4x"}, Exclusive: true},
	{ID: "arch", Name: "Architecture", Tags: []string{"esrgan", "swinir"}},
}

var testEntries = []condition.Set[string]{
	condition.NewSet("anime", "4x", "esrgan"),
	condition.NewSet("photo", "2x", "swinir"),
	condition.NewSet("cartoon", "anime", "1x", "esrgan"),
	condition.NewSet("photo", "4x"),
	condition.NewSet[string](),
	condition.NewSet("unknown", "anime"),
}

func matches(sel Selection[string], tags condition.Set[string]) bool {
	return condition.Compile(TagCondition(sel, testCategories)).Evaluate(tags)
}

func TestTagConditionEmptySelectionMatchesEverything(t *testing.T) {
	c := condition.Compile(TagCondition(Selection[string]{}, testCategories))
	if v, ok := c.Constant(); !ok || !v {
		t.Errorf("empty selection compiled to %s, want true", c)
	}
	for _, e := range testEntries {
		if !c.Evaluate(e) {
			t.Errorf("entry %v rejected by empty selection", e)
		}
	}
	if !condition.Compile(TagCondition[string](Selection[string]{}, nil)).Evaluate(nil) {
		t.Error("empty selection without categories should match")
	}
}

func TestTagConditionShape(t *testing.T) {
	sel := NewSelection("photo", "anime", "4x")
	got := TagCondition(sel, testCategories)
	want := condition.All(
		condition.Any(condition.Var("anime"), condition.Var("photo")),
		condition.Any(condition.Var("4x")),
		condition.True[string](),
	)
	if !condition.Equal(got, want) {
		t.Errorf("TagCondition = %s, want %s", got, want)
	}
}

func TestTagConditionSemantics(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection[string]
		want []bool
	}{
		{"one tag", NewSelection("anime"), []bool{true, false, true, false, false, true}},
		{"or within category", NewSelection("anime", "photo"), []bool{true, true, true, true, false, true}},
		{"and across categories", NewSelection("photo", "4x"), []bool{false, false, false, true, false, false}},
		{"three categories", NewSelection("anime", "4x", "esrgan"), []bool{true, false, false, false, false, false}},
		{"exclusive category still ors", NewSelection("1x", "4x"), []bool{true, false, true, true, false, false}},
		{"uncategorized tag never matches", NewSelection("unknown"), []bool{false, false, false, false, false, false}},
		{"uncategorized tag with category pick", NewSelection("anime", "unknown"), []bool{false, false, false, false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, e := range testEntries {
				if got := matches(tt.sel, e); got != tt.want[i] {
					t.Errorf("entry %d %v: got %v, want %v", i, e, got, tt.want[i])
				}
			}
		})
	}
}

func TestTagConditionMonotonicWithinCategory(t *testing.T) {
	base := []Selection[string]{
		NewSelection("4x"),
		NewSelection("esrgan", "2x"),
		NewSelection("anime", "swinir"),
	}
	for _, sel := range base {
		for _, cat := range testCategories {
			if !slices.ContainsFunc(cat.Tags, sel.Has) {
				continue
			}
			for _, tag := range cat.Tags {
				grown := sel.with(tag)
				for _, e := range testEntries {
					if matches(sel, e) && !matches(grown, e) {
						t.Errorf("adding %q to %v made entry %v stop matching", tag, sel.Tags(), e)
					}
				}
			}
		}
	}
}

func TestTagConditionUncategorizedIsFalse(t *testing.T) {
	cats := []Category[string]{{ID: "style", Tags: []string{"anime", "photo"}}}
	c := condition.Compile(TagCondition(NewSelection("loose"), cats))
	if v, ok := c.Constant(); !ok || v {
		t.Errorf("selection {loose} compiled to %s, want false", c)
	}
	if c.Evaluate(condition.NewSet("loose", "anime")) {
		t.Error("entry carrying the uncategorized tag matched")
	}
}

func TestToggle(t *testing.T) {
	var sel Selection[string]
	sel = sel.Toggle("anime", testCategories)
	sel = sel.Toggle("photo", testCategories)
	if got, want := sel.Tags(), []string{"anime", "photo"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Tags() = %v, want %v", got, want)
	}

	sel = sel.Toggle("2x", testCategories)
	sel = sel.Toggle("4x", testCategories)
	if sel.Has("2x") || !sel.Has("4x") {
		t.Errorf("exclusive category should keep only the last pick, got %v", sel.Tags())
	}
	if !sel.Has("anime") || !sel.Has("photo") {
		t.Errorf("toggling in an exclusive category dropped other categories: %v", sel.Tags())
	}

	sel = sel.Toggle("anime", testCategories)
	if sel.Has("anime") {
		t.Error("toggling a picked tag should switch it off")
	}
	if got, want := sel.Len(), 2; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestToggleDoesNotMutateReceiver(t *testing.T) {
	a := NewSelection("anime")
	b := a.Toggle("photo", testCategories)
	if a.Has("photo") {
		t.Error("Toggle mutated its receiver")
	}
	if !b.Has("anime") || !b.Has("photo") {
		t.Errorf("unexpected result %v", b.Tags())
	}
}
