package index

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/OpenModelDB/model-search/internal/search/condition"
	"github.com/OpenModelDB/model-search/internal/search/tokenizer"
)

func entry(id string, tags []string, texts ...WeightedText) Entry[string, string] {
	return Entry[string, string]{ID: id, Tags: condition.NewSet(tags...), Texts: texts}
}

func scoresOf(results []Result[string]) map[string]float64 {
	out := make(map[string]float64, len(results))
	for _, r := range results {
		out[r.ID] = r.Score
	}
	return out
}

var matchAll = condition.Compile(condition.True[string]())

func scenarioCorpus() []Entry[string, string] {
	return []Entry[string, string]{
		entry("A", []string{"anime"}, WeightedText{"esrgan anime model", 8}),
		entry("B", []string{"photo"}, WeightedText{"esrgan photo model", 8}),
	}
}

func TestBuildAccumulatesAcrossFields(t *testing.T) {
	x := Build([]Entry[string, string]{
		entry("m", nil, WeightedText{"x", 3}, WeightedText{"x", 5}),
	})
	token := tokenizer.Tokenize("x")[0]
	got := scoresOf(x.Retrieve(matchAll, []string{token}))
	if got["m"] != 8 {
		t.Errorf("score = %v, want 8", got["m"])
	}
}

func TestBuildCountsRepeatedTokens(t *testing.T) {
	x := Build([]Entry[string, string]{
		entry("m", nil, WeightedText{"sharp sharp SHARP", 2}, WeightedText{"blurry", 7}),
	})
	if w := x.Weight("sharp", "m"); w != 6 {
		t.Errorf("Weight(sharp) = %v, want 6", w)
	}
	if w := x.Weight("blurry", "m"); w != 7 {
		t.Errorf("Weight(blurry) = %v, want 7", w)
	}
	if w := x.Weight("missing", "m"); w != 0 {
		t.Errorf("Weight(missing) = %v, want 0", w)
	}
	st := x.Stats()
	if st.Entries != 1 || st.Terms != 2 || st.Postings != 2 || st.Tokens != 4 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestBuildSkipsNonPositiveWeights(t *testing.T) {
	x := Build([]Entry[string, string]{
		entry("m", nil, WeightedText{"hidden", 0}, WeightedText{"negative", -1}, WeightedText{"shown", 1}),
	})
	if x.Stats().Terms != 1 {
		t.Errorf("Terms = %d, want 1", x.Stats().Terms)
	}
}

func TestEndToEndScenario(t *testing.T) {
	x := Build(scenarioCorpus())
	tokens := []string{"esrgan"}

	got := scoresOf(x.Retrieve(matchAll, tokens))
	want := map[string]float64{"A": 8, "B": 8}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Literal(true): got %v, want %v", got, want)
	}

	anime := condition.Compile(condition.Var("anime"))
	got = scoresOf(x.Retrieve(anime, tokens))
	want = map[string]float64{"A": 8}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Variable(anime): got %v, want %v", got, want)
	}
}

func TestTagFilterExcludesRegardlessOfTokens(t *testing.T) {
	x := Build(scenarioCorpus())
	anime := condition.Compile(condition.Var("anime"))
	for _, tokens := range [][]string{nil, {"photo"}, {"photo", "photo", "esrgan"}, {"nothing"}} {
		results := x.Retrieve(anime, tokens)
		if len(results) != 1 || results[0].ID != "A" {
			t.Errorf("tokens %v: got %v, want only A", tokens, results)
		}
	}
}

func TestEmptyQueryScoresZero(t *testing.T) {
	x := Build(scenarioCorpus())
	results := x.Retrieve(matchAll, nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Score != 0 {
			t.Errorf("%s scored %v with an empty query", r.ID, r.Score)
		}
	}
}

func TestRetrieveConstantFalse(t *testing.T) {
	x := Build(scenarioCorpus())
	if got := x.Retrieve(condition.Compile(condition.Any[string]()), []string{"esrgan"}); len(got) != 0 {
		t.Errorf("Or([]) retrieved %v", got)
	}
}

func TestRetrieveNilPredicate(t *testing.T) {
	x := Build(scenarioCorpus())
	if got := x.Retrieve(nil, nil); len(got) != 2 {
		t.Errorf("nil predicate retrieved %d entries, want 2", len(got))
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	corpus := make([]Entry[string, string], 0, 200)
	for i := 0; i < 200; i++ {
		corpus = append(corpus, entry(
			fmt.Sprintf("model-%03d", i),
			[]string{fmt.Sprintf("tag%d", i%5)},
			WeightedText{fmt.Sprintf("model %d esrgan tag%d", i, i%7), 4},
			WeightedText{"upscaler for photos", 1},
		))
	}
	x := Build(corpus)
	pred := condition.Compile(condition.Any(condition.Var("tag1"), condition.Var("tag3")))
	tokens := []string{"esrgan", "tag3", "photos"}
	first := x.Retrieve(pred, tokens)
	second := x.Retrieve(pred, tokens)
	if !reflect.DeepEqual(first, second) {
		t.Error("Retrieve returned different results for identical inputs")
	}
	if len(first) != 80 {
		t.Errorf("got %d candidates, want 80", len(first))
	}
}

func TestDuplicateIDsLastWriteWins(t *testing.T) {
	x := Build([]Entry[string, string]{
		entry("a", []string{"old"}, WeightedText{"first", 1}),
		entry("b", nil, WeightedText{"middle", 1}),
		entry("a", []string{"new"}, WeightedText{"second", 1}),
	})
	if got, want := x.IDs(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
	if x.Stats().Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", x.Stats().Duplicates)
	}
	e, ok := x.Entry("a")
	if !ok || !e.Tags.Has("new") || e.Tags.Has("old") {
		t.Errorf("Entry(a) = %+v, want the last definition", e)
	}
	if x.Weight("first", "a") != 0 || x.Weight("second", "a") != 1 {
		t.Error("postings of the replaced entry leaked into the index")
	}
}

func TestEntriesPreserveCorpusOrder(t *testing.T) {
	ids := []string{"zeta", "alpha", "mid"}
	corpus := make([]Entry[string, string], 0, len(ids))
	for _, id := range ids {
		corpus = append(corpus, entry(id, nil, WeightedText{id, 1}))
	}
	x := Build(corpus)
	entries := x.Entries()
	for i, e := range entries {
		if e.ID != ids[i] {
			t.Errorf("Entries()[%d] = %s, want %s", i, e.ID, ids[i])
		}
	}
	if x.Len() != 3 {
		t.Errorf("Len() = %d, want 3", x.Len())
	}
	if _, ok := x.Entry("missing"); ok {
		t.Error("Entry(missing) reported found")
	}
}

func TestBuildCopiesCorpus(t *testing.T) {
	tags := condition.NewSet("anime")
	texts := []WeightedText{{"esrgan", 1}}
	x := Build([]Entry[string, string]{{ID: "a", Tags: tags, Texts: texts}})
	tags["photo"] = struct{}{}
	texts[0].Text = "changed"
	e, _ := x.Entry("a")
	if e.Tags.Has("photo") || e.Texts[0].Text != "esrgan" {
		t.Error("index shares mutable state with its corpus")
	}
}

func TestPrefixScores(t *testing.T) {
	x := Build([]Entry[string, string]{
		entry("sharp", nil, WeightedText{"UltraSharp", 10}, WeightedText{"ultra", 1}),
		entry("mix", nil, WeightedText{"ultramix ultramix", 2}),
		entry("other", nil, WeightedText{"ult", 5}),
	})
	got := x.PrefixScores([]string{"ultra"})
	want := map[string]float64{"sharp": 10, "mix": 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PrefixScores = %v, want %v", got, want)
	}
	exact := scoresOf(x.Retrieve(matchAll, []string{"ultra"}))
	if exact["sharp"] != 1 || exact["mix"] != 0 {
		t.Errorf("prefix pass leaked into exact scores: %v", exact)
	}
	if len(x.PrefixScores([]string{""})) != 0 {
		t.Error("empty token should not match every term")
	}
}

func BenchmarkRetrieve(b *testing.B) {
	corpus := make([]Entry[string, string], 0, 5000)
	for i := 0; i < 5000; i++ {
		corpus = append(corpus, entry(
			fmt.Sprintf("model-%d", i),
			[]string{fmt.Sprintf("tag%d", i%20), "esrgan"},
			WeightedText{fmt.Sprintf("%dx model number %d", 1<<(i%4), i), 10},
			WeightedText{"a general purpose upscaling model trained on photos and anime", 1},
		))
	}
	x := Build(corpus)
	pred := condition.Compile(condition.All(condition.Any(condition.Var("tag3"), condition.Var("tag7")), condition.Var("esrgan")))
	tokens := tokenizer.Tokenize("4x anime model")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = x.Retrieve(pred, tokens)
	}
}

func BenchmarkBuild(b *testing.B) {
	corpus := make([]Entry[string, string], 0, 1000)
	for i := 0; i < 1000; i++ {
		corpus = append(corpus, entry(
			fmt.Sprintf("model-%d", i),
			[]string{"esrgan"},
			WeightedText{fmt.Sprintf("4x model number %d", i), 10},
			WeightedText{"a general purpose upscaling model trained on photos and anime", 1},
		))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Build(corpus)
	}
}
