package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/OpenModelDB/model-search/internal/search/condition"
	"github.com/OpenModelDB/model-search/internal/search/index"
	"github.com/OpenModelDB/model-search/internal/search/tagselect"
	apperrors "github.com/OpenModelDB/model-search/pkg/errors"
)

var fixture = map[string]string{
	"tags.json": `{
		"anime": {"name": "Anime", "description": "Drawn content"},
		"photo": {"name": "Photo", "description": "Real photographs"},
		"arch:esrgan": {"name": "ESRGAN", "description": ""},
		"arch:compact": {"name": "Compact", "description": ""}
	}`,
	"tag-categories.json": `{
		"architecture": {"name": "Architecture", "order": 0, "exclusive": true, "tags": ["arch:esrgan", "arch:compact"]},
		"content": {"name": "Content", "order": 1, "tags": ["anime", "photo"]}
	}`,
	"users.json": `{
		"kim": {"name": "Kim"},
		"sam": {"name": "Sam the Trainer"}
	}`,
	"models/4x-UltraSharp.json": `{
		"name": "UltraSharp",
		"author": "kim",
		"license": "CC-BY-NC-SA-4.0",
		"tags": ["photo", "arch:esrgan"],
		"description": "A sharp general purpose photo upscaler.",
		"date": "2021-09-02",
		"architecture": "ESRGAN",
		"size": ["64nf", "23nb"],
		"scale": 4,
		"inputChannels": 3,
		"outputChannels": 3,
		"resources": [{"type": "pth", "size": 66961958, "sha256": null, "urls": ["https://example.com/4x-UltraSharp.pth"]}],
		"pretrainedModelG": {"description": "RealESRGAN x4plus"}
	}`,
	"models/2x-AniScale.json": `{
		"name": "AniScale",
		"author": ["sam", "kim"],
		"license": "CC0-1.0",
		"tags": ["anime", "arch:compact"],
		"description": "Anime line art.",
		"date": "2022-01-15",
		"architecture": "Compact",
		"size": null,
		"scale": 2,
		"inputChannels": 3,
		"outputChannels": 3,
		"resources": [],
		"trainingBatchSize": "8",
		"pretrainedModelG": "4x-UltraSharp"
	}`,
}

func writeCatalog(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, modelsDir), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func withFile(name, body string) map[string]string {
	out := make(map[string]string, len(fixture)+1)
	for k, v := range fixture {
		out[k] = v
	}
	out[name] = body
	return out
}

func TestLoadDir(t *testing.T) {
	cat, err := LoadDir(context.Background(), writeCatalog(t, fixture))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if got, want := cat.ModelIDs(), []string{"2x-AniScale", "4x-UltraSharp"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ModelIDs = %v, want %v", got, want)
	}
	m, ok := cat.Model("2x-AniScale")
	if !ok {
		t.Fatal("2x-AniScale missing")
	}
	if m.ID != "2x-AniScale" || !reflect.DeepEqual(m.Authors, Authors{"sam", "kim"}) {
		t.Errorf("model = %+v", m)
	}
	if m.PretrainedModelG == nil || m.PretrainedModelG.ID != "4x-UltraSharp" {
		t.Errorf("PretrainedModelG = %+v", m.PretrainedModelG)
	}
	sharp, _ := cat.Model("4x-UltraSharp")
	if sharp.PretrainedModelG.Description != "RealESRGAN x4plus" || *sharp.Resources[0].Size != 66961958 {
		t.Errorf("model = %+v", sharp)
	}
	if got := cat.ModelsByAuthor("kim"); !reflect.DeepEqual(got, []string{"2x-AniScale", "4x-UltraSharp"}) {
		t.Errorf("ModelsByAuthor(kim) = %v", got)
	}
	if len(cat.Version) != 16 {
		t.Errorf("Version = %q, want 16 hex digits", cat.Version)
	}
	if err := Validate(cat); err != nil {
		t.Errorf("fixture should validate: %v", err)
	}
}

func TestLoadDirVersionTracksContent(t *testing.T) {
	a, err := LoadDir(context.Background(), writeCatalog(t, fixture))
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadDir(context.Background(), writeCatalog(t, fixture))
	if err != nil {
		t.Fatal(err)
	}
	if a.Version != b.Version {
		t.Errorf("same files gave versions %s and %s", a.Version, b.Version)
	}
	changed := withFile("users.json", `{"kim": {"name": "Kim"}, "sam": {"name": "Sam"}}`)
	c, err := LoadDir(context.Background(), writeCatalog(t, changed))
	if err != nil {
		t.Fatal(err)
	}
	if c.Version == a.Version {
		t.Error("changed content kept the same version")
	}
}

func TestLoadDirErrors(t *testing.T) {
	t.Run("malformed model", func(t *testing.T) {
		_, err := LoadDir(context.Background(), writeCatalog(t, withFile("models/1x-Broken.json", `{"name": `)))
		if !errors.Is(err, apperrors.ErrInvalidCatalog) || !strings.Contains(err.Error(), "1x-Broken") {
			t.Errorf("err = %v, want ErrInvalidCatalog naming the file", err)
		}
	})
	t.Run("bad author type", func(t *testing.T) {
		_, err := LoadDir(context.Background(), writeCatalog(t, withFile("models/1x-Odd.json", `{"name": "Odd", "author": 7}`)))
		if !errors.Is(err, apperrors.ErrInvalidCatalog) {
			t.Errorf("err = %v, want ErrInvalidCatalog", err)
		}
	})
	t.Run("missing static file", func(t *testing.T) {
		files := withFile("models/1x-Extra.json", `{"name": "Extra"}`)
		delete(files, "users.json")
		if _, err := LoadDir(context.Background(), writeCatalog(t, files)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want not-exist", err)
		}
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := LoadDir(ctx, writeCatalog(t, fixture)); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestValidateReportsProblems(t *testing.T) {
	files := withFile("models/8x-Ghost.json", `{"name": "", "author": "nobody", "tags": ["vintage"], "scale": 0}`)
	files["tag-categories.json"] = `{
		"architecture": {"name": "Architecture", "tags": ["arch:esrgan", "arch:compact"]},
		"content": {"name": "Content", "tags": ["anime", "photo", "arch:esrgan", "missing"]}
	}`
	cat, err := LoadDir(context.Background(), writeCatalog(t, files))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	err = Validate(cat)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate = %v, want *ValidationError", err)
	}
	for _, key := range []string{
		"models/8x-Ghost.name",
		"models/8x-Ghost.author",
		"models/8x-Ghost.tags",
		"models/8x-Ghost.scale",
		"tag-categories/content.tags",
	} {
		if len(verr.Problems[key]) == 0 {
			t.Errorf("no problem reported for %s (got %v)", key, verr.Problems)
		}
	}
	if verr.Count() != 6 {
		t.Errorf("Count = %d, want 6: %v", verr.Count(), verr)
	}
	if !strings.HasPrefix(verr.Error(), "models/8x-Ghost.author: unknown user \"nobody\"") {
		t.Errorf("Error() not sorted by key: %s", verr.Error())
	}
}

func TestAuthorsJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Authors
	}{
		{`"kim"`, Authors{"kim"}},
		{`["kim","sam"]`, Authors{"kim", "sam"}},
	} {
		var a Authors
		if err := json.Unmarshal([]byte(tc.in), &a); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tc.in, err)
		}
		if !reflect.DeepEqual(a, tc.want) {
			t.Errorf("Unmarshal(%s) = %v", tc.in, a)
		}
		out, _ := json.Marshal(a)
		if string(out) != tc.in {
			t.Errorf("Marshal = %s, want %s", out, tc.in)
		}
	}
}

func TestFilterCategories(t *testing.T) {
	cat, err := LoadDir(context.Background(), writeCatalog(t, fixture))
	if err != nil {
		t.Fatal(err)
	}
	want := []tagselect.Category[string]{
		{ID: "architecture", Name: "Architecture", Tags: []string{"arch:esrgan", "arch:compact"}, Exclusive: true},
		{ID: "content", Name: "Content", Tags: []string{"anime", "photo"}},
	}
	if got := cat.FilterCategories(); !reflect.DeepEqual(got, want) {
		t.Errorf("FilterCategories = %+v, want %+v", got, want)
	}
}

func TestCorpus(t *testing.T) {
	cat, err := LoadDir(context.Background(), writeCatalog(t, fixture))
	if err != nil {
		t.Fatal(err)
	}
	corpus := Corpus(cat, DefaultWeights())
	if len(corpus) != 2 || corpus[0].ID != "2x-AniScale" {
		t.Fatalf("corpus order = %v", corpus)
	}
	if !corpus[0].Tags.Has("anime") || corpus[0].Tags.Has("photo") {
		t.Errorf("tags = %v", corpus[0].Tags)
	}

	x := index.Build(corpus)
	if w := x.Weight("2x", "2x-AniScale"); w != 10 {
		t.Errorf("weight of id token = %v, want 10", w)
	}
	if w := x.Weight("trainer", "2x-AniScale"); w != 6 {
		t.Errorf("weight of author display name = %v, want 6", w)
	}
	if w := x.Weight("kim", "4x-UltraSharp"); w != 6 {
		t.Errorf("author id and identical display name should count once, got %v", w)
	}
	if w := x.Weight("esrgan", "4x-UltraSharp"); w != 4 {
		t.Errorf("weight of architecture = %v, want 4", w)
	}
	if w := x.Weight("upscaler", "4x-UltraSharp"); w != 1 {
		t.Errorf("weight of description = %v, want 1", w)
	}

	photo := condition.Compile(condition.Var("photo"))
	results := x.Retrieve(photo, []string{"ultrasharp"})
	if len(results) != 1 || results[0].ID != "4x-UltraSharp" || results[0].Score != 20 {
		t.Errorf("Retrieve = %v, want 4x-UltraSharp scored 20", results)
	}
}
