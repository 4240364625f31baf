package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/OpenModelDB/model-search/pkg/errors"
)

const (
	tagsFile       = "tags.json"
	categoriesFile = "tag-categories.json"
	usersFile      = "users.json"
	modelsDir      = "models"

	loadConcurrency = 16
)

// LoadDir reads a catalog from dir. The three static files are required;
// models are read from dir/models/<id>.json concurrently. A file that cannot
// be decoded fails the whole load with an error wrapping
// apperrors.ErrInvalidCatalog.
func LoadDir(ctx context.Context, dir string) (*Catalog, error) {
	log := slog.Default().With("component", "catalog-loader", "dir", dir)

	entries, err := os.ReadDir(filepath.Join(dir, modelsDir))
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	var modelFiles []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		modelFiles = append(modelFiles, e.Name())
	}
	slices.Sort(modelFiles)

	var (
		tags       map[string]Tag
		categories map[string]TagCategory
		users      map[string]User
		rawStatic  [3][]byte
		models     = make([]Model, len(modelFiles))
		rawModels  = make([][]byte, len(modelFiles))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	g.Go(func() (err error) {
		rawStatic[0], err = readJSON(gctx, filepath.Join(dir, tagsFile), &tags)
		return err
	})
	g.Go(func() (err error) {
		rawStatic[1], err = readJSON(gctx, filepath.Join(dir, categoriesFile), &categories)
		return err
	})
	g.Go(func() (err error) {
		rawStatic[2], err = readJSON(gctx, filepath.Join(dir, usersFile), &users)
		return err
	})
	for i, name := range modelFiles {
		g.Go(func() (err error) {
			rawModels[i], err = readJSON(gctx, filepath.Join(dir, modelsDir, name), &models[i])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]Model, len(models))
	for i, name := range modelFiles {
		byID[strings.TrimSuffix(name, ".json")] = models[i]
	}
	if tags == nil {
		tags = map[string]Tag{}
	}
	if categories == nil {
		categories = map[string]TagCategory{}
	}
	if users == nil {
		users = map[string]User{}
	}

	version := digest(
		[]string{tagsFile, categoriesFile, usersFile},
		rawStatic[:],
		modelFiles,
		rawModels,
	)
	cat := New(byID, users, tags, categories, version)
	log.Info("catalog loaded",
		"models", len(cat.Models),
		"users", len(users),
		"tags", len(tags),
		"categories", len(categories),
		"version", version,
	)
	return cat, nil
}

func readJSON(ctx context.Context, path string, v any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", apperrors.ErrInvalidCatalog, path, err)
	}
	return data, nil
}

// digest hashes file names and contents in a fixed order so that the same
// files always produce the same version.
func digest(staticNames []string, static [][]byte, modelNames []string, models [][]byte) string {
	h := xxhash.New()
	write := func(name string, data []byte) {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})
	}
	for i, name := range staticNames {
		write(name, static[i])
	}
	for i, name := range modelNames {
		write(modelsDir+"/"+name, models[i])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
