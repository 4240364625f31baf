// Package searcher hosts the model search: it loads the catalog, builds the
// inverted index and answers queries against an immutable snapshot that is
// swapped atomically on every reload.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenModelDB/model-search/internal/catalog"
	"github.com/OpenModelDB/model-search/internal/search/condition"
	"github.com/OpenModelDB/model-search/internal/search/index"
	"github.com/OpenModelDB/model-search/internal/search/tagselect"
	"github.com/OpenModelDB/model-search/internal/searcher/parser"
	apperrors "github.com/OpenModelDB/model-search/pkg/errors"
	"github.com/OpenModelDB/model-search/pkg/logger"
	"github.com/OpenModelDB/model-search/pkg/metrics"
	"github.com/OpenModelDB/model-search/pkg/tracing"
)

// Snapshot is one fully built generation of the search state. It is never
// modified after it is published.
type Snapshot struct {
	Catalog    *catalog.Catalog
	Index      *index.Index[string, string]
	Categories []tagselect.Category[string]
	Version    string
	BuiltAt    time.Time
	Problems   int
}

// Options configures a Service.
type Options struct {
	DataDir      string
	Weights      catalog.Weights
	PrefixWeight float64
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

type Service struct {
	opts     Options
	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
	load     func(ctx context.Context, dir string) (*catalog.Catalog, error)
	logger   *slog.Logger
}

func NewService(opts Options) *Service {
	return &Service{
		opts:   opts,
		load:   catalog.LoadDir,
		logger: slog.Default().With("component", "search-service"),
	}
}

// Request is one search as issued by a client.
type Request struct {
	Plan   *parser.QueryPlan
	Limit  int
	Offset int
	// All keeps models that match the tag filter but none of the query
	// tokens. Without text tokens every filtered model is returned anyway.
	All bool
}

// Hit is one ranked model in a SearchResult.
type Hit struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Authors      []string `json:"authors"`
	Architecture string   `json:"architecture"`
	Scale        int      `json:"scale"`
	Tags         []string `json:"tags"`
	Score        float64  `json:"score"`
	PrefixScore  float64  `json:"prefix_score,omitempty"`
}

type SearchResult struct {
	Query     string   `json:"query"`
	Tokens    []string `json:"tokens"`
	Tags      []string `json:"tags"`
	Version   string   `json:"version"`
	Condition string   `json:"condition"`
	TotalHits int      `json:"total_hits"`
	Offset    int      `json:"offset"`
	Results   []Hit    `json:"results"`
}

// Snapshot returns the active snapshot, or nil before the first reload.
func (s *Service) Snapshot() *Snapshot {
	return s.current.Load()
}

// Ready reports whether a snapshot is being served.
func (s *Service) Ready(context.Context) error {
	if s.current.Load() == nil {
		return apperrors.ErrIndexNotReady
	}
	return nil
}

// Version returns the catalog version being served, or "".
func (s *Service) Version() string {
	if snap := s.current.Load(); snap != nil {
		return snap.Version
	}
	return ""
}

// Reload loads the catalog from disk and publishes a new snapshot. If the
// files have not changed since the active snapshot it is kept. Concurrent
// reloads are rejected with ErrReloadInFlight. A reload whose ctx is done
// before the new snapshot is published leaves the active one in place.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	if !s.reloadMu.TryLock() {
		return nil, apperrors.ErrReloadInFlight
	}
	defer s.reloadMu.Unlock()

	start := time.Now()
	cat, err := s.load(ctx, s.opts.DataDir)
	if err != nil {
		s.recordReload("failed")
		return nil, fmt.Errorf("loading catalog from %s: %w", s.opts.DataDir, err)
	}
	if cur := s.current.Load(); cur != nil && cur.Version == cat.Version {
		s.recordReload("unchanged")
		s.logger.Info("catalog unchanged", "version", cat.Version)
		return cur, nil
	}
	snap := s.build(cat)
	if err := ctx.Err(); err != nil {
		s.recordReload("failed")
		return nil, fmt.Errorf("reload abandoned before publishing %s: %w", cat.Version, err)
	}
	s.publish(snap)
	s.recordReload("success")
	s.logger.Info("search index rebuilt",
		"version", snap.Version,
		"models", snap.Index.Len(),
		"terms", snap.Index.Stats().Terms,
		"problems", snap.Problems,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}

// Install builds a snapshot from an already loaded catalog and publishes it.
func (s *Service) Install(cat *catalog.Catalog) *Snapshot {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	snap := s.build(cat)
	s.publish(snap)
	return snap
}

func (s *Service) build(cat *catalog.Catalog) *Snapshot {
	snap := &Snapshot{
		Catalog:    cat,
		Index:      index.Build(catalog.Corpus(cat, s.opts.Weights)),
		Categories: cat.FilterCategories(),
		Version:    cat.Version,
		BuiltAt:    time.Now().UTC(),
	}
	if err := catalog.Validate(cat); err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			snap.Problems = verr.Count()
		}
		s.logger.Warn("catalog has consistency problems", "count", snap.Problems, "problems", err.Error())
	}
	return snap
}

func (s *Service) publish(snap *Snapshot) {
	s.current.Store(snap)

	if m := s.opts.Metrics; m != nil {
		st := snap.Index.Stats()
		m.CatalogModels.Set(float64(st.Entries))
		m.IndexTerms.Set(float64(st.Terms))
		m.IndexPostings.Set(float64(st.Postings))
	}
}

func (s *Service) recordReload(status string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CatalogReloadsTotal.WithLabelValues(status).Inc()
	}
}

// Search runs req against the active snapshot: the tags become a filter
// condition, the tokens are scored exactly, the prefix pass adds
// PrefixWeight times its score to the ranking key, and the page
// [Offset, Offset+Limit) of the ranked list is returned.
func (s *Service) Search(ctx context.Context, req Request) (*SearchResult, error) {
	if req.Plan == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "missing query plan")
	}
	if req.Limit < 1 || req.Offset < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid page limit=%d offset=%d", req.Limit, req.Offset)
	}
	snap := s.current.Load()
	if snap == nil {
		s.recordQuery("error")
		return nil, apperrors.ErrIndexNotReady
	}

	ctx, root := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		root.End()
		root.Log(ctx, logger.FromContext(ctx))
	}()

	_, span := tracing.StartChildSpan(ctx, "compile")
	pred := condition.Compile(tagselect.TagCondition(req.Plan.Selection(), snap.Categories))
	span.SetAttr("condition", pred.String())
	span.End()

	_, span = tracing.StartChildSpan(ctx, "retrieve")
	candidates := snap.Index.Retrieve(pred, req.Plan.Tokens)
	var prefix map[string]float64
	if s.opts.PrefixWeight > 0 && len(req.Plan.Tokens) > 0 {
		prefix = snap.Index.PrefixScores(req.Plan.Tokens)
	}
	span.SetAttr("candidates", len(candidates))
	span.End()

	_, span = tracing.StartChildSpan(ctx, "rank")
	keep := len(req.Plan.Tokens) == 0 || req.All
	ranked := make([]index.Result[string], 0, len(candidates))
	for _, c := range candidates {
		key := c.Score + s.opts.PrefixWeight*prefix[c.ID]
		if key == 0 && !keep {
			continue
		}
		ranked = append(ranked, index.Result[string]{ID: c.ID, Score: key})
	}
	page := index.Top(ranked, req.Offset+req.Limit)
	if req.Offset < len(page) {
		page = page[req.Offset:]
	} else {
		page = page[:0]
	}
	span.SetAttr("total_hits", len(ranked))
	span.End()

	exact := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		exact[c.ID] = c.Score
	}
	hits := make([]Hit, 0, len(page))
	for _, r := range page {
		m, _ := snap.Catalog.Model(r.ID)
		hits = append(hits, Hit{
			ID:           r.ID,
			Name:         m.Name,
			Authors:      m.Authors,
			Architecture: m.Architecture,
			Scale:        m.Scale,
			Tags:         m.Tags,
			Score:        exact[r.ID],
			PrefixScore:  prefix[r.ID],
		})
	}

	result := &SearchResult{
		Query:     req.Plan.RawQuery,
		Tokens:    req.Plan.Tokens,
		Tags:      req.Plan.Tags,
		Version:   snap.Version,
		Condition: pred.String(),
		TotalHits: len(ranked),
		Offset:    req.Offset,
		Results:   hits,
	}
	if result.TotalHits == 0 {
		s.recordQuery("zero_result")
	} else {
		s.recordQuery("hit")
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.SearchResultsCount.Observe(float64(result.TotalHits))
	}
	return result, nil
}

func (s *Service) recordQuery(resultType string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

// Model returns one model of the active catalog.
func (s *Service) Model(id string) (catalog.Model, error) {
	snap := s.current.Load()
	if snap == nil {
		return catalog.Model{}, apperrors.ErrIndexNotReady
	}
	m, ok := snap.Catalog.Model(id)
	if !ok {
		return catalog.Model{}, fmt.Errorf("model %q: %w", id, apperrors.ErrModelNotFound)
	}
	return m, nil
}

// UserModels returns a user and the IDs of the models they authored.
func (s *Service) UserModels(id string) (catalog.User, []string, error) {
	snap := s.current.Load()
	if snap == nil {
		return catalog.User{}, nil, apperrors.ErrIndexNotReady
	}
	u, ok := snap.Catalog.Users[id]
	if !ok {
		return catalog.User{}, nil, fmt.Errorf("user %q: %w", id, apperrors.ErrUserNotFound)
	}
	return u, snap.Catalog.ModelsByAuthor(id), nil
}

// Categories returns the filter categories of the active catalog together
// with the tag metadata they reference.
func (s *Service) Categories() ([]tagselect.Category[string], map[string]catalog.Tag, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, nil, apperrors.ErrIndexNotReady
	}
	return snap.Categories, snap.Catalog.Tags, nil
}
