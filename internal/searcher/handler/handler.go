// Package handler exposes the model search over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/OpenModelDB/model-search/internal/analytics"
	"github.com/OpenModelDB/model-search/internal/catalog"
	"github.com/OpenModelDB/model-search/internal/search/condition"
	"github.com/OpenModelDB/model-search/internal/search/tagselect"
	"github.com/OpenModelDB/model-search/internal/searcher"
	"github.com/OpenModelDB/model-search/internal/searcher/cache"
	"github.com/OpenModelDB/model-search/internal/searcher/parser"
	apperrors "github.com/OpenModelDB/model-search/pkg/errors"
	"github.com/OpenModelDB/model-search/pkg/logger"
	"github.com/OpenModelDB/model-search/pkg/metrics"
)

// SearchService is satisfied by *searcher.Service.
type SearchService interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.SearchResult, error)
	Reload(ctx context.Context) (*searcher.Snapshot, error)
	Version() string
	Model(id string) (catalog.Model, error)
	UserModels(id string) (catalog.User, []string, error)
	Categories() ([]tagselect.Category[string], map[string]catalog.Tag, error)
}

// ResultCache is satisfied by *cache.QueryCache.
type ResultCache interface {
	GetOrCompute(ctx context.Context, version string, req searcher.Request, compute func() (*searcher.SearchResult, error)) (*searcher.SearchResult, bool, error)
	Invalidate(ctx context.Context) (int64, error)
	Stats(ctx context.Context) cache.Stats
}

// Tracker is satisfied by *analytics.Collector.
type Tracker interface {
	Track(event any)
}

type Options struct {
	DefaultLimit int
	MaxResults   int
	// Cache, Tracker and Metrics are optional.
	Cache   ResultCache
	Tracker Tracker
	Metrics *metrics.Metrics
}

type Handler struct {
	service      SearchService
	cache        ResultCache
	tracker      Tracker
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(service SearchService, opts Options) *Handler {
	return &Handler{
		service:      service,
		cache:        opts.Cache,
		tracker:      opts.Tracker,
		metrics:      opts.Metrics,
		defaultLimit: opts.DefaultLimit,
		maxResults:   opts.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/models/{id}", h.Model)
	mux.HandleFunc("GET /api/v1/users/{id}", h.User)
	mux.HandleFunc("GET /api/v1/tags", h.Tags)
	mux.HandleFunc("GET /api/v1/tags/toggle", h.ToggleTag)
	mux.HandleFunc("POST /api/v1/catalog/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search handles GET /api/v1/search?q=&tag=&limit=&offset=&all=. The tag
// parameter may be repeated; "tag:<id>" words inside q are treated the same.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	limit := h.defaultLimit
	if v := params.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, h.maxResults)
	}
	offset := 0
	if v := params.Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must be a non-negative integer"))
			return
		}
		offset = parsed
	}
	all := false
	if v := params.Get("all"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "all must be a boolean"))
			return
		}
		all = parsed
	}

	plan := parser.Parse(params.Get("q"), params["tag"])
	req := searcher.Request{Plan: plan, Limit: limit, Offset: offset, All: all}

	var (
		result   *searcher.SearchResult
		err      error
		cacheHit bool
	)
	cacheStatus := "disabled"
	if version := h.service.Version(); h.cache != nil && version != "" {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, version, req, func() (*searcher.SearchResult, error) {
			return h.service.Search(ctx, req)
		})
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.service.Search(ctx, req)
	}
	if err != nil {
		log.Error("search failed", "query", plan.RawQuery, "tags", plan.Tags, "error", err)
		h.writeError(w, r, err)
		return
	}

	latency := time.Since(start)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	}
	log.Info("search completed",
		"query", plan.RawQuery,
		"tags", plan.Tags,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", latency.Milliseconds(),
	)
	if h.tracker != nil {
		eventType := analytics.EventSearch
		if result.TotalHits == 0 {
			eventType = analytics.EventZeroResult
		}
		h.tracker.Track(analytics.SearchEvent{
			Type:      eventType,
			Query:     plan.RawQuery,
			Tokens:    plan.Tokens,
			Tags:      plan.Tags,
			TotalHits: result.TotalHits,
			Returned:  len(result.Results),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Version:   result.Version,
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(ctx),
		})
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Model(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

type userResponse struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	u, models, err := h.service.UserModels(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if models == nil {
		models = []string{}
	}
	h.writeJSON(w, http.StatusOK, userResponse{ID: id, Name: u.Name, Models: models})
}

type tagsResponse struct {
	Categories []tagselect.Category[string] `json:"categories"`
	Tags       map[string]catalog.Tag       `json:"tags"`
}

func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	categories, tags, err := h.service.Categories()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tagsResponse{Categories: categories, Tags: tags})
}

type toggleResponse struct {
	Selected  []string `json:"selected"`
	Condition string   `json:"condition"`
}

// ToggleTag handles GET /api/v1/tags/toggle?selected=&tag=, applying one
// click in the filter panel to the current selection. Picking a tag in an
// exclusive category replaces the other picks of that category.
func (h *Handler) ToggleTag(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'tag' is required"))
		return
	}
	categories, _, err := h.service.Categories()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sel := tagselect.NewSelection(r.URL.Query()["selected"]...).Toggle(tag, categories)
	selected := sel.Tags()
	if selected == nil {
		selected = []string{}
	}
	pred := condition.Compile(tagselect.TagCondition(sel, categories))
	h.writeJSON(w, http.StatusOK, toggleResponse{Selected: selected, Condition: pred.String()})
}

type reloadResponse struct {
	Version  string    `json:"version"`
	Models   int       `json:"models"`
	Problems int       `json:"problems"`
	BuiltAt  time.Time `json:"built_at"`
	Changed  bool      `json:"changed"`
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	previous := h.service.Version()
	snap, err := h.service.Reload(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("catalog reload failed", "error", err)
		h.trackReload("failed", nil)
		h.writeError(w, r, err)
		return
	}
	changed := snap.Version != previous
	if changed {
		h.trackReload("success", snap)
	}
	h.writeJSON(w, http.StatusOK, reloadResponse{
		Version:  snap.Version,
		Models:   snap.Index.Len(),
		Problems: snap.Problems,
		BuiltAt:  snap.BuiltAt,
		Changed:  changed,
	})
}

func (h *Handler) trackReload(status string, snap *searcher.Snapshot) {
	if h.tracker == nil {
		return
	}
	event := analytics.CatalogEvent{Type: analytics.EventCatalogReload, Status: status, Timestamp: time.Now().UTC()}
	if snap != nil {
		event.Version = snap.Version
		event.Models = snap.Index.Len()
		event.Problems = snap.Problems
	}
	h.tracker.Track(event)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrCacheUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Details of internal errors are
// logged, not returned.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("internal error", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
