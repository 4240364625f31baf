package analytics

import "time"

type EventType string

const (
	EventSearch        EventType = "search"
	EventZeroResult    EventType = "zero_result"
	EventCatalogReload EventType = "catalog_reload"
)

type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Tokens    []string  `json:"tokens"`
	Tags      []string  `json:"tags"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// CatalogEvent records the outcome of a catalog reload on one instance.
type CatalogEvent struct {
	Type      EventType `json:"type"`
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Models    int       `json:"models"`
	Problems  int       `json:"problems"`
	Timestamp time.Time `json:"timestamp"`
}

// envelope is decoded first to find out which event a message carries.
type envelope struct {
	Type EventType `json:"type"`
}
