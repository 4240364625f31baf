package searcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/OpenModelDB/model-search/pkg/errors"
	"github.com/OpenModelDB/model-search/pkg/kafka"
	"github.com/OpenModelDB/model-search/pkg/resilience"
)

// CatalogUpdated is the message published on the catalog-updated topic when
// the model database on disk changes.
type CatalogUpdated struct {
	// Version is the content digest of the new catalog, if the publisher
	// knows it. Instances already serving it skip the reload.
	Version   string    `json:"version,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reloader is satisfied by *Service.
type Reloader interface {
	Reload(ctx context.Context) (*Snapshot, error)
	Version() string
}

type WatcherOptions struct {
	Retry resilience.RetryConfig
	// Timeout bounds each reload attempt. Zero disables it.
	Timeout time.Duration
	// OnReload, if set, is called with every outcome: snap is nil on failure.
	OnReload func(snap *Snapshot, err error)
}

// Watcher rebuilds the search index when a CatalogUpdated message arrives.
type Watcher struct {
	reloader Reloader
	opts     WatcherOptions
	logger   *slog.Logger
}

func NewWatcher(reloader Reloader, opts WatcherOptions) *Watcher {
	return &Watcher{
		reloader: reloader,
		opts:     opts,
		logger:   slog.Default().With("component", "catalog-watcher"),
	}
}

// Handler returns the Kafka message handler for the catalog-updated topic.
func (w *Watcher) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[CatalogUpdated](value)
		if err != nil {
			w.logger.Error("skipping malformed catalog update", "error", err)
			return nil
		}
		return w.Apply(ctx, event)
	}
}

// Apply reloads the catalog unless event names the version already served.
// Transient failures are retried with backoff; a catalog that cannot be
// decoded is not retried since it will not fix itself. ErrReloadInFlight is
// transient too: an attempt that timed out keeps the reload lock until its
// loader sees the cancellation, and it never publishes after that, so the
// next attempt either reloads or finds the catalog unchanged.
func (w *Watcher) Apply(ctx context.Context, event CatalogUpdated) error {
	if event.Version != "" && event.Version == w.reloader.Version() {
		w.logger.Debug("catalog already at announced version", "version", event.Version)
		return nil
	}
	var snap *Snapshot
	err := resilience.Retry(ctx, "catalog-reload", w.opts.Retry, func() error {
		return resilience.WithTimeout(ctx, w.opts.Timeout, "catalog-reload", func(ctx context.Context) error {
			s, err := w.reloader.Reload(ctx)
			if errors.Is(err, apperrors.ErrInvalidCatalog) {
				return resilience.Permanent(err)
			}
			if err != nil {
				return err
			}
			snap = s
			return nil
		})
	})
	if w.opts.OnReload != nil {
		w.opts.OnReload(snap, err)
	}
	if err != nil {
		w.logger.Error("catalog reload failed", "source", event.Source, "error", err)
		return err
	}
	w.logger.Info("catalog reloaded from update", "source", event.Source, "version", snap.Version)
	return nil
}
