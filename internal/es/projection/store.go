package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"meridian/internal/eventlog"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/sentinel"
)

// Store holds the latest denormalized state per (tenant, entity) for one
// aggregate category. It refuses to serve reads until the manager finished
// catch-up: serving a half-built projection would silently return partial
// data, which is worse than an explicit unavailable error. There is no slow
// replay fallback.
//
// Exactly one writer role mutates the cache (the subscription's Apply); any
// number of callers may read concurrently.
type Store[S any] struct {
	category eventlog.Category
	cache    Cache
	ready    atomic.Bool
	logger   *slog.Logger
}

// StoreOption configures a Store.
type StoreOption[S any] func(*Store[S])

// WithStoreLogger sets the store logger.
func WithStoreLogger[S any](logger *slog.Logger) StoreOption[S] {
	return func(s *Store[S]) {
		s.logger = logger
	}
}

// NewStore creates a projection store over the given cache.
func NewStore[S any](category eventlog.Category, cache Cache, opts ...StoreOption[S]) (*Store[S], error) {
	if cache == nil {
		return nil, fmt.Errorf("projection cache is required")
	}
	s := &Store[S]{category: category, cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Category returns the aggregate category this store projects.
func (s *Store[S]) Category() eventlog.Category {
	return s.category
}

// Ready reports whether catch-up has completed.
func (s *Store[S]) Ready() bool {
	return s.ready.Load()
}

// MarkReady flips the readiness flag; only the manager calls this.
func (s *Store[S]) MarkReady(ready bool) {
	s.ready.Store(ready)
}

// Apply upserts one event's post-transition state into the cache. The
// payload already carries the full entity snapshot, so last write for a key
// wins and no merge logic exists. Deletion events remove the entry instead.
// Compensation events and payload-less events are skipped.
func (s *Store[S]) Apply(ctx context.Context, ev eventlog.RecordedEvent) error {
	tenant, id, err := s.category.ParseStreamName(ev.Stream)
	if err != nil {
		// Foreign stream delivered by a sloppy backend; skip, don't poison
		// the subscription.
		s.logger.WarnContext(ctx, "projection skipping event from unparseable stream",
			"stream", ev.Stream, "event_type", ev.EventType)
		return nil
	}

	if isDeletion(ev.EventType) {
		if err := s.cache.Delete(ctx, tenant, id.String()); err != nil {
			return fmt.Errorf("projection delete %s/%s: %w", tenant, id, err)
		}
		return nil
	}
	if ev.Saga != nil && ev.Saga.IsCompensation {
		return nil
	}
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := s.cache.Write(ctx, tenant, id.String(), ev.Payload); err != nil {
		return fmt.Errorf("projection upsert %s/%s: %w", tenant, id, err)
	}
	return nil
}

// isDeletion matches the "<aggregateType>.deleted.v<N>" event type
// convention.
func isDeletion(eventType string) bool {
	return strings.Contains(eventType, ".deleted.")
}

// Get returns the projected state for one entity.
func (s *Store[S]) Get(ctx context.Context, tenant domain.Tenant, id domain.EntityID) (*S, error) {
	if !s.Ready() {
		return nil, sentinel.ErrProjectionUnavailable
	}
	raw, err := s.cache.GetOne(ctx, tenant, id.String())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "projection read failed")
	}
	var state S
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "projection record corrupt")
	}
	return &state, nil
}

// List filters, sorts, and paginates the tenant's projection. It operates
// purely against the cache; event streams are never replayed per query.
func (s *Store[S]) List(ctx context.Context, tenant domain.Tenant, query ListQuery) ([]S, PageMeta, error) {
	if !s.Ready() {
		return nil, PageMeta{}, sentinel.ErrProjectionUnavailable
	}
	query = query.normalized()

	raw, err := s.cache.GetAllValues(ctx, tenant)
	if err != nil {
		return nil, PageMeta{}, dErrors.Wrap(err, dErrors.CodeInternal, "projection list failed")
	}

	records := make([]record[S], 0, len(raw))
	for _, value := range raw {
		var rec record[S]
		if err := json.Unmarshal(value, &rec.state); err != nil {
			s.logger.WarnContext(ctx, "projection skipping corrupt record", "tenant", tenant, "error", err)
			continue
		}
		if err := json.Unmarshal(value, &rec.fields); err != nil {
			continue
		}
		if !query.matches(rec.fields) {
			continue
		}
		records = append(records, rec)
	}

	sortRecords(records, query.OrderBy, query.Descending)

	meta := newPageMeta(len(records), query.Page, query.Size)
	start := (query.Page - 1) * query.Size
	if start >= len(records) {
		return []S{}, meta, nil
	}
	end := min(start+query.Size, len(records))

	page := make([]S, 0, end-start)
	for _, rec := range records[start:end] {
		page = append(page, rec.state)
	}
	return page, meta, nil
}

// record keeps the typed state and the raw field map side by side so filter
// and sort see JSON field names while callers get the typed view back.
type record[S any] struct {
	state  S
	fields map[string]any
}
