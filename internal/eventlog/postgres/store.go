// Package postgres implements the event log boundary on PostgreSQL. Appends
// are transactional per stream; category subscriptions tail the global
// sequence with a poll loop.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meridian/internal/eventlog"
	"meridian/pkg/platform/sentinel"
)

// Schema creates the append-only events table. Idempotent; run at startup
// and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	global_seq   BIGSERIAL PRIMARY KEY,
	stream       TEXT        NOT NULL,
	stream_seq   BIGINT      NOT NULL,
	category     TEXT        NOT NULL,
	event_id     UUID        NOT NULL,
	event_type   TEXT        NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	aggregate_id TEXT        NOT NULL,
	user_id      TEXT        NOT NULL DEFAULT '',
	tenant       TEXT        NOT NULL DEFAULT '',
	tenant_id    TEXT        NOT NULL DEFAULT '',
	username     TEXT        NOT NULL DEFAULT '',
	payload      JSONB,
	saga         JSONB,
	metadata     JSONB,
	UNIQUE (stream, stream_seq)
);
CREATE INDEX IF NOT EXISTS events_category_idx ON events (category, global_seq);
`

const defaultPollInterval = 250 * time.Millisecond

// Store is a PostgreSQL-backed event log client.
type Store struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval overrides how often category subscriptions poll for new
// events. Mostly for tests.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates a PostgreSQL event log client.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	s := &Store{pool: pool, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureSchema applies the events table DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// AppendEvents appends all events to the stream in one transaction. An
// advisory lock on the stream serializes concurrent appenders so stream
// sequence numbers stay dense and ordered.
func (s *Store) AppendEvents(ctx context.Context, stream string, events []eventlog.Envelope, meta eventlog.StreamMetadata) error {
	if stream == "" {
		return fmt.Errorf("stream name is required")
	}
	if len(events) == 0 {
		return nil
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal stream metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, stream); err != nil {
		return fmt.Errorf("lock stream %s: %w", stream, err)
	}

	var last uint64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(stream_seq), 0) FROM events WHERE stream = $1`, stream,
	).Scan(&last); err != nil {
		return fmt.Errorf("read stream head %s: %w", stream, err)
	}

	category := eventlog.CategoryOf(stream)
	for i, ev := range events {
		var saga []byte
		if ev.Saga != nil {
			if saga, err = json.Marshal(ev.Saga); err != nil {
				return fmt.Errorf("marshal saga metadata: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO events (stream, stream_seq, category, event_id, event_type,
				occurred_at, aggregate_id, user_id, tenant, tenant_id, username,
				payload, saga, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			stream, last+uint64(i)+1, category, ev.EventID, ev.EventType,
			ev.OccurredAt, ev.AggregateID, ev.UserID, ev.Tenant, ev.TenantID,
			ev.Username, []byte(ev.Payload), saga, metaJSON,
		)
		if err != nil {
			return fmt.Errorf("append to stream %s: %w", stream, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append to %s: %w", stream, err)
	}
	return nil
}

// ReadEvents returns the stream's events in append order.
func (s *Store) ReadEvents(ctx context.Context, stream string) ([]eventlog.RecordedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT global_seq, stream, stream_seq, event_id, event_type, occurred_at,
			aggregate_id, user_id, tenant, tenant_id, username, payload, saga
		FROM events WHERE stream = $1 ORDER BY stream_seq`, stream)
	if err != nil {
		return nil, fmt.Errorf("query stream %s: %w", stream, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return events, nil
}

// SubscribeCategory tails the category's global sequence. Catch-up drains
// everything already appended, then the subscription polls for new events.
func (s *Store) SubscribeCategory(ctx context.Context, pattern string, handler eventlog.Handler) (eventlog.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	category := eventlog.PatternPrefix(pattern)
	if category == "" {
		return nil, fmt.Errorf("category pattern is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		store:    s,
		category: category,
		handler:  handler,
		ctx:      subCtx,
		cancel:   cancel,
		caughtUp: make(chan struct{}),
		errCh:    make(chan error, 1),
	}
	go sub.run()
	return sub, nil
}

type subscription struct {
	store    *Store
	category string
	handler  eventlog.Handler
	ctx      context.Context
	cancel   context.CancelFunc
	caughtUp chan struct{}
	errCh    chan error
	pos      uint64
	caught   bool
}

func (s *subscription) CaughtUp() <-chan struct{} { return s.caughtUp }
func (s *subscription) Err() <-chan error         { return s.errCh }

func (s *subscription) Close() error {
	s.cancel()
	return nil
}

func (s *subscription) run() {
	defer s.cancel()
	ticker := time.NewTicker(s.store.pollInterval)
	defer ticker.Stop()
	for {
		delivered, err := s.drain()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.errCh <- err
			return
		}
		if !delivered && !s.caught {
			s.caught = true
			close(s.caughtUp)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain delivers every event past the current position, one batch at a time.
func (s *subscription) drain() (delivered bool, err error) {
	for {
		rows, err := s.store.pool.Query(s.ctx, `
			SELECT global_seq, stream, stream_seq, event_id, event_type, occurred_at,
				aggregate_id, user_id, tenant, tenant_id, username, payload, saga
			FROM events WHERE category = $1 AND global_seq > $2
			ORDER BY global_seq LIMIT 256`, s.category, s.pos)
		if err != nil {
			return delivered, fmt.Errorf("poll category %s: %w", s.category, err)
		}
		batch, err := scanEvents(rows)
		rows.Close()
		if err != nil {
			return delivered, err
		}
		if len(batch) == 0 {
			return delivered, nil
		}
		for _, ev := range batch {
			if err := s.handler(s.ctx, ev); err != nil {
				return delivered, err
			}
			s.pos = ev.GlobalSequence
			delivered = true
		}
	}
}

func scanEvents(rows pgx.Rows) ([]eventlog.RecordedEvent, error) {
	var events []eventlog.RecordedEvent
	for rows.Next() {
		var (
			ev      eventlog.RecordedEvent
			payload []byte
			saga    []byte
		)
		err := rows.Scan(&ev.GlobalSequence, &ev.Stream, &ev.StreamSequence,
			&ev.EventID, &ev.EventType, &ev.OccurredAt, &ev.AggregateID,
			&ev.UserID, &ev.Tenant, &ev.TenantID, &ev.Username, &payload, &saga)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		if len(saga) > 0 {
			var meta eventlog.SagaMetadata
			if err := json.Unmarshal(saga, &meta); err != nil {
				return nil, fmt.Errorf("decode saga metadata: %w", err)
			}
			ev.Saga = &meta
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
