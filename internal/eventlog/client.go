// Package eventlog defines the append-only log boundary the entity store is
// built on: stream naming, the immutable event envelope, and the client
// interfaces implemented by the memory and postgres backends.
package eventlog

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client,SnapshotSource,Subscription

import (
	"context"
	"encoding/json"
)

// RecordedEvent is an envelope as read back from the log, with the positions
// the backend assigned at append time. StreamSequence orders events within
// one entity stream; GlobalSequence orders the category for catch-up.
type RecordedEvent struct {
	Envelope
	Stream         string
	StreamSequence uint64
	GlobalSequence uint64
}

// Handler consumes one recorded event during a category subscription. A
// non-nil error stops delivery; the subscription surfaces it via Err.
type Handler func(ctx context.Context, ev RecordedEvent) error

// Subscription is a live category subscription handle.
type Subscription interface {
	// CaughtUp is closed once the initial catch-up read has been fully
	// delivered and the subscription has switched to live tailing.
	CaughtUp() <-chan struct{}

	// Err yields the terminal delivery error, if any. The channel is
	// buffered; a subscription that stops cleanly never sends.
	Err() <-chan error

	// Close unsubscribes and releases the delivery goroutine.
	Close() error
}

// Client is the event log boundary. Events for a single entity are appended
// and read in order because each entity owns an exclusive stream; no ordering
// holds across streams.
type Client interface {
	// AppendEvents atomically appends the events to the stream. Either all
	// events land or none do.
	AppendEvents(ctx context.Context, stream string, events []Envelope, meta StreamMetadata) error

	// ReadEvents returns the stream's events in append order. A stream that
	// was never written returns sentinel.ErrNotFound.
	ReadEvents(ctx context.Context, stream string) ([]RecordedEvent, error)

	// SubscribeCategory delivers every event of the category pattern to the
	// handler, one at a time, full catch-up first and then live.
	SubscribeCategory(ctx context.Context, pattern string, handler Handler) (Subscription, error)
}

// SnapshotSource returns the latest materialized state for a stream without
// a full replay by the caller. Absence is sentinel.ErrNotFound.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context, stream string) (json.RawMessage, error)
}
