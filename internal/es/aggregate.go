// Package es is the event-sourced, saga-aware entity store core. Concrete
// business modules instantiate the generic Repository with their own state
// type and aggregate; this package owns the algorithm, they own stream
// derivation and event naming.
package es

import (
	"meridian/internal/eventlog"
	"meridian/pkg/domain"
)

// Aggregate is the in-memory, event-emitting representation of one entity.
// State() returns the full current state; every emitted event carries that
// state as payload so projections can upsert without merge logic.
type Aggregate[S any] interface {
	AggregateID() domain.EntityID
	Tenant() domain.Tenant
	State() S
	UncommittedEvents() []eventlog.Envelope
	Commit()
}

// Root is the embeddable uncommitted-event buffer. Record appends, Commit
// clears; nothing else touches the buffer. Events already handed out via
// UncommittedEvents are never re-returned after a Commit, which is what makes
// "committed exactly once" hold.
type Root struct {
	uncommitted []eventlog.Envelope
}

// Record buffers a domain event until the next successful save.
func (r *Root) Record(ev eventlog.Envelope) {
	r.uncommitted = append(r.uncommitted, ev)
}

// UncommittedEvents returns the buffered events in emission order. The
// returned slice is a copy; callers cannot reorder the buffer.
func (r *Root) UncommittedEvents() []eventlog.Envelope {
	out := make([]eventlog.Envelope, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// Commit empties the buffer. Called by the repository only after the log
// acknowledged the append.
func (r *Root) Commit() {
	r.uncommitted = nil
}

// HasUncommitted reports whether any events await persistence.
func (r *Root) HasUncommitted() bool {
	return len(r.uncommitted) > 0
}
