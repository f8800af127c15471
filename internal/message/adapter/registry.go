// Package adapter holds the delivery adapter registry. The set of adapters
// is fixed at startup in an explicit registration table; selection is a
// linear scan over CanHandle, never reflection or runtime lookup by
// configuration string.
package adapter

import (
	"context"
	"fmt"

	"meridian/internal/message/models"
)

// Adapter delivers a message over one or more channels.
type Adapter interface {
	// Name identifies the adapter in logs and errors.
	Name() string

	// CanHandle reports whether the adapter serves the channel code.
	CanHandle(channel string) bool

	// Deliver attempts delivery of the message. Errors are retryable from
	// the caller's point of view; permanently failing adapters should be
	// unregistered, not return errors forever.
	Deliver(ctx context.Context, msg models.Message) error
}

// Registry is the static registration table built at startup.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds the table. Order matters: the first adapter whose
// CanHandle accepts a channel wins.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	for i, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("adapter at position %d is nil", i)
		}
	}
	return &Registry{adapters: adapters}, nil
}

// For returns the first adapter handling the channel.
func (r *Registry) For(channel string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.CanHandle(channel) {
			return a, true
		}
	}
	return nil, false
}

// Supports reports whether any adapter handles the channel.
func (r *Registry) Supports(channel string) bool {
	_, ok := r.For(channel)
	return ok
}

// Names lists the registered adapters in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}
