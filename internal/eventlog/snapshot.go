package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"meridian/pkg/platform/sentinel"
)

// LastEventSnapshotter materializes the latest state of a stream from its
// most recent state-carrying event. Every domain event here carries the full
// post-transition state as payload, so the newest payload is the snapshot and
// no fold over history is needed. Compensation events signal a rolled-back
// saga step, not a state transition, and are skipped.
type LastEventSnapshotter struct {
	client Client
}

// NewLastEventSnapshotter builds a snapshot source backed by the log client.
func NewLastEventSnapshotter(client Client) *LastEventSnapshotter {
	return &LastEventSnapshotter{client: client}
}

// LatestSnapshot returns the newest state payload on the stream, or
// sentinel.ErrNotFound when the stream does not exist or holds only
// compensation events.
func (s *LastEventSnapshotter) LatestSnapshot(ctx context.Context, stream string) (json.RawMessage, error) {
	events, err := s.client.ReadEvents(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, err)
	}
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Saga != nil && ev.Saga.IsCompensation {
			continue
		}
		if len(ev.Payload) == 0 {
			continue
		}
		return ev.Payload, nil
	}
	return nil, sentinel.ErrNotFound
}
