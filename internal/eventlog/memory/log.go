// Package memory implements the event log boundary in process. It is the
// development and unit-test backend; the postgres backend is the durable one.
package memory

import (
	"context"
	"fmt"
	"sync"

	"meridian/internal/eventlog"
	"meridian/pkg/platform/sentinel"
)

// Log is an in-memory append-only event log with category fan-out. Streams
// are exclusive per (tenant, entity); the global append order across streams
// backs category catch-up subscriptions.
type Log struct {
	mu      sync.RWMutex
	streams map[string][]eventlog.RecordedEvent
	order   []eventlog.RecordedEvent
	subs    map[int]*subscription
	nextSub int
}

// NewLog creates an empty in-memory log.
func NewLog() *Log {
	return &Log{
		streams: make(map[string][]eventlog.RecordedEvent),
		subs:    make(map[int]*subscription),
	}
}

// AppendEvents appends the events to the stream as one atomic unit and wakes
// live subscribers. Positions are assigned under the log lock, so per-stream
// order is exactly append order.
func (l *Log) AppendEvents(ctx context.Context, stream string, events []eventlog.Envelope, _ eventlog.StreamMetadata) error {
	if stream == "" {
		return fmt.Errorf("stream name is required")
	}
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	existing := l.streams[stream]
	for i, ev := range events {
		rec := eventlog.RecordedEvent{
			Envelope:       ev,
			Stream:         stream,
			StreamSequence: uint64(len(existing) + i + 1),
			GlobalSequence: uint64(len(l.order) + 1),
		}
		l.order = append(l.order, rec)
		existing = append(existing, rec)
	}
	l.streams[stream] = existing
	subs := make([]*subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		s.wake()
	}
	return nil
}

// ReadEvents returns a copy of the stream in append order.
func (l *Log) ReadEvents(ctx context.Context, stream string) ([]eventlog.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	events, ok := l.streams[stream]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := make([]eventlog.RecordedEvent, len(events))
	copy(out, events)
	return out, nil
}

// SubscribeCategory starts a catch-up subscription over every stream whose
// category matches the pattern. Delivery is strictly one event at a time per
// subscription; a slow handler backs up only its own subscription.
func (l *Log) SubscribeCategory(ctx context.Context, pattern string, handler eventlog.Handler) (eventlog.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	prefix := eventlog.PatternPrefix(pattern)
	if prefix == "" {
		return nil, fmt.Errorf("category pattern is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		log:      l,
		prefix:   prefix,
		handler:  handler,
		ctx:      subCtx,
		cancel:   cancel,
		caughtUp: make(chan struct{}),
		errCh:    make(chan error, 1),
		notify:   make(chan struct{}, 1),
	}

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	s.id = id
	l.subs[id] = s
	l.mu.Unlock()

	go s.run()
	return s, nil
}

type subscription struct {
	log      *Log
	id       int
	prefix   string
	handler  eventlog.Handler
	ctx      context.Context
	cancel   context.CancelFunc
	caughtUp chan struct{}
	caughtMu sync.Once
	errCh    chan error
	notify   chan struct{}

	// pos indexes into log.order; only the delivery goroutine touches it.
	pos int
}

func (s *subscription) CaughtUp() <-chan struct{} { return s.caughtUp }
func (s *subscription) Err() <-chan error         { return s.errCh }

func (s *subscription) Close() error {
	s.cancel()
	s.log.mu.Lock()
	delete(s.log.subs, s.id)
	s.log.mu.Unlock()
	return nil
}

// wake nudges the delivery goroutine; the buffered channel collapses bursts.
func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer s.cancel()
	for {
		ev, ok := s.next()
		if ok {
			if err := s.handler(s.ctx, ev); err != nil {
				s.errCh <- err
				return
			}
			continue
		}
		s.markCaughtUp()
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		}
	}
}

// next returns the earliest undelivered event matching the category prefix.
func (s *subscription) next() (eventlog.RecordedEvent, bool) {
	s.log.mu.RLock()
	defer s.log.mu.RUnlock()
	for s.pos < len(s.log.order) {
		ev := s.log.order[s.pos]
		s.pos++
		if eventlog.CategoryOf(ev.Stream) == s.prefix {
			return ev, true
		}
	}
	return eventlog.RecordedEvent{}, false
}

func (s *subscription) markCaughtUp() {
	s.caughtMu.Do(func() { close(s.caughtUp) })
}
