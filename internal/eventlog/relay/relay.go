// Package relay fans committed events out of the log into Kafka so systems
// outside this process (reporting, SIEM, downstream sagas) can consume them
// without access to the event store.
//
// Delivery is best effort: the projection inside the process is the
// consistency-critical consumer, the relay is not. A circuit breaker guards
// the producer; while open, events are logged and dropped instead of backing
// up the category subscription.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"meridian/internal/eventlog"
	"meridian/pkg/platform/circuit"
)

// Relay tails one category and produces every recorded event to a topic.
// Records are keyed by stream name, so per-entity order survives
// partitioning.
type Relay struct {
	log      eventlog.Client
	producer *kgo.Client
	category eventlog.Category
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger

	// dropped counts shed events while the circuit is open; every
	// probeEvery-th one probes the broker. Only the delivery goroutine
	// touches it.
	dropped uint64
}

const probeEvery = 50

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithTopic overrides the default topic (the category prefix).
func WithTopic(topic string) Option {
	return func(r *Relay) {
		if topic != "" {
			r.topic = topic
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

// New creates a relay for one category.
func New(log eventlog.Client, producer *kgo.Client, category eventlog.Category, opts ...Option) (*Relay, error) {
	if log == nil {
		return nil, fmt.Errorf("event log client is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	r := &Relay{
		log:      log,
		producer: producer,
		category: category,
		topic:    category.Prefix(),
		breaker:  circuit.New("relay-" + category.Prefix()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Topic returns the destination topic.
func (r *Relay) Topic() string {
	return r.topic
}

// Run subscribes to the category and relays until the context ends or the
// subscription itself fails. Producer failures never kill the run; the
// breaker sheds load instead.
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.log.SubscribeCategory(ctx, r.category.Pattern(), r.forward)
	if err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.category.Pattern(), err)
	}
	defer sub.Close()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sub.Err():
		return fmt.Errorf("relay subscription %s: %w", r.category.Pattern(), err)
	}
}

func (r *Relay) forward(ctx context.Context, ev eventlog.RecordedEvent) error {
	if r.breaker.IsOpen() {
		r.dropped++
		if r.dropped%probeEvery != 0 {
			r.logger.DebugContext(ctx, "relay circuit open, event dropped",
				"topic", r.topic, "event_type", ev.EventType)
			return nil
		}
		// Probe the broker; consecutive successes close the circuit.
		if err := r.produce(ctx, ev); err != nil {
			return nil
		}
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "relay circuit closed", "topic", r.topic)
		}
		return nil
	}

	if err := r.produce(ctx, ev); err != nil {
		_, change := r.breaker.RecordFailure()
		if change.Opened {
			r.logger.ErrorContext(ctx, "relay circuit opened, shedding events",
				"topic", r.topic, "error", err)
		} else {
			r.logger.WarnContext(ctx, "relay produce failed",
				"topic", r.topic, "event_type", ev.EventType, "error", err)
		}
		return nil
	}
	r.breaker.RecordSuccess()
	return nil
}

func (r *Relay) produce(ctx context.Context, ev eventlog.RecordedEvent) error {
	value, err := json.Marshal(ev.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(ev.Stream),
		Value: value,
	}
	return r.producer.ProduceSync(ctx, record).FirstErr()
}
