package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meridian/internal/es/metrics"
	"meridian/internal/eventlog"
)

// Projection is what the manager drives: the store's upsert handler plus its
// readiness flag. Store[S] satisfies it for every view type.
type Projection interface {
	Category() eventlog.Category
	Apply(ctx context.Context, ev eventlog.RecordedEvent) error
	Ready() bool
	MarkReady(ready bool)
}

const defaultRestartBackoff = 5 * time.Second

// Manager owns the lifecycle of one category subscription: initial catch-up,
// live tailing, and restart after failure. Restart always re-subscribes from
// the beginning of the category; there is no partial-resume checkpoint, the
// projection is rebuilt in full every time.
type Manager struct {
	projection Projection
	log        eventlog.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	backoff    time.Duration

	mu      sync.Mutex
	sub     eventlog.Subscription
	cancel  context.CancelFunc
	running bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerMetrics wires the shared entity store metrics.
func WithManagerMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithRestartBackoff overrides the pause before a failed subscription is
// re-issued.
func WithRestartBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.backoff = d
		}
	}
}

// NewManager creates a manager for one projection.
func NewManager(projection Projection, log eventlog.Client, opts ...ManagerOption) (*Manager, error) {
	if projection == nil {
		return nil, fmt.Errorf("projection is required")
	}
	if log == nil {
		return nil, fmt.Errorf("event log client is required")
	}
	m := &Manager{
		projection: projection,
		log:        log,
		logger:     slog.Default(),
		backoff:    defaultRestartBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run subscribes and supervises until the context is cancelled. On
// subscription failure it unsubscribes cleanly, waits the backoff, and
// re-issues the catch-up subscribe from scratch.
func (m *Manager) Run(ctx context.Context) error {
	for {
		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		category := m.projection.Category().Prefix()
		m.metrics.IncProjectionRestarts(category)
		m.logger.ErrorContext(ctx, "projection subscription failed, restarting",
			"category", category, "backoff", m.backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff):
		}
	}
}

// runOnce performs one full subscribe-catchup-tail cycle and returns when
// the subscription dies or the context ends.
func (m *Manager) runOnce(ctx context.Context) error {
	category := m.projection.Category()
	m.projection.MarkReady(false)
	m.metrics.SetProjectionReady(category.Prefix(), false)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	sub, err := m.log.SubscribeCategory(subCtx, category.Pattern(), m.projection.Apply)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", category.Pattern(), err)
	}
	defer sub.Close()

	m.mu.Lock()
	m.sub = sub
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sub = nil
		m.running = false
		m.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sub.Err():
		return err
	case <-sub.CaughtUp():
	}

	m.projection.MarkReady(true)
	m.metrics.SetProjectionReady(category.Prefix(), true)
	m.metrics.ObserveCatchup(category.Prefix(), time.Since(started).Seconds())
	m.logger.InfoContext(ctx, "projection caught up, serving reads",
		"category", category.Prefix(), "took", time.Since(started))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sub.Err():
		return err
	}
}

// Healthy reports whether the subscription is running and the store has
// completed catch-up. Both must hold before list reads are served.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return running && m.projection.Ready()
}

// Stop tears the current subscription down. Run's supervision loop, if still
// active, will re-subscribe; cancel Run's context to stop for good.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	if m.sub != nil {
		_ = m.sub.Close()
	}
}
