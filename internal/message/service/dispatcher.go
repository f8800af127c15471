package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"meridian/internal/es/projection"
	"meridian/internal/message/models"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/requestcontext"
)

// Dispatcher periodically sweeps the projection for deliverable messages
// and runs them through Process. Tenants are configured statically; the
// projection cache does not enumerate them.
type Dispatcher struct {
	svc      *Service
	tenants  []domain.Tenant
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithDispatchInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.interval = d
		}
	}
}

func WithDispatchBatch(n int) DispatcherOption {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.batch = n
		}
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		dp.logger = logger
	}
}

// NewDispatcher creates a dispatcher over the given tenants. Invalid tenant
// names are rejected up front.
func NewDispatcher(svc *Service, tenants []string, opts ...DispatcherOption) (*Dispatcher, error) {
	if svc == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "message service is required")
	}
	parsed := make([]domain.Tenant, 0, len(tenants))
	for _, raw := range tenants {
		t, err := domain.ParseTenant(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, t)
	}

	dp := &Dispatcher{
		svc:      svc,
		tenants:  parsed,
		interval: 10 * time.Second,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(dp)
	}
	return dp, nil
}

// Run sweeps until the context is cancelled. Per-message failures are
// logged and skipped; only cancellation stops the loop.
func (dp *Dispatcher) Run(ctx context.Context) error {
	if len(dp.tenants) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(dp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, tenant := range dp.tenants {
				dp.sweep(ctx, tenant)
			}
		}
	}
}

func (dp *Dispatcher) sweep(ctx context.Context, tenant domain.Tenant) {
	actor := domain.Actor{UserID: "system", Tenant: tenant, Username: "dispatcher"}
	now := requestcontext.Now(ctx)

	for _, status := range []models.Status{models.StatusPending, models.StatusRetrying, models.StatusScheduled} {
		items, _, err := dp.svc.List(ctx, tenant, projection.ListQuery{
			Filters: []projection.Filter{{Field: "status", Value: string(status), Exact: true}},
			Size:    dp.batch,
		})
		if err != nil {
			// A projection still catching up is expected early in the
			// process lifetime.
			if dErrors.HasCode(err, dErrors.CodeUnavailable) {
				dp.logger.DebugContext(ctx, "dispatch skipped, projection catching up", "tenant", tenant)
				return
			}
			dp.logger.WarnContext(ctx, "dispatch sweep failed", "tenant", tenant, "status", status, "error", err)
			continue
		}

		for _, msg := range items {
			if !dp.due(msg, now) {
				continue
			}
			if _, err := dp.svc.Process(ctx, actor, msg.ID, nil); err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return
				}
				dp.logger.WarnContext(ctx, "dispatch failed", "tenant", tenant, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// due gates scheduled and retrying messages on their target time. Pending
// messages are always due.
func (dp *Dispatcher) due(msg models.Message, now time.Time) bool {
	if msg.ScheduledAt == nil {
		return true
	}
	return !msg.ScheduledAt.After(now)
}
