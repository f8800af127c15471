// Package service orchestrates the message lifecycle: enqueueing, delivery,
// retries, and projection-backed queries. It owns the retry ceiling policy;
// the aggregate deliberately does not.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meridian/internal/es"
	"meridian/internal/es/projection"
	"meridian/internal/message/adapter"
	messagemetrics "meridian/internal/message/metrics"
	"meridian/internal/message/models"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/sentinel"
	"meridian/pkg/requestcontext"
)

// Repository is the message instantiation of the saga-aware repository.
type Repository interface {
	Get(ctx context.Context, actor domain.Actor, id domain.EntityID) (*models.Message, error)
	Save(ctx context.Context, actor domain.Actor, agg es.Aggregate[models.Message], saga *es.SagaContext) (*models.Message, error)
	Compensate(ctx context.Context, actor domain.Actor, id domain.EntityID, saga es.SagaContext) error
}

// Projection is the read side the list and query calls run against.
type Projection interface {
	Get(ctx context.Context, tenant domain.Tenant, id domain.EntityID) (*models.Message, error)
	List(ctx context.Context, tenant domain.Tenant, query projection.ListQuery) ([]models.Message, projection.PageMeta, error)
}

// Service wires the message repository, projection, and delivery adapters.
type Service struct {
	repo       Repository
	projection Projection
	adapters   *adapter.Registry
	logger     *slog.Logger
	metrics    *messagemetrics.Metrics

	// maxRetries bounds MarkForRetry; 0 means unlimited.
	maxRetries int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *messagemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAdapters(registry *adapter.Registry) Option {
	return func(s *Service) {
		s.adapters = registry
	}
}

// WithMaxRetries sets the retry ceiling enforced by the service.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// New creates the message service.
func New(repo Repository, proj Projection, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if proj == nil {
		return nil, fmt.Errorf("message projection is required")
	}
	s := &Service{
		repo:       repo,
		projection: proj,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnqueueRequest carries the fields for a new message. ID is optional; an
// absent id gets a generated UUID.
type EnqueueRequest struct {
	ID            string
	Channel       string
	Recipient     string
	Subject       string
	Body          string
	CorrelationID string
	ScheduledAt   *time.Time
}

// Enqueue creates a message and drives it to pending, or scheduled when a
// target time is set. One save persists both the queued and the transition
// event.
func (s *Service) Enqueue(ctx context.Context, actor domain.Actor, req EnqueueRequest, saga *es.SagaContext) (*models.Message, error) {
	if s.adapters != nil && !s.adapters.Supports(req.Channel) {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "no adapter handles channel %q", req.Channel)
	}

	rawID := req.ID
	if rawID == "" {
		rawID = uuid.NewString()
	}
	id, err := domain.ParseEntityID(rawID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	agg, err := models.New(actor, models.CreateProps{
		ID:            id,
		Channel:       req.Channel,
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Body:          req.Body,
		CorrelationID: req.CorrelationID,
		ScheduledAt:   req.ScheduledAt,
	}, now)
	if err != nil {
		return nil, err
	}

	next := models.StatusPending
	if req.ScheduledAt != nil {
		next = models.StatusScheduled
	}
	if err := agg.UpdateStatus(actor, next, now); err != nil {
		return nil, err
	}

	state, err := s.repo.Save(ctx, actor, agg, saga)
	if err != nil {
		return nil, err
	}
	s.metrics.IncEnqueued()
	s.logger.InfoContext(ctx, "message enqueued",
		"message_id", state.ID, "tenant", state.Tenant, "channel", state.Channel, "status", state.Status)
	return state, nil
}

// UpdateStatus drives an existing message to the new status.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, id domain.EntityID, status models.Status, saga *es.SagaContext) (*models.Message, error) {
	agg, err := s.hydrate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := agg.UpdateStatus(actor, status, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	state, err := s.repo.Save(ctx, actor, agg, saga)
	if err != nil {
		return nil, err
	}
	if status == models.StatusSucceeded {
		s.metrics.IncDelivered()
	}
	if status == models.StatusFailed {
		s.metrics.IncFailed()
	}
	return state, nil
}

// MarkForRetry records a failed attempt and reschedules. The service
// enforces the retry ceiling: past it, the message is driven to failed
// instead and a conflict error tells the caller retries are exhausted.
func (s *Service) MarkForRetry(ctx context.Context, actor domain.Actor, id domain.EntityID, reason string, nextRetryAt *time.Time, saga *es.SagaContext) (*models.Message, error) {
	agg, err := s.hydrate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	if s.maxRetries > 0 && agg.State().RetryCount >= s.maxRetries {
		if err := agg.UpdateStatus(actor, models.StatusFailed, now); err != nil {
			return nil, err
		}
		if _, err := s.repo.Save(ctx, actor, agg, saga); err != nil {
			return nil, err
		}
		s.metrics.IncFailed()
		return nil, dErrors.Newf(dErrors.CodeConflict, "retry limit of %d reached", s.maxRetries)
	}

	if err := agg.MarkForRetry(actor, reason, nextRetryAt, now); err != nil {
		return nil, err
	}
	state, err := s.repo.Save(ctx, actor, agg, saga)
	if err != nil {
		return nil, err
	}
	s.metrics.IncRetried()
	s.logger.InfoContext(ctx, "message marked for retry",
		"message_id", id, "retry_count", state.RetryCount, "reason", reason)
	return state, nil
}

// Cancel drives the message to cancelled.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id domain.EntityID, saga *es.SagaContext) (*models.Message, error) {
	agg, err := s.hydrate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if agg.State().Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "message is already terminal")
	}
	if err := agg.UpdateStatus(actor, models.StatusCancelled, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	return s.repo.Save(ctx, actor, agg, saga)
}

// Process runs one delivery attempt: processing → adapter → success, or
// retry on adapter failure. The whole attempt is one saga step when a saga
// context is supplied.
func (s *Service) Process(ctx context.Context, actor domain.Actor, id domain.EntityID, saga *es.SagaContext) (*models.Message, error) {
	if s.adapters == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "no adapter registry configured")
	}
	agg, err := s.hydrate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	state := agg.State()
	if state.Status.IsTerminal() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "message is %s", state.Status)
	}
	adpt, ok := s.adapters.For(state.Channel)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "no adapter handles channel %q", state.Channel)
	}

	now := requestcontext.Now(ctx)
	if err := agg.UpdateStatus(actor, models.StatusProcessing, now); err != nil {
		return nil, err
	}

	if err := adpt.Deliver(ctx, state); err != nil {
		s.logger.WarnContext(ctx, "delivery attempt failed",
			"message_id", id, "adapter", adpt.Name(), "error", err)
		if err := agg.MarkForRetry(actor, err.Error(), nil, now); err != nil {
			return nil, err
		}
		s.metrics.IncRetried()
		return s.repo.Save(ctx, actor, agg, saga)
	}

	if err := agg.UpdateStatus(actor, models.StatusSucceeded, now); err != nil {
		return nil, err
	}
	state2, err := s.repo.Save(ctx, actor, agg, saga)
	if err != nil {
		return nil, err
	}
	s.metrics.IncDelivered()
	return state2, nil
}

// Get returns the latest persisted state of one message.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.EntityID) (*models.Message, error) {
	state, err := s.repo.Get(ctx, actor, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "message does not exist")
		}
		return nil, err
	}
	return state, nil
}

// List queries the projection. An unavailable projection is surfaced as
// such, never silently served from a replay.
func (s *Service) List(ctx context.Context, tenant domain.Tenant, query projection.ListQuery) ([]models.Message, projection.PageMeta, error) {
	items, meta, err := s.projection.List(ctx, tenant, query)
	if err != nil {
		if errors.Is(err, sentinel.ErrProjectionUnavailable) {
			return nil, projection.PageMeta{}, dErrors.New(dErrors.CodeUnavailable, "message projection is not ready")
		}
		return nil, projection.PageMeta{}, err
	}
	return items, meta, nil
}

// Compensate records the rollback of a prior saga step for this message.
func (s *Service) Compensate(ctx context.Context, actor domain.Actor, id domain.EntityID, saga es.SagaContext) error {
	return s.repo.Compensate(ctx, actor, id, saga)
}

func (s *Service) hydrate(ctx context.Context, actor domain.Actor, id domain.EntityID) (*models.Aggregate, error) {
	state, err := s.repo.Get(ctx, actor, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "message does not exist")
		}
		return nil, err
	}
	return models.Hydrate(*state), nil
}
