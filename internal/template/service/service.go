// Package service manages the template lifecycle. It mirrors the message
// service but is plainer: templates have no delivery machinery, only
// create, update, delete, and the projection-backed reads.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"meridian/internal/es"
	"meridian/internal/es/projection"
	"meridian/internal/template/models"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/sentinel"
	"meridian/pkg/requestcontext"
)

// Repository is the template instantiation of the saga-aware repository.
type Repository interface {
	Get(ctx context.Context, actor domain.Actor, id domain.EntityID) (*models.Template, error)
	Save(ctx context.Context, actor domain.Actor, agg es.Aggregate[models.Template], saga *es.SagaContext) (*models.Template, error)
	Compensate(ctx context.Context, actor domain.Actor, id domain.EntityID, saga es.SagaContext) error
}

// Projection is the read side for template queries.
type Projection interface {
	Get(ctx context.Context, tenant domain.Tenant, id domain.EntityID) (*models.Template, error)
	List(ctx context.Context, tenant domain.Tenant, query projection.ListQuery) ([]models.Template, projection.PageMeta, error)
}

// Service wires the template repository and projection.
type Service struct {
	repo       Repository
	projection Projection
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates the template service.
func New(repo Repository, proj Projection, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if proj == nil {
		return nil, fmt.Errorf("template projection is required")
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

// CreateRequest carries the fields for a new template. ID is optional.
type CreateRequest struct {
	ID      string
	Name    string
	Channel string
	Subject string
	Body    string
	Locale  string
}

// Create persists a new template.
func (s *Service) Create(ctx context.Context, actor domain.Actor, req CreateRequest, saga *es.SagaContext) (*models.Template, error) {
	rawID := req.ID
	if rawID == "" {
		rawID = uuid.NewString()
	}
	id, err := domain.ParseEntityID(rawID)
	if err != nil {
		return nil, err
	}

	agg, err := models.New(actor, models.CreateProps{
		ID:      id,
		Name:    req.Name,
		Channel: req.Channel,
		Subject: req.Subject,
		Body:    req.Body,
		Locale:  req.Locale,
	}, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	state, err := s.repo.Save(ctx, actor, agg, saga)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "template created",
		"template_id", state.ID, "tenant", state.Tenant, "name", state.Name)
	return state, nil
}

// Update applies the set fields to an existing template.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id domain.EntityID, props models.UpdateProps, saga *es.SagaContext) (*models.Template, error) {
	agg, err := s.hydrate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := agg.Update(actor, props, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	return s.repo.Save(ctx, actor, agg, saga)
}

// Delete appends the tombstone event. The stream survives; projections
// drop the record when they apply the event.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id domain.EntityID, saga *es.SagaContext) error {
	agg, err := s.hydrate(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := agg.Delete(actor, requestcontext.Now(ctx)); err != nil {
		return err
	}
	if _, err := s.repo.Save(ctx, actor, agg, saga); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "template deleted", "template_id", id, "tenant", actor.Tenant)
	return nil
}

// Get returns the latest persisted state of one template.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.EntityID) (*models.Template, error) {
	state, err := s.repo.Get(ctx, actor, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "template does not exist")
		}
		return nil, err
	}
	return state, nil
}

// List queries the projection.
func (s *Service) List(ctx context.Context, tenant domain.Tenant, query projection.ListQuery) ([]models.Template, projection.PageMeta, error) {
	items, meta, err := s.projection.List(ctx, tenant, query)
	if err != nil {
		if errors.Is(err, sentinel.ErrProjectionUnavailable) {
			return nil, projection.PageMeta{}, dErrors.New(dErrors.CodeUnavailable, "template projection is not ready")
		}
		return nil, projection.PageMeta{}, err
	}
	return items, meta, nil
}

// Compensate records the rollback of a prior saga step for this template.
func (s *Service) Compensate(ctx context.Context, actor domain.Actor, id domain.EntityID, saga es.SagaContext) error {
	return s.repo.Compensate(ctx, actor, id, saga)
}

func (s *Service) hydrate(ctx context.Context, actor domain.Actor, id domain.EntityID) (*models.Aggregate, error) {
	state, err := s.repo.Get(ctx, actor, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "template does not exist")
		}
		return nil, err
	}
	return models.Hydrate(*state), nil
}
