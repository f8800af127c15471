package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"meridian/internal/es/metrics"
	"meridian/internal/eventlog"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/sentinel"
)

// Repository is the sole bridge between aggregates and the event log. One
// instantiation per aggregate type; the algorithm is identical for all of
// them, only the category differs.
//
// Read semantics: Get never surfaces a distinct error for technical read
// failures. Anything that prevents proving the entity exists — including a
// failing snapshot source — is logged and normalized to sentinel.ErrNotFound.
// Write errors are always surfaced.
type Repository[S any] struct {
	category  eventlog.Category
	log       eventlog.Client
	snapshots eventlog.SnapshotSource
	service   string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// RepositoryOption configures a Repository.
type RepositoryOption[S any] func(*Repository[S])

// WithLogger sets the repository logger.
func WithLogger[S any](logger *slog.Logger) RepositoryOption[S] {
	return func(r *Repository[S]) {
		r.logger = logger
	}
}

// WithMetrics wires the shared entity store metrics.
func WithMetrics[S any](m *metrics.Metrics) RepositoryOption[S] {
	return func(r *Repository[S]) {
		r.metrics = m
	}
}

// WithService sets the originating-service name stamped into stream metadata.
func WithService[S any](service string) RepositoryOption[S] {
	return func(r *Repository[S]) {
		r.service = service
	}
}

// NewRepository builds a repository for one aggregate category.
func NewRepository[S any](category eventlog.Category, log eventlog.Client, snapshots eventlog.SnapshotSource, opts ...RepositoryOption[S]) (*Repository[S], error) {
	if log == nil {
		return nil, fmt.Errorf("event log client is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	if category.BoundedContext == "" || category.AggregateType == "" || category.Version == "" {
		return nil, fmt.Errorf("category is incomplete")
	}
	r := &Repository[S]{
		category:  category,
		log:       log,
		snapshots: snapshots,
		logger:    slog.Default(),
		tracer:    otel.Tracer("meridian/internal/es"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Category returns the repository's stream category.
func (r *Repository[S]) Category() eventlog.Category {
	return r.category
}

// Get hydrates the latest state of the entity from its snapshot. Absence is
// sentinel.ErrNotFound, never an exception; so are technical read failures.
func (r *Repository[S]) Get(ctx context.Context, actor domain.Actor, id domain.EntityID) (*S, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "entity id is required")
	}

	ctx, span := r.tracer.Start(ctx, "es.repository.get",
		trace.WithAttributes(attribute.String("es.category", r.category.Prefix())))
	defer span.End()

	stream := r.category.StreamName(actor.Tenant, id)
	return r.read(ctx, stream)
}

// read loads and decodes the latest snapshot for a stream, collapsing every
// failure mode to not-found.
func (r *Repository[S]) read(ctx context.Context, stream string) (*S, error) {
	raw, err := r.snapshots.LatestSnapshot(ctx, stream)
	if err != nil {
		if !errorsIsNotFound(err) {
			r.logger.WarnContext(ctx, "snapshot read failed, treating as not found",
				"stream", stream, "error", err)
		}
		return nil, sentinel.ErrNotFound
	}
	var state S
	if err := json.Unmarshal(raw, &state); err != nil {
		r.logger.WarnContext(ctx, "snapshot decode failed, treating as not found",
			"stream", stream, "error", err)
		return nil, sentinel.ErrNotFound
	}
	return &state, nil
}

// Save appends the aggregate's uncommitted events to its stream and commits
// the buffer. With a saga context the save is idempotent under retry: a
// duplicate operation id resolves to the current persisted state without a
// second append. The buffer is cleared only after the log acknowledged, so a
// failed save can be retried with the exact same events.
func (r *Repository[S]) Save(ctx context.Context, actor domain.Actor, agg Aggregate[S], saga *SagaContext) (*S, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "aggregate is required")
	}
	if agg.AggregateID().IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "aggregate id is required")
	}
	if saga != nil {
		if err := saga.Validate(); err != nil {
			return nil, err
		}
	}

	ctx, span := r.tracer.Start(ctx, "es.repository.save",
		trace.WithAttributes(
			attribute.String("es.category", r.category.Prefix()),
			attribute.Bool("es.saga", saga != nil),
		))
	defer span.End()

	stream := r.category.StreamName(agg.Tenant(), agg.AggregateID())

	if saga != nil {
		done, err := r.operationExists(ctx, stream, saga.OperationID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "saga idempotency check failed")
		}
		if done {
			r.metrics.IncSagaDuplicates(r.category.Prefix())
			r.logger.InfoContext(ctx, "saga operation already applied, returning current state",
				"stream", stream, "operation_id", saga.OperationID)
			return r.read(ctx, stream)
		}
	}

	events := agg.UncommittedEvents()
	if len(events) == 0 {
		state := agg.State()
		return &state, nil
	}

	if saga != nil {
		meta := saga.Metadata()
		stamped := make([]eventlog.Envelope, len(events))
		for i, ev := range events {
			stamped[i] = ev.WithSaga(meta)
		}
		events = stamped
	}

	correlationID := ""
	if saga != nil {
		correlationID = saga.CorrelationID
	}
	streamMeta := eventlog.MetadataFor(r.category, r.service, correlationID)

	if err := r.log.AppendEvents(ctx, stream, events, streamMeta); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append events")
	}
	agg.Commit()
	r.metrics.AddEventsAppended(r.category.Prefix(), len(events))

	state := agg.State()
	return &state, nil
}

// Compensate records a compensation event on the entity's stream to signal
// rollback of a prior saga step. It never rewrites history; the rollback is
// itself an appended fact.
func (r *Repository[S]) Compensate(ctx context.Context, actor domain.Actor, id domain.EntityID, saga SagaContext) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if id.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	if err := saga.Validate(); err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "es.repository.compensate",
		trace.WithAttributes(attribute.String("es.category", r.category.Prefix())))
	defer span.End()

	eventType := r.category.AggregateType + ".compensated." + r.category.Version
	ev, err := eventlog.NewEnvelope(eventType, nowUTC(ctx), id, actor, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build compensation event")
	}
	ev = ev.WithSaga(saga.CompensationMetadata())

	stream := r.category.StreamName(actor.Tenant, id)
	streamMeta := eventlog.MetadataFor(r.category, r.service, saga.CorrelationID)
	if err := r.log.AppendEvents(ctx, stream, []eventlog.Envelope{ev}, streamMeta); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append compensation event")
	}
	r.metrics.IncCompensations(r.category.Prefix())
	return nil
}

// operationExists scans the stream for an earlier forward event carrying the
// operation id.
func (r *Repository[S]) operationExists(ctx context.Context, stream, operationID string) (bool, error) {
	events, err := r.log.ReadEvents(ctx, stream)
	if err != nil {
		if errorsIsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, ev := range events {
		if ev.Saga != nil && !ev.Saga.IsCompensation && ev.Saga.OperationID == operationID {
			return true, nil
		}
	}
	return false, nil
}
