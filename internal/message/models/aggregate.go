package models

import (
	"time"

	"meridian/internal/es"
	"meridian/internal/eventlog"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
)

// Category is the message module's stream family. Entity streams look like
// "notification.message.v1-{tenant}-{id}".
var Category = eventlog.Category{
	BoundedContext: "notification",
	AggregateType:  "message",
	Version:        "v1",
}

// Event types emitted by the message aggregate.
const (
	EventQueued         = "message.queued.v1"
	EventUpdated        = "message.updated.v1"
	EventDelivered      = "message.delivered.v1"
	EventDeliveryFailed = "message.delivery-failed.v1"
	EventRetrying       = "message.retrying.v1"
	EventScheduled      = "message.scheduled.v1"
)

// Retry backoff: base doubles per attempt, capped so a long-failing message
// still retries on a bounded cadence.
const (
	retryBackoffBase = 30 * time.Second
	retryBackoffCap  = 1 * time.Hour
)

// Aggregate is the in-memory, event-emitting representation of one queued
// message. It never persists itself; the repository owns all log access.
type Aggregate struct {
	es.Root
	state Message
}

// CreateProps are the initial fields for a new message.
type CreateProps struct {
	ID            domain.EntityID
	Channel       string
	Recipient     string
	Subject       string
	Body          string
	CorrelationID string
	ScheduledAt   *time.Time
}

// New constructs a message aggregate in status "created" and buffers the
// queued event. Callers drive it to pending or scheduled before saving.
func New(actor domain.Actor, props CreateProps, now time.Time) (*Aggregate, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if props.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "message id is required")
	}
	if props.Channel == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "message channel is required")
	}
	if props.Recipient == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "message recipient is required")
	}

	a := &Aggregate{state: Message{
		ID:            props.ID,
		Tenant:        actor.Tenant,
		Channel:       props.Channel,
		Recipient:     props.Recipient,
		Subject:       props.Subject,
		Body:          props.Body,
		Status:        StatusCreated,
		CorrelationID: props.CorrelationID,
		ScheduledAt:   props.ScheduledAt,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}}
	if err := a.emit(actor, EventQueued, a.state, now); err != nil {
		return nil, err
	}
	return a, nil
}

// Hydrate rebuilds an aggregate from a snapshot with an empty event buffer.
func Hydrate(state Message) *Aggregate {
	return &Aggregate{state: state}
}

// AggregateID returns the message id.
func (a *Aggregate) AggregateID() domain.EntityID { return a.state.ID }

// Tenant returns the owning tenant.
func (a *Aggregate) Tenant() domain.Tenant { return a.state.Tenant }

// State returns a copy of the current message state.
func (a *Aggregate) State() Message { return a.state }

// deliveryFailedPayload extends the state with the fields a failure consumer
// needs without re-reading the stream. Retryable is a statement about the
// message, not about policy: cancellation is the only non-retryable outcome,
// and any retry ceiling lives in the orchestrating service.
type deliveryFailedPayload struct {
	Message
	Retryable bool `json:"retryable"`
}

type retryingPayload struct {
	Message
	NextAttemptDelayMs int64 `json:"nextAttemptDelayMs"`
}

type scheduledPayload struct {
	Message
	TargetTime time.Time `json:"targetTime"`
}

// UpdateStatus transitions the message and emits a status-specific event.
// Setting the current status again is an idempotent no-op: no mutation, no
// event. Unknown statuses are rejected; transitions without a dedicated
// event fall back to the generic updated event.
func (a *Aggregate) UpdateStatus(actor domain.Actor, newStatus Status, now time.Time) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if newStatus == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	if !newStatus.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown status %q", newStatus)
	}
	if newStatus == a.state.Status {
		return nil
	}

	a.state.Status = newStatus
	a.state.UpdatedAt = now.UTC()

	switch newStatus {
	case StatusSucceeded:
		processedAt := now.UTC()
		a.state.ProcessedAt = &processedAt
		return a.emit(actor, EventDelivered, a.state, now)
	case StatusFailed:
		return a.emit(actor, EventDeliveryFailed, deliveryFailedPayload{
			Message:   a.state,
			Retryable: true,
		}, now)
	case StatusRetrying:
		return a.emit(actor, EventRetrying, retryingPayload{
			Message:            a.state,
			NextAttemptDelayMs: a.nextAttemptDelay().Milliseconds(),
		}, now)
	case StatusScheduled:
		payload := scheduledPayload{Message: a.state, TargetTime: now.UTC()}
		if a.state.ScheduledAt != nil {
			payload.TargetTime = *a.state.ScheduledAt
		}
		return a.emit(actor, EventScheduled, payload, now)
	default:
		return a.emit(actor, EventUpdated, a.state, now)
	}
}

// MarkForRetry records a failed delivery attempt and drives the message to
// retrying: failure reason set, retry count incremented by exactly one,
// optional reschedule. There is no ceiling here; bounding retries is the
// orchestrating service's call.
func (a *Aggregate) MarkForRetry(actor domain.Actor, reason string, nextRetryAt *time.Time, now time.Time) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "retry reason is required")
	}

	a.state.FailureReason = reason
	a.state.RetryCount++
	if nextRetryAt != nil {
		t := nextRetryAt.UTC()
		a.state.ScheduledAt = &t
	}
	return a.UpdateStatus(actor, StatusRetrying, now)
}

// UpdateRecipient changes the recipient without emitting. Call EmitUpdated
// when the change should reach the projection on its own.
func (a *Aggregate) UpdateRecipient(actor domain.Actor, recipient string, now time.Time) error {
	return a.setField(actor, &a.state.Recipient, recipient, now)
}

// UpdateBody changes the body without emitting.
func (a *Aggregate) UpdateBody(actor domain.Actor, body string, now time.Time) error {
	return a.setField(actor, &a.state.Body, body, now)
}

// UpdateSubject changes the subject without emitting.
func (a *Aggregate) UpdateSubject(actor domain.Actor, subject string, now time.Time) error {
	return a.setField(actor, &a.state.Subject, subject, now)
}

// UpdateCorrelationID changes the correlation id without emitting.
func (a *Aggregate) UpdateCorrelationID(actor domain.Actor, correlationID string, now time.Time) error {
	return a.setField(actor, &a.state.CorrelationID, correlationID, now)
}

// setField is the shared compare-and-set for field setters. Emission is
// deliberately suppressed: a burst of setter calls should not event-storm
// the log, orchestrating call sites decide when one updated event covers
// the batch.
func (a *Aggregate) setField(actor domain.Actor, field *string, value string, now time.Time) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if *field == value {
		return nil
	}
	*field = value
	a.state.UpdatedAt = now.UTC()
	return nil
}

// EmitUpdated buffers one generic updated event carrying the current state.
func (a *Aggregate) EmitUpdated(actor domain.Actor, now time.Time) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	a.state.UpdatedAt = now.UTC()
	return a.emit(actor, EventUpdated, a.state, now)
}

// nextAttemptDelay doubles per recorded attempt, capped.
func (a *Aggregate) nextAttemptDelay() time.Duration {
	delay := retryBackoffBase
	for i := 1; i < a.state.RetryCount; i++ {
		delay *= 2
		if delay >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return delay
}

func (a *Aggregate) emit(actor domain.Actor, eventType string, payload any, now time.Time) error {
	ev, err := eventlog.NewEnvelope(eventType, now, a.state.ID, actor, payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to build event")
	}
	a.Record(ev)
	return nil
}
