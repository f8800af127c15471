package models

import (
	"time"

	"meridian/internal/es"
	"meridian/internal/eventlog"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
)

// Category identifies template streams within the notification context.
var Category = eventlog.Category{
	BoundedContext: "notification",
	AggregateType:  "template",
	Version:        "v1",
}

const (
	EventCreated = "template.created.v1"
	EventUpdated = "template.updated.v1"
	// EventDeleted removes the template from projections. The ".deleted."
	// segment is what read models key the removal on.
	EventDeleted = "template.deleted.v1"
)

// Aggregate wraps a template with its uncommitted event buffer.
type Aggregate struct {
	es.Root
	state Template
}

// CreateProps are the initial fields for a new template.
type CreateProps struct {
	ID      domain.EntityID
	Name    string
	Channel string
	Subject string
	Body    string
	Locale  string
}

// UpdateProps carries the mutable fields. Nil pointers leave the current
// value untouched.
type UpdateProps struct {
	Name    *string
	Subject *string
	Body    *string
	Locale  *string
}

// New constructs a template aggregate and buffers the created event.
func New(actor domain.Actor, props CreateProps, now time.Time) (*Aggregate, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if props.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "template id is required")
	}
	if props.Name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "template name is required")
	}
	if props.Channel == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "template channel is required")
	}
	if props.Body == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "template body is required")
	}

	a := &Aggregate{state: Template{
		ID:        props.ID,
		Tenant:    actor.Tenant,
		Name:      props.Name,
		Channel:   props.Channel,
		Subject:   props.Subject,
		Body:      props.Body,
		Locale:    props.Locale,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}}
	if err := a.emit(actor, EventCreated, a.state, now); err != nil {
		return nil, err
	}
	return a, nil
}

// Hydrate rebuilds an aggregate from a snapshot with an empty event buffer.
func Hydrate(state Template) *Aggregate {
	return &Aggregate{state: state}
}

func (a *Aggregate) AggregateID() domain.EntityID { return a.state.ID }

func (a *Aggregate) Tenant() domain.Tenant { return a.state.Tenant }

func (a *Aggregate) State() Template { return a.state }

// Update applies the set fields and buffers a single updated event. When
// nothing actually changes, no event is emitted.
func (a *Aggregate) Update(actor domain.Actor, props UpdateProps, now time.Time) error {
	if err := actor.Validate(); err != nil {
		return err
	}

	changed := false
	apply := func(field *string, value *string) error {
		if value == nil || *value == *field {
			return nil
		}
		if *value == "" && field == &a.state.Name {
			return dErrors.New(dErrors.CodeValidation, "template name cannot be cleared")
		}
		if *value == "" && field == &a.state.Body {
			return dErrors.New(dErrors.CodeValidation, "template body cannot be cleared")
		}
		*field = *value
		changed = true
		return nil
	}
	if err := apply(&a.state.Name, props.Name); err != nil {
		return err
	}
	if err := apply(&a.state.Subject, props.Subject); err != nil {
		return err
	}
	if err := apply(&a.state.Body, props.Body); err != nil {
		return err
	}
	if err := apply(&a.state.Locale, props.Locale); err != nil {
		return err
	}
	if !changed {
		return nil
	}

	a.state.UpdatedAt = now.UTC()
	return a.emit(actor, EventUpdated, a.state, now)
}

// Delete buffers the tombstone event. The state still carries the final
// field values so the event log keeps a complete record.
func (a *Aggregate) Delete(actor domain.Actor, now time.Time) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	a.state.UpdatedAt = now.UTC()
	return a.emit(actor, EventDeleted, a.state, now)
}

func (a *Aggregate) emit(actor domain.Actor, eventType string, payload any, now time.Time) error {
	env, err := eventlog.NewEnvelope(eventType, now, a.state.ID, actor, payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode template event")
	}
	a.Record(env)
	return nil
}
