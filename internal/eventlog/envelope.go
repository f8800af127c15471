package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"meridian/pkg/domain"
)

// Envelope is the immutable wire form of one domain event. Once constructed
// it is never mutated; attaching saga metadata produces a copy (WithSaga).
// Event types are versioned with a trailing ".v<N>" so consumers can evolve
// payload schemas without breaking old subscribers.
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	OccurredAt  time.Time       `json:"occurredAt"`
	AggregateID string          `json:"aggregateId"`
	UserID      string          `json:"userId"`
	Tenant      string          `json:"tenant"`
	TenantID    string          `json:"tenantId,omitempty"`
	Username    string          `json:"username,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Saga        *SagaMetadata   `json:"saga,omitempty"`
}

// SagaMetadata tags an event with the distributed-transaction step that
// produced it. OperationID is the idempotency key the repository checks
// before re-appending.
type SagaMetadata struct {
	SagaID         string `json:"sagaId"`
	CorrelationID  string `json:"correlationId,omitempty"`
	OperationID    string `json:"operationId"`
	IsCompensation bool   `json:"isCompensation"`
}

// NewEnvelope builds an envelope for a domain event. The payload must be the
// full post-transition state of the aggregate (projections upsert it as-is,
// last write wins). Marshal failures are a programming error in the payload
// type and are surfaced to the caller.
func NewEnvelope(eventType string, occurredAt time.Time, aggregateID domain.EntityID, actor domain.Actor, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OccurredAt:  occurredAt.UTC(),
		AggregateID: aggregateID.String(),
		UserID:      actor.UserID,
		Tenant:      actor.Tenant.String(),
		TenantID:    actor.TenantID,
		Username:    actor.Username,
		Payload:     raw,
	}, nil
}

// WithSaga returns a copy of the envelope carrying the saga metadata. The
// receiver is left untouched.
func (e Envelope) WithSaga(meta SagaMetadata) Envelope {
	e.Saga = &meta
	return e
}

// OperationID returns the saga operation id, or "" for non-saga events.
func (e Envelope) OperationID() string {
	if e.Saga == nil {
		return ""
	}
	return e.Saga.OperationID
}

// StreamMetadata describes the stream an append targets. Backends persist it
// alongside the events; the relay forwards it to downstream consumers.
type StreamMetadata struct {
	BoundedContext string `json:"boundedContext"`
	AggregateType  string `json:"aggregateType"`
	Version        string `json:"version"`
	Service        string `json:"service,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
	CausationID    string `json:"causationId,omitempty"`
}

// MetadataFor derives stream metadata from a category.
func MetadataFor(c Category, service, correlationID string) StreamMetadata {
	return StreamMetadata{
		BoundedContext: c.BoundedContext,
		AggregateType:  c.AggregateType,
		Version:        c.Version,
		Service:        service,
		CorrelationID:  correlationID,
	}
}
