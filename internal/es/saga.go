package es

import (
	dErrors "meridian/pkg/domain-errors"

	"meridian/internal/eventlog"
)

// SagaContext identifies one step of a distributed transaction. Attaching it
// to a save makes the save idempotent: the repository refuses to re-append
// events whose OperationID is already on the stream. Lifecycle is per step;
// nothing outlives the event metadata.
type SagaContext struct {
	SagaID        string
	CorrelationID string
	OperationID   string
	IsRetry       bool
}

// Validate checks that the context can serve as an idempotency key.
func (s SagaContext) Validate() error {
	if s.OperationID == "" {
		return dErrors.New(dErrors.CodeValidation, "saga operation id is required")
	}
	return nil
}

// Metadata returns the event metadata for a forward saga step.
func (s SagaContext) Metadata() eventlog.SagaMetadata {
	return eventlog.SagaMetadata{
		SagaID:        s.SagaID,
		CorrelationID: s.CorrelationID,
		OperationID:   s.OperationID,
	}
}

// CompensationMetadata returns the event metadata for a rollback of a prior
// step on the same stream.
func (s SagaContext) CompensationMetadata() eventlog.SagaMetadata {
	m := s.Metadata()
	m.IsCompensation = true
	return m
}
