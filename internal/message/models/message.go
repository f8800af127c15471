package models

import (
	"time"

	"meridian/pkg/domain"
)

// Status is the lifecycle state of a queued message.
//
// State machine:
//
//	created → {pending|scheduled} → processing → {success | failed | retrying}
//	retrying loops back to pending; success and failed are terminal unless a
//	retry is driven explicitly; cancelled is terminal from any non-terminal
//	state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "success"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
)

var validStatuses = map[Status]struct{}{
	StatusCreated:    {},
	StatusPending:    {},
	StatusScheduled:  {},
	StatusProcessing: {},
	StatusSucceeded:  {},
	StatusFailed:     {},
	StatusRetrying:   {},
	StatusCancelled:  {},
}

// IsValid reports whether the status is one of the defined enum values.
func (s Status) IsValid() bool {
	_, ok := validStatuses[s]
	return ok
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCancelled
}

// Message is the full state of one queued message. Every domain event
// carries this state as payload, so the struct doubles as the projection
// record and the snapshot shape.
//
// Invariants:
//   - ID, Tenant, and Status are always present
//   - Status is one of the defined enum values
//   - RetryCount never decreases and is never negative
type Message struct {
	ID            domain.EntityID `json:"id"`
	Tenant        domain.Tenant   `json:"tenant"`
	Channel       string          `json:"channel"`
	Recipient     string          `json:"recipient"`
	Subject       string          `json:"subject,omitempty"`
	Body          string          `json:"body"`
	Status        Status          `json:"status"`
	RetryCount    int             `json:"retryCount"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ScheduledAt   *time.Time      `json:"scheduledAt,omitempty"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
