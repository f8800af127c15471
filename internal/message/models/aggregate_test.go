package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
)

type MessageAggregateSuite struct {
	suite.Suite
	actor domain.Actor
	now   time.Time
}

func TestMessageAggregateSuite(t *testing.T) {
	suite.Run(t, new(MessageAggregateSuite))
}

func (s *MessageAggregateSuite) SetupTest() {
	s.actor = domain.Actor{UserID: "user-1", Tenant: domain.Tenant("acme"), Username: "alice"}
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func (s *MessageAggregateSuite) newAggregate() *Aggregate {
	agg, err := New(s.actor, CreateProps{
		ID:        domain.EntityID("msg1"),
		Channel:   "email",
		Recipient: "alice@example.com",
		Subject:   "hello",
		Body:      "world",
	}, s.now)
	s.Require().NoError(err)
	return agg
}

// =============================================================================
// Construction
// =============================================================================

func (s *MessageAggregateSuite) TestNew() {
	s.Run("buffers a queued event with full state payload", func() {
		agg := s.newAggregate()

		s.Equal(StatusCreated, agg.State().Status)
		s.Equal(s.actor.Tenant, agg.Tenant())

		events := agg.UncommittedEvents()
		s.Require().Len(events, 1)
		s.Equal(EventQueued, events[0].EventType)

		var payload Message
		s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
		s.Equal(agg.State().ID, payload.ID)
		s.Equal(StatusCreated, payload.Status)
	})

	s.Run("rejects missing fields", func() {
		_, err := New(s.actor, CreateProps{ID: domain.EntityID("x"), Channel: "email"}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = New(s.actor, CreateProps{ID: domain.EntityID("x"), Recipient: "a@b"}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = New(s.actor, CreateProps{Channel: "email", Recipient: "a@b"}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects invalid actor", func() {
		_, err := New(domain.Actor{}, CreateProps{
			ID: domain.EntityID("x"), Channel: "email", Recipient: "a@b",
		}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *MessageAggregateSuite) TestHydrate() {
	agg := Hydrate(Message{ID: domain.EntityID("msg1"), Tenant: domain.Tenant("acme"), Status: StatusPending})
	s.Equal(StatusPending, agg.State().Status)
	s.False(agg.HasUncommitted())
}

// =============================================================================
// Status transitions
// =============================================================================

func (s *MessageAggregateSuite) TestUpdateStatus() {
	s.Run("same status twice emits exactly one event", func() {
		agg := s.newAggregate()
		agg.Commit()

		s.Require().NoError(agg.UpdateStatus(s.actor, StatusPending, s.now))
		s.Require().NoError(agg.UpdateStatus(s.actor, StatusPending, s.now.Add(time.Minute)))

		s.Len(agg.UncommittedEvents(), 1)
		s.Equal(StatusPending, agg.State().Status)
	})

	s.Run("unknown status is rejected", func() {
		agg := s.newAggregate()
		err := agg.UpdateStatus(s.actor, Status("exploded"), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("success stamps processedAt and emits delivered", func() {
		agg := s.newAggregate()
		agg.Commit()

		s.Require().NoError(agg.UpdateStatus(s.actor, StatusSucceeded, s.now))
		events := agg.UncommittedEvents()
		s.Require().Len(events, 1)
		s.Equal(EventDelivered, events[0].EventType)
		s.Require().NotNil(agg.State().ProcessedAt)
		s.Equal(s.now, *agg.State().ProcessedAt)
	})

	s.Run("failed emits delivery-failed with retryable flag", func() {
		agg := s.newAggregate()
		agg.Commit()

		s.Require().NoError(agg.UpdateStatus(s.actor, StatusFailed, s.now))
		events := agg.UncommittedEvents()
		s.Require().Len(events, 1)
		s.Equal(EventDeliveryFailed, events[0].EventType)

		var payload struct {
			Message
			Retryable bool `json:"retryable"`
		}
		s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
		s.True(payload.Retryable)
		s.Equal(StatusFailed, payload.Status)
	})

	s.Run("scheduled emits target time", func() {
		target := s.now.Add(2 * time.Hour)
		agg, err := New(s.actor, CreateProps{
			ID: domain.EntityID("msg2"), Channel: "email", Recipient: "a@b", ScheduledAt: &target,
		}, s.now)
		s.Require().NoError(err)
		agg.Commit()

		s.Require().NoError(agg.UpdateStatus(s.actor, StatusScheduled, s.now))
		events := agg.UncommittedEvents()
		s.Require().Len(events, 1)
		s.Equal(EventScheduled, events[0].EventType)

		var payload struct {
			TargetTime time.Time `json:"targetTime"`
		}
		s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
		s.True(payload.TargetTime.Equal(target))
	})
}

// =============================================================================
// Retry accounting
// =============================================================================

func (s *MessageAggregateSuite) TestMarkForRetry() {
	s.Run("n calls increment the count by exactly n", func() {
		agg := s.newAggregate()
		agg.Commit()

		for i := 1; i <= 3; i++ {
			// Alternate out of retrying so each call transitions again.
			s.Require().NoError(agg.UpdateStatus(s.actor, StatusProcessing, s.now))
			s.Require().NoError(agg.MarkForRetry(s.actor, "smtp timeout", nil, s.now))
			s.Equal(i, agg.State().RetryCount)
		}
		s.Equal(StatusRetrying, agg.State().Status)
		s.Equal("smtp timeout", agg.State().FailureReason)
	})

	s.Run("reason is required", func() {
		agg := s.newAggregate()
		err := agg.MarkForRetry(s.actor, "", nil, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Zero(agg.State().RetryCount)
	})

	s.Run("explicit next attempt reschedules", func() {
		agg := s.newAggregate()
		agg.Commit()
		next := s.now.Add(5 * time.Minute)

		s.Require().NoError(agg.MarkForRetry(s.actor, "smtp timeout", &next, s.now))
		s.Require().NotNil(agg.State().ScheduledAt)
		s.True(agg.State().ScheduledAt.Equal(next))
	})

	s.Run("retry event carries a doubling capped delay", func() {
		agg := s.newAggregate()
		agg.Commit()

		var delays []int64
		for i := 0; i < 10; i++ {
			s.Require().NoError(agg.UpdateStatus(s.actor, StatusProcessing, s.now))
			s.Require().NoError(agg.MarkForRetry(s.actor, "still down", nil, s.now))

			events := agg.UncommittedEvents()
			var payload struct {
				NextAttemptDelayMs int64 `json:"nextAttemptDelayMs"`
			}
			s.Require().NoError(json.Unmarshal(events[len(events)-1].Payload, &payload))
			delays = append(delays, payload.NextAttemptDelayMs)
			agg.Commit()
		}

		s.Equal((30 * time.Second).Milliseconds(), delays[0])
		s.Equal((60 * time.Second).Milliseconds(), delays[1])
		s.Equal(time.Hour.Milliseconds(), delays[len(delays)-1])
		for i := 1; i < len(delays); i++ {
			s.GreaterOrEqual(delays[i], delays[i-1])
		}
	})
}

// =============================================================================
// Field setters
// =============================================================================

func (s *MessageAggregateSuite) TestFieldSetters() {
	s.Run("setters mutate without emitting", func() {
		agg := s.newAggregate()
		agg.Commit()

		s.Require().NoError(agg.UpdateRecipient(s.actor, "bob@example.com", s.now))
		s.Require().NoError(agg.UpdateSubject(s.actor, "hi", s.now))
		s.False(agg.HasUncommitted())
		s.Equal("bob@example.com", agg.State().Recipient)
	})

	s.Run("one updated event covers a setter batch", func() {
		agg := s.newAggregate()
		agg.Commit()

		s.Require().NoError(agg.UpdateRecipient(s.actor, "bob@example.com", s.now))
		s.Require().NoError(agg.UpdateBody(s.actor, "new body", s.now))
		s.Require().NoError(agg.EmitUpdated(s.actor, s.now))

		events := agg.UncommittedEvents()
		s.Require().Len(events, 1)
		s.Equal(EventUpdated, events[0].EventType)
	})

	s.Run("unchanged value is a no-op", func() {
		agg := s.newAggregate()
		agg.Commit()
		before := agg.State().UpdatedAt

		s.Require().NoError(agg.UpdateSubject(s.actor, "hello", s.now.Add(time.Hour)))
		s.Equal(before, agg.State().UpdatedAt)
	})
}
