package es_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"meridian/internal/es"
	"meridian/internal/eventlog"
	"meridian/internal/eventlog/mocks"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
	"meridian/pkg/platform/sentinel"
)

var repoCategory = eventlog.Category{
	BoundedContext: "notification",
	AggregateType:  "message",
	Version:        "v1",
}

type repoState struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`
	Status string `json:"status"`
}

// repoAggregate is a minimal aggregate for exercising the repository
// algorithm without dragging a business module in.
type repoAggregate struct {
	es.Root
	state repoState
}

func (a *repoAggregate) AggregateID() domain.EntityID { return domain.EntityID(a.state.ID) }
func (a *repoAggregate) Tenant() domain.Tenant        { return domain.Tenant(a.state.Tenant) }
func (a *repoAggregate) State() repoState             { return a.state }

func (a *repoAggregate) transition(status string) {
	a.state.Status = status
	ev, _ := eventlog.NewEnvelope("message.updated.v1", time.Now(), a.AggregateID(),
		domain.Actor{UserID: "user-1", Tenant: a.Tenant()}, a.state)
	a.Record(ev)
}

type RepositorySuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	log       *mocks.MockClient
	snapshots *mocks.MockSnapshotSource
	repo      *es.Repository[repoState]
	actor     domain.Actor
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.log = mocks.NewMockClient(s.ctrl)
	s.snapshots = mocks.NewMockSnapshotSource(s.ctrl)
	s.actor = domain.Actor{UserID: "user-1", Tenant: domain.Tenant("acme"), Username: "alice"}

	var err error
	s.repo, err = es.NewRepository[repoState](repoCategory, s.log, s.snapshots,
		es.WithService[repoState]("meridian-test"))
	s.Require().NoError(err)
}

func (s *RepositorySuite) newAggregate(id string) *repoAggregate {
	return &repoAggregate{state: repoState{ID: id, Tenant: "acme", Status: "created"}}
}

func (s *RepositorySuite) stream(id string) string {
	return repoCategory.StreamName(s.actor.Tenant, domain.EntityID(id))
}

// =============================================================================
// Constructor
// =============================================================================

func (s *RepositorySuite) TestNewRepository() {
	s.Run("nil log is rejected", func() {
		_, err := es.NewRepository[repoState](repoCategory, nil, s.snapshots)
		s.Error(err)
	})

	s.Run("nil snapshot source is rejected", func() {
		_, err := es.NewRepository[repoState](repoCategory, s.log, nil)
		s.Error(err)
	})

	s.Run("incomplete category is rejected", func() {
		_, err := es.NewRepository[repoState](eventlog.Category{AggregateType: "message"}, s.log, s.snapshots)
		s.Error(err)
	})
}

// =============================================================================
// Get
// =============================================================================

func (s *RepositorySuite) TestGet() {
	ctx := context.Background()

	s.Run("decodes the latest snapshot", func() {
		s.snapshots.EXPECT().LatestSnapshot(gomock.Any(), s.stream("msg1")).
			Return(json.RawMessage(`{"id":"msg1","tenant":"acme","status":"pending"}`), nil)

		state, err := s.repo.Get(ctx, s.actor, domain.EntityID("msg1"))
		s.Require().NoError(err)
		s.Equal("pending", state.Status)
	})

	s.Run("absent entity is not found", func() {
		s.snapshots.EXPECT().LatestSnapshot(gomock.Any(), s.stream("absent")).
			Return(nil, sentinel.ErrNotFound)

		_, err := s.repo.Get(ctx, s.actor, domain.EntityID("absent"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("technical read failure collapses to not found", func() {
		s.snapshots.EXPECT().LatestSnapshot(gomock.Any(), s.stream("msg1")).
			Return(nil, fmt.Errorf("connection refused"))

		_, err := s.repo.Get(ctx, s.actor, domain.EntityID("msg1"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("corrupt snapshot collapses to not found", func() {
		s.snapshots.EXPECT().LatestSnapshot(gomock.Any(), s.stream("msg1")).
			Return(json.RawMessage(`{broken`), nil)

		_, err := s.repo.Get(ctx, s.actor, domain.EntityID("msg1"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("invalid actor is rejected before any read", func() {
		_, err := s.repo.Get(ctx, domain.Actor{}, domain.EntityID("msg1"))
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("nil id is rejected before any read", func() {
		_, err := s.repo.Get(ctx, s.actor, domain.EntityID(""))
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Save
// =============================================================================

func (s *RepositorySuite) TestSave() {
	ctx := context.Background()

	s.Run("appends buffered events and commits", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")

		s.log.EXPECT().AppendEvents(gomock.Any(), s.stream("msg1"), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, events []eventlog.Envelope, meta eventlog.StreamMetadata) error {
				s.Require().Len(events, 1)
				s.Equal("message.updated.v1", events[0].EventType)
				s.Nil(events[0].Saga)
				s.Equal("notification", meta.BoundedContext)
				s.Equal("meridian-test", meta.Service)
				return nil
			})

		state, err := s.repo.Save(ctx, s.actor, agg, nil)
		s.Require().NoError(err)
		s.Equal("pending", state.Status)
		s.False(agg.HasUncommitted())
	})

	s.Run("empty buffer never touches the log", func() {
		agg := s.newAggregate("msg1")

		state, err := s.repo.Save(ctx, s.actor, agg, nil)
		s.Require().NoError(err)
		s.Equal("created", state.Status)
	})

	s.Run("failed append keeps the buffer for retry", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")

		s.log.EXPECT().AppendEvents(gomock.Any(), s.stream("msg1"), gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("log down"))

		_, err := s.repo.Save(ctx, s.actor, agg, nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.True(agg.HasUncommitted())
	})

	s.Run("nil aggregate is rejected", func() {
		_, err := s.repo.Save(ctx, s.actor, nil, nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RepositorySuite) TestSave_SagaIdempotency() {
	ctx := context.Background()
	saga := &es.SagaContext{SagaID: "saga-1", CorrelationID: "corr-1", OperationID: "op-1"}

	s.Run("first save stamps every event with the saga", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")
		agg.transition("processing")

		s.log.EXPECT().ReadEvents(gomock.Any(), s.stream("msg1")).Return(nil, sentinel.ErrNotFound)
		s.log.EXPECT().AppendEvents(gomock.Any(), s.stream("msg1"), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, events []eventlog.Envelope, meta eventlog.StreamMetadata) error {
				s.Require().Len(events, 2)
				for _, ev := range events {
					s.Require().NotNil(ev.Saga)
					s.Equal("op-1", ev.Saga.OperationID)
					s.False(ev.Saga.IsCompensation)
				}
				s.Equal("corr-1", meta.CorrelationID)
				return nil
			})

		state, err := s.repo.Save(ctx, s.actor, agg, saga)
		s.Require().NoError(err)
		s.Equal("processing", state.Status)
	})

	s.Run("retried operation resolves to persisted state without append", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")

		applied := eventlog.RecordedEvent{Envelope: eventlog.Envelope{
			EventType: "message.updated.v1",
			Saga:      &eventlog.SagaMetadata{OperationID: "op-1"},
		}}
		s.log.EXPECT().ReadEvents(gomock.Any(), s.stream("msg1")).
			Return([]eventlog.RecordedEvent{applied}, nil)
		s.snapshots.EXPECT().LatestSnapshot(gomock.Any(), s.stream("msg1")).
			Return(json.RawMessage(`{"id":"msg1","tenant":"acme","status":"pending"}`), nil)

		state, err := s.repo.Save(ctx, s.actor, agg, saga)
		s.Require().NoError(err)
		s.Equal("pending", state.Status)
		// The duplicate save must not commit the caller's buffer.
		s.True(agg.HasUncommitted())
	})

	s.Run("compensation events never satisfy the idempotency check", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")

		compensated := eventlog.RecordedEvent{Envelope: eventlog.Envelope{
			EventType: "message.compensated.v1",
			Saga:      &eventlog.SagaMetadata{OperationID: "op-1", IsCompensation: true},
		}}
		s.log.EXPECT().ReadEvents(gomock.Any(), s.stream("msg1")).
			Return([]eventlog.RecordedEvent{compensated}, nil)
		s.log.EXPECT().AppendEvents(gomock.Any(), s.stream("msg1"), gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.repo.Save(ctx, s.actor, agg, saga)
		s.NoError(err)
	})

	s.Run("idempotency check failure surfaces as write error", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")

		s.log.EXPECT().ReadEvents(gomock.Any(), s.stream("msg1")).
			Return(nil, fmt.Errorf("log down"))

		_, err := s.repo.Save(ctx, s.actor, agg, saga)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("saga without operation id is rejected", func() {
		agg := s.newAggregate("msg1")
		agg.transition("pending")

		_, err := s.repo.Save(ctx, s.actor, agg, &es.SagaContext{SagaID: "saga-1"})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Compensate
// =============================================================================

func (s *RepositorySuite) TestCompensate() {
	ctx := context.Background()
	saga := es.SagaContext{SagaID: "saga-1", CorrelationID: "corr-1", OperationID: "op-1"}

	s.Run("appends a tagged compensation event", func() {
		s.log.EXPECT().AppendEvents(gomock.Any(), s.stream("msg1"), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, events []eventlog.Envelope, _ eventlog.StreamMetadata) error {
				s.Require().Len(events, 1)
				s.Equal("message.compensated.v1", events[0].EventType)
				s.Require().NotNil(events[0].Saga)
				s.True(events[0].Saga.IsCompensation)
				s.Equal("op-1", events[0].Saga.OperationID)
				return nil
			})

		s.NoError(s.repo.Compensate(ctx, s.actor, domain.EntityID("msg1"), saga))
	})

	s.Run("append failure is surfaced", func() {
		s.log.EXPECT().AppendEvents(gomock.Any(), s.stream("msg1"), gomock.Any(), gomock.Any()).
			Return(fmt.Errorf("log down"))

		err := s.repo.Compensate(ctx, s.actor, domain.EntityID("msg1"), saga)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("missing operation id is rejected", func() {
		err := s.repo.Compensate(ctx, s.actor, domain.EntityID("msg1"), es.SagaContext{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
