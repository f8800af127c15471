package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meridian/internal/es"
	"meridian/internal/es/projection"
	"meridian/internal/eventlog"
	"meridian/internal/eventlog/memory"
	"meridian/internal/message/adapter"
	"meridian/internal/message/models"
	"meridian/pkg/domain"
)

type DispatcherSuite struct {
	suite.Suite
	log        *memory.Log
	repo       *es.Repository[models.Message]
	projection *projection.Store[models.Message]
	manager    *projection.Manager
	adapter    *recordingAdapter
	svc        *Service
	actor      domain.Actor
	cancel     context.CancelFunc
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.log = memory.NewLog()
	snapshots := eventlog.NewLastEventSnapshotter(s.log)

	var err error
	s.repo, err = es.NewRepository[models.Message](models.Category, s.log, snapshots)
	s.Require().NoError(err)

	s.projection, err = projection.NewStore[models.Message](models.Category, projection.NewMemoryCache())
	s.Require().NoError(err)

	// A real manager keeps the projection live while the dispatcher sweeps.
	s.manager, err = projection.NewManager(s.projection, s.log)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = s.manager.Run(ctx) }()
	s.Require().Eventually(s.manager.Healthy, 2*time.Second, 10*time.Millisecond)

	s.adapter = &recordingAdapter{name: "test", channels: map[string]bool{"email": true}}
	registry, err := adapter.NewRegistry(s.adapter)
	s.Require().NoError(err)

	s.svc, err = New(s.repo, s.projection, WithAdapters(registry))
	s.Require().NoError(err)

	s.actor = domain.Actor{UserID: "user-1", Tenant: domain.Tenant("acme"), Username: "alice"}
}

func (s *DispatcherSuite) TearDownTest() {
	s.cancel()
}

func (s *DispatcherSuite) TestNewDispatcherValidation() {
	_, err := NewDispatcher(nil, nil)
	s.Error(err)

	_, err = NewDispatcher(s.svc, []string{"bad-tenant"})
	s.Error(err)

	dp, err := NewDispatcher(s.svc, []string{"acme"})
	s.Require().NoError(err)
	s.NotNil(dp)
}

func (s *DispatcherSuite) TestSweepDeliversPendingMessages() {
	ctx := context.Background()

	_, err := s.svc.Enqueue(ctx, s.actor, EnqueueRequest{
		ID: "msg1", Channel: "email", Recipient: "a@b",
	}, nil)
	s.Require().NoError(err)

	dp, err := NewDispatcher(s.svc, []string{"acme"}, WithDispatchInterval(20*time.Millisecond))
	s.Require().NoError(err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = dp.Run(runCtx) }()

	s.Require().Eventually(func() bool {
		state, err := s.svc.Get(ctx, s.actor, domain.EntityID("msg1"))
		return err == nil && state.Status == models.StatusSucceeded
	}, 3*time.Second, 20*time.Millisecond)
	s.NotEmpty(s.adapter.Delivered())
}

func (s *DispatcherSuite) TestSweepSkipsFutureScheduledMessages() {
	ctx := context.Background()

	target := time.Now().Add(time.Hour)
	_, err := s.svc.Enqueue(ctx, s.actor, EnqueueRequest{
		ID: "msg1", Channel: "email", Recipient: "a@b", ScheduledAt: &target,
	}, nil)
	s.Require().NoError(err)

	dp, err := NewDispatcher(s.svc, []string{"acme"}, WithDispatchInterval(20*time.Millisecond))
	s.Require().NoError(err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = dp.Run(runCtx) }()

	// Give the sweep a few cycles; the message must stay scheduled.
	time.Sleep(150 * time.Millisecond)
	state, err := s.svc.Get(ctx, s.actor, domain.EntityID("msg1"))
	s.Require().NoError(err)
	s.Equal(models.StatusScheduled, state.Status)
	s.Empty(s.adapter.Delivered())
}

func (s *DispatcherSuite) TestRunWithNoTenantsBlocksUntilCancel() {
	dp, err := NewDispatcher(s.svc, nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dp.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		s.FailNow("dispatcher did not stop on cancel")
	}
}
