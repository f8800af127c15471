package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meridian/internal/eventlog"
	"meridian/pkg/domain"
	"meridian/pkg/platform/sentinel"
)

var storeCategory = eventlog.Category{
	BoundedContext: "notification",
	AggregateType:  "message",
	Version:        "v1",
}

type viewState struct {
	ID      string `json:"id"`
	Tenant  string `json:"tenant"`
	Status  string `json:"status"`
	Channel string `json:"channel"`
}

type ProjectionStoreSuite struct {
	suite.Suite
	store  *Store[viewState]
	tenant domain.Tenant
}

func TestProjectionStoreSuite(t *testing.T) {
	suite.Run(t, new(ProjectionStoreSuite))
}

func (s *ProjectionStoreSuite) SetupTest() {
	var err error
	s.store, err = NewStore[viewState](storeCategory, NewMemoryCache())
	s.Require().NoError(err)
	s.tenant = domain.Tenant("acme")
}

func (s *ProjectionStoreSuite) event(id, eventType string, state viewState, saga *eventlog.SagaMetadata) eventlog.RecordedEvent {
	payload, err := json.Marshal(state)
	s.Require().NoError(err)
	return eventlog.RecordedEvent{
		Envelope: eventlog.Envelope{
			EventType:  eventType,
			OccurredAt: time.Now().UTC(),
			Payload:    payload,
			Saga:       saga,
		},
		Stream: storeCategory.StreamName(s.tenant, domain.EntityID(id)),
	}
}

func (s *ProjectionStoreSuite) apply(id, eventType string, state viewState) {
	s.Require().NoError(s.store.Apply(context.Background(), s.event(id, eventType, state, nil)))
}

// =============================================================================
// Readiness gate
// =============================================================================

func (s *ProjectionStoreSuite) TestRefusesReadsBeforeCatchUp() {
	ctx := context.Background()
	s.apply("msg1", "message.queued.v1", viewState{ID: "msg1", Tenant: "acme", Status: "created"})

	s.Run("get refuses", func() {
		_, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg1"))
		s.ErrorIs(err, sentinel.ErrProjectionUnavailable)
	})

	s.Run("list refuses", func() {
		_, _, err := s.store.List(ctx, s.tenant, ListQuery{})
		s.ErrorIs(err, sentinel.ErrProjectionUnavailable)
	})

	s.Run("reads flow once ready", func() {
		s.store.MarkReady(true)
		state, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg1"))
		s.Require().NoError(err)
		s.Equal("created", state.Status)
	})

	s.Run("marking unready closes the gate again", func() {
		s.store.MarkReady(false)
		_, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg1"))
		s.ErrorIs(err, sentinel.ErrProjectionUnavailable)
	})
}

// =============================================================================
// Apply
// =============================================================================

func (s *ProjectionStoreSuite) TestApply() {
	ctx := context.Background()
	s.store.MarkReady(true)

	s.Run("last write wins across event types", func() {
		s.apply("msg1", "message.queued.v1", viewState{ID: "msg1", Tenant: "acme", Status: "created"})
		s.apply("msg1", "message.updated.v1", viewState{ID: "msg1", Tenant: "acme", Status: "pending"})
		s.apply("msg1", "message.delivered.v1", viewState{ID: "msg1", Tenant: "acme", Status: "success"})

		state, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg1"))
		s.Require().NoError(err)
		s.Equal("success", state.Status)
	})

	s.Run("deletion event removes the record", func() {
		s.apply("msg2", "message.queued.v1", viewState{ID: "msg2", Tenant: "acme", Status: "created"})
		s.apply("msg2", "message.deleted.v1", viewState{ID: "msg2", Tenant: "acme"})

		_, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg2"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("compensation events leave the record untouched", func() {
		s.apply("msg3", "message.queued.v1", viewState{ID: "msg3", Tenant: "acme", Status: "created"})
		ev := s.event("msg3", "message.compensated.v1", viewState{ID: "msg3", Tenant: "acme", Status: "void"},
			&eventlog.SagaMetadata{OperationID: "op-1", IsCompensation: true})
		s.Require().NoError(s.store.Apply(ctx, ev))

		state, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg3"))
		s.Require().NoError(err)
		s.Equal("created", state.Status)
	})

	s.Run("payload-less events are skipped", func() {
		ev := eventlog.RecordedEvent{
			Envelope: eventlog.Envelope{EventType: "message.touched.v1"},
			Stream:   storeCategory.StreamName(s.tenant, domain.EntityID("msg4")),
		}
		s.Require().NoError(s.store.Apply(ctx, ev))
		_, err := s.store.Get(ctx, s.tenant, domain.EntityID("msg4"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("foreign streams are skipped without error", func() {
		ev := eventlog.RecordedEvent{
			Envelope: eventlog.Envelope{EventType: "invoice.created.v1", Payload: json.RawMessage(`{}`)},
			Stream:   "billing.invoice.v1-acme-inv1",
		}
		s.NoError(s.store.Apply(ctx, ev))
	})
}

// =============================================================================
// List: filtering, ordering, pagination
// =============================================================================

func (s *ProjectionStoreSuite) seedMany(n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("msg%03d", i)
		status := "pending"
		if i%3 == 0 {
			status = "success"
		}
		channel := "email"
		if i%2 == 0 {
			channel = "sms"
		}
		s.apply(id, "message.queued.v1", viewState{ID: id, Tenant: "acme", Status: status, Channel: channel})
	}
}

func (s *ProjectionStoreSuite) TestList() {
	ctx := context.Background()
	s.store.MarkReady(true)
	s.seedMany(45)

	s.Run("defaults page to 1 and size to 20", func() {
		items, meta, err := s.store.List(ctx, s.tenant, ListQuery{})
		s.Require().NoError(err)
		s.Len(items, 20)
		s.Equal(1, meta.Page)
		s.Equal(20, meta.Size)
		s.Equal(45, meta.ItemCount)
		s.Equal(3, meta.PageCount)
		s.False(meta.HasPreviousPage)
		s.True(meta.HasNextPage)
	})

	s.Run("last page is partial", func() {
		items, meta, err := s.store.List(ctx, s.tenant, ListQuery{Page: 3, Size: 20})
		s.Require().NoError(err)
		s.Len(items, 5)
		s.Equal(3, meta.PageCount)
		s.True(meta.HasPreviousPage)
		s.False(meta.HasNextPage)
	})

	s.Run("page past the end is empty but keeps meta", func() {
		items, meta, err := s.store.List(ctx, s.tenant, ListQuery{Page: 9, Size: 20})
		s.Require().NoError(err)
		s.Empty(items)
		s.Equal(45, meta.ItemCount)
	})

	s.Run("exact filter narrows the count", func() {
		_, meta, err := s.store.List(ctx, s.tenant, ListQuery{
			Filters: []Filter{{Field: "status", Value: "success", Exact: true}},
			Size:    200,
		})
		s.Require().NoError(err)
		s.Equal(15, meta.ItemCount)
	})

	s.Run("filters combine with AND", func() {
		items, _, err := s.store.List(ctx, s.tenant, ListQuery{
			Filters: []Filter{
				{Field: "status", Value: "success", Exact: true},
				{Field: "channel", Value: "email", Exact: true},
			},
			Size: 200,
		})
		s.Require().NoError(err)
		for _, item := range items {
			s.Equal("success", item.Status)
			s.Equal("email", item.Channel)
		}
	})

	s.Run("substring filter is case-insensitive", func() {
		_, meta, err := s.store.List(ctx, s.tenant, ListQuery{
			Filters: []Filter{{Field: "status", Value: "SUCC"}},
			Size:    200,
		})
		s.Require().NoError(err)
		s.Equal(15, meta.ItemCount)
	})

	s.Run("ordering is applied before pagination", func() {
		items, _, err := s.store.List(ctx, s.tenant, ListQuery{OrderBy: "id", Size: 5})
		s.Require().NoError(err)
		s.Require().Len(items, 5)
		for i := 1; i < len(items); i++ {
			s.LessOrEqual(items[i-1].ID, items[i].ID)
		}

		desc, _, err := s.store.List(ctx, s.tenant, ListQuery{OrderBy: "id", Descending: true, Size: 5})
		s.Require().NoError(err)
		s.Equal("msg044", desc[0].ID)
	})

	s.Run("tenants are isolated", func() {
		other := domain.Tenant("globex")
		_, meta, err := s.store.List(ctx, other, ListQuery{})
		s.Require().NoError(err)
		s.Equal(0, meta.ItemCount)
	})

	s.Run("oversized page size is clamped", func() {
		_, meta, err := s.store.List(ctx, s.tenant, ListQuery{Size: 100000})
		s.Require().NoError(err)
		s.Equal(200, meta.Size)
	})
}
