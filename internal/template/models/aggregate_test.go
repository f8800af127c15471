package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
)

type TemplateAggregateSuite struct {
	suite.Suite
	actor domain.Actor
	now   time.Time
}

func TestTemplateAggregateSuite(t *testing.T) {
	suite.Run(t, new(TemplateAggregateSuite))
}

func (s *TemplateAggregateSuite) SetupTest() {
	s.actor = domain.Actor{UserID: "user-1", Tenant: domain.Tenant("acme"), Username: "alice"}
	s.now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
}

func (s *TemplateAggregateSuite) validProps() CreateProps {
	return CreateProps{
		ID:      domain.EntityID("tpl-1"),
		Name:    "welcome",
		Channel: "email",
		Subject: "Welcome",
		Body:    "Hello {{.Recipient}}",
		Locale:  "en",
	}
}

func strPtr(v string) *string { return &v }

// =============================================================================
// New
// =============================================================================

func (s *TemplateAggregateSuite) TestNew() {
	s.Run("buffers the created event with the full state", func() {
		agg, err := New(s.actor, s.validProps(), s.now)
		s.Require().NoError(err)
		s.True(agg.HasUncommitted())

		events := agg.UncommittedEvents()
		s.Require().Len(events, 1)
		s.Equal(EventCreated, events[0].EventType)

		var payload Template
		s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
		s.Equal(domain.EntityID("tpl-1"), payload.ID)
		s.Equal("welcome", payload.Name)
		s.Equal("Hello {{.Recipient}}", payload.Body)
		s.Equal(s.actor.Tenant, payload.Tenant)
	})

	s.Run("required fields", func() {
		cases := []struct {
			name   string
			mutate func(*CreateProps)
		}{
			{"missing id", func(p *CreateProps) { p.ID = "" }},
			{"missing name", func(p *CreateProps) { p.Name = "" }},
			{"missing channel", func(p *CreateProps) { p.Channel = "" }},
			{"missing body", func(p *CreateProps) { p.Body = "" }},
		}
		for _, tc := range cases {
			props := s.validProps()
			tc.mutate(&props)
			_, err := New(s.actor, props, s.now)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), tc.name)
		}
	})

	s.Run("invalid actor", func() {
		_, err := New(domain.Actor{}, s.validProps(), s.now)
		s.Error(err)
	})
}

// =============================================================================
// Update
// =============================================================================

func (s *TemplateAggregateSuite) TestUpdate() {
	s.Run("partial update emits one event", func() {
		agg := Hydrate(Template{ID: "tpl-1", Tenant: s.actor.Tenant, Name: "welcome", Channel: "email", Body: "hi"})

		err := agg.Update(s.actor, UpdateProps{Subject: strPtr("Hi there")}, s.now)
		s.Require().NoError(err)

		s.Equal("Hi there", agg.State().Subject)
		s.Equal("welcome", agg.State().Name)
		s.Require().Len(agg.UncommittedEvents(), 1)
		s.Equal(EventUpdated, agg.UncommittedEvents()[0].EventType)
	})

	s.Run("no-op update emits nothing", func() {
		agg := Hydrate(Template{ID: "tpl-1", Tenant: s.actor.Tenant, Name: "welcome", Channel: "email", Body: "hi"})

		err := agg.Update(s.actor, UpdateProps{Name: strPtr("welcome"), Body: strPtr("hi")}, s.now)
		s.Require().NoError(err)
		s.False(agg.HasUncommitted())
	})

	s.Run("name and body cannot be cleared", func() {
		agg := Hydrate(Template{ID: "tpl-1", Tenant: s.actor.Tenant, Name: "welcome", Channel: "email", Body: "hi"})

		err := agg.Update(s.actor, UpdateProps{Name: strPtr("")}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		err = agg.Update(s.actor, UpdateProps{Body: strPtr("")}, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		s.Equal("welcome", agg.State().Name)
		s.Equal("hi", agg.State().Body)
		s.False(agg.HasUncommitted())
	})
}

// =============================================================================
// Delete
// =============================================================================

func (s *TemplateAggregateSuite) TestDelete() {
	agg := Hydrate(Template{ID: "tpl-1", Tenant: s.actor.Tenant, Name: "welcome", Channel: "email", Body: "hi"})

	s.Require().NoError(agg.Delete(s.actor, s.now))

	events := agg.UncommittedEvents()
	s.Require().Len(events, 1)
	s.Equal(EventDeleted, events[0].EventType)

	// The tombstone still carries the final state for the log's sake.
	var payload Template
	s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
	s.Equal("welcome", payload.Name)
}
