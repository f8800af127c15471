package models

import (
	"time"

	"meridian/pkg/domain"
)

// Template is the rendered-content blueprint referenced by outgoing
// messages. Like every aggregate state here, the full struct rides on each
// event so projections can upsert it wholesale.
type Template struct {
	ID      domain.EntityID `json:"id"`
	Tenant  domain.Tenant   `json:"tenant"`
	Name    string          `json:"name"`
	Channel string          `json:"channel"`
	Subject string          `json:"subject,omitempty"`
	Body    string          `json:"body"`
	Locale  string          `json:"locale,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
