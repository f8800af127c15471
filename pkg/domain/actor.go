package domain

import (
	dErrors "meridian/pkg/domain-errors"
)

// Actor identifies who performed a state change. Every domain event carries
// the actor's identity so the log can answer "who did this" without joining
// against an external session store.
type Actor struct {
	UserID   string `json:"userId"`
	Tenant   Tenant `json:"tenant"`
	TenantID string `json:"tenantId"`
	Username string `json:"username"`
}

// Validate checks the actor invariant: user and tenant are always present.
func (a Actor) Validate() error {
	if a.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "actor user id is required")
	}
	if a.Tenant.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "actor tenant is required")
	}
	return nil
}

// IsNil returns true when the actor carries no identity at all.
func (a Actor) IsNil() bool {
	return a.UserID == "" && a.Tenant.IsNil() && a.Username == ""
}
