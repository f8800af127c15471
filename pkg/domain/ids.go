package domain

import (
	"strings"

	dErrors "meridian/pkg/domain-errors"
)

// EntityID is a tenant-scoped entity code. It is a domain primitive that
// enforces validity at parse time: non-empty after trimming, immutable once
// constructed, compared by value.
type EntityID string

// ParseEntityID validates and returns an EntityID.
// Returns a CodeInvalidInput error for empty or whitespace-only input.
func ParseEntityID(s string) (EntityID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "entity id must not be empty")
	}
	return EntityID(trimmed), nil
}

// String returns the string representation of the entity id.
func (e EntityID) String() string {
	return string(e)
}

// IsNil returns true if the entity id is empty.
func (e EntityID) IsNil() bool {
	return e == ""
}

// Tenant identifies the tenant that owns an entity stream. Like EntityID it
// is validated at parse time and immutable afterwards.
type Tenant string

// ParseTenant validates and returns a Tenant. Tenant names must not
// contain "-": it is the stream name separator.
func ParseTenant(s string) (Tenant, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tenant must not be empty")
	}
	if strings.Contains(trimmed, "-") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tenant must not contain '-'")
	}
	return Tenant(trimmed), nil
}

// String returns the string representation of the tenant.
func (t Tenant) String() string {
	return string(t)
}

// IsNil returns true if the tenant is empty.
func (t Tenant) IsNil() bool {
	return t == ""
}
