package eventlog

import (
	"strings"

	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
)

// Category names one aggregate type's stream family inside a bounded context.
// Stream names derive from it and never from ad-hoc string concatenation, so
// the naming convention stays in one place:
//
//	entity stream:   "{boundedContext}.{aggregateType}.{version}-{tenant}-{entityId}"
//	category stream: "$ce-{boundedContext}.{aggregateType}.{version}"
type Category struct {
	BoundedContext string
	AggregateType  string
	Version        string
}

const categoryPrefix = "$ce-"

// Prefix returns the stream-name prefix shared by every entity stream of the
// category.
func (c Category) Prefix() string {
	return c.BoundedContext + "." + c.AggregateType + "." + c.Version
}

// Pattern returns the catch-up subscription pattern matching all entity
// streams of the category across tenants.
func (c Category) Pattern() string {
	return categoryPrefix + c.Prefix()
}

// StreamName derives the exclusive stream for one (tenant, entity) pair.
func (c Category) StreamName(tenant domain.Tenant, id domain.EntityID) string {
	return c.Prefix() + "-" + tenant.String() + "-" + id.String()
}

// ParseStreamName extracts the tenant and entity id back out of a stream
// name. The tenant segment must not contain "-"; anything after the second
// separator belongs to the entity id.
func (c Category) ParseStreamName(stream string) (domain.Tenant, domain.EntityID, error) {
	prefix := c.Prefix() + "-"
	if !strings.HasPrefix(stream, prefix) {
		return "", "", dErrors.Newf(dErrors.CodeInvalidInput, "stream %q does not belong to category %q", stream, c.Prefix())
	}
	rest := strings.TrimPrefix(stream, prefix)
	tenant, id, ok := strings.Cut(rest, "-")
	if !ok || tenant == "" || id == "" {
		return "", "", dErrors.Newf(dErrors.CodeInvalidInput, "stream %q is missing tenant or entity segment", stream)
	}
	return domain.Tenant(tenant), domain.EntityID(id), nil
}

// CategoryOf returns the category prefix of a raw stream name, the part
// before the first "-". Used by log backends to index streams for catch-up.
func CategoryOf(stream string) string {
	prefix, _, _ := strings.Cut(stream, "-")
	return prefix
}

// PatternPrefix strips the "$ce-" marker from a category pattern so backends
// can match it against CategoryOf values.
func PatternPrefix(pattern string) string {
	return strings.TrimPrefix(pattern, categoryPrefix)
}
