package service

import (
	"context"

	"meridian/internal/es"
	"meridian/pkg/domain"
	dErrors "meridian/pkg/domain-errors"
)

// seedTemplateID is deterministic so restarts do not duplicate the seed.
const seedTemplateID = "seed-welcome"

// SeedDefaults creates a starter welcome template for each tenant that does
// not already have one. It reads through the repository, not the
// projection, so it works before catch-up completes.
func (s *Service) SeedDefaults(ctx context.Context, tenants []string) error {
	for _, raw := range tenants {
		tenant, err := domain.ParseTenant(raw)
		if err != nil {
			return err
		}
		actor := domain.Actor{UserID: "system", Tenant: tenant, Username: "bootstrap"}

		id, err := domain.ParseEntityID(seedTemplateID)
		if err != nil {
			return err
		}
		if _, err := s.Get(ctx, actor, id); err == nil {
			continue
		} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return err
		}

		saga := &es.SagaContext{OperationID: "bootstrap-seed-" + tenant.String()}
		if _, err := s.Create(ctx, actor, CreateRequest{
			ID:      seedTemplateID,
			Name:    "welcome",
			Channel: "email",
			Subject: "Welcome",
			Body:    "Hello {{.Recipient}}, welcome aboard.",
		}, saga); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "seeded default template", "tenant", tenant)
	}
	return nil
}
