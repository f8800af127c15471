package es

import (
	"context"
	"errors"
	"time"

	"meridian/pkg/platform/sentinel"
	"meridian/pkg/requestcontext"
)

func errorsIsNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}

// nowUTC resolves the event timestamp from the request-scoped clock so a
// whole saga step shares one occurredAt in tests and batch workers.
func nowUTC(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}
