package submission

import (
	"strings"
	"time"

	apperrors "pimbl/internal/errors"
)

// Defaults used when a caller leaves a field empty.
const (
	DefaultProblemCategory = "Blocked Bike Lane"
	DefaultDescription     = "Vehicle parked in bike lane"

	// MaxAttachments is the portal's photo limit.
	MaxAttachments = 3

	// DryRunServiceRequestNumber is returned instead of a real tracking
	// number when submission is disabled.
	DryRunServiceRequestNumber = "dummy-service-request-number"
)

// Request is one complaint. It is not modified during a submission.
type Request struct {
	ID              string // correlation ID for logs; generated when empty
	ProblemCategory string // must match a portal category label exactly
	ObservedAt      time.Time
	Description     string
	Address         string
	Attachments     []string // local file paths, in upload order
}

// WithDefaults fills empty optional fields.
func (r Request) WithDefaults(now time.Time) Request {
	if strings.TrimSpace(r.ProblemCategory) == "" {
		r.ProblemCategory = DefaultProblemCategory
	}
	if strings.TrimSpace(r.Description) == "" {
		r.Description = DefaultDescription
	}
	if r.ObservedAt.IsZero() {
		r.ObservedAt = now
	}
	return r
}

// Validate rejects requests that can never succeed, before any browser work.
func (r Request) Validate() error {
	if len(r.Attachments) > MaxAttachments {
		return apperrors.NewValidationError("at most 3 images may be submitted")
	}
	if strings.TrimSpace(r.ProblemCategory) == "" {
		return apperrors.NewValidationError("problem category is required")
	}
	if strings.TrimSpace(r.Address) == "" {
		return apperrors.NewValidationError("address is required")
	}
	return nil
}
