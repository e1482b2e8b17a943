package enrollment

import (
	"context"

	"irisvault/internal/gateway/models"
	audit "irisvault/pkg/platform/audit"
)

// Enroller submits a completed batch to the enrollment backend.
type Enroller interface {
	Enroll(ctx context.Context, req models.EnrollmentRequest) (models.EnrollmentResult, error)
}

// AuditPublisher records enrollment outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
