package verification

import (
	"context"

	"irisvault/internal/gateway/models"
	"irisvault/internal/handoff"
	audit "irisvault/pkg/platform/audit"
)

// Gateway is the set of collaborator calls the login flow makes.
type Gateway interface {
	Balance(ctx context.Context, accountNumber string) (models.Account, error)
	Verify(ctx context.Context, req models.VerificationRequest) (models.VerificationResult, error)
	DemoCredential(ctx context.Context, accountNumber string) (string, error)
	VerifyFallback(ctx context.Context, req models.FallbackRequest) (models.FallbackResult, error)
}

// AuditPublisher records authentication outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TokenIssuer signs the dashboard handoff token.
type TokenIssuer interface {
	Issue(p handoff.Principal) (handoff.Token, error)
}
