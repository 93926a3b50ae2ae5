// internal/distribution/service.go
package distribution

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the distribution workflow.
type Service interface {
	StartSession(ctx context.Context) (View, error)
	GetSession(ctx context.Context, id uuid.UUID) (View, error)
	SetRecipient(ctx context.Context, id, memberID uuid.UUID) (View, error)
	SelectUnits(ctx context.Context, id uuid.UUID, unitIDs []uuid.UUID, notes string) (View, error)
	AdvanceToReview(ctx context.Context, id uuid.UUID) (View, error)
	Back(ctx context.Context, id uuid.UUID) (View, error)
	Authorize(ctx context.Context, id uuid.UUID) (View, error)
	CancelAuthorization(ctx context.Context, id uuid.UUID) error
	Abort(ctx context.Context, id uuid.UUID) error
}
