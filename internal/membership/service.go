// internal/membership/service.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, email, name string, birthDate time.Time, password string) (*Member, error)
	Authenticate(ctx context.Context, email, password string) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	SetMemberStatus(ctx context.Context, id uuid.UUID, newStatus string) error
}
