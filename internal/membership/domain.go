// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"

	"cannatrace/internal/limits"
)

// Member represents a registered club member. The birth date is the source
// of the age tier that drives potency restrictions downstream; the tier is
// derived on read, never stored.
type Member struct {
	ID        uuid.UUID   `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	BirthDate time.Time   `json:"birth_date"`
	AgeTier   limits.Tier `json:"age_tier"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Version   int         `json:"version"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID     uuid.UUID `json:"member_id"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

// MemberRegisteredEvent is published when a new member registers.
type MemberRegisteredEvent struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birth_date"`
}

// MemberStatusChangedEvent is published when a member is suspended or
// reinstated.
type MemberStatusChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	NewStatus string    `json:"new_status"`
}
