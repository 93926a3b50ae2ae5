// internal/quota/quota.go
package quota

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cannatrace/internal/limits"
)

// Source reads a member's committed consumption for the day and calendar
// month containing the given instant. Consumption is never stored directly:
// it is recomputed from distribution records every time, so a snapshot is
// authoritative only at the moment it was read.
type Source interface {
	Consumption(ctx context.Context, memberID uuid.UUID, at time.Time) (limits.Consumption, error)
}
