// internal/inventory/service.go
package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service defines the interface for the inventory service.
type Service interface {
	PackageUnit(ctx context.Context, batchRef string, weightGrams decimal.Decimal, productType string, thcPercent *decimal.Decimal) (*Unit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (*Unit, error)
	ListAvailable(ctx context.Context, maxTHC *decimal.Decimal) ([]*Unit, error)
	ConsumeUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error
	ReleaseUnits(ctx context.Context, ids []uuid.UUID, distributionID uuid.UUID) error
}
