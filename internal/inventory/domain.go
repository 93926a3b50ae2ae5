// internal/inventory/domain.go
package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product types recognised by track-and-trace.
const (
	ProductMarijuana = "MARIJUANA"
	ProductHashish   = "HASHISH"
)

// Unit lifecycle. A unit is packaged once and consumed by at most one
// committed distribution.
const (
	StatusAvailable = "available"
	StatusConsumed  = "consumed"
)

var ErrUnitUnavailable = errors.New("unit is not available")

// Unit represents one packaged unit of product. Weight and THC are decimal
// because quota math near a statutory boundary must not inherit float
// rounding. THCPercent is nil when no lab value is on file.
type Unit struct {
	ID             uuid.UUID        `json:"id"`
	BatchRef       string           `json:"batch_ref"`
	WeightGrams    decimal.Decimal  `json:"weight_grams"`
	ProductType    string           `json:"product_type"`
	THCPercent     *decimal.Decimal `json:"thc_percent,omitempty"`
	Status         string           `json:"status"`
	DistributionID *uuid.UUID       `json:"distribution_id,omitempty"`
	Version        int              `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// UnitPackagedEvent is published when a unit is packaged.
type UnitPackagedEvent struct {
	ID          uuid.UUID        `json:"id"`
	BatchRef    string           `json:"batch_ref"`
	WeightGrams decimal.Decimal  `json:"weight_grams"`
	ProductType string           `json:"product_type"`
	THCPercent  *decimal.Decimal `json:"thc_percent,omitempty"`
}

// UnitConsumedEvent is published when a committed distribution consumes a unit.
type UnitConsumedEvent struct {
	ID             uuid.UUID `json:"id"`
	DistributionID uuid.UUID `json:"distribution_id"`
}

// UnitReleasedEvent is published when a failed commit hands a unit back.
type UnitReleasedEvent struct {
	ID             uuid.UUID `json:"id"`
	DistributionID uuid.UUID `json:"distribution_id"`
}
