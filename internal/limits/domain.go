// internal/limits/domain.go
package limits

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is a member's age tier under the distribution statute.
type Tier string

const (
	TierUnder21 Tier = "UNDER21"
	TierAdult   Tier = "ADULT"
)

const adultAge = 21

// TierFor derives the age tier from a birth date at the given instant. The
// birthday comparison is by month and day, not year day, so leap days do
// not shift the boundary.
func TierFor(birthDate, at time.Time) Tier {
	age := at.Year() - birthDate.Year()
	if at.Month() < birthDate.Month() ||
		(at.Month() == birthDate.Month() && at.Day() < birthDate.Day()) {
		age--
	}
	if age < adultAge {
		return TierUnder21
	}
	return TierAdult
}

// Unit is the screening view of a packaging unit: just the fields the limit
// engine needs. THCPercent is nil when the lab value is unknown.
type Unit struct {
	ID          uuid.UUID
	WeightGrams decimal.Decimal
	THCPercent  *decimal.Decimal
}

// Consumption is a member's already-committed grams in the current day and
// calendar month. It is a read projection over distribution records and is
// only as fresh as the moment it was fetched; callers must re-fetch before
// trusting it at commit time.
type Consumption struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// Limits are the statutory ceilings applicable to one member. MaxTHC is nil
// when no potency restriction applies.
type Limits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
	MaxTHC  *decimal.Decimal
}

// THCViolation identifies one candidate unit whose THC content exceeds the
// applicable ceiling, with the offending value for user-facing messaging.
type THCViolation struct {
	UnitID     uuid.UUID       `json:"unit_id"`
	THCPercent decimal.Decimal `json:"thc_percent"`
}

// Result is the full verdict over one candidate selection. All violations
// are reported together; a Result is never an error.
type Result struct {
	NewDaily         decimal.Decimal `json:"new_daily"`
	NewMonthly       decimal.Decimal `json:"new_monthly"`
	ExceedsDaily     bool            `json:"exceeds_daily"`
	ExceedsMonthly   bool            `json:"exceeds_monthly"`
	THCViolations    []THCViolation  `json:"thc_violations,omitempty"`
	RemainingDaily   decimal.Decimal `json:"remaining_daily"`
	RemainingMonthly decimal.Decimal `json:"remaining_monthly"`
	Valid            bool            `json:"valid"`
}
