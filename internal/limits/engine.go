// internal/limits/engine.go
package limits

import "github.com/shopspring/decimal"

// Validate screens a candidate selection against a member's consumption and
// limits. It is pure and deterministic: no I/O, no clock, same inputs give
// the same Result. Callers must re-run it with freshly fetched consumption
// immediately before committing; a stale snapshot here is a compliance bug,
// not a performance optimisation.
func Validate(consumption Consumption, limits Limits, units []Unit) Result {
	total := decimal.Zero
	for _, unit := range units {
		total = total.Add(unit.WeightGrams)
	}

	result := Result{
		NewDaily:   consumption.Daily.Add(total),
		NewMonthly: consumption.Monthly.Add(total),
	}
	result.ExceedsDaily = result.NewDaily.GreaterThan(limits.Daily)
	result.ExceedsMonthly = result.NewMonthly.GreaterThan(limits.Monthly)

	// Remaining capacity may be negative; callers display the absolute
	// value as "amount to remove".
	result.RemainingDaily = limits.Daily.Sub(result.NewDaily)
	result.RemainingMonthly = limits.Monthly.Sub(result.NewMonthly)

	if limits.MaxTHC != nil {
		for _, unit := range units {
			if unit.THCPercent != nil && unit.THCPercent.GreaterThan(*limits.MaxTHC) {
				result.THCViolations = append(result.THCViolations, THCViolation{
					UnitID:     unit.ID,
					THCPercent: *unit.THCPercent,
				})
			}
		}
	}

	result.Valid = !result.ExceedsDaily && !result.ExceedsMonthly && len(result.THCViolations) == 0
	return result
}
