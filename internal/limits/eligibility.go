// internal/limits/eligibility.go
package limits

import "github.com/shopspring/decimal"

// Policy holds the jurisdiction's quota and potency ceilings. The values are
// legally mandated and change by regulation, so they are configuration, not
// constants baked into the engine.
type Policy struct {
	DailyGrams           decimal.Decimal
	MonthlyGramsUnder21  decimal.Decimal
	MonthlyGramsAdult    decimal.Decimal
	MaxTHCPercentUnder21 decimal.Decimal
}

// DefaultPolicy returns the statutory defaults: 25 g/day for all tiers,
// 30 g/month under 21, 50 g/month for adults, 10% THC ceiling under 21.
func DefaultPolicy() Policy {
	return Policy{
		DailyGrams:           decimal.NewFromInt(25),
		MonthlyGramsUnder21:  decimal.NewFromInt(30),
		MonthlyGramsAdult:    decimal.NewFromInt(50),
		MaxTHCPercentUnder21: decimal.NewFromInt(10),
	}
}

// LimitsFor resolves the limits applicable to one age tier. Adults carry no
// potency restriction, so MaxTHC stays nil.
func (p Policy) LimitsFor(tier Tier) Limits {
	limits := Limits{
		Daily:   p.DailyGrams,
		Monthly: p.MonthlyGramsAdult,
	}
	if tier == TierUnder21 {
		limits.Monthly = p.MonthlyGramsUnder21
		maxTHC := p.MaxTHCPercentUnder21
		limits.MaxTHC = &maxTHC
	}
	return limits
}

// Screen partitions candidate units by the potency ceiling. Units with an
// unknown THC value are never violations. A nil ceiling admits everything.
func Screen(maxTHC *decimal.Decimal, units []Unit) (eligible []Unit, violations []THCViolation) {
	if maxTHC == nil {
		return units, nil
	}
	for _, unit := range units {
		if unit.THCPercent != nil && unit.THCPercent.GreaterThan(*maxTHC) {
			violations = append(violations, THCViolation{UnitID: unit.ID, THCPercent: *unit.THCPercent})
			continue
		}
		eligible = append(eligible, unit)
	}
	return eligible, violations
}
