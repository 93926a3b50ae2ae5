package limits

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func genGrams(t *rapid.T, label string) decimal.Decimal {
	// Milligram resolution keeps the generated values within the precision
	// real packaging scales report.
	mg := rapid.Int64Range(0, 100_000).Draw(t, label)
	return decimal.New(mg, -3)
}

func genUnits(t *rapid.T) []Unit {
	n := rapid.IntRange(0, 8).Draw(t, "unit_count")
	units := make([]Unit, 0, n)
	for i := 0; i < n; i++ {
		u := Unit{ID: uuid.New(), WeightGrams: genGrams(t, "weight")}
		if rapid.Bool().Draw(t, "has_thc") {
			pct := decimal.New(rapid.Int64Range(0, 400).Draw(t, "thc_tenths"), -1)
			u.THCPercent = &pct
		}
		units = append(units, u)
	}
	return units
}

func TestValidateDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		consumption := Consumption{Daily: genGrams(t, "daily"), Monthly: genGrams(t, "monthly")}
		limits := DefaultPolicy().LimitsFor(TierUnder21)
		units := genUnits(t)

		first := Validate(consumption, limits, units)
		second := Validate(consumption, limits, units)

		if !first.NewDaily.Equal(second.NewDaily) || first.Valid != second.Valid ||
			len(first.THCViolations) != len(second.THCViolations) {
			t.Fatalf("validate is not deterministic: %+v vs %+v", first, second)
		}
	})
}

func TestValidateRemainingAccounting(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		consumption := Consumption{Daily: genGrams(t, "daily"), Monthly: genGrams(t, "monthly")}
		limits := DefaultPolicy().LimitsFor(TierAdult)
		units := genUnits(t)

		total := decimal.Zero
		for _, u := range units {
			total = total.Add(u.WeightGrams)
		}

		result := Validate(consumption, limits, units)

		if !result.NewDaily.Equal(consumption.Daily.Add(total)) {
			t.Fatalf("new daily %s != consumed %s + selected %s", result.NewDaily, consumption.Daily, total)
		}
		if !result.RemainingDaily.Equal(limits.Daily.Sub(result.NewDaily)) {
			t.Fatalf("remaining daily %s inconsistent", result.RemainingDaily)
		}
		if result.ExceedsDaily != result.NewDaily.GreaterThan(limits.Daily) {
			t.Fatalf("exceeds_daily flag inconsistent with totals")
		}
		if result.ExceedsDaily && result.Valid {
			t.Fatalf("selection over the daily limit must not be valid")
		}
	})
}

func TestValidateAddingWeightNeverFreesCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		consumption := Consumption{Daily: genGrams(t, "daily"), Monthly: genGrams(t, "monthly")}
		limits := DefaultPolicy().LimitsFor(TierAdult)
		units := genUnits(t)
		extra := Unit{ID: uuid.New(), WeightGrams: genGrams(t, "extra")}

		before := Validate(consumption, limits, units)
		after := Validate(consumption, limits, append(units, extra))

		if before.ExceedsDaily && !after.ExceedsDaily {
			t.Fatalf("adding a unit cleared exceeds_daily")
		}
		if after.RemainingDaily.GreaterThan(before.RemainingDaily) {
			t.Fatalf("remaining capacity grew from %s to %s after adding weight",
				before.RemainingDaily, after.RemainingDaily)
		}
	})
}
