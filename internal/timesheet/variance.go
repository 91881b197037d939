package timesheet

import (
	"github.com/shopspring/decimal"

	"hourline/internal/domain"
)

// DefaultVarianceThreshold is the percent change at which a delta stops being normal.
var DefaultVarianceThreshold = decimal.NewFromInt(10)

var hundred = decimal.NewFromInt(100)

// ComputeVariance compares current hours with a baseline using the default threshold.
func ComputeVariance(current, baseline decimal.Decimal) domain.VarianceResult {
	return ComputeVarianceWithThreshold(current, baseline, DefaultVarianceThreshold)
}

// ComputeVarianceWithThreshold classifies current against baseline. Percent is
// reported to two places but classification uses the exact value. A zero
// baseline has no percent; any growth from it counts as an increase.
func ComputeVarianceWithThreshold(current, baseline, threshold decimal.Decimal) domain.VarianceResult {
	res := domain.VarianceResult{
		Current:        current,
		Baseline:       baseline,
		Delta:          current.Sub(baseline),
		Classification: domain.VarianceNormal,
	}
	if baseline.IsZero() {
		if res.Delta.IsPositive() {
			res.Classification = domain.VarianceIncrease
		}
		return res
	}
	pct := res.Delta.Div(baseline).Mul(hundred)
	switch {
	case pct.GreaterThanOrEqual(threshold):
		res.Classification = domain.VarianceIncrease
	case pct.LessThanOrEqual(threshold.Neg()):
		res.Classification = domain.VarianceDecrease
	}
	rounded := pct.Round(2)
	res.Percent = &rounded
	return res
}

// RollingBaseline is the mean of prior-period totals, zero when there are none.
func RollingBaseline(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total.Div(decimal.NewFromInt(int64(len(values))))
}

// PriorTotals returns a contributor's hours for each of the n equal-length
// periods immediately before r, most recent first.
func PriorTotals(snap Snapshot, contributorID string, r domain.DateRange, n int) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, ContributorHours(snap, contributorID, r.Shift(-i)))
	}
	return out
}
