package timesheet

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hourline/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeVariance(t *testing.T) {
	cases := []struct {
		name     string
		current  string
		baseline string
		delta    string
		percent  string
		class    domain.VarianceClass
	}{
		{"decrease", "35", "40", "-5", "-12.5", domain.VarianceDecrease},
		{"increase", "44", "40", "4", "10", domain.VarianceIncrease},
		{"just under threshold", "43.9", "40", "3.9", "9.75", domain.VarianceNormal},
		{"exact negative threshold", "36", "40", "-4", "-10", domain.VarianceDecrease},
		{"unchanged", "40", "40", "0", "0", domain.VarianceNormal},
		{"thirds", "50", "30", "20", "66.67", domain.VarianceIncrease},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ComputeVariance(dec(tc.current), dec(tc.baseline))
			assert.Equal(t, tc.delta, res.Delta.String())
			require.NotNil(t, res.Percent)
			assert.Equal(t, tc.percent, res.Percent.String())
			assert.Equal(t, tc.class, res.Classification)
		})
	}
}

func TestComputeVariance_ZeroBaseline(t *testing.T) {
	res := ComputeVariance(dec("8"), decimal.Zero)
	assert.Nil(t, res.Percent)
	assert.Equal(t, "8", res.Delta.String())
	assert.Equal(t, domain.VarianceIncrease, res.Classification)

	res = ComputeVariance(decimal.Zero, decimal.Zero)
	assert.Nil(t, res.Percent)
	assert.Equal(t, domain.VarianceNormal, res.Classification)
}

func TestComputeVarianceWithThreshold(t *testing.T) {
	res := ComputeVarianceWithThreshold(dec("35"), dec("40"), dec("20"))
	assert.Equal(t, domain.VarianceNormal, res.Classification)
}

func TestRollingBaseline(t *testing.T) {
	assert.True(t, RollingBaseline(nil).IsZero())
	assert.Equal(t, "40", RollingBaseline([]decimal.Decimal{dec("38"), dec("42"), dec("40")}).String())
	assert.Equal(t, "37.5", RollingBaseline([]decimal.Decimal{dec("35"), dec("40")}).String())
}

func TestPriorTotals(t *testing.T) {
	s := newTestStore(t)
	mustUpsert(t, s, "alice", "2024-01-02", "8", "Development")
	mustUpsert(t, s, "alice", "2024-01-03", "8", "Development")
	mustUpsert(t, s, "alice", "2023-12-27", "5", "Development")
	mustUpsert(t, s, "bob", "2024-01-02", "7", "Design")

	week := domain.DateRange{From: "2024-01-08", To: "2024-01-14"}
	totals := PriorTotals(s.Snapshot(), "alice", week, 3)
	require.Len(t, totals, 3)
	assert.Equal(t, "16", totals[0].String())
	assert.Equal(t, "5", totals[1].String())
	assert.True(t, totals[2].IsZero())
}
