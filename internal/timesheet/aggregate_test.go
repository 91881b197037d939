package timesheet

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hourline/internal/domain"
)

func TestAggregateDay_ExampleScenario(t *testing.T) {
	s := newTestStore(t)
	agg := NewAggregator(s)
	alice := entryIn(t, s, "alice", "2024-01-08", domain.StatusDraft)
	bob := entryIn(t, s, "bob", "2024-01-08", domain.StatusDraft)
	_, err := s.Submit(alice)
	require.NoError(t, err)
	_, err = s.Submit(bob)
	require.NoError(t, err)

	day := agg.Day("2024-01-08")
	assert.Equal(t, "16", day.TotalHours.String())
	assert.Equal(t, domain.StatusBreakdown{Submitted: 2}, day.StatusBreakdown)

	_, line, err := s.Approve(alice, "rev", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", line.ContributorID)
	assert.Equal(t, domain.Date("2024-01-08"), line.Date)
	assert.Equal(t, "8", line.Hours.String())
	assert.Equal(t, "75", line.Rate.String())
	assert.Equal(t, "600", line.Amount.String())

	day = agg.Day("2024-01-08")
	assert.Equal(t, domain.StatusBreakdown{Submitted: 1, Approved: 1}, day.StatusBreakdown)
	assert.Equal(t, "1080", day.TotalCost.String())
}

func TestAggregateDay_ExcludesZeroHours(t *testing.T) {
	s := newTestStore(t)
	mustUpsert(t, s, "alice", "2024-01-08", "7.25", "Development")
	mustUpsert(t, s, "bob", "2024-01-08", "0", "Design")
	mustUpsert(t, s, "bob", "2024-01-09", "5", "Design")

	day := AggregateDay(s.Snapshot(), "2024-01-08")
	assert.Equal(t, "7.25", day.TotalHours.String())
	require.Len(t, day.Contributors, 1)
	assert.Equal(t, "alice", day.Contributors[0].ContributorID)
	assert.Equal(t, len(day.Contributors), day.StatusBreakdown.Total())
}

func TestAggregateDay_Empty(t *testing.T) {
	s := newTestStore(t)
	day := AggregateDay(s.Snapshot(), "2024-01-08")
	assert.True(t, day.TotalHours.IsZero())
	assert.True(t, day.TotalCost.IsZero())
	assert.Empty(t, day.Contributors)
	assert.Equal(t, 0, day.StatusBreakdown.Total())
}

func TestAggregateDay_ExactDecimals(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddContributor(domain.Contributor{ID: "carol", Name: "Carol", HourlyRate: decimal.RequireFromString("33.33")})
	require.NoError(t, err)
	mustUpsert(t, s, "alice", "2024-01-08", "0.1", "Development")
	mustUpsert(t, s, "bob", "2024-01-08", "0.2", "Design")
	mustUpsert(t, s, "carol", "2024-01-08", "0.3", "Review")

	day := AggregateDay(s.Snapshot(), "2024-01-08")
	assert.Equal(t, "0.6", day.TotalHours.String())
	// 0.1*75 + 0.2*60 + 0.3*33.33
	assert.Equal(t, "29.499", day.TotalCost.String())
}

func seedWeek(t *testing.T, s *Store) {
	t.Helper()
	mustUpsert(t, s, "alice", "2024-01-08", "8", "Development")
	mustUpsert(t, s, "alice", "2024-01-09", "6", "Review")
	mustUpsert(t, s, "bob", "2024-01-09", "4", "Design")
	mustUpsert(t, s, "bob", "2024-01-10", "0", "Design")
	mustUpsert(t, s, "alice", "2024-01-15", "8", "Development")
	_, err := s.Submit(key("alice", "2024-01-08"))
	require.NoError(t, err)
	_, _, err = s.Approve(key("alice", "2024-01-08"), "rev", "")
	require.NoError(t, err)
	_, err = s.Submit(key("bob", "2024-01-09"))
	require.NoError(t, err)
}

func TestAggregatePeriod(t *testing.T) {
	s := newTestStore(t)
	seedWeek(t, s)
	week := domain.DateRange{From: "2024-01-08", To: "2024-01-14"}

	sum, err := AggregatePeriod(s.Snapshot(), week)
	require.NoError(t, err)
	assert.Equal(t, "18", sum.TotalHours.String())
	// 8*75 + 6*75 + 4*60
	assert.Equal(t, "1290", sum.TotalCost.String())
	assert.Equal(t, 2, sum.DaysWorked)
	assert.Len(t, sum.Days, 7)
	assert.Len(t, sum.Contributors, 3)
	assert.Equal(t, domain.StatusBreakdown{Draft: 1, Submitted: 1, Approved: 1}, sum.StatusBreakdown)
	assert.Equal(t, len(sum.Contributors), sum.StatusBreakdown.Total())

	require.Len(t, sum.ByContributor, 2)
	assert.Equal(t, "Alice", sum.ByContributor[0].Name)
	assert.Equal(t, "14", sum.ByContributor[0].Hours.String())
	assert.Equal(t, "1050", sum.ByContributor[0].Cost.String())
	assert.Equal(t, 2, sum.ByContributor[0].DaysWorked)
	assert.Equal(t, "Bob", sum.ByContributor[1].Name)
	assert.Equal(t, "4", sum.ByContributor[1].Hours.String())

	tasks := []string{}
	for _, ts := range sum.ByTask {
		tasks = append(tasks, ts.Task)
	}
	assert.Equal(t, []string{"Design", "Development", "Review"}, tasks)

	for _, d := range sum.Days {
		assert.Equal(t, len(d.Contributors), d.StatusBreakdown.Total(), "day %s", d.Date)
	}
}

func TestAggregatePeriod_SumsDays(t *testing.T) {
	s := newTestStore(t)
	seedWeek(t, s)
	snap := s.Snapshot()
	r := domain.DateRange{From: "2024-01-01", To: "2024-01-31"}
	sum, err := AggregatePeriod(snap, r)
	require.NoError(t, err)

	total := decimal.Zero
	for _, d := range r.Days() {
		total = total.Add(AggregateDay(snap, d).TotalHours)
	}
	assert.True(t, total.Equal(sum.TotalHours))
	assert.Equal(t, "26", sum.TotalHours.String())
}

func TestAggregatePeriod_RateChangeMidPeriod(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SetRate("alice", "2024-01-09", decimal.NewFromInt(100))
	require.NoError(t, err)
	mustUpsert(t, s, "alice", "2024-01-08", "8", "Development")
	mustUpsert(t, s, "alice", "2024-01-09", "8", "Development")

	sum, err := AggregatePeriod(s.Snapshot(), domain.DateRange{From: "2024-01-08", To: "2024-01-09"})
	require.NoError(t, err)
	// 8*75 + 8*100, not 16 * a single rate
	assert.Equal(t, "1400", sum.TotalCost.String())
}

func TestAggregatePeriod_Idempotent(t *testing.T) {
	s := newTestStore(t)
	seedWeek(t, s)
	agg := NewAggregator(s)
	r := domain.DateRange{From: "2024-01-08", To: "2024-01-21"}
	first, err := agg.Period(r)
	require.NoError(t, err)
	second, err := agg.Period(r)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregatePeriod_InvalidRange(t *testing.T) {
	s := newTestStore(t)
	_, err := AggregatePeriod(s.Snapshot(), domain.DateRange{From: "2024-01-09", To: "2024-01-08"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUniqueContributors(t *testing.T) {
	s := newTestStore(t)
	seedWeek(t, s)
	agg := NewAggregator(s)

	assert.Equal(t, []string{"alice", "bob"}, agg.UniqueContributors(domain.DateRange{From: "2024-01-08", To: "2024-01-14"}))
	assert.Equal(t, []string{"alice"}, agg.UniqueContributors(domain.DateRange{From: "2024-01-10", To: "2024-01-31"}))

	_, err := s.DeleteEntry("alice", "2024-01-15")
	require.NoError(t, err)
	assert.Empty(t, agg.UniqueContributors(domain.DateRange{From: "2024-01-10", To: "2024-01-31"}))
}
