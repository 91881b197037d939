package timesheet

import (
	"sort"

	"github.com/shopspring/decimal"

	"hourline/internal/domain"
)

// Source supplies the entries an Aggregator derives from.
type Source interface {
	Snapshot() Snapshot
}

// Aggregator derives day and period rollups from whatever its source holds at
// call time. Nothing is cached.
type Aggregator struct {
	src Source
}

func NewAggregator(src Source) Aggregator {
	return Aggregator{src: src}
}

func (a Aggregator) Day(d domain.Date) domain.DayAggregate {
	return AggregateDay(a.src.Snapshot(), d)
}

func (a Aggregator) Period(r domain.DateRange) (domain.PeriodSummary, error) {
	return AggregatePeriod(a.src.Snapshot(), r)
}

func (a Aggregator) UniqueContributors(r domain.DateRange) []string {
	return UniqueContributors(a.src.Snapshot(), r)
}

// AggregateDay rolls up the counting entries of d.
func AggregateDay(snap Snapshot, d domain.Date) domain.DayAggregate {
	var entries []domain.TimeEntry
	for _, e := range snap.Entries {
		if e.Date == d && e.Counts() {
			entries = append(entries, e)
		}
	}
	return dayOf(snap, d, entries)
}

func dayOf(snap Snapshot, d domain.Date, entries []domain.TimeEntry) domain.DayAggregate {
	agg := domain.DayAggregate{
		Date:         d,
		TotalHours:   decimal.Zero,
		TotalCost:    decimal.Zero,
		Contributors: []domain.TimeEntry{},
	}
	for _, e := range entries {
		agg.TotalHours = agg.TotalHours.Add(e.Hours)
		agg.TotalCost = agg.TotalCost.Add(e.Hours.Mul(snap.RateFor(e)))
		agg.StatusBreakdown.Add(e.Status)
		agg.Contributors = append(agg.Contributors, e)
	}
	sortEntries(agg.Contributors)
	return agg
}

// AggregatePeriod rolls up every day of r, then groups by contributor and task.
func AggregatePeriod(snap Snapshot, r domain.DateRange) (domain.PeriodSummary, error) {
	if err := r.Validate(); err != nil {
		return domain.PeriodSummary{}, err
	}
	byDate := map[domain.Date][]domain.TimeEntry{}
	for _, e := range snap.Entries {
		if e.Counts() && r.Contains(e.Date) {
			byDate[e.Date] = append(byDate[e.Date], e)
		}
	}

	sum := domain.PeriodSummary{
		Range:         r,
		TotalHours:    decimal.Zero,
		TotalCost:     decimal.Zero,
		Contributors:  []domain.TimeEntry{},
		Days:          make([]domain.DayAggregate, 0, r.Len()),
		ByContributor: []domain.ContributorSubtotal{},
		ByTask:        []domain.TaskSubtotal{},
	}
	people := map[string]*domain.ContributorSubtotal{}
	tasks := map[string]*domain.TaskSubtotal{}
	for _, d := range r.Days() {
		day := dayOf(snap, d, byDate[d])
		sum.Days = append(sum.Days, day)
		sum.TotalHours = sum.TotalHours.Add(day.TotalHours)
		sum.TotalCost = sum.TotalCost.Add(day.TotalCost)
		if day.TotalHours.IsPositive() {
			sum.DaysWorked++
		}
		for _, e := range day.Contributors {
			cost := e.Hours.Mul(snap.RateFor(e))
			sum.Contributors = append(sum.Contributors, e)
			sum.StatusBreakdown.Add(e.Status)

			p, ok := people[e.ContributorID]
			if !ok {
				p = &domain.ContributorSubtotal{
					ContributorID: e.ContributorID,
					Name:          snap.Contributors[e.ContributorID].Name,
					Hours:         decimal.Zero,
					Cost:          decimal.Zero,
				}
				people[e.ContributorID] = p
			}
			p.Hours = p.Hours.Add(e.Hours)
			p.Cost = p.Cost.Add(cost)
			p.DaysWorked++
			p.StatusBreakdown.Add(e.Status)

			t, ok := tasks[e.Task]
			if !ok {
				t = &domain.TaskSubtotal{Task: e.Task, Hours: decimal.Zero, Cost: decimal.Zero}
				tasks[e.Task] = t
			}
			t.Hours = t.Hours.Add(e.Hours)
			t.Cost = t.Cost.Add(cost)
			t.Entries++
		}
	}

	for _, p := range people {
		sum.ByContributor = append(sum.ByContributor, *p)
	}
	sort.Slice(sum.ByContributor, func(i, j int) bool {
		a, b := sum.ByContributor[i], sum.ByContributor[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ContributorID < b.ContributorID
	})
	for _, t := range tasks {
		sum.ByTask = append(sum.ByTask, *t)
	}
	sort.Slice(sum.ByTask, func(i, j int) bool { return sum.ByTask[i].Task < sum.ByTask[j].Task })
	return sum, nil
}

// UniqueContributors returns the sorted IDs of everyone with counting hours in r.
// A zero range covers all dates.
func UniqueContributors(snap Snapshot, r domain.DateRange) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range snap.Entries {
		if !e.Counts() || (!r.IsZero() && !r.Contains(e.Date)) || seen[e.ContributorID] {
			continue
		}
		seen[e.ContributorID] = true
		out = append(out, e.ContributorID)
	}
	sort.Strings(out)
	return out
}

// ContributorHours sums the counting hours of one contributor over r.
func ContributorHours(snap Snapshot, contributorID string, r domain.DateRange) decimal.Decimal {
	total := decimal.Zero
	for _, e := range snap.Entries {
		if e.ContributorID == contributorID && e.Counts() && r.Contains(e.Date) {
			total = total.Add(e.Hours)
		}
	}
	return total
}
