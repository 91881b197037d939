package timesheet

import (
	"time"

	"hourline/internal/domain"
)

// Week returns the seven-day range containing d that starts on weekStart.
func Week(d domain.Date, weekStart time.Weekday) domain.DateRange {
	back := (int(d.Time().Weekday()) - int(weekStart) + 7) % 7
	from := d.AddDays(-back)
	return domain.DateRange{From: from, To: from.AddDays(6)}
}

// Month returns the calendar month containing d.
func Month(d domain.Date) domain.DateRange {
	t := d.Time()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return domain.DateRange{From: domain.DateOf(first), To: domain.DateOf(last)}
}

// PreviousMonth returns the calendar month before the one containing d.
// Months differ in length, so Shift does not apply.
func PreviousMonth(d domain.Date) domain.DateRange {
	return Month(Month(d).From.AddDays(-1))
}
