package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of a calendar day.
const DateLayout = "2006-01-02"

// Date is a calendar day without time of day, always in DateLayout form.
// Normalized dates compare correctly as strings.
type Date string

// ParseDate validates and normalizes s.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", s)}
	}
	return DateOf(t), nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d < o }
func (d Date) After(o Date) bool  { return d > o }
func (d Date) IsZero() bool       { return d == "" }
func (d Date) String() string     { return string(d) }

// DateRange is an inclusive span of days.
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// NewDateRange builds a validated range.
func NewDateRange(from, to Date) (DateRange, error) {
	r := DateRange{From: from, To: to}
	return r, r.Validate()
}

// MaxRangeDays bounds the span of a queried range.
const MaxRangeDays = 3660

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return ValidationError{Field: "range", Reason: "from and to are required"}
	}
	if r.To.Before(r.From) {
		return ValidationError{Field: "range", Reason: fmt.Sprintf("to %s is before from %s", r.To, r.From)}
	}
	if n := r.Len(); n > MaxRangeDays {
		return ValidationError{Field: "range", Reason: fmt.Sprintf("range spans %d days, at most %d allowed", n, MaxRangeDays)}
	}
	return nil
}

func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// Len returns the number of days in the range.
func (r DateRange) Len() int {
	if r.To.Before(r.From) {
		return 0
	}
	return int((r.To.Time().Unix()-r.From.Time().Unix())/86400) + 1
}

// Days lists every day of the range in order.
func (r DateRange) Days() []Date {
	n := r.Len()
	days := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, r.From.AddDays(i))
	}
	return days
}

// Shift moves the range by n whole range lengths; negative n goes back in time.
func (r DateRange) Shift(n int) DateRange {
	step := r.Len() * n
	return DateRange{From: r.From.AddDays(step), To: r.To.AddDays(step)}
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.From, r.To)
}
