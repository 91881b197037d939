package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Statuses lists every entry status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Key identifies the single entry a contributor may hold for a day.
type Key struct {
	ContributorID string `json:"contributor_id"`
	Date          Date   `json:"date"`
}

func (k Key) String() string { return k.ContributorID + "@" + string(k.Date) }

// TimeEntry is one person's work on one calendar day.
type TimeEntry struct {
	ID            string          `json:"id"`
	ContributorID string          `json:"contributor_id"`
	Date          Date            `json:"date"`
	Hours         decimal.Decimal `json:"hours"`
	Task          string          `json:"task"`
	Notes         string          `json:"notes,omitempty"`
	StartTime     string          `json:"start_time,omitempty"`
	EndTime       string          `json:"end_time,omitempty"`
	Status        Status          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	ReviewerID    string          `json:"reviewer_id,omitempty"`
	ReviewNote    string          `json:"review_note,omitempty"`
	SubmittedAt   string          `json:"submitted_at,omitempty" format:"date-time"`
	ReviewedAt    string          `json:"reviewed_at,omitempty" format:"date-time"`
	Version       int64           `json:"version"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	UpdatedAt     string          `json:"updated_at" format:"date-time"`
}

func (e TimeEntry) Key() Key { return Key{ContributorID: e.ContributorID, Date: e.Date} }

// Counts reports whether the entry contributes to aggregates; zero hours is no entry.
func (e TimeEntry) Counts() bool { return e.Hours.IsPositive() }

// RateChange sets a contributor's hourly rate from a day onwards.
type RateChange struct {
	EffectiveFrom Date            `json:"effective_from"`
	Rate          decimal.Decimal `json:"rate"`
}

// Contributor is a billable person.
type Contributor struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Role       string          `json:"role,omitempty"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Rates      []RateChange    `json:"rates,omitempty"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
}

// RateOn returns the rate in effect on d: the latest change not after d,
// otherwise the base hourly rate.
func (c Contributor) RateOn(d Date) decimal.Decimal {
	rate := c.HourlyRate
	var best Date
	for _, rc := range c.Rates {
		if rc.EffectiveFrom.After(d) {
			continue
		}
		if best.IsZero() || !rc.EffectiveFrom.Before(best) {
			best = rc.EffectiveFrom
			rate = rc.Rate
		}
	}
	return rate
}

// SortRates orders rate changes chronologically.
func SortRates(rates []RateChange) {
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].EffectiveFrom < rates[j].EffectiveFrom })
}

// StatusBreakdown counts entries per status. Submitted entries are the "pending" ones.
type StatusBreakdown struct {
	Draft     int `json:"draft"`
	Submitted int `json:"submitted"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
}

func (b *StatusBreakdown) Add(s Status) {
	switch s {
	case StatusDraft:
		b.Draft++
	case StatusSubmitted:
		b.Submitted++
	case StatusApproved:
		b.Approved++
	case StatusRejected:
		b.Rejected++
	}
}

func (b StatusBreakdown) Total() int {
	return b.Draft + b.Submitted + b.Approved + b.Rejected
}

// DayAggregate is derived from the entries of one date and never stored.
type DayAggregate struct {
	Date            Date            `json:"date"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	Contributors    []TimeEntry     `json:"contributors"`
	StatusBreakdown StatusBreakdown `json:"status_breakdown"`
}

type ContributorSubtotal struct {
	ContributorID   string          `json:"contributor_id"`
	Name            string          `json:"name"`
	Hours           decimal.Decimal `json:"hours"`
	Cost            decimal.Decimal `json:"cost"`
	DaysWorked      int             `json:"days_worked"`
	StatusBreakdown StatusBreakdown `json:"status_breakdown"`
}

type TaskSubtotal struct {
	Task    string          `json:"task"`
	Hours   decimal.Decimal `json:"hours"`
	Cost    decimal.Decimal `json:"cost"`
	Entries int             `json:"entries"`
}

// PeriodSummary is a DayAggregate scoped to a date range.
type PeriodSummary struct {
	Range           DateRange             `json:"range"`
	TotalHours      decimal.Decimal       `json:"total_hours"`
	TotalCost       decimal.Decimal       `json:"total_cost"`
	Contributors    []TimeEntry           `json:"contributors"`
	StatusBreakdown StatusBreakdown       `json:"status_breakdown"`
	DaysWorked      int                   `json:"days_worked"`
	Days            []DayAggregate        `json:"days"`
	ByContributor   []ContributorSubtotal `json:"by_contributor"`
	ByTask          []TaskSubtotal        `json:"by_task"`
}

type VarianceClass string

const (
	VarianceNormal   VarianceClass = "normal"
	VarianceIncrease VarianceClass = "increase"
	VarianceDecrease VarianceClass = "decrease"
)

// VarianceResult compares current-period hours with a baseline.
// Percent is nil when the baseline is zero.
type VarianceResult struct {
	Current        decimal.Decimal  `json:"current"`
	Baseline       decimal.Decimal  `json:"baseline"`
	Delta          decimal.Decimal  `json:"delta"`
	Percent        *decimal.Decimal `json:"percent,omitempty"`
	Classification VarianceClass    `json:"classification"`
}

// BatchSelection previews a selection before a bulk action commits.
// TotalAmount is nil, not zero, when rates are hidden from the viewer.
type BatchSelection struct {
	TotalHours       decimal.Decimal  `json:"total_hours"`
	TotalAmount      *decimal.Decimal `json:"total_amount,omitempty"`
	SubmittedCount   int              `json:"submitted_count"`
	EntryCount       int              `json:"entry_count"`
	ContributorCount int              `json:"contributor_count"`
}

// BillingLine is handed to the invoicing layer when an entry is approved.
type BillingLine struct {
	EntryID       string          `json:"entry_id"`
	ContributorID string          `json:"contributor_id"`
	Date          Date            `json:"date"`
	Hours         decimal.Decimal `json:"hours"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
}

// ReturnNotice is handed to the notification layer when an entry is rejected.
type ReturnNotice struct {
	EntryID       string `json:"entry_id"`
	ContributorID string `json:"contributor_id"`
	Date          Date   `json:"date"`
	Reason        string `json:"reason"`
}

// BatchResult reports a best-effort bulk transition.
type BatchResult struct {
	Transitioned int            `json:"transitioned"`
	Skipped      int            `json:"skipped"`
	SkippedKeys  []Key          `json:"skipped_keys,omitempty"`
	Entries      []TimeEntry    `json:"entries,omitempty"`
	Billing      []BillingLine  `json:"billing,omitempty"`
	Returns      []ReturnNotice `json:"returns,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
