package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"hourline/internal/domain"
	"hourline/internal/timesheet"
)

// Request payloads. Decimals travel as strings so no float rounding happens
// at the boundary.

type CreateContributorRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	HourlyRate string `json:"hourly_rate" example:"75"`
}

type SetRateRequest struct {
	EffectiveFrom string `json:"effective_from" example:"2024-01-09"`
	Rate          string `json:"rate" example:"100"`
}

type UpsertEntryRequest struct {
	Hours     *string `json:"hours,omitempty" example:"7.5"`
	Task      *string `json:"task,omitempty" example:"Development"`
	Notes     *string `json:"notes,omitempty"`
	StartTime *string `json:"start_time,omitempty" example:"09:00"`
	EndTime   *string `json:"end_time,omitempty" example:"17:00"`
}

type CopyEntryRequest struct {
	To string `json:"to" example:"2024-01-09"`
}

type TransitionRequest struct {
	Note      string `json:"note,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IfVersion int64  `json:"if_version,omitempty"`
}

// get treats a missing body as the zero request.
func (r *TransitionRequest) get() TransitionRequest {
	if r == nil {
		return TransitionRequest{}
	}
	return *r
}

type BatchRequest struct {
	Keys   []domain.Key `json:"keys"`
	Note   string       `json:"note,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

type SelectionRequest struct {
	Mode   string   `json:"mode,omitempty" enum:"contributors,entries"`
	IDs    []string `json:"ids"`
	From   string   `json:"from,omitempty"`
	To     string   `json:"to,omitempty"`
	Note   string   `json:"note,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

type VarianceRequest struct {
	Current   string `json:"current" example:"35"`
	Baseline  string `json:"baseline" example:"40"`
	Threshold string `json:"threshold,omitempty" example:"10"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TTLSeconds  int      `json:"ttl_seconds,omitempty"`
}

// Responses. Rate-derived fields are pointers and stay nil for principals
// without rates.view.

type RateResponse struct {
	EffectiveFrom domain.Date `json:"effective_from"`
	Rate          string      `json:"rate"`
}

type ContributorResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Role       string         `json:"role,omitempty"`
	HourlyRate *string        `json:"hourly_rate,omitempty"`
	Rates      []RateResponse `json:"rates,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type EntryResponse struct {
	ID            string        `json:"id"`
	ContributorID string        `json:"contributor_id"`
	Date          domain.Date   `json:"date"`
	Hours         string        `json:"hours"`
	Task          string        `json:"task"`
	Notes         string        `json:"notes,omitempty"`
	StartTime     string        `json:"start_time,omitempty"`
	EndTime       string        `json:"end_time,omitempty"`
	Status        domain.Status `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	ReviewerID    string        `json:"reviewer_id,omitempty"`
	ReviewNote    string        `json:"review_note,omitempty"`
	SubmittedAt   string        `json:"submitted_at,omitempty"`
	ReviewedAt    string        `json:"reviewed_at,omitempty"`
	Version       int64         `json:"version"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
	Rate          *string       `json:"rate,omitempty"`
	Cost          *string       `json:"cost,omitempty"`
}

type UpsertEntryResponse struct {
	Entry   EntryResponse `json:"entry"`
	Created bool          `json:"created"`
}

type DayAggregateResponse struct {
	Date            domain.Date            `json:"date"`
	TotalHours      string                 `json:"total_hours"`
	TotalCost       *string                `json:"total_cost,omitempty"`
	Contributors    []EntryResponse        `json:"contributors"`
	StatusBreakdown domain.StatusBreakdown `json:"status_breakdown"`
}

type ContributorSubtotalResponse struct {
	ContributorID   string                 `json:"contributor_id"`
	Name            string                 `json:"name"`
	Hours           string                 `json:"hours"`
	Cost            *string                `json:"cost,omitempty"`
	DaysWorked      int                    `json:"days_worked"`
	StatusBreakdown domain.StatusBreakdown `json:"status_breakdown"`
}

type TaskSubtotalResponse struct {
	Task    string  `json:"task"`
	Hours   string  `json:"hours"`
	Cost    *string `json:"cost,omitempty"`
	Entries int     `json:"entries"`
}

type PeriodSummaryResponse struct {
	From            domain.Date                   `json:"from"`
	To              domain.Date                   `json:"to"`
	TotalHours      string                        `json:"total_hours"`
	TotalCost       *string                       `json:"total_cost,omitempty"`
	Contributors    []EntryResponse               `json:"contributors"`
	StatusBreakdown domain.StatusBreakdown        `json:"status_breakdown"`
	DaysWorked      int                           `json:"days_worked"`
	Days            []DayAggregateResponse        `json:"days"`
	ByContributor   []ContributorSubtotalResponse `json:"by_contributor"`
	ByTask          []TaskSubtotalResponse        `json:"by_task"`
}

type UniqueContributorsResponse struct {
	From         domain.Date `json:"from,omitempty"`
	To           domain.Date `json:"to,omitempty"`
	Contributors []string    `json:"contributors"`
	Count        int         `json:"count"`
}

type VarianceResponse struct {
	Current        string               `json:"current"`
	Baseline       string               `json:"baseline"`
	Delta          string               `json:"delta"`
	Percent        *string              `json:"percent,omitempty"`
	Classification domain.VarianceClass `json:"classification"`
}

type BillingLineResponse struct {
	EntryID       string      `json:"entry_id"`
	ContributorID string      `json:"contributor_id"`
	Date          domain.Date `json:"date"`
	Hours         string      `json:"hours"`
	Rate          *string     `json:"rate,omitempty"`
	Amount        *string     `json:"amount,omitempty"`
}

type ApproveResponse struct {
	Entry   EntryResponse       `json:"entry"`
	Billing BillingLineResponse `json:"billing"`
}

type RejectResponse struct {
	Entry  EntryResponse       `json:"entry"`
	Notice domain.ReturnNotice `json:"notice"`
}

type BatchResultResponse struct {
	Transitioned int                   `json:"transitioned"`
	Skipped      int                   `json:"skipped"`
	SkippedKeys  []domain.Key          `json:"skipped_keys"`
	Entries      []EntryResponse       `json:"entries"`
	Billing      []BillingLineResponse `json:"billing,omitempty"`
	Returns      []domain.ReturnNotice `json:"returns,omitempty"`
}

type BatchSelectionResponse struct {
	TotalHours       string  `json:"total_hours"`
	TotalAmount      *string `json:"total_amount,omitempty"`
	SubmittedCount   int     `json:"submitted_count"`
	EntryCount       int     `json:"entry_count"`
	ContributorCount int     `json:"contributor_count"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	ShowRates   bool     `json:"show_rates"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

// view renders core values for one principal.
type view struct {
	snap      timesheet.Snapshot
	showRates bool
}

func (v view) money(d decimal.Decimal) *string {
	if !v.showRates {
		return nil
	}
	s := d.String()
	return &s
}

func (v view) entry(e domain.TimeEntry) EntryResponse {
	resp := EntryResponse{
		ID:            e.ID,
		ContributorID: e.ContributorID,
		Date:          e.Date,
		Hours:         e.Hours.String(),
		Task:          e.Task,
		Notes:         e.Notes,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Status:        e.Status,
		Reason:        e.Reason,
		ReviewerID:    e.ReviewerID,
		ReviewNote:    e.ReviewNote,
		SubmittedAt:   e.SubmittedAt,
		ReviewedAt:    e.ReviewedAt,
		Version:       e.Version,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if v.showRates {
		rate := v.snap.RateFor(e)
		resp.Rate = v.money(rate)
		resp.Cost = v.money(e.Hours.Mul(rate))
	}
	return resp
}

func (v view) entries(items []domain.TimeEntry) []EntryResponse {
	out := make([]EntryResponse, 0, len(items))
	for _, e := range items {
		out = append(out, v.entry(e))
	}
	return out
}

func (v view) contributor(c domain.Contributor) ContributorResponse {
	resp := ContributorResponse{ID: c.ID, Name: c.Name, Role: c.Role, CreatedAt: c.CreatedAt}
	if v.showRates {
		resp.HourlyRate = v.money(c.HourlyRate)
		for _, rc := range c.Rates {
			resp.Rates = append(resp.Rates, RateResponse{EffectiveFrom: rc.EffectiveFrom, Rate: rc.Rate.String()})
		}
	}
	return resp
}

func (v view) day(d domain.DayAggregate) DayAggregateResponse {
	return DayAggregateResponse{
		Date:            d.Date,
		TotalHours:      d.TotalHours.String(),
		TotalCost:       v.money(d.TotalCost),
		Contributors:    v.entries(d.Contributors),
		StatusBreakdown: d.StatusBreakdown,
	}
}

func (v view) period(p domain.PeriodSummary) PeriodSummaryResponse {
	resp := PeriodSummaryResponse{
		From:            p.Range.From,
		To:              p.Range.To,
		TotalHours:      p.TotalHours.String(),
		TotalCost:       v.money(p.TotalCost),
		Contributors:    v.entries(p.Contributors),
		StatusBreakdown: p.StatusBreakdown,
		DaysWorked:      p.DaysWorked,
		Days:            make([]DayAggregateResponse, 0, len(p.Days)),
		ByContributor:   make([]ContributorSubtotalResponse, 0, len(p.ByContributor)),
		ByTask:          make([]TaskSubtotalResponse, 0, len(p.ByTask)),
	}
	for _, d := range p.Days {
		resp.Days = append(resp.Days, v.day(d))
	}
	for _, c := range p.ByContributor {
		resp.ByContributor = append(resp.ByContributor, ContributorSubtotalResponse{
			ContributorID:   c.ContributorID,
			Name:            c.Name,
			Hours:           c.Hours.String(),
			Cost:            v.money(c.Cost),
			DaysWorked:      c.DaysWorked,
			StatusBreakdown: c.StatusBreakdown,
		})
	}
	for _, t := range p.ByTask {
		resp.ByTask = append(resp.ByTask, TaskSubtotalResponse{
			Task:    t.Task,
			Hours:   t.Hours.String(),
			Cost:    v.money(t.Cost),
			Entries: t.Entries,
		})
	}
	return resp
}

func (v view) billing(b domain.BillingLine) BillingLineResponse {
	return BillingLineResponse{
		EntryID:       b.EntryID,
		ContributorID: b.ContributorID,
		Date:          b.Date,
		Hours:         b.Hours.String(),
		Rate:          v.money(b.Rate),
		Amount:        v.money(b.Amount),
	}
}

func (v view) batch(res domain.BatchResult) BatchResultResponse {
	resp := BatchResultResponse{
		Transitioned: res.Transitioned,
		Skipped:      res.Skipped,
		SkippedKeys:  nonNilSlice(res.SkippedKeys),
		Entries:      v.entries(res.Entries),
		Returns:      res.Returns,
	}
	for _, b := range res.Billing {
		resp.Billing = append(resp.Billing, v.billing(b))
	}
	return resp
}

func (v view) selection(s domain.BatchSelection) BatchSelectionResponse {
	resp := BatchSelectionResponse{
		TotalHours:       s.TotalHours.String(),
		SubmittedCount:   s.SubmittedCount,
		EntryCount:       s.EntryCount,
		ContributorCount: s.ContributorCount,
	}
	if v.showRates && s.TotalAmount != nil {
		resp.TotalAmount = v.money(*s.TotalAmount)
	}
	return resp
}

func varianceResponse(r domain.VarianceResult) VarianceResponse {
	resp := VarianceResponse{
		Current:        r.Current.String(),
		Baseline:       r.Baseline.String(),
		Delta:          r.Delta.String(),
		Classification: r.Classification,
	}
	if r.Percent != nil {
		p := r.Percent.String()
		resp.Percent = &p
	}
	return resp
}

// moneyKeys are event payload fields derived from rates.
var moneyKeys = map[string]bool{"billing": true, "rate": true, "amount": true}

func (v view) event(e domain.Event) EventResponse {
	payload := decodeJSONMap(e.Payload)
	if !v.showRates {
		for k := range payload {
			if moneyKeys[k] {
				delete(payload, k)
			}
		}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, domain.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a decimal", s)}
	}
	return d, nil
}

func (r UpsertEntryRequest) patch() (timesheet.EntryPatch, error) {
	p := timesheet.EntryPatch{Task: r.Task, Notes: r.Notes, StartTime: r.StartTime, EndTime: r.EndTime}
	if r.Hours != nil {
		h, err := parseDecimal("hours", *r.Hours)
		if err != nil {
			return timesheet.EntryPatch{}, err
		}
		p.Hours = &h
	}
	return p, nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
