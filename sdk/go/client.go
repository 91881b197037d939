package hourlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a minimal hourline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Entry is a time entry. Rate and Cost are nil unless the caller may see rates.
type Entry struct {
	ID            string           `json:"id"`
	ContributorID string           `json:"contributor_id"`
	Date          string           `json:"date"`
	Hours         decimal.Decimal  `json:"hours"`
	Task          string           `json:"task"`
	Notes         string           `json:"notes,omitempty"`
	StartTime     string           `json:"start_time,omitempty"`
	EndTime       string           `json:"end_time,omitempty"`
	Status        string           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	ReviewerID    string           `json:"reviewer_id,omitempty"`
	ReviewNote    string           `json:"review_note,omitempty"`
	Version       int64            `json:"version"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`
	Cost          *decimal.Decimal `json:"cost,omitempty"`
}

// EntryInput is a partial update; nil fields are left alone.
type EntryInput struct {
	Hours     *decimal.Decimal
	Task      *string
	Notes     *string
	StartTime *string
	EndTime   *string
}

func (in EntryInput) body() map[string]any {
	body := map[string]any{}
	if in.Hours != nil {
		body["hours"] = in.Hours.String()
	}
	if in.Task != nil {
		body["task"] = *in.Task
	}
	if in.Notes != nil {
		body["notes"] = *in.Notes
	}
	if in.StartTime != nil {
		body["start_time"] = *in.StartTime
	}
	if in.EndTime != nil {
		body["end_time"] = *in.EndTime
	}
	return body
}

// EntryQuery filters ListEntries. Empty fields match everything.
type EntryQuery struct {
	ContributorID string
	From, To      string
	Status        string
	Task          string
}

type StatusBreakdown struct {
	Draft     int `json:"draft"`
	Submitted int `json:"submitted"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
}

type DayAggregate struct {
	Date            string           `json:"date"`
	TotalHours      decimal.Decimal  `json:"total_hours"`
	TotalCost       *decimal.Decimal `json:"total_cost,omitempty"`
	Contributors    []Entry          `json:"contributors"`
	StatusBreakdown StatusBreakdown  `json:"status_breakdown"`
}

type ContributorSubtotal struct {
	ContributorID string           `json:"contributor_id"`
	Name          string           `json:"name"`
	Hours         decimal.Decimal  `json:"hours"`
	Cost          *decimal.Decimal `json:"cost,omitempty"`
	DaysWorked    int              `json:"days_worked"`
}

type PeriodSummary struct {
	From            string                `json:"from"`
	To              string                `json:"to"`
	TotalHours      decimal.Decimal       `json:"total_hours"`
	TotalCost       *decimal.Decimal      `json:"total_cost,omitempty"`
	StatusBreakdown StatusBreakdown       `json:"status_breakdown"`
	DaysWorked      int                   `json:"days_worked"`
	Days            []DayAggregate        `json:"days"`
	ByContributor   []ContributorSubtotal `json:"by_contributor"`
}

type BillingLine struct {
	EntryID       string           `json:"entry_id"`
	ContributorID string           `json:"contributor_id"`
	Date          string           `json:"date"`
	Hours         decimal.Decimal  `json:"hours"`
	Rate          *decimal.Decimal `json:"rate,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

type ReturnNotice struct {
	EntryID       string `json:"entry_id"`
	ContributorID string `json:"contributor_id"`
	Date          string `json:"date"`
	Reason        string `json:"reason"`
}

// Selection describes a reviewer's working set. Mode is "contributors"
// (IDs are contributor ids, limited to From..To) or "entries" (IDs are entry ids).
type Selection struct {
	Mode string   `json:"mode,omitempty"`
	IDs  []string `json:"ids"`
	From string   `json:"from,omitempty"`
	To   string   `json:"to,omitempty"`
}

type SelectionPreview struct {
	TotalHours       decimal.Decimal  `json:"total_hours"`
	TotalAmount      *decimal.Decimal `json:"total_amount,omitempty"`
	SubmittedCount   int              `json:"submitted_count"`
	EntryCount       int              `json:"entry_count"`
	ContributorCount int              `json:"contributor_count"`
}

type Key struct {
	ContributorID string `json:"contributor_id"`
	Date          string `json:"date"`
}

type BatchResult struct {
	Transitioned int            `json:"transitioned"`
	Skipped      int            `json:"skipped"`
	SkippedKeys  []Key          `json:"skipped_keys"`
	Entries      []Entry        `json:"entries"`
	Billing      []BillingLine  `json:"billing,omitempty"`
	Returns      []ReturnNotice `json:"returns,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type Me struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	ShowRates   bool     `json:"show_rates"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports a state conflict, e.g. approving an entry that is not submitted.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

func entryPath(contributorID, date string, suffix ...string) string {
	p := fmt.Sprintf("entries/%s/%s", url.PathEscape(contributorID), url.PathEscape(date))
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// UpsertEntry creates or edits the draft entry of a contributor for a day.
func (c *Client) UpsertEntry(ctx context.Context, contributorID, date string, in EntryInput) (Entry, bool, error) {
	var resp struct {
		Entry   Entry `json:"entry"`
		Created bool  `json:"created"`
	}
	err := c.do(ctx, http.MethodPut, entryPath(contributorID, date), in.body(), &resp)
	return resp.Entry, resp.Created, err
}

func (c *Client) GetEntry(ctx context.Context, contributorID, date string) (Entry, error) {
	var resp Entry
	err := c.do(ctx, http.MethodGet, entryPath(contributorID, date), nil, &resp)
	return resp, err
}

func (c *Client) ListEntries(ctx context.Context, q EntryQuery) ([]Entry, error) {
	v := url.Values{}
	for k, val := range map[string]string{"contributor_id": q.ContributorID, "from": q.From, "to": q.To, "status": q.Status, "task": q.Task} {
		if val != "" {
			v.Set(k, val)
		}
	}
	endpoint := "entries"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp []Entry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Submit(ctx context.Context, contributorID, date string) (Entry, error) {
	var resp Entry
	err := c.do(ctx, http.MethodPost, entryPath(contributorID, date, "submit"), nil, &resp)
	return resp, err
}

// Approve approves a submitted entry as the authenticated principal.
func (c *Client) Approve(ctx context.Context, contributorID, date, note string) (Entry, BillingLine, error) {
	var resp struct {
		Entry   Entry       `json:"entry"`
		Billing BillingLine `json:"billing"`
	}
	err := c.do(ctx, http.MethodPost, entryPath(contributorID, date, "approve"), map[string]any{"note": note}, &resp)
	return resp.Entry, resp.Billing, err
}

func (c *Client) Reject(ctx context.Context, contributorID, date, reason string) (Entry, ReturnNotice, error) {
	var resp struct {
		Entry  Entry        `json:"entry"`
		Notice ReturnNotice `json:"notice"`
	}
	err := c.do(ctx, http.MethodPost, entryPath(contributorID, date, "reject"), map[string]any{"reason": reason}, &resp)
	return resp.Entry, resp.Notice, err
}

func (c *Client) Reopen(ctx context.Context, contributorID, date string) (Entry, error) {
	var resp Entry
	err := c.do(ctx, http.MethodPost, entryPath(contributorID, date, "reopen"), nil, &resp)
	return resp, err
}

func (c *Client) Day(ctx context.Context, date string) (DayAggregate, error) {
	var resp DayAggregate
	err := c.do(ctx, http.MethodGet, "aggregates/day/"+url.PathEscape(date), nil, &resp)
	return resp, err
}

func (c *Client) Period(ctx context.Context, from, to string) (PeriodSummary, error) {
	var resp PeriodSummary
	v := url.Values{"from": {from}, "to": {to}}
	err := c.do(ctx, http.MethodGet, "aggregates/period?"+v.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) PreviewSelection(ctx context.Context, sel Selection) (SelectionPreview, error) {
	var resp SelectionPreview
	err := c.do(ctx, http.MethodPost, "selection/preview", sel, &resp)
	return resp, err
}

func (c *Client) ApproveSelection(ctx context.Context, sel Selection, note string) (BatchResult, error) {
	var resp BatchResult
	body := struct {
		Selection
		Note string `json:"note,omitempty"`
	}{sel, note}
	err := c.do(ctx, http.MethodPost, "selection/approve", body, &resp)
	return resp, err
}

func (c *Client) RejectSelection(ctx context.Context, sel Selection, reason string) (BatchResult, error) {
	var resp BatchResult
	body := struct {
		Selection
		Reason string `json:"reason"`
	}{sel, reason}
	err := c.do(ctx, http.MethodPost, "selection/reject", body, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
