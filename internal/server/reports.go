package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/timesheet"
)

func registerAggregates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "aggregate-day",
		Method:      http.MethodGet,
		Path:        "/aggregates/day/{date}",
		Summary:     "Hours, cost and status breakdown for one day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2024-01-08"`
	}) (*output[DayAggregateResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := domain.ParseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		snap := e.Snapshot()
		return reply(view{snap: snap, showRates: caps.ShowRates}.day(timesheet.AggregateDay(snap, d))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "aggregate-period",
		Method:      http.MethodGet,
		Path:        "/aggregates/period",
		Summary:     "Summary over an inclusive date range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"from" required:"true"`
		To   string `query:"to" required:"true"`
	}) (*output[PeriodSummaryResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		rng, err := parseRange(input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return periodReply(e, caps.ShowRates, rng)
	})

	huma.Register(api, huma.Operation{
		OperationID: "aggregate-week",
		Method:      http.MethodGet,
		Path:        "/aggregates/week/{date}",
		Summary:     "Summary of the configured week containing a day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2024-01-10"`
	}) (*output[PeriodSummaryResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := domain.ParseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return periodReply(e, caps.ShowRates, e.WeekOf(d))
	})

	huma.Register(api, huma.Operation{
		OperationID: "aggregate-month",
		Method:      http.MethodGet,
		Path:        "/aggregates/month/{date}",
		Summary:     "Summary of the calendar month containing a day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2024-01-10"`
	}) (*output[PeriodSummaryResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := domain.ParseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return periodReply(e, caps.ShowRates, timesheet.Month(d))
	})

	huma.Register(api, huma.Operation{
		OperationID: "unique-contributors",
		Method:      http.MethodGet,
		Path:        "/aggregates/contributors",
		Summary:     "Distinct contributors with hours in a range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"from"`
		To   string `query:"to"`
	}) (*output[UniqueContributorsResponse], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rng, err := parseRange(input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		ids := nonNilSlice(e.UniqueContributors(rng))
		return reply(UniqueContributorsResponse{From: rng.From, To: rng.To, Contributors: ids, Count: len(ids)}), nil
	})
}

func periodReply(e engine.Engine, showRates bool, rng domain.DateRange) (*output[PeriodSummaryResponse], error) {
	snap := e.Snapshot()
	sum, err := timesheet.AggregatePeriod(snap, rng)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(view{snap: snap, showRates: showRates}.period(sum)), nil
}

func registerVariance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "compute-variance",
		Method:      http.MethodPost,
		Path:        "/variance",
		Summary:     "Classify current hours against a baseline",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body VarianceRequest
	}) (*output[VarianceResponse], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		current, err := parseDecimal("current", input.Body.Current)
		if err != nil {
			return nil, handleError(err)
		}
		baseline, err := parseDecimal("baseline", input.Body.Baseline)
		if err != nil {
			return nil, handleError(err)
		}
		if err := nonNegativeHours(current, baseline); err != nil {
			return nil, handleError(err)
		}
		if strings.TrimSpace(input.Body.Threshold) == "" {
			return reply(varianceResponse(e.Variance(current, baseline))), nil
		}
		threshold, err := parseDecimal("threshold", input.Body.Threshold)
		if err != nil {
			return nil, handleError(err)
		}
		if !threshold.IsPositive() {
			return nil, handleError(domain.ValidationError{Field: "threshold", Reason: "threshold must be positive"})
		}
		return reply(varianceResponse(timesheet.ComputeVarianceWithThreshold(current, baseline, threshold))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "contributor-variance",
		Method:      http.MethodGet,
		Path:        "/contributors/{id}/variance",
		Summary:     "Compare a contributor's hours with the mean of prior periods",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		From    string `query:"from" required:"true"`
		To      string `query:"to" required:"true"`
		Periods int    `query:"periods"`
	}) (*output[VarianceResponse], error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rng, err := parseRange(input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ContributorVariance(input.ID, rng, input.Periods)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(varianceResponse(res)), nil
	})
}

// selection rebuilds the reviewer's working set from the request; the API
// keeps no session state.
func (r SelectionRequest) selection() (*timesheet.Selection, error) {
	mode, err := timesheet.ParseSelectionMode(r.Mode)
	if err != nil {
		return nil, err
	}
	rng, err := parseRange(r.From, r.To)
	if err != nil {
		return nil, err
	}
	sel := timesheet.NewSelection(mode, rng)
	for _, id := range r.IDs {
		if id = strings.TrimSpace(id); id != "" {
			sel.Select(id)
		}
	}
	return sel, nil
}

func registerSelection(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-selection",
		Method:      http.MethodPost,
		Path:        "/selection/preview",
		Summary:     "Total the entries a selection implies",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SelectionRequest
	}) (*output[BatchSelectionResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		sel, err := input.Body.selection()
		if err != nil {
			return nil, handleError(err)
		}
		preview, err := e.PreviewSelection(sel, caps.ShowRates)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{showRates: caps.ShowRates}.selection(preview)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-selection",
		Method:      http.MethodPost,
		Path:        "/selection/approve",
		Summary:     "Approve the submitted entries of a selection",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SelectionRequest
	}) (*output[BatchResultResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		sel, err := input.Body.selection()
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ApproveSelection(ctx, p.ActorID, sel, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.batch(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-selection",
		Method:      http.MethodPost,
		Path:        "/selection/reject",
		Summary:     "Reject the submitted entries of a selection",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SelectionRequest
	}) (*output[BatchResultResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		sel, err := input.Body.selection()
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.RejectSelection(ctx, p.ActorID, sel, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.batch(res)), nil
	})
}

func nonNegativeHours(current, baseline decimal.Decimal) error {
	if current.IsNegative() {
		return domain.ValidationError{Field: "current", Reason: "hours cannot be negative"}
	}
	if baseline.IsNegative() {
		return domain.ValidationError{Field: "baseline", Reason: "hours cannot be negative"}
	}
	return nil
}
