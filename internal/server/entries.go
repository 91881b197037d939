package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/timesheet"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func entryKey(contributorID, date string) (domain.Key, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return domain.Key{}, err
	}
	return domain.Key{ContributorID: contributorID, Date: d}, nil
}

// parseRange accepts an empty pair as "all dates".
func parseRange(from, to string) (domain.DateRange, error) {
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		return domain.DateRange{}, nil
	}
	f, err := parseOptionalDate("from", from)
	if err != nil {
		return domain.DateRange{}, err
	}
	t, err := parseOptionalDate("to", to)
	if err != nil {
		return domain.DateRange{}, err
	}
	return domain.NewDateRange(f, t)
}

func parseOptionalDate(field, s string) (domain.Date, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	d, err := domain.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return "", domain.ValidationError{Field: field, Reason: err.Error()}
	}
	return d, nil
}

func transitionOpts(ifVersion int64) []timesheet.TransitionOption {
	if ifVersion <= 0 {
		return nil
	}
	return []timesheet.TransitionOption{timesheet.IfVersion(ifVersion)}
}

func registerContributors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contributor",
		Method:        http.MethodPost,
		Path:          "/contributors",
		Summary:       "Register a contributor",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateContributorRequest
	}) (*output[ContributorResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		rate, err := parseDecimal("hourly_rate", input.Body.HourlyRate)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.AddContributor(ctx, p.ActorID, domain.Contributor{
			ID:         strings.TrimSpace(input.Body.ID),
			Name:       input.Body.Name,
			Role:       input.Body.Role,
			HourlyRate: rate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{showRates: caps.ShowRates}.contributor(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contributors",
		Method:      http.MethodGet,
		Path:        "/contributors",
		Summary:     "List contributors",
	}, func(ctx context.Context, _ *struct{}) (*output[[]ContributorResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		v := view{showRates: caps.ShowRates}
		out := []ContributorResponse{}
		for _, c := range e.Contributors() {
			out = append(out, v.contributor(c))
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contributor",
		Method:      http.MethodGet,
		Path:        "/contributors/{id}",
		Summary:     "Get contributor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[ContributorResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Contributor(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{showRates: caps.ShowRates}.contributor(c)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-contributor-rate",
		Method:      http.MethodPost,
		Path:        "/contributors/{id}/rates",
		Summary:     "Record a rate change effective from a day",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetRateRequest
	}) (*output[ContributorResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		from, err := domain.ParseDate(input.Body.EffectiveFrom)
		if err != nil {
			return nil, handleError(err)
		}
		rate, err := parseDecimal("rate", input.Body.Rate)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.SetRate(ctx, p.ActorID, input.ID, from, rate)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{showRates: caps.ShowRates}.contributor(c)), nil
	})
}

func registerEntries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-entry",
		Method:      http.MethodPut,
		Path:        "/entries/{contributor_id}/{date}",
		Summary:     "Create or edit the draft entry for a contributor and day",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContributorID string `path:"contributor_id"`
		Date          string `path:"date" example:"2024-01-08"`
		Body          UpsertEntryRequest
	}) (*output[UpsertEntryResponse], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		patch, err := input.Body.patch()
		if err != nil {
			return nil, handleError(err)
		}
		en, created, err := e.UpsertEntry(ctx, p.ActorID, key.ContributorID, key.Date, patch)
		if err != nil {
			return nil, handleError(err)
		}
		v := view{snap: e.Snapshot(), showRates: caps.ShowRates}
		return reply(UpsertEntryResponse{Entry: v.entry(en), Created: created}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-entry",
		Method:      http.MethodGet,
		Path:        "/entries/{contributor_id}/{date}",
		Summary:     "Get entry",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContributorID string `path:"contributor_id"`
		Date          string `path:"date" example:"2024-01-08"`
	}) (*output[EntryResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		en, err := e.Entry(key.ContributorID, key.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.entry(en)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-entries",
		Method:      http.MethodGet,
		Path:        "/entries",
		Summary:     "List entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ContributorID string `query:"contributor_id"`
		From          string `query:"from"`
		To            string `query:"to"`
		Status        string `query:"status" enum:"draft,submitted,approved,rejected"`
		Task          string `query:"task"`
	}) (*output[[]EntryResponse], error) {
		_, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		rng, err := parseRange(input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		f := timesheet.Filter{ContributorID: input.ContributorID, Range: rng, Task: input.Task}
		if input.Status != "" {
			st, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, handleError(err)
			}
			f.Status = st
		}
		v := view{snap: e.Snapshot(), showRates: caps.ShowRates}
		return reply(v.entries(e.ListEntries(f))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "copy-entry",
		Method:      http.MethodPost,
		Path:        "/entries/{contributor_id}/{date}/copy",
		Summary:     "Copy an entry to another day as a draft",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContributorID string `path:"contributor_id"`
		Date          string `path:"date" example:"2024-01-08"`
		Body          CopyEntryRequest
	}) (*output[EntryResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		to, err := domain.ParseDate(input.Body.To)
		if err != nil {
			return nil, handleError(err)
		}
		en, err := e.CopyEntry(ctx, p.ActorID, key.ContributorID, key.Date, to)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.entry(en)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-entry",
		Method:      http.MethodDelete,
		Path:        "/entries/{contributor_id}/{date}",
		Summary:     "Delete a draft entry",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ContributorID string `path:"contributor_id"`
		Date          string `path:"date" example:"2024-01-08"`
	}) (*output[EntryResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		snap := e.Snapshot()
		en, err := e.DeleteEntry(ctx, p.ActorID, key.ContributorID, key.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: snap, showRates: caps.ShowRates}.entry(en)), nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	type transitionInput struct {
		ContributorID string             `path:"contributor_id"`
		Date          string             `path:"date" example:"2024-01-08"`
		Body          *TransitionRequest `required:"false"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "submit-entry",
		Method:      http.MethodPost,
		Path:        "/entries/{contributor_id}/{date}/submit",
		Summary:     "Submit a draft for review",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *transitionInput) (*output[EntryResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		en, err := e.Submit(ctx, p.ActorID, key, transitionOpts(input.Body.get().IfVersion)...)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.entry(en)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-entry",
		Method:      http.MethodPost,
		Path:        "/entries/{contributor_id}/{date}/approve",
		Summary:     "Approve a submitted entry",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *transitionInput) (*output[ApproveResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		en, line, err := e.Approve(ctx, p.ActorID, key, input.Body.get().Note, transitionOpts(input.Body.get().IfVersion)...)
		if err != nil {
			return nil, handleError(err)
		}
		v := view{snap: e.Snapshot(), showRates: caps.ShowRates}
		return reply(ApproveResponse{Entry: v.entry(en), Billing: v.billing(line)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-entry",
		Method:      http.MethodPost,
		Path:        "/entries/{contributor_id}/{date}/reject",
		Summary:     "Return a submitted entry with a reason",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *transitionInput) (*output[RejectResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		en, notice, err := e.Reject(ctx, p.ActorID, key, input.Body.get().Reason, transitionOpts(input.Body.get().IfVersion)...)
		if err != nil {
			return nil, handleError(err)
		}
		v := view{snap: e.Snapshot(), showRates: caps.ShowRates}
		return reply(RejectResponse{Entry: v.entry(en), Notice: notice}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-entry",
		Method:      http.MethodPost,
		Path:        "/entries/{contributor_id}/{date}/reopen",
		Summary:     "Move a rejected entry back to draft",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *transitionInput) (*output[EntryResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		key, err := entryKey(input.ContributorID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		en, err := e.Reopen(ctx, p.ActorID, key, transitionOpts(input.Body.get().IfVersion)...)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.entry(en)), nil
	})
}

func registerBatch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "approve-batch",
		Method:      http.MethodPost,
		Path:        "/batch/approve",
		Summary:     "Approve every submitted entry among keys",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BatchRequest
	}) (*output[BatchResultResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApproveBatch(ctx, p.ActorID, input.Body.Keys, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.batch(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-batch",
		Method:      http.MethodPost,
		Path:        "/batch/reject",
		Summary:     "Reject every submitted entry among keys with one reason",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BatchRequest
	}) (*output[BatchResultResponse], error) {
		p, caps, authErr := viewerFor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RejectBatch(ctx, p.ActorID, input.Body.Keys, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(view{snap: e.Snapshot(), showRates: caps.ShowRates}.batch(res)), nil
	})
}
