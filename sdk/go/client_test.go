package hourlinesdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/migrate"
	"hourline/internal/server"
)

const secret = "sdk-secret"

func newClient(t *testing.T, roles ...string) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	e := engine.New(conn, config.Default("acme"))
	_, err = e.AddContributor(context.Background(), "owner", domain.Contributor{ID: "alice", Name: "Alice", HourlyRate: decimal.NewFromInt(75)})
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	tok, err := server.SignToken(secret, "rev", roles, nil, time.Hour, time.Now())
	require.NoError(t, err)
	c := New(ts.URL + "/")
	c.BearerToken = tok
	return c
}

func ptr[T any](v T) *T { return &v }

func TestEntryRoundTrip(t *testing.T) {
	c := newClient(t, "reviewer")
	ctx := context.Background()

	entry, created, err := c.UpsertEntry(ctx, "alice", "2024-01-08", EntryInput{
		Hours: ptr(decimal.RequireFromString("8")),
		Task:  ptr("Development"),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "draft", entry.Status)
	assert.True(t, entry.Hours.Equal(decimal.NewFromInt(8)))

	_, err = c.Submit(ctx, "alice", "2024-01-08")
	require.NoError(t, err)
	approved, billing, err := c.Approve(ctx, "alice", "2024-01-08", "ok")
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "rev", approved.ReviewerID)
	require.NotNil(t, billing.Amount)
	assert.True(t, billing.Amount.Equal(decimal.NewFromInt(600)))

	got, err := c.GetEntry(ctx, "alice", "2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)

	list, err := c.ListEntries(ctx, EntryQuery{ContributorID: "alice", Status: "approved"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	day, err := c.Day(ctx, "2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, 1, day.StatusBreakdown.Approved)
	require.NotNil(t, day.TotalCost)
	assert.True(t, day.TotalCost.Equal(decimal.NewFromInt(600)))
}

func TestErrorsAreTyped(t *testing.T) {
	c := newClient(t, "reviewer")
	ctx := context.Background()

	_, err := c.GetEntry(ctx, "alice", "2024-01-08")
	assert.True(t, IsNotFound(err))

	_, _, err = c.UpsertEntry(ctx, "alice", "2024-01-08", EntryInput{Hours: ptr(decimal.NewFromInt(4)), Task: ptr("Development")})
	require.NoError(t, err)
	_, _, err = c.Approve(ctx, "alice", "2024-01-08", "")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "state_conflict", apiErr.Code)
	assert.Equal(t, "draft", apiErr.Details["current"])

	_, _, err = c.Reject(ctx, "alice", "2024-01-08", "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestSelectionAndMe(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	for _, d := range []string{"2024-01-08", "2024-01-09"} {
		_, _, err := c.UpsertEntry(ctx, "alice", d, EntryInput{Hours: ptr(decimal.NewFromInt(6)), Task: ptr("Development")})
		require.NoError(t, err)
		_, err = c.Submit(ctx, "alice", d)
		require.NoError(t, err)
	}

	sel := Selection{Mode: "contributors", IDs: []string{"alice"}, From: "2024-01-08", To: "2024-01-14"}
	preview, err := c.PreviewSelection(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.SubmittedCount)
	assert.True(t, preview.TotalHours.Equal(decimal.NewFromInt(12)))
	assert.Nil(t, preview.TotalAmount, "no rates.view without roles")

	res, err := c.RejectSelection(ctx, sel, "missing notes")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transitioned)
	assert.Len(t, res.Returns, 2)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rev", me.ActorID)
	assert.False(t, me.ShowRates)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "batch.rejected", page.Items[0].Type)
	assert.NotEmpty(t, page.NextCursor)
}
