package timesheet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hourline/internal/domain"
)

func TestSelection_SetOperations(t *testing.T) {
	sel := NewSelection(SelectContributors, domain.DateRange{})
	sel.Select("alice")
	sel.Select("bob")
	sel.Select("alice")
	assert.Equal(t, 2, sel.Len())
	assert.False(t, sel.Toggle("bob"))
	assert.True(t, sel.Toggle("carol"))
	sel.Deselect("alice")
	assert.Equal(t, []string{"carol"}, sel.IDs())
	sel.Clear()
	assert.Equal(t, 0, sel.Len())
}

func TestParseSelectionMode(t *testing.T) {
	m, err := ParseSelectionMode("")
	require.NoError(t, err)
	assert.Equal(t, SelectContributors, m)
	m, err = ParseSelectionMode("entries")
	require.NoError(t, err)
	assert.Equal(t, SelectEntries, m)
	_, err = ParseSelectionMode("teams")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSelection_PreviewHidesAmount(t *testing.T) {
	s := newTestStore(t)
	seedWeek(t, s)
	sel := NewSelection(SelectContributors, domain.DateRange{From: "2024-01-08", To: "2024-01-14"})
	sel.Select("alice")
	sel.Select("bob")

	hidden, err := sel.Preview(s.Snapshot(), false)
	require.NoError(t, err)
	assert.Nil(t, hidden.TotalAmount)
	assert.Equal(t, "18", hidden.TotalHours.String())
	assert.Equal(t, 1, hidden.SubmittedCount)
	assert.Equal(t, 3, hidden.EntryCount)
	assert.Equal(t, 2, hidden.ContributorCount)

	raw, err := json.Marshal(hidden)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "total_amount")

	shown, err := sel.Preview(s.Snapshot(), true)
	require.NoError(t, err)
	require.NotNil(t, shown.TotalAmount)
	assert.Equal(t, "1290", shown.TotalAmount.String())
	assert.Equal(t, hidden.TotalHours, shown.TotalHours)
}

func TestSelection_EntryMode(t *testing.T) {
	s := newTestStore(t)
	seedWeek(t, s)
	bob, _ := s.Entry("bob", "2024-01-09")
	alice, _ := s.Entry("alice", "2024-01-15")

	sel := NewSelection(SelectEntries, domain.DateRange{})
	sel.Select(bob.ID)
	sel.Select(alice.ID)
	p, err := sel.Preview(s.Snapshot(), true)
	require.NoError(t, err)
	assert.Equal(t, "12", p.TotalHours.String())
	assert.Equal(t, "840", p.TotalAmount.String())

	sel.Select("missing")
	_, err = sel.Preview(s.Snapshot(), false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSelection_ApproveSelected(t *testing.T) {
	s := newTestStore(t)
	for _, d := range []domain.Date{"2024-01-08", "2024-01-09", "2024-01-10"} {
		entryIn(t, s, "alice", d, domain.StatusSubmitted)
	}
	for _, d := range []domain.Date{"2024-01-08", "2024-01-09"} {
		entryIn(t, s, "bob", d, domain.StatusApproved)
	}
	entryIn(t, s, "bob", "2024-01-20", domain.StatusSubmitted)

	sel := NewSelection(SelectContributors, domain.DateRange{From: "2024-01-08", To: "2024-01-14"})
	sel.Select("alice")
	sel.Select("bob")
	res, err := sel.ApproveSelected(s, "rev", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Transitioned)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, sel.Len())

	outside, _ := s.Entry("bob", "2024-01-20")
	assert.Equal(t, domain.StatusSubmitted, outside.Status)
}

func TestSelection_RejectSelected(t *testing.T) {
	s := newTestStore(t)
	entryIn(t, s, "alice", "2024-01-08", domain.StatusSubmitted)
	sel := NewSelection(SelectContributors, domain.DateRange{})
	sel.Select("alice")

	_, err := sel.RejectSelected(s, "rev", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, sel.Len(), "a failed commit keeps the selection")

	res, err := sel.RejectSelected(s, "rev", "split by task")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transitioned)
	assert.Equal(t, 0, sel.Len())
}
