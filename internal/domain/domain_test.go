package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, Date("2024-01-08"), d)

	for _, bad := range []string{"", "2024-1-8", "08/01/2024", "2024-02-30"} {
		_, err := ParseDate(bad)
		assert.ErrorIs(t, err, ErrValidation, "should reject %q", bad)
	}
}

func TestDateArithmetic(t *testing.T) {
	d := MustDate("2024-02-28")
	assert.Equal(t, Date("2024-02-29"), d.AddDays(1))
	assert.Equal(t, Date("2024-03-01"), d.AddDays(2))
	assert.Equal(t, Date("2024-02-21"), d.AddDays(-7))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
}

func TestDateRange(t *testing.T) {
	r, err := NewDateRange("2024-01-08", "2024-01-14")
	require.NoError(t, err)
	assert.Equal(t, 7, r.Len())
	assert.Equal(t, []Date{"2024-01-08", "2024-01-09", "2024-01-10", "2024-01-11", "2024-01-12", "2024-01-13", "2024-01-14"}, r.Days())
	assert.True(t, r.Contains("2024-01-08"))
	assert.True(t, r.Contains("2024-01-14"))
	assert.False(t, r.Contains("2024-01-15"))
	assert.Equal(t, DateRange{From: "2024-01-01", To: "2024-01-07"}, r.Shift(-1))

	_, err = NewDateRange("2024-01-14", "2024-01-08")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = NewDateRange("", "2024-01-08")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDateRangeLongSpans(t *testing.T) {
	r, err := NewDateRange("2000-01-01", "2009-12-31")
	require.NoError(t, err)
	assert.Equal(t, 3653, r.Len())
	days := r.Days()
	require.Len(t, days, 3653)
	assert.Equal(t, Date("2009-12-31"), days[len(days)-1])

	wide := DateRange{From: "1700-01-01", To: "2100-12-31"}
	assert.Equal(t, 146462, wide.Len())
	assert.ErrorIs(t, wide.Validate(), ErrValidation)
	_, err = NewDateRange("0001-01-01", "9999-12-31")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRateOn(t *testing.T) {
	c := Contributor{
		HourlyRate: decimal.NewFromInt(50),
		Rates: []RateChange{
			{EffectiveFrom: "2024-03-01", Rate: decimal.NewFromInt(70)},
			{EffectiveFrom: "2024-02-01", Rate: decimal.NewFromInt(60)},
		},
	}
	cases := map[Date]string{
		"2024-01-31": "50",
		"2024-02-01": "60",
		"2024-02-29": "60",
		"2024-03-01": "70",
		"2025-01-01": "70",
	}
	for d, want := range cases {
		assert.Equal(t, want, c.RateOn(d).String(), "rate on %s", d)
	}
}

func TestStatusBreakdown(t *testing.T) {
	var b StatusBreakdown
	for _, s := range []Status{StatusDraft, StatusSubmitted, StatusSubmitted, StatusApproved, StatusRejected} {
		b.Add(s)
	}
	assert.Equal(t, StatusBreakdown{Draft: 1, Submitted: 2, Approved: 1, Rejected: 1}, b)
	assert.Equal(t, 5, b.Total())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("submitted")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, s)
	_, err = ParseStatus("pending")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorsUnwrapThroughWrapping(t *testing.T) {
	key := Key{ContributorID: "alice", Date: "2024-01-08"}
	err := fmt.Errorf("approve: %w", StateError{Op: "approve", Key: key, Current: StatusDraft, Expected: []Status{StatusSubmitted}})
	assert.ErrorIs(t, err, ErrState)
	assert.NotErrorIs(t, err, ErrValidation)

	var se StateError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StatusDraft, se.Current)
	assert.Equal(t, "cannot approve alice@2024-01-08: status is draft, want submitted", se.Error())

	nf := NotFoundError{Kind: "entry", ID: key.String()}
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.Equal(t, "entry alice@2024-01-08 not found", nf.Error())

	vc := StateError{Op: "submit", Key: key, Current: StatusDraft, CurrentVersion: 3, ExpectedVersion: 2}
	assert.Contains(t, vc.Error(), "version is 3, expected 2")
}
