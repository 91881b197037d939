package timesheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hourline/internal/domain"
)

func TestWeek(t *testing.T) {
	cases := []struct {
		day   domain.Date
		start time.Weekday
		want  domain.DateRange
	}{
		{"2024-01-08", time.Monday, domain.DateRange{From: "2024-01-08", To: "2024-01-14"}},
		{"2024-01-14", time.Monday, domain.DateRange{From: "2024-01-08", To: "2024-01-14"}},
		{"2024-01-10", time.Monday, domain.DateRange{From: "2024-01-08", To: "2024-01-14"}},
		{"2024-01-10", time.Sunday, domain.DateRange{From: "2024-01-07", To: "2024-01-13"}},
		{"2024-01-01", time.Sunday, domain.DateRange{From: "2023-12-31", To: "2024-01-06"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Week(tc.day, tc.start), "%s from %s", tc.day, tc.start)
	}
}

func TestMonth(t *testing.T) {
	assert.Equal(t, domain.DateRange{From: "2024-02-01", To: "2024-02-29"}, Month("2024-02-15"))
	assert.Equal(t, domain.DateRange{From: "2023-12-01", To: "2023-12-31"}, Month("2023-12-31"))
	assert.Equal(t, domain.DateRange{From: "2024-02-01", To: "2024-02-29"}, PreviousMonth("2024-03-31"))
}
