package circulation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func Test_DaysLate(t *testing.T) {
	due := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysLate(due, due, 0))
	assert.Equal(t, 0, DaysLate(due, due.Add(-time.Hour), 0))
	assert.Equal(t, 1, DaysLate(due, due.Add(time.Nanosecond), 0))
	assert.Equal(t, 1, DaysLate(due, due.Add(day), 0))
	assert.Equal(t, 2, DaysLate(due, due.Add(day+time.Hour), 0))
	assert.Equal(t, 0, DaysLate(due, due.AddDate(0, 0, 3), 3))
	assert.Equal(t, 1, DaysLate(due, due.AddDate(0, 0, 3).Add(time.Minute), 3))
}

func Test_DaysLate_CountsStartedDays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "due"), 0).UTC()
		grace := rapid.IntRange(0, 30).Draw(t, "grace")
		late := time.Duration(rapid.Int64Range(1, int64(400*day)).Draw(t, "late"))

		returned := due.AddDate(0, 0, grace).Add(late)
		days := DaysLate(due, returned, grace)

		if days < 1 {
			t.Fatalf("late return by %v counted %d days", late, days)
		}
		if time.Duration(days)*day < late || time.Duration(days-1)*day >= late {
			t.Fatalf("late by %v but counted %d days", late, days)
		}
	})
}

func Test_DaysLate_OnTimeIsFree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		due := time.Unix(rapid.Int64Range(0, 4_000_000_000).Draw(t, "due"), 0).UTC()
		grace := rapid.IntRange(0, 30).Draw(t, "grace")
		early := time.Duration(rapid.Int64Range(0, int64(60*day)).Draw(t, "early"))

		if got := DaysLate(due, due.AddDate(0, 0, grace).Add(-early), grace); got != 0 {
			t.Fatalf("return %v before the deadline counted %d days", early, got)
		}
	})
}

func Test_FineAmount(t *testing.T) {
	rate := decimal.RequireFromString("5.00")

	assert.Equal(t, "15.00", FineAmount(3, rate).StringFixed(2))
	assert.Equal(t, "0.00", FineAmount(0, rate).StringFixed(2))
	assert.Equal(t, "0.75", FineAmount(3, decimal.RequireFromString("0.25")).StringFixed(2))
}

func Test_FineAmount_IsLinearInDays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(0, 100_000).Draw(t, "cents")
		days := rapid.IntRange(0, 1000).Draw(t, "days")
		rate := decimal.New(cents, -2)

		got := FineAmount(days, rate)
		want := decimal.New(cents*int64(days), -2)
		if !got.Equal(want) {
			t.Fatalf("FineAmount(%d, %s) = %s, want %s", days, rate, got, want)
		}
	})
}
