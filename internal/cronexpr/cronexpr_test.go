package cronexpr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func mustUTC(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := ParseInLocation(expr, time.UTC)
	require.NoError(t, err)
	return s
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
	}{
		{name: "empty", expr: "   "},
		{name: "too few fields", expr: "* * * *"},
		{name: "seconds field", expr: "0 * * * * *"},
		{name: "descriptor", expr: "@hourly"},
		{name: "minute out of range", expr: "60 * * * *"},
		{name: "hour out of range", expr: "0 24 * * *"},
		{name: "dom zero", expr: "0 0 0 * *"},
		{name: "month out of range", expr: "0 0 1 13 *"},
		{name: "bad range", expr: "5-1 * * * *"},
		{name: "garbage", expr: "a b c d e"},
		{name: "bad alternative", expr: "* * * * * | 61 * * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseInLocation(tt.expr, time.UTC)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidExpr), "err = %v", err)
		})
	}
}

func TestParseRejectsImpossibleDate(t *testing.T) {
	t.Parallel()
	_, err := ParseInLocation("0 0 30 2 *", time.UTC)
	require.ErrorIs(t, err, ErrNoOccurrence)
}

func TestMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		at   string
		want bool
	}{
		{"* * * * *", "2024-03-05 10:07", true},
		{"*/15 * * * *", "2024-03-05 10:15", true},
		{"*/15 * * * *", "2024-03-05 10:07", false},
		{"0,30 9-17 * * *", "2024-03-05 12:30", true},
		{"0,30 9-17 * * *", "2024-03-05 18:30", false},
		{"5 4 * * *", "2024-03-05 04:05", true},
		{"5 4 * * *", "2024-03-05 04:06", false},
		{"0 0 1 1 *", "2024-01-01 00:00", true},
		{"0 0 * 2 *", "2024-03-01 00:00", false},
		// 2024-03-05 is a Tuesday.
		{"0 12 * * 2", "2024-03-05 12:00", true},
		{"0 12 * * 1-5", "2024-03-09 12:00", false},
		// Both day fields restricted: OR.
		{"0 12 15 * 2", "2024-03-05 12:00", true},
		{"0 12 5 * 0", "2024-03-05 12:00", true},
		{"0 12 15 * 0", "2024-03-05 12:00", false},
		// Day-of-week wildcard: AND with day-of-month.
		{"0 12 15 * *", "2024-03-05 12:00", false},
		{"0 12 5 * *", "2024-03-05 12:00", true},
		// Alternatives.
		{"0 8 * * * | 30 20 * * *", "2024-03-05 20:30", true},
		{"0 8 * * * | 30 20 * * *", "2024-03-05 20:31", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr+"@"+tt.at, func(t *testing.T) {
			t.Parallel()
			s := mustUTC(t, tt.expr)
			require.Equal(t, tt.want, s.Matches(at(tt.at)))
		})
	}
}

func TestMatchesIgnoresSeconds(t *testing.T) {
	t.Parallel()
	s := mustUTC(t, "15 10 * * *")
	require.True(t, s.Matches(at("2024-03-05 10:15").Add(59*time.Second+500*time.Millisecond)))
}

func TestNextQuarterHour(t *testing.T) {
	t.Parallel()
	s := mustUTC(t, "*/15 * * * *")

	next, err := s.Next(at("2024-03-05 10:07"))
	require.NoError(t, err)
	require.Equal(t, at("2024-03-05 10:15"), next)
	require.True(t, s.Matches(next))

	// Strictly after: from a matching minute the next one is returned.
	next, err = s.Next(at("2024-03-05 10:15"))
	require.NoError(t, err)
	require.Equal(t, at("2024-03-05 10:30"), next)
}

func TestNextCrossesBoundaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		from string
		want string
	}{
		{"0 0 * * *", "2024-12-31 23:59", "2025-01-01 00:00"},
		{"0 0 29 2 *", "2024-03-01 00:00", "2028-02-29 00:00"},
		{"30 2 * * 0", "2024-03-05 10:00", "2024-03-10 02:30"},
		{"0 9 1 * 1", "2024-03-05 10:00", "2024-03-11 09:00"},
		{"0 0 1 */3 *", "2024-02-10 00:00", "2024-04-01 00:00"},
		{"45 23 * * * | 0 6 * * *", "2024-03-05 07:00", "2024-03-05 23:45"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			s := mustUTC(t, tt.expr)
			got, err := s.Next(at(tt.from))
			require.NoError(t, err)
			require.Equal(t, at(tt.want), got)
		})
	}
}

// Next must land on a match and nothing strictly between from and Next matches.
func TestNextIsFirstMatch(t *testing.T) {
	t.Parallel()
	exprs := []string{
		"*/7 * * * *",
		"0,20,40 */2 * * *",
		"15 3 * * 1-5",
		"0 12 13 * 5",
		"59 23 * * *",
		"1-5 0 * * 6 | 10 1 * * 0",
	}
	froms := []string{"2024-02-28 22:58", "2024-03-05 10:07", "2024-12-31 23:59"}

	for _, expr := range exprs {
		s := mustUTC(t, expr)
		for _, f := range froms {
			from := at(f).Add(17 * time.Second)
			next, err := s.Next(from)
			require.NoError(t, err)
			require.True(t, next.After(from), "%s from %s: %s", expr, f, next)
			require.True(t, s.Matches(next), "%s: next %s does not match", expr, next)
			for m := from.Truncate(time.Minute).Add(time.Minute); m.Before(next); m = m.Add(time.Minute) {
				require.False(t, s.Matches(m), "%s: %s matches before next %s", expr, m, next)
			}
		}
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	s, err := ParseInLocation("0 9 * * *", loc)
	require.NoError(t, err)

	// 02:00 UTC is 09:00 at UTC+7.
	require.True(t, s.Matches(at("2024-03-05 02:00")))
	next, err := s.Next(at("2024-03-05 03:00"))
	require.NoError(t, err)
	require.True(t, next.Equal(at("2024-03-06 02:00")), "next = %s", next)
}

func TestPackageHelpers(t *testing.T) {
	t.Parallel()
	ok, err := Matches("* * * * *", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = ComputeNext("bogus", time.Now())
	require.ErrorIs(t, err, ErrInvalidExpr)
}
