package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeRangeValidate_Relative(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		value int
		unit  TimeUnit
		ok    bool
	}{
		{"one hour", 1, UnitHour, true},
		{"max hours", 720, UnitHour, true},
		{"too many hours", 721, UnitHour, false},
		{"zero hours", 0, UnitHour, false},
		{"max days", 365, UnitDay, true},
		{"too many days", 366, UnitDay, false},
		{"max weeks", 52, UnitWeek, true},
		{"too many weeks", 53, UnitWeek, false},
		{"max months", 12, UnitMonth, true},
		{"too many months", 13, UnitMonth, false},
		{"unknown unit", 1, TimeUnit("y"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := TimeRange{Relative: &RelativeRange{Value: tc.value, Unit: tc.unit}}
			err := tr.Validate(now)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidArgument)
			}
		})
	}
}

func TestTimeRangeValidate_Absolute(t *testing.T) {
	now := time.Now()
	valid := TimeRange{Absolute: &AbsoluteRange{Start: now.Add(-48 * time.Hour), End: now.Add(-time.Hour)}}
	require.NoError(t, valid.Validate(now))

	future := TimeRange{Absolute: &AbsoluteRange{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}}
	require.ErrorIs(t, future.Validate(now), ErrInvalidArgument)

	inverted := TimeRange{Absolute: &AbsoluteRange{Start: now.Add(-time.Hour), End: now.Add(-2 * time.Hour)}}
	require.ErrorIs(t, inverted.Validate(now), ErrInvalidArgument)

	tooLong := TimeRange{Absolute: &AbsoluteRange{Start: now.Add(-400 * 24 * time.Hour), End: now.Add(-time.Hour)}}
	require.ErrorIs(t, tooLong.Validate(now), ErrInvalidArgument)
}

func TestTimeRangeValidate_EmptyAndBoth(t *testing.T) {
	now := time.Now()
	require.ErrorIs(t, TimeRange{}.Validate(now), ErrInvalidArgument)

	both := TimeRange{
		Relative: &RelativeRange{Value: 1, Unit: UnitHour},
		Absolute: &AbsoluteRange{Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)},
	}
	require.ErrorIs(t, both.Validate(now), ErrInvalidArgument)
}

func TestTimeRangeSQLCondition(t *testing.T) {
	tr := TimeRange{Relative: &RelativeRange{Value: 6, Unit: UnitHour}}
	require.Equal(t, "created_at >= NOW() - INTERVAL '6 hours'", tr.SQLCondition())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	abs := TimeRange{Absolute: &AbsoluteRange{Start: start, End: end}}
	require.Equal(t,
		"created_at >= '2026-01-01T00:00:00Z' AND created_at < '2026-01-02T00:00:00Z'",
		abs.SQLCondition(),
		"absolute windows must be end-exclusive")
}

func TestParseUnit(t *testing.T) {
	for in, want := range map[string]TimeUnit{
		"h": UnitHour, "hours": UnitHour, "Day": UnitDay, "weeks": UnitWeek, "m": UnitMonth,
	} {
		got, err := ParseUnit(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseUnit("fortnight")
	require.ErrorIs(t, err, ErrInvalidArgument)
}
