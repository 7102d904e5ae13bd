package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeUnit enumerates relative range units.
type TimeUnit string

const (
	UnitHour  TimeUnit = "h"
	UnitDay   TimeUnit = "d"
	UnitWeek  TimeUnit = "w"
	UnitMonth TimeUnit = "m"
)

// TimeRange is a tagged union over a relative offset from now and an
// absolute calendar window. Exactly one variant is populated; validity is
// enforced centrally by Validate so the workflow can propagate the value
// without re-checking.
type TimeRange struct {
	Relative *RelativeRange `json:"relative,omitempty"`
	Absolute *AbsoluteRange `json:"absolute,omitempty"`
}

// RelativeRange anchors the window to now by offset.
type RelativeRange struct {
	Value int      `json:"value"`
	Unit  TimeUnit `json:"unit"`
}

// AbsoluteRange anchors the window to explicit dates.
type AbsoluteRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// relative bounds per unit
var relativeBounds = map[TimeUnit][2]int{
	UnitHour:  {1, 720},
	UnitDay:   {1, 365},
	UnitWeek:  {1, 52},
	UnitMonth: {1, 12},
}

// Validate enforces the variant invariants. Relative values must fall in the
// unit-specific bounds; absolute windows must satisfy start < end <= now and
// span at most 365 days.
func (tr TimeRange) Validate(now time.Time) error {
	const op = "domain.TimeRange.Validate"
	switch {
	case tr.Relative != nil && tr.Absolute != nil:
		return fmt.Errorf("op=%s: both variants set: %w", op, ErrInvalidArgument)
	case tr.Relative != nil:
		b, ok := relativeBounds[tr.Relative.Unit]
		if !ok {
			return fmt.Errorf("op=%s: unknown unit %q: %w", op, tr.Relative.Unit, ErrInvalidArgument)
		}
		if tr.Relative.Value < b[0] || tr.Relative.Value > b[1] {
			return fmt.Errorf("op=%s: value %d out of range [%d,%d] for unit %q: %w", op, tr.Relative.Value, b[0], b[1], tr.Relative.Unit, ErrInvalidArgument)
		}
		return nil
	case tr.Absolute != nil:
		a := tr.Absolute
		if !a.Start.Before(a.End) {
			return fmt.Errorf("op=%s: start must precede end: %w", op, ErrInvalidArgument)
		}
		if a.End.After(now) {
			return fmt.Errorf("op=%s: end is in the future: %w", op, ErrInvalidArgument)
		}
		if a.End.Sub(a.Start) > 365*24*time.Hour {
			return fmt.Errorf("op=%s: window exceeds 365 days: %w", op, ErrInvalidArgument)
		}
		return nil
	}
	return fmt.Errorf("op=%s: empty range: %w", op, ErrInvalidArgument)
}

// IsZero reports whether neither variant is set.
func (tr TimeRange) IsZero() bool { return tr.Relative == nil && tr.Absolute == nil }

// SQLCondition renders the range as a WHERE fragment over created_at.
// The caller interpolates it into generated prompts, never into user SQL.
func (tr TimeRange) SQLCondition() string {
	switch {
	case tr.Relative != nil:
		unit := map[TimeUnit]string{UnitHour: "hours", UnitDay: "days", UnitWeek: "weeks", UnitMonth: "months"}[tr.Relative.Unit]
		return fmt.Sprintf("created_at >= NOW() - INTERVAL '%d %s'", tr.Relative.Value, unit)
	case tr.Absolute != nil:
		// end-exclusive, matching the generator's date-range rule
		return fmt.Sprintf("created_at >= '%s' AND created_at < '%s'",
			tr.Absolute.Start.UTC().Format(time.RFC3339),
			tr.Absolute.End.UTC().Format(time.RFC3339))
	}
	return ""
}

// String renders a short human description used in focus snapshots.
func (tr TimeRange) String() string {
	switch {
	case tr.Relative != nil:
		return fmt.Sprintf("last %d%s", tr.Relative.Value, tr.Relative.Unit)
	case tr.Absolute != nil:
		return fmt.Sprintf("%s..%s",
			tr.Absolute.Start.UTC().Format("2006-01-02"),
			tr.Absolute.End.UTC().Format("2006-01-02"))
	}
	return ""
}

// ParseUnit normalizes a unit string, accepting long forms like "hours".
func ParseUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h", "hour", "hours":
		return UnitHour, nil
	case "d", "day", "days":
		return UnitDay, nil
	case "w", "week", "weeks":
		return UnitWeek, nil
	case "m", "month", "months":
		return UnitMonth, nil
	}
	return "", fmt.Errorf("op=domain.ParseUnit: unknown unit %q: %w", s, ErrInvalidArgument)
}
