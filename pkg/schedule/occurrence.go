package schedule

import (
	"fmt"
	"time"
)

// RunTime is a wall-clock time of day
type RunTime struct {
	Hour   int
	Minute int
}

// ParseRunTime reads "HH:MM"
func ParseRunTime(s string) (RunTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return RunTime{}, fmt.Errorf("%w: %q", ErrInvalidRunTime, s)
	}
	return RunTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Validate checks the hour and minute ranges
func (r RunTime) Validate() error {
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrInvalidRunTime, r.Hour, r.Minute)
	}
	return nil
}

func (r RunTime) String() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// NextOccurrence returns the run one calendar month after prev. The day is
// the requested day clamped to the target month's length, so a schedule for
// the 31st runs Jan 31, Feb 28 (or 29), Mar 31.
func NextOccurrence(prev time.Time, day int, rt RunTime, loc *time.Location) time.Time {
	p := prev.In(loc)
	year, month := p.Year(), p.Month()+1
	if month > time.December {
		month = time.January
		year++
	}
	return occurrence(year, month, day, rt, loc)
}

// FirstOccurrence returns the earliest run at or after now
func FirstOccurrence(now time.Time, day int, rt RunTime, loc *time.Location) time.Time {
	n := now.In(loc)
	candidate := occurrence(n.Year(), n.Month(), day, rt, loc)
	if candidate.Before(now) {
		return NextOccurrence(candidate, day, rt, loc)
	}
	return candidate
}

func occurrence(year int, month time.Month, day int, rt RunTime, loc *time.Location) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, rt.Hour, rt.Minute, 0, 0, loc)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
