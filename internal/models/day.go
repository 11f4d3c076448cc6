package models

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a quota day in the platform's reference timezone, formatted
// YYYY-MM-DD so that string order equals chronological order. The zero
// value sorts before every real day.
type Day string

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(dayLayout))
}

func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("parse day %q: %w", s, err)
	}
	return Day(s), nil
}

// MustDay is ParseDay for literals in tests and fixtures.
func MustDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) IsZero() bool { return d == "" }

func (d Day) Before(o Day) bool { return d < o }

func (d Day) String() string { return string(d) }

// AddDays returns the day n days after d. The zero day stays zero.
func (d Day) AddDays(n int) Day {
	if d.IsZero() {
		return d
	}
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(dayLayout))
}

// Start returns midnight of d in loc.
func (d Day) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dayLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}
