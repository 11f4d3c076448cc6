// Package quota provides the quota day clock. Every instance of the
// service must use the same reference timezone.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/fortunecoin/backend/internal/models"
)

type Clock interface {
	Today() models.Day
	Now() time.Time
	Location() *time.Location
}

// SystemClock reads wall time in a fixed reference timezone.
type SystemClock struct {
	loc *time.Location
}

func NewSystemClock(tz string) (*SystemClock, error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("quota: load timezone %q: %w", tz, err)
	}
	return &SystemClock{loc: loc}, nil
}

func (c *SystemClock) Now() time.Time { return time.Now().In(c.loc) }

func (c *SystemClock) Today() models.Day { return models.DayOf(time.Now(), c.loc) }

func (c *SystemClock) Location() *time.Location { return c.loc }

// FixedClock is a manually advanced clock for tests and tooling.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewFixedClock(now time.Time, loc *time.Location) *FixedClock {
	if loc == nil {
		loc = time.UTC
	}
	return &FixedClock{now: now, loc: loc}
}

// FixedDay returns a clock set to noon of day in UTC.
func FixedDay(day models.Day) *FixedClock {
	return NewFixedClock(day.Start(time.UTC).Add(12*time.Hour), time.UTC)
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.In(c.loc)
}

func (c *FixedClock) Today() models.Day { return models.DayOf(c.Now(), c.loc) }

func (c *FixedClock) Location() *time.Location { return c.loc }

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// IsNewDay reports whether the account's quota day is behind the clock.
func IsNewDay(c Clock, a *models.Account) bool {
	return a.QuotaDay.Before(c.Today())
}
