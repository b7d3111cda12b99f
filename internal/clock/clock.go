// File: internal/clock/clock.go
package clock

import (
	"time"

	"github.com/stacklabel/update-governor/pkg/utils"
)

// DefaultTimezone is the reference timezone for all day-boundary math.
// Every consumer of "what day is it" must go through the same DayClock so
// the admission ledger and the democratic throttle reset at the same instant.
const DefaultTimezone = "America/Los_Angeles"

// DayClock computes day boundaries in a fixed reference timezone,
// honoring daylight-saving transitions via the tz database.
type DayClock struct {
	loc *time.Location
}

// NewDayClock creates a day clock for the named timezone
func NewDayClock(timezone string) (*DayClock, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid timezone", err.Error())
	}

	return &DayClock{loc: loc}, nil
}

// MustNewDayClock is NewDayClock for callers with a known-good zone name
func MustNewDayClock(timezone string) *DayClock {
	c, err := NewDayClock(timezone)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the clock's reference timezone
func (c *DayClock) Location() *time.Location {
	return c.loc
}

// DayStart returns the unix timestamp of local midnight in the reference
// timezone for the calendar date containing ts. On DST transition days the
// day is 23 or 25 hours long; midnight itself is always well defined for
// America/Los_Angeles (transitions happen at 02:00 local).
func (c *DayClock) DayStart(ts int64) int64 {
	t := time.Unix(ts, 0).In(c.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	return midnight.Unix()
}

// SameDay reports whether two instants fall on the same reference-timezone
// calendar day
func (c *DayClock) SameDay(ts1, ts2 int64) bool {
	return c.DayStart(ts1) == c.DayStart(ts2)
}

// NeedsReset reports whether the day boundary has rolled over since
// lastResetDay (a DayStart value recorded at the previous reset)
func (c *DayClock) NeedsReset(lastResetDay, now int64) bool {
	return c.DayStart(now) != lastResetDay
}
