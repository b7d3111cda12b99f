// File: internal/clock/clock_test.go
package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDayClock(t *testing.T) {
	c, err := NewDayClock("America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", c.Location().String())

	// Empty falls back to the default reference zone
	c, err = NewDayClock("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, c.Location().String())

	_, err = NewDayClock("Not/AZone")
	assert.Error(t, err)
}

func TestDayStart(t *testing.T) {
	c := MustNewDayClock(DefaultTimezone)
	loc := c.Location()

	// 2024-06-15 13:45 PDT
	ts := time.Date(2024, 6, 15, 13, 45, 0, 0, loc).Unix()
	want := time.Date(2024, 6, 15, 0, 0, 0, 0, loc).Unix()
	assert.Equal(t, want, c.DayStart(ts))

	// Midnight maps to itself
	assert.Equal(t, want, c.DayStart(want))

	// One second before midnight belongs to the previous day
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, loc).Unix(), c.DayStart(want-1))
}

func TestDayStartSpringForward(t *testing.T) {
	c := MustNewDayClock(DefaultTimezone)
	loc := c.Location()

	// 2024-03-10: clocks jump 02:00 -> 03:00 PST->PDT, a 23 hour day
	morning := time.Date(2024, 3, 10, 10, 0, 0, 0, loc)
	dayStart := c.DayStart(morning.Unix())
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc).Unix(), dayStart)

	nextDayStart := c.DayStart(time.Date(2024, 3, 11, 1, 0, 0, 0, loc).Unix())
	assert.Equal(t, int64(23*3600), nextDayStart-dayStart)
}

func TestDayStartFallBack(t *testing.T) {
	c := MustNewDayClock(DefaultTimezone)
	loc := c.Location()

	// 2024-11-03: clocks fall back 02:00 -> 01:00 PDT->PST, a 25 hour day
	dayStart := c.DayStart(time.Date(2024, 11, 3, 12, 0, 0, 0, loc).Unix())
	nextDayStart := c.DayStart(time.Date(2024, 11, 4, 12, 0, 0, 0, loc).Unix())
	assert.Equal(t, int64(25*3600), nextDayStart-dayStart)
}

func TestSameDay(t *testing.T) {
	c := MustNewDayClock(DefaultTimezone)
	loc := c.Location()

	morning := time.Date(2024, 6, 15, 0, 0, 1, 0, loc).Unix()
	night := time.Date(2024, 6, 15, 23, 59, 59, 0, loc).Unix()
	assert.True(t, c.SameDay(morning, night))

	nextDay := time.Date(2024, 6, 16, 0, 0, 0, 0, loc).Unix()
	assert.False(t, c.SameDay(night, nextDay))
}

func TestNeedsReset(t *testing.T) {
	c := MustNewDayClock(DefaultTimezone)
	loc := c.Location()

	day := time.Date(2024, 6, 15, 0, 0, 0, 0, loc).Unix()
	noon := time.Date(2024, 6, 15, 12, 0, 0, 0, loc).Unix()
	assert.False(t, c.NeedsReset(day, noon))

	tomorrow := time.Date(2024, 6, 16, 0, 0, 1, 0, loc).Unix()
	assert.True(t, c.NeedsReset(day, tomorrow))
}
