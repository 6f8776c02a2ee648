package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMidnightUTC(t *testing.T) {
	loc := time.UTC
	mid := LocalMidnight(0, loc)
	assert.Equal(t, int64(0), mid.Unix())
	assert.Equal(t, 1, mid.Day())
	// 1970-01-02 is day 1: the Unix epoch date (1970-01-01) is day 0.
	mid = LocalMidnight(1, loc)
	assert.Equal(t, int64(86400), mid.Unix())
}

func TestLocalMidnightAcrossSpringForward(t *testing.T) {
	// America/New_York sprang forward at 2023-03-12 02:00 local (clocks
	// jumped to 03:00); local midnight itself is unaffected by the
	// transition, unlike 02:xx local times that day.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := DayOf(time.Date(2023, 3, 12, 12, 0, 0, 0, loc), loc)
	mid := LocalMidnight(day, loc)
	assert.Equal(t, 0, mid.Hour())
	assert.Equal(t, time.March, mid.Month())
	assert.Equal(t, 12, mid.Day())
}

func TestLocalMidnightAcrossFallBack(t *testing.T) {
	// America/New_York fell back at 2023-11-05 02:00 local (clocks
	// repeated 01:00-02:00); local midnight that day is still unambiguous
	// and unaffected.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := DayOf(time.Date(2023, 11, 5, 12, 0, 0, 0, loc), loc)
	mid := LocalMidnight(day, loc)
	assert.Equal(t, 0, mid.Hour())
	assert.Equal(t, 5, mid.Day())

	// A stop_time offset of 90 minutes past midnight must land at 01:30
	// local exactly once interpreted relative to that midnight, even
	// though 01:xx local occurs twice in wall-clock terms that day.
	instant := TripInstant(day, 90*60, loc)
	got := time.Unix(instant, 0).In(loc)
	assert.Equal(t, 1, got.Hour())
	assert.Equal(t, 30, got.Minute())
}

func TestTripInstantPastMidnightOffset(t *testing.T) {
	loc := time.UTC
	day := EpochDay(100)
	// A stop_time offset of 24:30:00 (88200s) means 00:30 the NEXT
	// calendar day, per GTFS's past-midnight convention.
	instant := TripInstant(day, 88200, loc)
	gotDay := DayOf(time.Unix(instant, 0), loc)
	assert.Equal(t, day+1, gotDay)
	got := time.Unix(instant, 0).In(loc)
	assert.Equal(t, 0, got.Hour())
	assert.Equal(t, 30, got.Minute())
}

func TestServiceDayForRollsOverAtLocalMidnight(t *testing.T) {
	loc := time.UTC
	day := EpochDay(100)
	midnight := LocalMidnight(day, loc).Unix()

	assert.Equal(t, day-1, ServiceDayFor(midnight-1, loc))
	assert.Equal(t, day, ServiceDayFor(midnight, loc))
	assert.Equal(t, day, ServiceDayFor(midnight+86399, loc))
	assert.Equal(t, day+1, ServiceDayFor(midnight+86400, loc))
}

func TestServiceDayForIsTimezoneSensitive(t *testing.T) {
	utc := time.UTC
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2023-06-15 02:00 UTC is still 2023-06-14 22:00 in New York (EDT,
	// UTC-4): the calendar day a query falls on depends on the route's
	// own timezone, not UTC.
	instant := time.Date(2023, 6, 15, 2, 0, 0, 0, utc).Unix()
	dayUTC := ServiceDayFor(instant, utc)
	dayNY := ServiceDayFor(instant, ny)
	assert.NotEqual(t, dayUTC, dayNY)
	assert.Equal(t, dayUTC-1, dayNY)
}

func TestLoadZoneWrapsFailure(t *testing.T) {
	_, err := LoadZone("Not/AZone")
	assert.Error(t, err)
}
