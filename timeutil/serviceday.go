// Package timeutil resolves the local-midnight and service-day
// calculations RAPTOR needs to turn a route-relative stop_time offset
// into an absolute epoch second, per spec.md §4.4 step 2 and §4.5
// "Numeric semantics".
package timeutil

import (
	"time"

	"github.com/pkg/errors"
)

// EpochDay is a date expressed as a day count since the Unix epoch
// (1970-01-01), matching the store header's EpochDay field.
type EpochDay int64

// DayOf returns the EpochDay for an instant observed in loc.
func DayOf(t time.Time, loc *time.Location) EpochDay {
	y, m, d := t.In(loc).Date()
	return EpochDay(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// LocalMidnight resolves the epoch-second instant of local midnight on
// day in loc. GTFS/RAPTOR stop_times can exceed 24:00:00 to express
// service past midnight, so this is a pure function of the calendar date,
// never of a wall-clock instant.
//
// DST handling follows spec.md §4.5: a nonexistent local midnight (spring
// forward landed exactly on it) advances to the next valid instant; an
// ambiguous local midnight (fall back) resolves to the earlier instant.
// Go's time.Date already implements both rules for ordinary field
// overflow/ambiguity, so this is a thin, named wrapper rather than a
// hand-rolled DST table.
func LocalMidnight(day EpochDay, loc *time.Location) time.Time {
	days := int64(day)
	// time.Date normalizes out-of-range days, so express the date as an
	// offset from the Unix epoch date rather than computing y/m/d by hand.
	t := time.Date(1970, 1, 1+int(days), 0, 0, 0, 0, loc)
	return t
}

// TripInstant computes the absolute epoch-second instant of a stop_time
// offset (possibly ≥ 86400 for past-midnight service) on a given service
// day in the route's timezone.
func TripInstant(day EpochDay, offsetSeconds int64, loc *time.Location) int64 {
	return LocalMidnight(day, loc).Unix() + offsetSeconds
}

// ServiceDayFor returns the EpochDay whose local midnight, in loc, is at
// or before epochSeconds — i.e. the service day that a stop_time offset
// measured from epochSeconds' local midnight would belong to. Rounds
// based on calendar date, not on a fixed 24h window, so it is DST-safe.
func ServiceDayFor(epochSeconds int64, loc *time.Location) EpochDay {
	t := time.Unix(epochSeconds, 0).In(loc)
	return DayOf(t, loc)
}

// LoadZone loads an IANA zone by name, wrapping the error with the zone
// name since time.LoadLocation's own error is easy to lose track of when
// multiple zones are loaded during a store open.
func LoadZone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "timeutil: load zone %q", name)
	}
	return loc, nil
}
