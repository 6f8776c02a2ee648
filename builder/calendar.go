package builder

import (
	"sort"

	"github.com/farebox/farebox/binformat"
	"github.com/farebox/farebox/feed"
)

// calendarRowAlign matches store.calendarRowBytes' padding so the
// builder and the store agree on row width without either importing the
// other's internal constant.
const calendarRowAlign = 8

// calendarBitset is one service's activity bitset, one bit per day in
// [epochDay, epochDay+horizonDays), per spec.md §4.2 step 6.
type calendarBitset struct {
	ServiceID string
	Bits      []byte // bit i set iff service runs on epochDay+i
}

// expandCalendars implements spec.md §4.2 step 6: expand every given
// service's bitset to cover the horizon, whether or not a trip
// references it.
func expandCalendars(calendars map[string]feed.Calendar, epochDay int64, horizonDays int) []calendarBitset {
	rowBytes := binformat.Align((horizonDays+7)/8, calendarRowAlign)
	ids := make([]string, 0, len(calendars))
	for id := range calendars {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]calendarBitset, 0, len(ids))
	for _, id := range ids {
		cal := calendars[id]
		bits := make([]byte, rowBytes)
		for i := 0; i < horizonDays; i++ {
			day := epochDay + int64(i)
			if cal.Active(day) {
				bits[i/8] |= 1 << uint(i%8)
			}
		}
		out = append(out, calendarBitset{ServiceID: id, Bits: bits})
	}
	return out
}
