package store

import (
	"time"

	"github.com/pkg/errors"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/binformat"
	"github.com/farebox/farebox/timeutil"
)

// stringTable indexes a length-prefixed blob of UTF-8 strings (used for
// both the timezones file and the strings file) so that Get is O(1).
// Entries are small in number (stop names, headsigns, IANA zone names),
// so the index itself is built eagerly in memory at Open time rather than
// walked on every access.
type stringTable struct {
	data    []byte
	offsets []int // start offset of entry i
	lengths []int
}

func buildStringTable(data []byte) (stringTable, error) {
	t := stringTable{data: data}
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return t, errors.New("store: truncated string table")
		}
		n := int(binformat.Endian.Uint32(data[off : off+4]))
		off += 4
		if off+n > len(data) {
			return t, errors.New("store: truncated string table entry")
		}
		t.offsets = append(t.offsets, off)
		t.lengths = append(t.lengths, n)
		off += n
	}
	return t, nil
}

func (t stringTable) Get(i int) string {
	if i < 0 || i >= len(t.offsets) {
		return ""
	}
	o, n := t.offsets[i], t.lengths[i]
	return string(t.data[o : o+n])
}

func (t stringTable) Len() int { return len(t.offsets) }

func (s *Store) loadStringTables() error {
	strs, err := buildStringTable(s.bytes("strings"))
	if err != nil {
		return errors.Wrap(err, "store: strings table")
	}
	s.strings = strs

	zoneNames, err := buildStringTable(s.bytes("timezones"))
	if err != nil {
		return errors.Wrap(err, "store: timezones table")
	}
	s.zones = make([]*zoneEntry, zoneNames.Len())
	for i := 0; i < zoneNames.Len(); i++ {
		name := zoneNames.Get(i)
		loc, err := timeutil.LoadZone(name)
		if err != nil {
			return err
		}
		s.zones[i] = &zoneEntry{name: name, loc: loc}
	}
	return nil
}

// String returns the headsign/stop-name string table entry at idx.
func (s *Store) String(idx uint32) string { return s.strings.Get(int(idx)) }

// ----- Stops -----

// StopsView exposes O(1) random access over the stops array.
type StopsView struct{ s *Store }

func (s *Store) Stops() StopsView { return StopsView{s} }

func (v StopsView) Len() int { return v.s.NumStops() }

func (v StopsView) Get(id uint32) Stop {
	buf := v.s.bytes("stops")
	off := int(id) * stopRecordSize
	return decodeStop(buf[off : off+stopRecordSize])
}

// Position implements access.StopIndex, so a StopsView can be handed
// directly to access.NewRTreeRouter without an adapter type.
func (v StopsView) Position(id uint32) access.Coord {
	s := v.Get(id)
	return access.Coord{Lat: s.Lat, Lon: s.Lon}
}

// RouteRange returns the CSR-style [first, last) range into stop_routes
// for the stop's serving routes, per spec.md §3's Stop attributes.
func (v StopsView) RouteRange(id uint32) (first, last uint32) {
	stop := v.Get(id)
	first = stop.FirstRouteIdx
	if int(id)+1 < v.Len() {
		last = v.Get(id + 1).FirstRouteIdx
	} else {
		last = uint32(len(v.s.bytes("stop_routes")) / stopRouteEntrySize)
	}
	return first, last
}

// RoutesServing yields (route id, position in route) pairs for a stop,
// per spec.md §4.1.
func (v StopsView) RoutesServing(id uint32) []RouteStopRef {
	first, last := v.RouteRange(id)
	buf := v.s.bytes("stop_routes")
	out := make([]RouteStopRef, 0, last-first)
	for i := first; i < last; i++ {
		off := int(i) * stopRouteEntrySize
		e := decodeStopRouteEntry(buf[off : off+stopRouteEntrySize])
		out = append(out, RouteStopRef{RouteID: e.RouteID, Position: int(e.Position)})
	}
	return out
}

// RouteStopRef is one (route, position-within-route) pairing.
type RouteStopRef struct {
	RouteID  uint32
	Position int
}

// TransfersFrom yields every precomputed walkable link from a stop, in
// the builder's ascending-target-id order (spec.md §3 Transfer).
func (v StopsView) TransfersFrom(id uint32) []Transfer {
	idxBuf := v.s.bytes("transfers_idx")
	off := int(id) * transferIndexSize
	r := decodeTransferRange(idxBuf[off : off+transferIndexSize])

	buf := v.s.bytes("transfers")
	out := make([]Transfer, 0, r.Last-r.First)
	for i := r.First; i < r.Last; i++ {
		o := int(i) * transferEntrySize
		out = append(out, decodeTransfer(buf[o:o+transferEntrySize]))
	}
	return out
}

// ----- Routes -----

// RoutesView exposes O(1) random access over the RAPTOR-route array.
type RoutesView struct{ s *Store }

func (s *Store) Routes() RoutesView { return RoutesView{s} }

func (v RoutesView) Len() int { return v.s.NumRoutes() }

func (v RoutesView) Get(id uint32) Route {
	buf := v.s.bytes("routes")
	off := int(id) * routeRecordSize
	return decodeRoute(buf[off : off+routeRecordSize])
}

// StopAt returns the dense stop id at position pos within route.
func (v RoutesView) StopAt(route Route, pos int) uint32 {
	buf := v.s.bytes("route_stops")
	off := (int(route.RouteStopsOffset) + pos) * routeStopEntrySize
	return binformat.Endian.Uint32(buf[off : off+routeStopEntrySize])
}

// RouteStops returns the dense, in-order stop ids for a route.
func (v RoutesView) RouteStops(route Route) []uint32 {
	out := make([]uint32, route.NumStops)
	for i := range out {
		out[i] = v.StopAt(route, i)
	}
	return out
}

// StopTime returns the (arrival, departure) pair for trip index `trip`
// (0-based within the route) at stop position `pos`, per spec.md §3's
// row-major-by-trip-then-stop layout.
func (v RoutesView) StopTime(route Route, trip, pos int) StopTime {
	buf := v.s.bytes("stop_times")
	idx := int(route.StopTimesOffset) + trip*int(route.NumStops) + pos
	off := idx * stopTimeEntrySize
	return decodeStopTime(buf[off : off+stopTimeEntrySize])
}

// StopTimes returns the full row for one trip, length NumStops, per
// spec.md §4.1's stop_times(route, trip) view.
func (v RoutesView) StopTimes(route Route, trip int) []StopTime {
	out := make([]StopTime, route.NumStops)
	for pos := range out {
		out[pos] = v.StopTime(route, trip, pos)
	}
	return out
}

// TripMeta returns the service id and headsign index for trip `trip`.
func (v RoutesView) TripMeta(route Route, trip int) TripMeta {
	buf := v.s.bytes("trips")
	off := (int(route.TripMetaOffset) + trip) * tripMetaEntrySize
	return decodeTripMeta(buf[off : off+tripMetaEntrySize])
}

// TripsIn returns the trip indices [0, NumTrips) for a route; trips are
// accessed by this dense 0-based index within the route, not a global id,
// matching the stop_times/trip_meta row layout.
func (v RoutesView) TripsIn(route Route) []int {
	out := make([]int, route.NumTrips)
	for i := range out {
		out[i] = i
	}
	return out
}

// ----- Calendars -----

// calendarRowBytes is the per-service byte width of the bitset, padded to
// calendarRowAlign bytes so rows begin on an aligned boundary.
func (s *Store) calendarRowBytes() int {
	bits := s.HorizonDays()
	bytesNeeded := (bits + 7) / 8
	return binformat.Align(bytesNeeded, calendarRowAlign)
}

// IsActive answers "does service serviceID run on day?" in O(1), per
// spec.md §4.1. day is an absolute EpochDay (days since the Unix epoch);
// days outside [EpochDay(), EpochDay()+HorizonDays()) report false.
func (s *Store) IsActive(serviceID uint32, day timeutil.EpochDay) bool {
	offset := int64(day) - s.header.EpochDay
	if offset < 0 || offset >= int64(s.header.HorizonDays) {
		return false
	}
	row := s.calendarRowBytes()
	buf := s.bytes("calendars")
	base := int(serviceID) * row
	byteIdx := base + int(offset/8)
	if byteIdx >= len(buf) {
		return false
	}
	bit := uint(offset % 8)
	return buf[byteIdx]&(1<<bit) != 0
}

// Location resolves a stop's or route's timezone index to an IANA zone.
// The *time.Location is loaded once at Open, not per query, per
// spec.md's "avoid per-query string parsing" design note.
func (s *Store) Location(idx uint32) *time.Location {
	if int(idx) >= len(s.zones) {
		return nil
	}
	return s.zones[idx].loc
}

// ZoneName returns the IANA zone name at idx, for logging/diagnostics.
func (s *Store) ZoneName(idx uint32) string {
	if int(idx) >= len(s.zones) {
		return ""
	}
	return s.zones[idx].name
}
