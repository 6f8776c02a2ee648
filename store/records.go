package store

import (
	"math"

	"github.com/farebox/farebox/binformat"
)

func f64bits(f float64) uint64 { return math.Float64bits(f) }
func bitsf64(b uint64) float64 { return math.Float64frombits(b) }

// Record sizes, in bytes, for every flat array the store maps. Each is a
// manually laid out little-endian encoding rather than a reflection-based
// binary.Write of a Go struct, so the on-disk size is exact and stable
// across compilers/architectures per spec.md §4.1's alignment rule.
const (
	stopRecordSize      = 32
	stopRouteEntrySize  = 8
	routeRecordSize     = 32
	routeStopEntrySize  = 4
	stopTimeEntrySize   = 8
	tripMetaEntrySize   = 8
	transferIndexSize   = 8
	transferEntrySize   = 8
	calendarRowAlign    = 8 // calendar bitset rows are byte-aligned, not bit-packed across rows
)

// Stop is the decoded view of one stop record. LastRouteIdx is not
// stored: like the route_stops/stop_times offset arrays, the
// [FirstRouteIdx, LastRouteIdx) range is CSR-style — a stop's
// LastRouteIdx is the next stop's FirstRouteIdx, or len(stop_routes) for
// the final stop. See StopsView.RouteRange.
type Stop struct {
	ID            uint32
	Lat           float64
	Lon           float64
	TimezoneIdx   uint32
	FirstRouteIdx uint32
}

func encodeStop(buf []byte, s Stop) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], s.ID)
	e.PutUint64(buf[8:16], f64bits(s.Lat))
	e.PutUint64(buf[16:24], f64bits(s.Lon))
	e.PutUint32(buf[24:28], s.TimezoneIdx)
	e.PutUint32(buf[28:32], s.FirstRouteIdx)
}

func decodeStop(buf []byte) Stop {
	e := binformat.Endian
	return Stop{
		ID:            e.Uint32(buf[0:4]),
		Lat:           bitsf64(e.Uint64(buf[8:16])),
		Lon:           bitsf64(e.Uint64(buf[16:24])),
		TimezoneIdx:   e.Uint32(buf[24:28]),
		FirstRouteIdx: e.Uint32(buf[28:32]),
	}
}

// Route is the decoded view of one RAPTOR-route record.
type Route struct {
	ID               uint32
	NumStops         uint32
	NumTrips         uint32
	TimezoneIdx      uint32
	RouteStopsOffset uint32
	StopTimesOffset  uint32
	TripMetaOffset   uint32
}

func encodeRoute(buf []byte, r Route) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], r.ID)
	e.PutUint32(buf[4:8], r.NumStops)
	e.PutUint32(buf[8:12], r.NumTrips)
	e.PutUint32(buf[12:16], r.TimezoneIdx)
	e.PutUint32(buf[16:20], r.RouteStopsOffset)
	e.PutUint32(buf[20:24], r.StopTimesOffset)
	e.PutUint32(buf[24:28], r.TripMetaOffset)
}

func decodeRoute(buf []byte) Route {
	e := binformat.Endian
	return Route{
		ID:               e.Uint32(buf[0:4]),
		NumStops:         e.Uint32(buf[4:8]),
		NumTrips:         e.Uint32(buf[8:12]),
		TimezoneIdx:      e.Uint32(buf[12:16]),
		RouteStopsOffset: e.Uint32(buf[16:20]),
		StopTimesOffset:  e.Uint32(buf[20:24]),
		TripMetaOffset:   e.Uint32(buf[24:28]),
	}
}

// StopTime is one (arrival, departure) pair, seconds relative to the
// service day's local midnight in the route's timezone. Values can exceed
// 86400 for past-midnight trips.
type StopTime struct {
	ArrivalSeconds   int32
	DepartureSeconds int32
}

func encodeStopTime(buf []byte, st StopTime) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], uint32(st.ArrivalSeconds))
	e.PutUint32(buf[4:8], uint32(st.DepartureSeconds))
}

func decodeStopTime(buf []byte) StopTime {
	e := binformat.Endian
	return StopTime{
		ArrivalSeconds:   int32(e.Uint32(buf[0:4])),
		DepartureSeconds: int32(e.Uint32(buf[4:8])),
	}
}

// TripMeta carries the per-trip service calendar and headsign.
type TripMeta struct {
	ServiceID   uint32
	HeadsignIdx uint32
}

func encodeTripMeta(buf []byte, tm TripMeta) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], tm.ServiceID)
	e.PutUint32(buf[4:8], tm.HeadsignIdx)
}

func decodeTripMeta(buf []byte) TripMeta {
	e := binformat.Endian
	return TripMeta{
		ServiceID:   e.Uint32(buf[0:4]),
		HeadsignIdx: e.Uint32(buf[4:8]),
	}
}

// Transfer is a single walkable link's target and duration.
type Transfer struct {
	TargetStopID uint32
	WalkSeconds  uint32
}

func encodeTransfer(buf []byte, t Transfer) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], t.TargetStopID)
	e.PutUint32(buf[4:8], t.WalkSeconds)
}

func decodeTransfer(buf []byte) Transfer {
	e := binformat.Endian
	return Transfer{
		TargetStopID: e.Uint32(buf[0:4]),
		WalkSeconds:  e.Uint32(buf[4:8]),
	}
}

// transferRange is the (first, last) exclusive index range into the
// transfers array for one origin stop, stored in transfers_idx.
type transferRange struct {
	First uint32
	Last  uint32
}

func encodeTransferRange(buf []byte, r transferRange) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], r.First)
	e.PutUint32(buf[4:8], r.Last)
}

func decodeTransferRange(buf []byte) transferRange {
	e := binformat.Endian
	return transferRange{First: e.Uint32(buf[0:4]), Last: e.Uint32(buf[4:8])}
}

// stopRouteEntry pairs a route id with the stop's sequence position
// within that route, for the stop_routes flat array.
type stopRouteEntry struct {
	RouteID  uint32
	Position uint32
}

func encodeStopRouteEntry(buf []byte, e2 stopRouteEntry) {
	e := binformat.Endian
	e.PutUint32(buf[0:4], e2.RouteID)
	e.PutUint32(buf[4:8], e2.Position)
}

func decodeStopRouteEntry(buf []byte) stopRouteEntry {
	e := binformat.Endian
	return stopRouteEntry{RouteID: e.Uint32(buf[0:4]), Position: e.Uint32(buf[4:8])}
}
