package builder

import (
	"math"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/binformat"
)

// The record shapes and byte widths here mirror store/records.go exactly;
// the builder and the store deliberately don't share that file so that
// the on-disk contract between "what gets written" and "what gets read"
// is checked by two independent implementations agreeing, not by one
// shared definition silently drifting for both sides at once.

type stopRec struct {
	lat, lon      float64
	tzIdx         uint32
	firstRouteIdx uint32
}

type routeRec struct {
	numStops, numTrips                           uint32
	tzIdx                                         uint32
	routeStopsOffset, stopTimesOffset, tripMetaOffset uint32
}

type stopTimeRec struct{ arr, dep int32 }

type tripMetaRec struct{ serviceID, headsignIdx uint32 }

type perStopEntry struct {
	routeID  uint32
	position uint32
}

func encodeStops(recs []stopRec) []byte {
	buf := make([]byte, len(recs)*stopRecordSize)
	e := binformat.Endian
	for i, s := range recs {
		off := i * stopRecordSize
		e.PutUint32(buf[off:off+4], uint32(i))
		e.PutUint64(buf[off+8:off+16], math.Float64bits(s.lat))
		e.PutUint64(buf[off+16:off+24], math.Float64bits(s.lon))
		e.PutUint32(buf[off+24:off+28], s.tzIdx)
		e.PutUint32(buf[off+28:off+32], s.firstRouteIdx)
	}
	return buf
}

func encodeStopRoutes(entries []perStopEntry) []byte {
	buf := make([]byte, len(entries)*stopRouteEntrySize)
	e := binformat.Endian
	for i, ent := range entries {
		off := i * stopRouteEntrySize
		e.PutUint32(buf[off:off+4], ent.routeID)
		e.PutUint32(buf[off+4:off+8], ent.position)
	}
	return buf
}

func encodeRoutes(recs []routeRec) []byte {
	buf := make([]byte, len(recs)*routeRecordSize)
	e := binformat.Endian
	for i, r := range recs {
		off := i * routeRecordSize
		e.PutUint32(buf[off:off+4], uint32(i))
		e.PutUint32(buf[off+4:off+8], r.numStops)
		e.PutUint32(buf[off+8:off+12], r.numTrips)
		e.PutUint32(buf[off+12:off+16], r.tzIdx)
		e.PutUint32(buf[off+16:off+20], r.routeStopsOffset)
		e.PutUint32(buf[off+20:off+24], r.stopTimesOffset)
		e.PutUint32(buf[off+24:off+28], r.tripMetaOffset)
	}
	return buf
}

func encodeUint32s(vals []uint32) []byte {
	buf := make([]byte, len(vals)*routeStopEntrySize)
	e := binformat.Endian
	for i, v := range vals {
		e.PutUint32(buf[i*routeStopEntrySize:i*routeStopEntrySize+4], v)
	}
	return buf
}

func encodeStopTimes(recs []stopTimeRec) []byte {
	buf := make([]byte, len(recs)*stopTimeEntrySize)
	e := binformat.Endian
	for i, r := range recs {
		off := i * stopTimeEntrySize
		e.PutUint32(buf[off:off+4], uint32(r.arr))
		e.PutUint32(buf[off+4:off+8], uint32(r.dep))
	}
	return buf
}

func encodeTripMetas(recs []tripMetaRec) []byte {
	buf := make([]byte, len(recs)*tripMetaEntrySize)
	e := binformat.Endian
	for i, r := range recs {
		off := i * tripMetaEntrySize
		e.PutUint32(buf[off:off+4], r.serviceID)
		e.PutUint32(buf[off+4:off+8], r.headsignIdx)
	}
	return buf
}

func encodeTransferRanges(ranges [][2]uint32) []byte {
	buf := make([]byte, len(ranges)*transferIndexSize)
	e := binformat.Endian
	for i, r := range ranges {
		off := i * transferIndexSize
		e.PutUint32(buf[off:off+4], r[0])
		e.PutUint32(buf[off+4:off+8], r[1])
	}
	return buf
}

func encodeTransfers(xs []access.Reachable) []byte {
	buf := make([]byte, len(xs)*transferEntrySize)
	e := binformat.Endian
	for i, x := range xs {
		off := i * transferEntrySize
		e.PutUint32(buf[off:off+4], x.StopID)
		e.PutUint32(buf[off+4:off+8], uint32(x.WalkSeconds))
	}
	return buf
}

func encodeCalendars(cals []calendarBitset) []byte {
	if len(cals) == 0 {
		return nil
	}
	rowBytes := len(cals[0].Bits)
	buf := make([]byte, len(cals)*rowBytes)
	for i, c := range cals {
		copy(buf[i*rowBytes:(i+1)*rowBytes], c.Bits)
	}
	return buf
}

func encodeStringTable(strs []string) []byte {
	var total int
	for _, s := range strs {
		total += 4 + len(s)
	}
	buf := make([]byte, total)
	e := binformat.Endian
	off := 0
	for _, s := range strs {
		e.PutUint32(buf[off:off+4], uint32(len(s)))
		off += 4
		copy(buf[off:off+len(s)], s)
		off += len(s)
	}
	return buf
}
