package builder

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/binformat"
)

const (
	stopRecordSize     = 32
	stopRouteEntrySize = 8
	routeRecordSize    = 32
	routeStopEntrySize = 4
	stopTimeEntrySize  = 8
	tripMetaEntrySize  = 8
	transferIndexSize  = 8
	transferEntrySize  = 8
)

// Serialize writes the built timetable to dir as spec.md §6 describes:
// one file per array plus a header with offsets, lengths, and a CRC32
// per file. dir is created if missing.
func (r *Result) Serialize(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "builder: mkdir")
	}

	routeOrder := r.sortedRouteOrder()

	// Assign each stop its canonical timezone index before laying out
	// stop_routes, since the stop record itself only needs the index.
	stopTZIdx := make([]uint32, len(r.stops))
	for i, s := range r.stops {
		stopTZIdx[i] = r.internZone(s.TZName)
	}

	// stop_routes: CSR-style, grouped by stop in dense id order, each
	// stop's own entries ordered by route id ascending for determinism.
	perStop := make([][]perStopEntry, len(r.stops))
	routeStopsFlat := []uint32{}
	stopTimesFlat := []stopTimeRec{}
	tripMetaFlat := []tripMetaRec{}
	routeRecs := make([]routeRec, len(routeOrder))

	for denseRoute, origIdx := range routeOrder {
		rt := r.routes[origIdx]
		routeStopsOffset := len(routeStopsFlat)
		for pos, stopUID := range rt.Stops {
			stopID := r.stopIndex[stopUID]
			routeStopsFlat = append(routeStopsFlat, stopID)
			perStop[stopID] = append(perStop[stopID], perStopEntry{routeID: uint32(denseRoute), position: uint32(pos)})
		}

		stopTimesOffset := len(stopTimesFlat)
		for _, trip := range rt.Trips {
			for i := range trip.Stops {
				stopTimesFlat = append(stopTimesFlat, stopTimeRec{arr: int32(trip.Arr[i]), dep: int32(trip.Dep[i])})
			}
		}

		tripMetaOffset := len(tripMetaFlat)
		for _, trip := range rt.Trips {
			svcIdx, ok := r.calendarIdx[trip.ServiceID]
			if !ok {
				return inconsistentf("trip %s: service %s not in calendar index", trip.UniqueID, trip.ServiceID)
			}
			tripMetaFlat = append(tripMetaFlat, tripMetaRec{
				serviceID:   svcIdx,
				headsignIdx: r.internString(trip.Headsign),
			})
		}

		routeTZ := uint32(0)
		if len(rt.Trips) > 0 {
			routeTZ = r.internZone(rt.Trips[0].TZName)
		}

		routeRecs[denseRoute] = routeRec{
			numStops:         uint32(len(rt.Stops)),
			numTrips:         uint32(len(rt.Trips)),
			tzIdx:            routeTZ,
			routeStopsOffset: uint32(routeStopsOffset),
			stopTimesOffset:  uint32(stopTimesOffset),
			tripMetaOffset:   uint32(tripMetaOffset),
		}
	}

	// stops + stop_routes
	stopsFlat := make([]stopRec, len(r.stops))
	stopRoutesFlat := []perStopEntry{}
	for id := range r.stops {
		entries := perStop[id]
		sort.Slice(entries, func(i, j int) bool { return entries[i].routeID < entries[j].routeID })
		stopsFlat[id] = stopRec{
			lat:           r.stops[id].Lat,
			lon:           r.stops[id].Lon,
			tzIdx:         stopTZIdx[id],
			firstRouteIdx: uint32(len(stopRoutesFlat)),
		}
		stopRoutesFlat = append(stopRoutesFlat, entries...)
	}

	// transfers_idx + transfers: re-sort the precomputed, duration-capped
	// neighbor set by target id ascending for storage, per spec.md §3.
	transfersFlat := []access.Reachable{}
	transferRanges := make([][2]uint32, len(r.stops))
	for id := range r.stops {
		neighbors := append([]access.Reachable(nil), r.transfers[uint32(id)]...)
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].StopID < neighbors[j].StopID })
		first := uint32(len(transfersFlat))
		transfersFlat = append(transfersFlat, neighbors...)
		transferRanges[id] = [2]uint32{first, uint32(len(transfersFlat))}
	}

	files := map[string][]byte{}
	files["stops"] = encodeStops(stopsFlat)
	files["stop_routes"] = encodeStopRoutes(stopRoutesFlat)
	files["routes"] = encodeRoutes(routeRecs)
	files["route_stops"] = encodeUint32s(routeStopsFlat)
	files["stop_times"] = encodeStopTimes(stopTimesFlat)
	files["trips"] = encodeTripMetas(tripMetaFlat)
	files["transfers_idx"] = encodeTransferRanges(transferRanges)
	files["transfers"] = encodeTransfers(transfersFlat)
	files["calendars"] = encodeCalendars(r.calendars)
	files["timezones"] = encodeStringTable(r.zones)
	files["strings"] = encodeStringTable(r.strings)

	header := binformat.Header{
		Magic:       [4]byte{'F', 'B', 'O', 'X'},
		Version:     binformat.Version,
		EpochDay:    r.opts.EpochDay,
		HorizonDays: uint32(r.opts.HorizonDays),

		NumStops:     uint32(len(r.stops)),
		NumRoutes:    uint32(len(routeOrder)),
		NumTrips:     uint32(len(tripMetaFlat)),
		NumTransfers: uint32(len(transfersFlat)),
		NumCalendars: uint32(len(r.calendars)),
		NumTimezones: uint32(len(r.zones)),
	}
	for i, name := range binformat.FileNames {
		data := files[name]
		header.Files[i] = binformat.FileDescriptor{
			Offset: 0,
			Length: uint64(len(data)),
			CRC32:  binformat.CRC32(data),
		}
	}

	hf, err := os.Create(filepath.Join(dir, "header"))
	if err != nil {
		return errors.Wrap(err, "builder: create header")
	}
	defer hf.Close()
	if err := binformat.WriteHeader(hf, header); err != nil {
		return err
	}

	for _, name := range binformat.FileNames {
		if err := os.WriteFile(filepath.Join(dir, name), files[name], 0o644); err != nil {
			return errors.Wrapf(err, "builder: write %s", name)
		}
	}
	return nil
}
