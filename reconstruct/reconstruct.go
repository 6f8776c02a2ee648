// Package reconstruct walks the RAPTOR back-pointer history into the
// journeys described by spec.md §4.6: adjacent boardings on the same
// route collapse into one transit leg, adjacent footpaths into one
// walking leg, and the whole thing is bookended with access/egress legs
// to and from the query's raw coordinates.
package reconstruct

import (
	"time"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/raptor"
	"github.com/farebox/farebox/timeutil"
)

// LegKind tags what a Leg represents.
type LegKind uint8

const (
	LegAccess LegKind = iota
	LegTransit
	LegTransfer
	LegEgress
)

// Leg is one segment of a Journey, per spec.md §4.6.
type Leg struct {
	Kind LegKind

	FromStop, ToStop     uint32       // both set for Transit/Transfer; Access sets ToStop, Egress sets FromStop
	FromCoord, ToCoord   access.Coord // Access sets FromCoord, Egress sets ToCoord
	StartEpoch, EndEpoch int64

	RouteID  uint32 // Transit only
	Headsign string // Transit only
}

// Journey is one complete itinerary: an access leg, zero or more
// transit/transfer legs, and an egress leg.
type Journey struct {
	DepartEpoch, ArriveEpoch int64
	Transfers                int // count of transit boardings
	Legs                     []Leg
}

// Timetable is the read surface reconstruction needs beyond
// raptor.Timetable: string lookup for headsigns.
type Timetable interface {
	raptor.Timetable
	String(idx uint32) string
}

// Frontier is one candidate final state to reconstruct from: the stop
// reached, the round it was reached in, and the walking leg from that
// stop to the destination coordinate.
type Frontier struct {
	StopID     uint32
	Round      int
	EgressWalk int
	DestCoord  access.Coord
}

type hop struct {
	round int
	stop  uint32
	bp    raptor.BackPointer
}

// FromResult walks back-pointers from f.StopID at f.Round to the origin,
// producing one Journey, or ok=false if the stop was never reached in
// that round (label still Unreached). startEpoch is the query's
// start_epoch (seconds), needed to size the leading access leg.
func FromResult(tt Timetable, res raptor.Result, f Frontier, originCoord access.Coord, startEpoch int64) (Journey, bool) {
	if f.Round < 0 || f.Round >= len(res.Tau) || raptor.Unreached(res.Tau[f.Round][f.StopID]) {
		return Journey{}, false
	}

	var chain []hop
	round, stop := f.Round, f.StopID
	for round >= 0 {
		bp := res.BackPointers[round][stop]
		chain = append(chain, hop{round: round, stop: stop, bp: bp})
		switch bp.Kind {
		case raptor.BackOrigin:
			round = -1
		case raptor.BackBoardedTrip:
			stop = bp.FromStop
			round--
		case raptor.BackFootpath:
			stop = bp.FromStop
			// Footpaths are relaxed within the same round, after the
			// route scan, so the round index doesn't decrease.
		default:
			round = -1
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	originStop := chain[0].stop
	originArrival := res.Tau[0][originStop]

	legs := []Leg{{
		Kind:       LegAccess,
		FromCoord:  originCoord,
		ToStop:     originStop,
		StartEpoch: startEpoch,
		EndEpoch:   originArrival,
	}}

	transfers := 0
	for i := 1; i < len(chain); i++ {
		h := chain[i]
		switch h.bp.Kind {
		case raptor.BackBoardedTrip:
			transfers++
			route := h.bp.Route
			depTime := tripEpoch(tt, route, h.bp.TripIndex, h.bp.FromPos, h.bp.Day)
			arrTime := res.Tau[h.round][h.stop]
			meta := tt.TripMeta(route, h.bp.TripIndex)

			if n := len(legs); n > 0 && legs[n-1].Kind == LegTransit &&
				legs[n-1].RouteID == route.ID && legs[n-1].ToStop == h.bp.FromStop {
				legs[n-1].ToStop = h.stop
				legs[n-1].EndEpoch = arrTime
			} else {
				legs = append(legs, Leg{
					Kind:       LegTransit,
					FromStop:   h.bp.FromStop,
					ToStop:     h.stop,
					StartEpoch: depTime,
					EndEpoch:   arrTime,
					RouteID:    route.ID,
					Headsign:   tt.String(meta.HeadsignIdx),
				})
			}
		case raptor.BackFootpath:
			arrTime := res.Tau[h.round][h.stop]
			walkSecs := 0
			for _, tr := range tt.TransfersFrom(h.bp.FromStop) {
				if tr.TargetStopID == h.stop {
					walkSecs = int(tr.WalkSeconds)
					break
				}
			}
			startTime := arrTime - int64(walkSecs)

			if n := len(legs); n > 0 && legs[n-1].Kind == LegTransfer && legs[n-1].ToStop == h.bp.FromStop {
				legs[n-1].ToStop = h.stop
				legs[n-1].EndEpoch = arrTime
			} else {
				legs = append(legs, Leg{
					Kind:       LegTransfer,
					FromStop:   h.bp.FromStop,
					ToStop:     h.stop,
					StartEpoch: startTime,
					EndEpoch:   arrTime,
				})
			}
		}
	}

	lastStop := chain[len(chain)-1].stop
	lastArrival := res.Tau[f.Round][lastStop]
	legs = append(legs, Leg{
		Kind:       LegEgress,
		FromStop:   lastStop,
		ToCoord:    f.DestCoord,
		StartEpoch: lastArrival,
		EndEpoch:   lastArrival + int64(f.EgressWalk),
	})

	return Journey{
		DepartEpoch: legs[0].StartEpoch,
		ArriveEpoch: legs[len(legs)-1].EndEpoch,
		Transfers:   transfers,
		Legs:        legs,
	}, true
}

// tripEpoch recovers the boarding departure as epoch seconds from the
// back-pointer's recorded service day, per spec.md §4.4 step 2's
// "local_midnight(service_date, route_tz) + stop_time_seconds" rule.
func tripEpoch(tt Timetable, route raptor.Route, tripIdx, pos int, day timeutil.EpochDay) int64 {
	loc := tt.Location(route.TimezoneIdx)
	if loc == nil {
		loc = time.UTC
	}
	st := tt.StopTime(route, tripIdx, pos)
	return timeutil.TripInstant(day, int64(st.DepartureSeconds), loc)
}
