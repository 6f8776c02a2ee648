package query

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/raptor"
	"github.com/farebox/farebox/reconstruct"
)

// Timetable is the read surface the driver needs: RAPTOR's own surface
// plus the string lookup reconstruction needs for headsigns.
type Timetable = reconstruct.Timetable

// Driver runs the pipeline of spec.md §4.4 against one timetable and one
// access-router collaborator.
type Driver struct {
	tt     Timetable
	router access.Router
}

// NewDriver builds a query driver over an open store and access-router
// collaborator. tt is typically a *store.Store.
func NewDriver(tt Timetable, router access.Router) *Driver {
	return &Driver{tt: tt, router: router}
}

// candidate is one (stop, round) destination-access pairing considered
// for the Pareto frontier.
type candidate struct {
	stopID     uint32
	round      int
	walk       int
	arrival    int64
}

// Plan executes spec.md §4.4 steps 1-6: resolve access sets, seed and run
// RAPTOR, collect the Pareto frontier, and reconstruct journeys. The
// returned slice is ordered by arrival time ascending. A nil error with
// an empty slice means spec.md §7's NoItinerary: access sets were
// non-empty but no journey was found — not a failure.
func (d *Driver) Plan(ctx context.Context, req Request) ([]reconstruct.Journey, error) {
	req = req.normalize()
	globalMetrics.recordRun()

	queryID := uuid.NewString()
	startEpoch := req.StartEpochMs / 1000

	originCoord := access.Coord{Lat: req.OriginLat, Lon: req.OriginLon}
	destCoord := access.Coord{Lat: req.DestLat, Lon: req.DestLon}

	originReach, err := d.router.ReachableFrom(ctx, originCoord, req.MaxWalkSeconds)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrCollaboratorFailure, "query %s: origin lookup: %s", queryID, err.Error())
	}
	if len(originReach) == 0 {
		globalMetrics.recordOriginFailure()
		return nil, pkgerrors.Wrapf(ErrOriginUnreachable, "query %s", queryID)
	}

	destReach, err := d.router.ReachableTo(ctx, destCoord, req.MaxWalkSeconds)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrCollaboratorFailure, "query %s: destination lookup: %s", queryID, err.Error())
	}
	if len(destReach) == 0 {
		globalMetrics.recordDestFailure()
		return nil, pkgerrors.Wrapf(ErrDestinationUnreachable, "query %s", queryID)
	}

	origins := make([]raptor.AccessStop, 0, len(originReach))
	for _, r := range originReach {
		origins = append(origins, raptor.AccessStop{StopID: r.StopID, WalkSeconds: r.WalkSeconds})
	}
	destStops := make([]raptor.AccessStop, 0, len(destReach))
	destWalk := make(map[uint32]int, len(destReach))
	for _, r := range destReach {
		destStops = append(destStops, raptor.AccessStop{StopID: r.StopID, WalkSeconds: r.WalkSeconds})
		if existing, ok := destWalk[r.StopID]; !ok || r.WalkSeconds < existing {
			destWalk[r.StopID] = r.WalkSeconds
		}
	}

	// Seed origin labels with the query's actual start time so round 0
	// labels and reconstruction both use true epoch seconds, per spec.md
	// §4.4 step 3.
	for i := range origins {
		origins[i].WalkSeconds += int(startEpoch)
	}

	params := raptor.Params{MaxTransfers: req.MaxTransfers}
	if deadline, ok := req.deadline(); ok {
		params.Deadline = deadline
	}

	deadlineCheck := func() bool { return false }
	if !params.Deadline.IsZero() {
		deadlineCheck = func() bool { return !time.Now().Before(params.Deadline) }
		if deadlineCheck() {
			globalMetrics.recordTimeout()
			return nil, pkgerrors.Wrapf(ErrTimeout, "query %s", queryID)
		}
	}

	destBest := raptor.UnreachedValue
	res := raptor.Run(d.tt, origins, destStops, params, &destBest, deadlineCheck)

	if !params.Deadline.IsZero() && deadlineCheck() {
		globalMetrics.recordTimeout()
		return nil, pkgerrors.Wrapf(ErrTimeout, "query %s", queryID)
	}

	candidates := collectFrontier(res, destStops, destWalk)
	if len(candidates) == 0 {
		globalMetrics.recordNoItinerary()
		return []reconstruct.Journey{}, nil
	}

	journeys := make([]reconstruct.Journey, 0, len(candidates))
	for _, c := range candidates {
		f := reconstruct.Frontier{StopID: c.stopID, Round: c.round, EgressWalk: c.walk, DestCoord: destCoord}
		j, ok := reconstruct.FromResult(d.tt, res, f, originCoord, startEpoch)
		if ok {
			journeys = append(journeys, j)
		}
	}
	if len(journeys) == 0 {
		globalMetrics.recordNoItinerary()
		return []reconstruct.Journey{}, nil
	}

	sortJourneys(journeys)
	return journeys, nil
}

// collectFrontier implements spec.md §4.4 step 5: for each round, the
// best destination arrival, reduced to the Pareto set on
// (arrival, transit_legs). Round itself stands in for transit_legs since
// round k used at most k boardings (round 0 is pure walking).
//
// A round-k candidate is only kept if its arrival strictly improves on
// every earlier round's best arrival: an earlier round with an
// equal-or-better arrival already dominates it (fewer-or-equal
// transfers, no later arrival), per spec.md §8's domination rule. Rounds
// are swept in ascending order against the best arrival seen so far, so
// a later round appears on the frontier only with an arrival strictly
// earlier than every earlier round's.
func collectFrontier(res raptor.Result, destStops []raptor.AccessStop, destWalk map[uint32]int) []candidate {
	var frontier []candidate
	bestArrival := raptor.UnreachedValue
	for round := 0; round <= res.RoundsRun; round++ {
		if res.Tau[round] == nil {
			continue
		}
		var best *candidate
		for _, d := range destStops {
			label := res.Tau[round][d.StopID]
			if raptor.Unreached(label) {
				continue
			}
			w := destWalk[d.StopID]
			arrival := label + int64(w)
			if best == nil || arrival < best.arrival {
				best = &candidate{stopID: d.StopID, round: round, walk: w, arrival: arrival}
			}
		}
		if best == nil || best.arrival >= bestArrival {
			continue
		}
		frontier = append(frontier, *best)
		bestArrival = best.arrival
	}
	return frontier
}

// sortJourneys applies spec.md §5's tie-break order: arrival time, then
// fewer transfers, then shorter total walking, then lexicographic by
// route-id sequence.
func sortJourneys(js []reconstruct.Journey) {
	sort.Slice(js, func(i, j int) bool {
		a, b := js[i], js[j]
		if a.ArriveEpoch != b.ArriveEpoch {
			return a.ArriveEpoch < b.ArriveEpoch
		}
		if a.Transfers != b.Transfers {
			return a.Transfers < b.Transfers
		}
		wa, wb := totalWalkSeconds(a), totalWalkSeconds(b)
		if wa != wb {
			return wa < wb
		}
		return routeIDSequence(a) < routeIDSequence(b)
	})
}

func totalWalkSeconds(j reconstruct.Journey) int64 {
	var total int64
	for _, l := range j.Legs {
		if l.Kind == reconstruct.LegAccess || l.Kind == reconstruct.LegTransfer || l.Kind == reconstruct.LegEgress {
			total += l.EndEpoch - l.StartEpoch
		}
	}
	return total
}

func routeIDSequence(j reconstruct.Journey) string {
	var out []byte
	for _, l := range j.Legs {
		if l.Kind != reconstruct.LegTransit {
			continue
		}
		out = append(out, byte(l.RouteID>>24), byte(l.RouteID>>16), byte(l.RouteID>>8), byte(l.RouteID))
	}
	return string(out)
}
