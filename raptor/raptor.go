// Package raptor implements the round-based label update core described
// in spec.md §4.5: the RAPTOR state machine, generalized from the
// teacher's map-based, in-memory-slice implementation to flat arrays
// indexed by dense stop id, so a round touches only cache-friendly slices
// instead of Go maps.
//
// Labels are computed with two rolling arrays (current and previous round)
// plus a global best-arrival array, per spec.md §9's "Label arrays" design
// note. Each finished round's label array and back-pointers are kept in
// Result, since reconstruction reads both per round.
package raptor

import (
	"sort"
	"time"

	"github.com/farebox/farebox/store"
	"github.com/farebox/farebox/timeutil"
)

// Timetable is the narrow read-only surface the RAPTOR core needs from a
// timetable store. *store.Store satisfies it directly (see
// store/timetable.go); tests can satisfy it with an in-memory fake
// without building a real mmap store.
type Timetable interface {
	NumStops() int
	NumRoutes() int

	RoutesServing(stop uint32) []store.RouteStopRef
	TransfersFrom(stop uint32) []store.Transfer

	GetRoute(id uint32) store.Route
	StopAt(route store.Route, pos int) uint32
	StopTime(route store.Route, trip, pos int) store.StopTime
	TripMeta(route store.Route, trip int) store.TripMeta

	IsActive(serviceID uint32, day timeutil.EpochDay) bool
	Location(tzIdx uint32) *time.Location
}

// Route is an alias for store.Route: the RAPTOR core operates on the
// store's own record type directly rather than a shadow copy, since both
// packages already agree on its shape and nothing here needs to add
// fields to it.
type Route = store.Route

// BackPointerKind tags how a stop's label in a given round was reached,
// per spec.md §3's "Query-time labels" and §9's "Back-pointers" note.
type BackPointerKind uint8

const (
	BackNone BackPointerKind = iota
	BackOrigin
	BackBoardedTrip
	BackFootpath
)

// BackPointer records how τ_k(stop) was achieved. For BackBoardedTrip,
// FromStop/FromPos is the boarding stop and its position in Route;
// TripIndex is the dense 0-based trip index within Route. For
// BackFootpath, FromStop is the stop the footpath originated from.
type BackPointer struct {
	Kind      BackPointerKind
	Route     Route
	TripIndex int
	FromStop  uint32
	FromPos   int
	Day       timeutil.EpochDay // BackBoardedTrip only: the boarded trip's local service day
}

// Params bounds a single RAPTOR run, per spec.md §5's resource limits.
type Params struct {
	MaxTransfers int // ≤ 8
	Deadline     time.Time
}

// MaxRounds is MaxTransfers+1, per spec.md §5.
func (p Params) MaxRounds() int { return p.MaxTransfers + 1 }

// AccessStop seeds round 0: an origin stop reachable within w seconds of
// the query's start, or a destination stop reachable within w seconds of
// the last transit stop.
type AccessStop struct {
	StopID      uint32
	WalkSeconds int
}

// Result is the full per-round label/back-pointer history produced by
// Run, everything the reconstructor (package reconstruct) needs.
type Result struct {
	RoundsRun    int
	Tau          [][]int64         // Tau[round][stop], rolling semantics already flattened for reconstruction
	BackPointers [][]BackPointer   // BackPointers[round][stop]
	TauStar      []int64
}

// UnreachedValue is the label sentinel for "never reached in this round".
const UnreachedValue = int64(1<<63 - 1)

const unreached = UnreachedValue

// Run executes the round-based label update of spec.md §4.5, seeded by
// origins at the query's start_epoch (already offset by access walk
// time), up to params.MaxRounds. destStops is the destination access
// set (stop, walk-seconds-to-destination-coord) consulted after every
// round to tighten destBest for target pruning (rule 1); destBest may
// start at Unreached and is updated in place as rounds progress.
func Run(tt Timetable, origins []AccessStop, destStops []AccessStop, params Params, destBest *int64, deadlineCheck func() bool) Result {
	numStops := tt.NumStops()
	maxRounds := params.MaxRounds()

	tauStar := make([]int64, numStops)
	for i := range tauStar {
		tauStar[i] = unreached
	}

	res := Result{
		Tau:          make([][]int64, maxRounds+1),
		BackPointers: make([][]BackPointer, maxRounds+1),
	}
	round0 := make([]int64, numStops)
	for i := range round0 {
		round0[i] = unreached
	}
	bp0 := make([]BackPointer, numStops)

	marked := newBitset(numStops)
	for _, o := range origins {
		arrival := int64(o.WalkSeconds)
		if arrival < round0[o.StopID] {
			round0[o.StopID] = arrival
			bp0[o.StopID] = BackPointer{Kind: BackOrigin}
			marked.set(o.StopID)
		}
		if arrival < tauStar[o.StopID] {
			tauStar[o.StopID] = arrival
		}
	}
	res.Tau[0] = round0
	res.BackPointers[0] = bp0
	updateDestBest(destStops, round0, destBest)

	tauPrev := round0
	k := 0
	for k < maxRounds {
		if deadlineCheck != nil && deadlineCheck() {
			break
		}

		hopOn := collectRoutes(tt, marked)
		if len(hopOn) == 0 {
			// Pruning rule 3: route-scan early exit.
			break
		}

		k++
		tauCurr := append([]int64(nil), tauPrev...)
		bpCurr := make([]BackPointer, numStops)
		roundMarked := newBitset(numStops)

		for _, hop := range hopOn {
			scanRoute(tt, hop.route, hop.pos, tauPrev, tauStar, destBest, tauCurr, bpCurr, roundMarked)
		}

		relaxFootpaths(tt, roundMarked, tauCurr, bpCurr, tauStar)
		updateDestBest(destStops, tauCurr, destBest)

		res.Tau[k] = tauCurr
		res.BackPointers[k] = bpCurr
		res.RoundsRun = k

		if roundMarked.isEmpty() {
			break
		}
		marked = roundMarked
		tauPrev = tauCurr
	}

	res.TauStar = tauStar
	return res
}

// updateDestBest tightens *destBest using this round's labels at every
// destination access stop, implementing target pruning (rule 1) without
// the route-scan code needing to know which stops are destinations.
func updateDestBest(destStops []AccessStop, tau []int64, destBest *int64) {
	if destBest == nil {
		return
	}
	for _, d := range destStops {
		if tau[d.StopID] == unreached {
			continue
		}
		candidate := tau[d.StopID] + int64(d.WalkSeconds)
		if candidate < *destBest {
			*destBest = candidate
		}
	}
}

type hopOnPoint struct {
	route Route
	pos   int
}

// collectRoutes implements spec.md §4.5 phase (a): for each marked stop,
// enumerate the routes serving it and keep the earliest (smallest
// position) marked stop as that route's hop-on point this round.
func collectRoutes(tt Timetable, marked *bitset) []hopOnPoint {
	best := map[uint32]int{}
	routeByID := map[uint32]Route{}
	marked.forEach(func(stop uint32) {
		for _, ref := range tt.RoutesServing(stop) {
			if pos, ok := best[ref.RouteID]; !ok || ref.Position < pos {
				best[ref.RouteID] = ref.Position
				if _, have := routeByID[ref.RouteID]; !have {
					routeByID[ref.RouteID] = tt.GetRoute(ref.RouteID)
				}
			}
		}
	})

	out := make([]hopOnPoint, 0, len(best))
	for routeID, pos := range best {
		out = append(out, hopOnPoint{route: routeByID[routeID], pos: pos})
	}
	// Deterministic order (spec.md §5's ordering guarantees): by route id.
	sort.Slice(out, func(i, j int) bool { return out[i].route.ID < out[j].route.ID })
	return out
}

// scanRoute implements spec.md §4.5 phase (b).
func scanRoute(
	tt Timetable,
	route Route,
	hopOnPos int,
	tauPrev []int64,
	tauStar []int64,
	destBest *int64,
	tauCurr []int64,
	bpCurr []BackPointer,
	roundMarked *bitset,
) {
	boardedTrip := -1
	boardingPos := 0
	var boardedDay timeutil.EpochDay

	for pos := hopOnPos; pos < int(route.NumStops); pos++ {
		stopAtPos := routeStopAt(tt, route, pos)

		if boardedTrip >= 0 {
			st := tt.StopTime(route, boardedTrip, pos)
			loc := tt.Location(route.TimezoneIdx)
			if loc == nil {
				loc = time.UTC
			}
			a := timeutil.TripInstant(boardedDay, int64(st.ArrivalSeconds), loc)

			limit := tauStar[stopAtPos]
			if destBest != nil && *destBest < limit {
				limit = *destBest
			}
			if a < limit {
				tauCurr[stopAtPos] = a
				bpCurr[stopAtPos] = BackPointer{
					Kind:      BackBoardedTrip,
					Route:     route,
					TripIndex: boardedTrip,
					FromPos:   boardingPos,
					FromStop:  routeStopAt(tt, route, boardingPos),
					Day:       boardedDay,
				}
				roundMarked.set(stopAtPos)
				if a < tauStar[stopAtPos] {
					tauStar[stopAtPos] = a
				}
			}
		}

		// Attempt to (re-)board: earliest trip departing at/after
		// tauPrev[stopAtPos], active on its local service date.
		if tauPrev[stopAtPos] != unreached {
			t, day, ok := earliestBoardableTrip(tt, route, pos, tauPrev[stopAtPos])
			if ok && (boardedTrip < 0 || tripDepartsEarlier(tt, route, t, day, boardedTrip, boardedDay, pos)) {
				boardedTrip = t
				boardingPos = pos
				boardedDay = day
			}
		}
	}
}

func routeStopAt(tt Timetable, route Route, pos int) uint32 { return tt.StopAt(route, pos) }

// earliestBoardableTrip finds the earliest trip on route, boardable at
// pos, whose departure is ≥ notBefore and whose service is active on the
// local date implied by notBefore, per spec.md §4.5's binary-search rule
// "stepping forward over service-inactive trips".
func earliestBoardableTrip(tt Timetable, route Route, pos int, notBefore int64) (tripIdx int, day timeutil.EpochDay, ok bool) {
	loc := tt.Location(route.TimezoneIdx)
	if loc == nil {
		loc = time.UTC
	}
	refDay := timeutil.ServiceDayFor(notBefore, loc)
	midnight := timeutil.LocalMidnight(refDay, loc).Unix()
	notBeforeOffset := notBefore - midnight

	n := int(route.NumTrips)
	// Trips within a route are sorted by departure at every stop
	// (spec.md §3's invariant), so binary search for the first trip whose
	// departure at pos is ≥ notBeforeOffset.
	lo := sort.Search(n, func(i int) bool {
		return int64(tt.StopTime(route, i, pos).DepartureSeconds) >= notBeforeOffset
	})

	for i := lo; i < n; i++ {
		meta := tt.TripMeta(route, i)
		if tt.IsActive(meta.ServiceID, refDay) {
			return i, refDay, true
		}
		// Service inactive today: this stop_time offset might still be
		// boardable on the *next* service day for trips that run past
		// midnight, or it might belong to *yesterday's* still-running
		// overnight service; spec.md treats each trip's calendar
		// independently, so fall through to check the same day's later
		// trips first (sorted order already guarantees that), and only
		// after exhausting today check tomorrow's and yesterday's
		// instances of the earliest trip.
	}
	// No active trip found for today at/after notBeforeOffset; check
	// whether the earliest trip of the day qualifies for tomorrow's
	// service date (handles the day-boundary scenario in spec.md §8
	// scenario 4).
	nextDay := refDay + 1
	nextMidnight := timeutil.LocalMidnight(nextDay, loc).Unix()
	nextNotBeforeOffset := notBefore - nextMidnight
	lo2 := sort.Search(n, func(i int) bool {
		return int64(tt.StopTime(route, i, pos).DepartureSeconds) >= nextNotBeforeOffset
	})
	for i := lo2; i < n; i++ {
		meta := tt.TripMeta(route, i)
		if tt.IsActive(meta.ServiceID, nextDay) {
			return i, nextDay, true
		}
	}

	// Still nothing: a trip whose *service date* is yesterday can still be
	// boardable today if it runs past local midnight, since GTFS expresses
	// such a stop_time as an offset ≥ 86400 from yesterday's midnight
	// (store/records.go, feed/types.go). Recompute notBefore relative to
	// yesterday's midnight and search again, checking the calendar against
	// refDay-1 rather than refDay.
	prevDay := refDay - 1
	prevMidnight := timeutil.LocalMidnight(prevDay, loc).Unix()
	prevNotBeforeOffset := notBefore - prevMidnight
	lo3 := sort.Search(n, func(i int) bool {
		return int64(tt.StopTime(route, i, pos).DepartureSeconds) >= prevNotBeforeOffset
	})
	for i := lo3; i < n; i++ {
		meta := tt.TripMeta(route, i)
		if tt.IsActive(meta.ServiceID, prevDay) {
			return i, prevDay, true
		}
	}
	return 0, 0, false
}

// tripDepartsEarlier reports whether trip `a` on service day aDay is
// preferable to the currently boarded `b` on service day bDay at pos —
// i.e. whether switching would let the traveller arrive no later anywhere
// downstream. Since trips on a route never overtake (spec.md §3's
// invariant), comparing the absolute departure instants at pos is
// sufficient.
func tripDepartsEarlier(tt Timetable, route Route, a int, aDay timeutil.EpochDay, b int, bDay timeutil.EpochDay, pos int) bool {
	loc := tt.Location(route.TimezoneIdx)
	if loc == nil {
		loc = time.UTC
	}
	aAt := timeutil.TripInstant(aDay, int64(tt.StopTime(route, a, pos).DepartureSeconds), loc)
	bAt := timeutil.TripInstant(bDay, int64(tt.StopTime(route, b, pos).DepartureSeconds), loc)
	return aAt < bAt
}

// relaxFootpaths implements spec.md §4.5 phase (c).
func relaxFootpaths(tt Timetable, roundMarked *bitset, tauCurr []int64, bpCurr []BackPointer, tauStar []int64) {
	// Snapshot the stops marked by the route scan before footpath
	// relaxation adds more, so a chain of transfers within one round
	// still only walks from stops reached by a boarding this round (the
	// paper's single-hop-per-round footpath rule).
	boardedThisRound := roundMarked.snapshot()
	for _, p := range boardedThisRound {
		for _, tr := range tt.TransfersFrom(p) {
			candidate := tauCurr[p] + int64(tr.WalkSeconds)
			if candidate < tauCurr[tr.TargetStopID] {
				tauCurr[tr.TargetStopID] = candidate
				bpCurr[tr.TargetStopID] = BackPointer{Kind: BackFootpath, FromStop: p}
				roundMarked.set(tr.TargetStopID)
				if candidate < tauStar[tr.TargetStopID] {
					tauStar[tr.TargetStopID] = candidate
				}
			}
		}
	}
}

// Unreached reports whether a label value represents "never reached".
func Unreached(v int64) bool { return v == unreached }
