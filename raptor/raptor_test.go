package raptor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farebox/farebox/store"
	"github.com/farebox/farebox/timeutil"
)

// fakeTimetable is a tiny in-memory Timetable used to exercise the
// round-based core without a real mmap store, in the spirit of the
// teacher's own hand-built fixtures in raptor_test.go.
type fakeTimetable struct {
	numStops int
	routes   []store.Route

	routeStops map[uint32][]uint32          // routeID -> ordered stop ids
	stopTimes  map[uint32][][]store.StopTime // routeID -> [trip][pos]
	tripMeta   map[uint32][]store.TripMeta   // routeID -> [trip]
	serving    map[uint32][]store.RouteStopRef
	transfers  map[uint32][]store.Transfer
	active     map[uint32]bool // serviceID -> active every day, for simple fixtures
	activeDays map[uint32]map[timeutil.EpochDay]bool // serviceID -> day -> active, overrides active when set
	loc        *time.Location
}

func newFakeTimetable(numStops int) *fakeTimetable {
	return &fakeTimetable{
		numStops:   numStops,
		routeStops: map[uint32][]uint32{},
		stopTimes:  map[uint32][][]store.StopTime{},
		tripMeta:   map[uint32][]store.TripMeta{},
		serving:    map[uint32][]store.RouteStopRef{},
		transfers:  map[uint32][]store.Transfer{},
		active:     map[uint32]bool{},
		loc:        time.UTC,
	}
}

func (f *fakeTimetable) addRoute(id uint32, stops []uint32, trips [][]store.StopTime, serviceID uint32) {
	f.routes = append(f.routes, store.Route{ID: id, NumStops: uint32(len(stops)), NumTrips: uint32(len(trips))})
	f.routeStops[id] = stops
	f.stopTimes[id] = trips
	metas := make([]store.TripMeta, len(trips))
	for i := range metas {
		metas[i] = store.TripMeta{ServiceID: serviceID}
	}
	f.tripMeta[id] = metas
	f.active[serviceID] = true
	for pos, s := range stops {
		f.serving[s] = append(f.serving[s], store.RouteStopRef{RouteID: id, Position: pos})
	}
}

func (f *fakeTimetable) addTransfer(from, to uint32, walkSeconds uint32) {
	f.transfers[from] = append(f.transfers[from], store.Transfer{TargetStopID: to, WalkSeconds: walkSeconds})
}

func (f *fakeTimetable) NumStops() int  { return f.numStops }
func (f *fakeTimetable) NumRoutes() int { return len(f.routes) }

func (f *fakeTimetable) RoutesServing(stop uint32) []store.RouteStopRef { return f.serving[stop] }
func (f *fakeTimetable) TransfersFrom(stop uint32) []store.Transfer     { return f.transfers[stop] }

func (f *fakeTimetable) GetRoute(id uint32) store.Route {
	for _, r := range f.routes {
		if r.ID == id {
			return r
		}
	}
	return store.Route{}
}

func (f *fakeTimetable) StopAt(route store.Route, pos int) uint32 { return f.routeStops[route.ID][pos] }

func (f *fakeTimetable) StopTime(route store.Route, trip, pos int) store.StopTime {
	return f.stopTimes[route.ID][trip][pos]
}

func (f *fakeTimetable) TripMeta(route store.Route, trip int) store.TripMeta {
	return f.tripMeta[route.ID][trip]
}

func (f *fakeTimetable) IsActive(serviceID uint32, day timeutil.EpochDay) bool {
	if days, ok := f.activeDays[serviceID]; ok {
		return days[day]
	}
	return f.active[serviceID]
}
func (f *fakeTimetable) Location(tzIdx uint32) *time.Location                  { return f.loc }

// stops: 0=A, 1=B, 2=C on one route, a single daily trip.
func singleRouteFixture() *fakeTimetable {
	tt := newFakeTimetable(3)
	trip := []store.StopTime{
		{ArrivalSeconds: 0, DepartureSeconds: 0},
		{ArrivalSeconds: 600, DepartureSeconds: 660},
		{ArrivalSeconds: 1200, DepartureSeconds: 1200},
	}
	tt.addRoute(0, []uint32{0, 1, 2}, [][]store.StopTime{trip}, 0)
	return tt
}

func TestRunDirectTrip(t *testing.T) {
	tt := singleRouteFixture()
	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 2}, nil, nil)

	require.GreaterOrEqual(t, res.RoundsRun, 1)
	assert.Equal(t, int64(1200), res.Tau[1][2])
	assert.False(t, Unreached(res.Tau[1][2]))

	bp := res.BackPointers[1][2]
	assert.Equal(t, BackBoardedTrip, bp.Kind)
	assert.Equal(t, uint32(0), bp.FromStop)
	assert.Equal(t, 0, bp.TripIndex)
}

func TestRunInactiveServiceUnreachable(t *testing.T) {
	tt := singleRouteFixture()
	tt.active[0] = false // the only service on the route never runs

	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 2}, nil, nil)
	assert.True(t, Unreached(res.Tau[res.RoundsRun][2]))
}

func TestRunFootpathTransfer(t *testing.T) {
	// Two disjoint two-stop routes, A->B and D->C, linked by a footpath B->D.
	tt := newFakeTimetable(4)
	tripAB := []store.StopTime{
		{ArrivalSeconds: 0, DepartureSeconds: 0},
		{ArrivalSeconds: 300, DepartureSeconds: 300},
	}
	tt.addRoute(0, []uint32{0, 1}, [][]store.StopTime{tripAB}, 0)

	tripDC := []store.StopTime{
		{ArrivalSeconds: 500, DepartureSeconds: 500},
		{ArrivalSeconds: 900, DepartureSeconds: 900},
	}
	tt.addRoute(1, []uint32{2, 3}, [][]store.StopTime{tripDC}, 1)

	tt.addTransfer(1, 2, 60) // B -> D, one minute walk

	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 2}, nil, nil)

	// Reaching stop 3 needs: board trip AB (round 1), walk B->D (still round
	// 1, footpaths relax within the same round), board trip DC (round 2).
	found := false
	for k := 0; k <= res.RoundsRun; k++ {
		if res.Tau[k] != nil && !Unreached(res.Tau[k][3]) {
			found = true
			assert.Equal(t, int64(900), res.Tau[k][3])
		}
	}
	assert.True(t, found, "destination stop should be reached via the footpath link")
}

func TestRunNeverOvertakes(t *testing.T) {
	// Two trips on a route; the second departs later from stop 0 but must
	// never be preferred if the first already gets the traveller there
	// earlier everywhere (spec.md §3's non-overtaking invariant in action).
	tt := newFakeTimetable(2)
	early := []store.StopTime{{ArrivalSeconds: 100, DepartureSeconds: 100}, {ArrivalSeconds: 500, DepartureSeconds: 500}}
	late := []store.StopTime{{ArrivalSeconds: 200, DepartureSeconds: 200}, {ArrivalSeconds: 600, DepartureSeconds: 600}}
	tt.addRoute(0, []uint32{0, 1}, [][]store.StopTime{early, late}, 0)

	origins := []AccessStop{{StopID: 0, WalkSeconds: 100}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 1}, nil, nil)
	assert.Equal(t, int64(500), res.Tau[1][1])
}

func TestRunMonotonicRounds(t *testing.T) {
	tt := singleRouteFixture()
	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 3}, nil, nil)

	for k := 1; k <= res.RoundsRun; k++ {
		if res.Tau[k] == nil || res.Tau[k-1] == nil {
			continue
		}
		for stop := 0; stop < tt.NumStops(); stop++ {
			assert.LessOrEqual(t, res.Tau[k][stop], res.Tau[k-1][stop], "round %d regressed at stop %d", k, stop)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	tt := singleRouteFixture()
	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	res1 := Run(tt, origins, nil, Params{MaxTransfers: 2}, nil, nil)
	res2 := Run(tt, origins, nil, Params{MaxTransfers: 2}, nil, nil)
	assert.Equal(t, res1.Tau, res2.Tau)
}

func TestTargetPruningTightensDestBest(t *testing.T) {
	tt := singleRouteFixture()
	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	destStops := []AccessStop{{StopID: 2, WalkSeconds: 0}}
	destBest := UnreachedValue
	res := Run(tt, origins, destStops, Params{MaxTransfers: 2}, &destBest, nil)
	assert.Equal(t, int64(1200), destBest)
	assert.Equal(t, int64(1200), res.Tau[1][2])
}

func TestRunDeadlineStopsEarly(t *testing.T) {
	tt := singleRouteFixture()
	origins := []AccessStop{{StopID: 0, WalkSeconds: 0}}
	calls := 0
	deadlineCheck := func() bool {
		calls++
		return calls > 1 // allow the first round, then stop
	}
	res := Run(tt, origins, nil, Params{MaxTransfers: 5}, nil, deadlineCheck)
	assert.LessOrEqual(t, res.RoundsRun, 1)
}

// TestRunBoardsNextDayTripAcrossSundayMidnight reproduces spec.md §8
// Scenario 4: a query at Sunday 23:50 local for a trip departing Monday
// 00:05 must board the Monday trip, even though "today" (Sunday) has no
// active service on this route at all.
//
// Epoch day 0 (1970-01-01) was a Thursday, so Sunday is epoch day 3 and
// Monday is epoch day 4.
func TestRunBoardsNextDayTripAcrossSundayMidnight(t *testing.T) {
	tt := newFakeTimetable(2)
	trip := []store.StopTime{
		{ArrivalSeconds: 300, DepartureSeconds: 300}, // 00:05
		{ArrivalSeconds: 600, DepartureSeconds: 600}, // 00:10
	}
	tt.addRoute(0, []uint32{0, 1}, [][]store.StopTime{trip}, 0)
	tt.activeDays = map[uint32]map[timeutil.EpochDay]bool{0: {4: true}} // service runs Monday only

	sundayLateNight := int64(3*86400 + 85800) // Sunday 23:50
	origins := []AccessStop{{StopID: 0, WalkSeconds: int(sundayLateNight)}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 1}, nil, nil)

	mondayArrival := int64(4*86400 + 600) // Monday 00:10
	require.False(t, Unreached(res.Tau[1][1]))
	assert.Equal(t, mondayArrival, res.Tau[1][1])
	assert.Equal(t, timeutil.EpochDay(4), res.BackPointers[1][1].Day)
}

// TestRunBoardsOvernightTripFromPreviousServiceDay covers the converse of
// the Sunday/Monday scenario: a trip whose service calendar is keyed to
// yesterday (it runs past midnight, so its stop_times carry an offset
// ≥ 86400) must still be boardable by a query issued just after local
// midnight today. Before earliestBoardableTrip probed refDay-1, this
// boarding was silently missed: the route's only active day is
// refDay-1, which the "today" and "tomorrow" probes never check.
func TestRunBoardsOvernightTripFromPreviousServiceDay(t *testing.T) {
	tt := newFakeTimetable(2)
	trip := []store.StopTime{
		{ArrivalSeconds: 88200, DepartureSeconds: 88200}, // 24:30 -> 00:30 the next day
		{ArrivalSeconds: 88500, DepartureSeconds: 88500}, // 24:35 -> 00:35 the next day
	}
	tt.addRoute(0, []uint32{0, 1}, [][]store.StopTime{trip}, 0)
	tt.activeDays = map[uint32]map[timeutil.EpochDay]bool{0: {9: true}} // service keyed to day 9, not day 10

	queryTime := int64(10*86400 + 20*60) // day 10, 00:20 local: 10 minutes before the trip's recorded stop
	origins := []AccessStop{{StopID: 0, WalkSeconds: int(queryTime)}}
	res := Run(tt, origins, nil, Params{MaxTransfers: 1}, nil, nil)

	wantArrival := int64(9*86400 + 88500) // day 9's midnight + 24:35 offset = day 10 00:35
	require.False(t, Unreached(res.Tau[1][1]), "the overnight trip from the previous service day should still be boardable")
	assert.Equal(t, wantArrival, res.Tau[1][1])
	assert.Equal(t, timeutil.EpochDay(9), res.BackPointers[1][1].Day)
}
