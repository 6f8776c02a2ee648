package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/raptor"
	"github.com/farebox/farebox/store"
	"github.com/farebox/farebox/timeutil"
)

// fakeTimetable mirrors raptor's own test fixture, extended with the
// String lookup reconstruct.Timetable needs for headsigns.
type fakeTimetable struct {
	numStops      int
	numStopsCalls int
	routes        []store.Route
	routeStops    map[uint32][]uint32
	stopTimes     map[uint32][][]store.StopTime
	tripMeta      map[uint32][]store.TripMeta
	serving       map[uint32][]store.RouteStopRef
	transfers     map[uint32][]store.Transfer
	active        map[uint32]bool
	loc           *time.Location
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

func (f *fakeTimetable) NumStops() int {
	f.numStopsCalls++
	return f.numStops
}
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

func (f *fakeTimetable) IsActive(serviceID uint32, day timeutil.EpochDay) bool { return f.active[serviceID] }
func (f *fakeTimetable) Location(tzIdx uint32) *time.Location                  { return f.loc }
func (f *fakeTimetable) String(idx uint32) string                             { return "" }

// singleRouteFixture: stops 0=A, 1=B, 2=C, one daily trip A@0 -> B@600/660 -> C@1200.
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

// fakeRouter hands back fixed (stop, walk) reachability sets regardless
// of the coordinate asked for, so Driver.Plan can be exercised without a
// real access.Router.
type fakeRouter struct {
	origin, dest []access.Reachable
	err          error
}

func (r *fakeRouter) ReachableFrom(ctx context.Context, c access.Coord, maxSeconds int) ([]access.Reachable, error) {
	return r.origin, r.err
}
func (r *fakeRouter) ReachableTo(ctx context.Context, c access.Coord, maxSeconds int) ([]access.Reachable, error) {
	return r.dest, r.err
}
func (r *fakeRouter) PairwiseTransfers(ctx context.Context, stops access.StopIndex, maxSeconds, maxCount int) (map[uint32][]access.Reachable, error) {
	return nil, nil
}

func TestPlanReturnsDirectJourney(t *testing.T) {
	tt := singleRouteFixture()
	router := &fakeRouter{
		origin: []access.Reachable{{StopID: 0, WalkSeconds: 0}},
		dest:   []access.Reachable{{StopID: 2, WalkSeconds: 30}},
	}
	d := NewDriver(tt, router)

	journeys, err := d.Plan(context.Background(), Request{OriginLat: 40, OriginLon: -73, DestLat: 40.02, DestLon: -73.02})
	require.NoError(t, err)
	require.Len(t, journeys, 1)
	assert.Equal(t, int64(1200+30), journeys[0].ArriveEpoch)
	assert.Equal(t, 1, journeys[0].Transfers)
}

func TestPlanReturnsOriginUnreachable(t *testing.T) {
	tt := singleRouteFixture()
	router := &fakeRouter{origin: nil, dest: []access.Reachable{{StopID: 2, WalkSeconds: 0}}}
	d := NewDriver(tt, router)

	_, err := d.Plan(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrOriginUnreachable)
}

func TestPlanReturnsDestinationUnreachable(t *testing.T) {
	tt := singleRouteFixture()
	router := &fakeRouter{origin: []access.Reachable{{StopID: 0, WalkSeconds: 0}}, dest: nil}
	d := NewDriver(tt, router)

	_, err := d.Plan(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrDestinationUnreachable)
}

func TestPlanReturnsNoItineraryWhenUnreachedWithinBudget(t *testing.T) {
	tt := singleRouteFixture()
	tt.active[0] = false // service never runs: destination never reached
	router := &fakeRouter{
		origin: []access.Reachable{{StopID: 0, WalkSeconds: 0}},
		dest:   []access.Reachable{{StopID: 2, WalkSeconds: 0}},
	}
	d := NewDriver(tt, router)

	journeys, err := d.Plan(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, journeys)
}

// TestPlanReturnsTimeoutBeforeRunningRaptor reproduces spec.md §8 Scenario
// 6: a deadline already at or before "now" must fail fast with ErrTimeout
// and no partial output, without ever invoking raptor.Run. We confirm the
// latter via numStopsCalls, since Run's first action is tt.NumStops().
func TestPlanReturnsTimeoutBeforeRunningRaptor(t *testing.T) {
	tt := singleRouteFixture()
	router := &fakeRouter{
		origin: []access.Reachable{{StopID: 0, WalkSeconds: 0}},
		dest:   []access.Reachable{{StopID: 2, WalkSeconds: 0}},
	}
	d := NewDriver(tt, router)

	req := Request{DeadlineEpochMs: time.Now().UnixMilli()}
	journeys, err := d.Plan(context.Background(), req)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, journeys)
	assert.Zero(t, tt.numStopsCalls, "raptor.Run must not be invoked once the deadline has already passed")
}

func TestPlanWrapsCollaboratorFailure(t *testing.T) {
	tt := singleRouteFixture()
	router := &fakeRouter{err: assert.AnError}
	d := NewDriver(tt, router)

	_, err := d.Plan(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrCollaboratorFailure)
}

func TestCollectFrontierKeepsNonDominatedLaterRounds(t *testing.T) {
	// Round 1 reaches the destination at 1000 via one boarding; round 2
	// reaches it at 900 via two boardings. Neither dominates the other
	// (fewer transfers vs. earlier arrival), so both belong on the
	// frontier.
	res := raptor.Result{
		RoundsRun: 2,
		Tau: [][]int64{
			{raptor.UnreachedValue},
			{1000},
			{900},
		},
	}
	destStops := []raptor.AccessStop{{StopID: 0, WalkSeconds: 0}}
	frontier := collectFrontier(res, destStops, map[uint32]int{0: 0})
	require.Len(t, frontier, 2)
	assert.Equal(t, int64(1000), frontier[0].arrival)
	assert.Equal(t, int64(900), frontier[1].arrival)
}

func TestCollectFrontierDropsDominatedRounds(t *testing.T) {
	// Round 1 already reaches at 500; round 2 only manages 700, which is
	// strictly worse on both dimensions, so it must not appear.
	res := raptor.Result{
		RoundsRun: 2,
		Tau: [][]int64{
			{raptor.UnreachedValue},
			{500},
			{700},
		},
	}
	destStops := []raptor.AccessStop{{StopID: 0, WalkSeconds: 0}}
	frontier := collectFrontier(res, destStops, map[uint32]int{0: 0})
	require.Len(t, frontier, 1)
	assert.Equal(t, int64(500), frontier[0].arrival)
}

func TestRequestNormalizeClampsToSpecLimits(t *testing.T) {
	r := Request{MaxTransfers: 99, MaxWalkSeconds: 99999}.normalize()
	assert.Equal(t, maxAllowedTransfers, r.MaxTransfers)
	assert.Equal(t, maxAllowedWalkSeconds, r.MaxWalkSeconds)

	r = Request{}.normalize()
	assert.Equal(t, defaultMaxTransfers, r.MaxTransfers)
	assert.Equal(t, defaultMaxWalkSeconds, r.MaxWalkSeconds)
}
