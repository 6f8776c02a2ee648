package builder

import (
	"sort"
	"strconv"
	"strings"

	"github.com/farebox/farebox/feed"
)

// resolvedTrip is a feed trip with stop ids already mapped onto
// canonical (post-dedup) namespaced ids.
type resolvedTrip struct {
	UniqueID  string
	ServiceID string
	Headsign  string
	TZName    string
	Stops     []string // canonical namespaced stop ids, in sequence order
	Arr, Dep  []int    // parallel to Stops
	Pickup    []int
	Dropoff   []int
}

// patternKey identifies a partition candidate: spec.md §4.2 step 3
// partitions trips "by the tuple (ordered stop-id sequence,
// pickup/dropoff pattern)".
func patternKey(t resolvedTrip) string {
	var b strings.Builder
	for i, s := range t.Stops {
		b.WriteString(s)
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(t.Pickup[i]))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(t.Dropoff[i]))
		b.WriteByte(';')
	}
	return b.String()
}

// raptorRoute is one non-overtaking subpartition: a RAPTOR-route ready
// for trip sort and serialization.
type raptorRoute struct {
	Stops []string // canonical stop ids, in order
	Trips []resolvedTrip
}

// partitionTrips implements spec.md §4.2 step 3: partition by
// (stop sequence, pickup/dropoff pattern), then within each partition
// detect overtaking — if sorting by departure at stop 0 does not also
// sort at every subsequent stop — and split into non-overtaking
// subpartitions.
//
// The overtaking split uses a patience-sorting-style greedy assignment:
// process trips in stop-0 departure order, and place each trip in the
// first existing subpartition whose every stop-time is still
// dominated by (≤) the new trip's. Every subpartition it produces is
// monotonic at every stop, satisfying spec.md §3's trip-sort invariant
// directly instead of needing a separate repair pass. Because trips are
// compared at several stops at once, this first-fit rule does not
// guarantee the fewest possible subpartitions.
func partitionTrips(trips []resolvedTrip) []raptorRoute {
	byPattern := map[string][]resolvedTrip{}
	var order []string
	for _, t := range trips {
		key := patternKey(t)
		if _, ok := byPattern[key]; !ok {
			order = append(order, key)
		}
		byPattern[key] = append(byPattern[key], t)
	}

	var routes []raptorRoute
	for _, key := range order {
		group := byPattern[key]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Dep[0] < group[j].Dep[0] })

		var subpartitions [][]resolvedTrip
		for _, t := range group {
			placed := false
			for i := range subpartitions {
				last := subpartitions[i][len(subpartitions[i])-1]
				if dominatesOrEqual(last, t) {
					subpartitions[i] = append(subpartitions[i], t)
					placed = true
					break
				}
			}
			if !placed {
				subpartitions = append(subpartitions, []resolvedTrip{t})
			}
		}

		for _, sub := range subpartitions {
			routes = append(routes, raptorRoute{Stops: sub[0].Stops, Trips: sub})
		}
	}
	return routes
}

// dominatesOrEqual reports whether `earlier` departs/arrives at or before
// `later` at every stop position, i.e. later never overtakes earlier.
func dominatesOrEqual(earlier, later resolvedTrip) bool {
	for i := range earlier.Arr {
		if earlier.Arr[i] > later.Arr[i] || earlier.Dep[i] > later.Dep[i] {
			return false
		}
	}
	return true
}

// resolveTrips converts feed trips into resolvedTrip using the dedup
// mapping, returning ErrFeedInconsistent if stop times are non-monotonic
// within a trip.
func resolveTrips(f feed.Feed, dedup dedupResult) ([]resolvedTrip, error) {
	routeByID := map[string]feed.Route{}
	for _, r := range f.Routes {
		routeByID[r.NativeID] = r
	}

	var out []resolvedTrip
	for _, t := range f.Trips {
		if len(t.StopTimes) == 0 {
			continue
		}
		sts := append([]feed.StopTime(nil), t.StopTimes...)
		sort.SliceStable(sts, func(i, j int) bool { return sts[i].StopSequence < sts[j].StopSequence })

		headsign := t.Headsign
		if headsign == "" {
			if r, ok := routeByID[t.RouteID]; ok {
				headsign = r.LongName
				if headsign == "" {
					headsign = r.ShortName
				}
			}
		}

		rt := resolvedTrip{
			UniqueID:  t.UniqueID(),
			ServiceID: string(f.Tag) + ":" + t.ServiceID,
			Headsign:  headsign,
			TZName:    f.AgencyTimezone,
		}
		prevArr, prevDep := -1<<62, -1<<62
		for _, st := range sts {
			if st.ArrivalSeconds < prevArr || st.DepartureSeconds < prevDep || st.DepartureSeconds < st.ArrivalSeconds {
				return nil, inconsistentf("trip %s: non-monotonic stop times at stop %s", rt.UniqueID, st.StopID)
			}
			prevArr, prevDep = st.ArrivalSeconds, st.DepartureSeconds

			canon := dedup[string(f.Tag)+":"+st.StopID]
			rt.Stops = append(rt.Stops, canon)
			rt.Arr = append(rt.Arr, st.ArrivalSeconds)
			rt.Dep = append(rt.Dep, st.DepartureSeconds)
			rt.Pickup = append(rt.Pickup, st.PickupType)
			rt.Dropoff = append(rt.Dropoff, st.DropoffType)
		}
		out = append(out, rt)
	}
	return out, nil
}
