// Package builder consumes one or more already-parsed GTFS feeds and
// writes a farebox timetable store, implementing spec.md §4.2.
package builder

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/farebox/farebox/access"
	"github.com/farebox/farebox/feed"
)

// Result is the in-memory timetable the builder assembles before
// Serialize writes it to disk. It is also directly usable by tests
// without a round trip through the filesystem.
type Result struct {
	opts Options

	stops     []namedStop       // canonical, sorted by UniqueID -> dense id = index
	stopIndex map[string]uint32 // canonical UniqueID -> dense id

	routes []raptorRoute // dense route id = index

	calendars   []calendarBitset
	calendarIdx map[string]uint32 // ServiceID -> dense id

	zones   []string // IANA zone names, dense index
	zoneIdx map[string]uint32

	strings   []string // headsigns/stop names, dense index
	stringIdx map[string]uint32

	transfers map[uint32][]access.Reachable // stop dense id -> sorted, capped neighbors
}

// Build runs the full pipeline of spec.md §4.2: namespacing (implicit in
// feed.Stop.UniqueID), stop dedup, route partitioning, trip sort (folded
// into partitionTrips), transfer precomputation, and calendar expansion.
// Serialize must be called separately to write the store to disk.
func Build(ctx context.Context, feeds []feed.Feed, opts Options, router access.Router) (*Result, error) {
	opts = opts.Normalize()

	named := namedStopsFromFeeds(feeds)
	dedup := dedupStops(named, opts.DedupRadiusMeters)
	canon := canonicalStops(named, dedup)

	r := &Result{
		opts:      opts,
		stops:     canon,
		stopIndex: make(map[string]uint32, len(canon)),
		zoneIdx:   map[string]uint32{},
		stringIdx: map[string]uint32{},
	}
	for i, s := range canon {
		r.stopIndex[s.UniqueID] = uint32(i)
	}

	calendars := map[string]feed.Calendar{}
	for _, f := range feeds {
		for _, c := range f.Calendars {
			calendars[c.UniqueID()] = c
		}
	}

	var allTrips []resolvedTrip
	referencedServices := map[string]bool{}
	for _, f := range feeds {
		trips, err := resolveTrips(f, dedup)
		if err != nil {
			return nil, err
		}
		for _, t := range trips {
			referencedServices[t.ServiceID] = true
		}
		allTrips = append(allTrips, trips...)
	}
	for svc := range referencedServices {
		if _, ok := calendars[svc]; !ok {
			return nil, inconsistentf("service %s referenced by a trip but not defined", svc)
		}
	}

	if err := validateTransfers(feeds, dedup); err != nil {
		return nil, err
	}

	r.routes = partitionTrips(allTrips)

	r.calendars = expandCalendars(calendars, opts.EpochDay, opts.HorizonDays)
	r.calendarIdx = make(map[string]uint32, len(r.calendars))
	for i, c := range r.calendars {
		r.calendarIdx[c.ServiceID] = uint32(i)
	}

	if router != nil {
		transfers, err := router.PairwiseTransfers(ctx, r, opts.MaxTransferSeconds, opts.MaxTransferCount)
		if err != nil {
			return nil, errors.Wrap(err, "builder: pairwise transfers")
		}
		r.transfers = transfers
	} else {
		r.transfers = map[uint32][]access.Reachable{}
	}

	return r, nil
}

// validateTransfers implements the self-referential-transfer check named
// in spec.md §4.2's FeedInconsistent conditions, for any feed-supplied
// transfers.txt hints.
func validateTransfers(feeds []feed.Feed, dedup dedupResult) error {
	for _, f := range feeds {
		for _, t := range f.Transfers {
			from := dedup[string(f.Tag)+":"+t.FromStopID]
			to := dedup[string(f.Tag)+":"+t.ToStopID]
			if from == to {
				return inconsistentf("self-referential transfer at stop %s", from)
			}
		}
	}
	return nil
}

// access.StopIndex implementation, so Build can hand `r` directly to the
// router's PairwiseTransfers without an intermediate adapter type.

func (r *Result) Len() int { return len(r.stops) }

func (r *Result) Position(id uint32) access.Coord {
	s := r.stops[id]
	return access.Coord{Lat: s.Lat, Lon: s.Lon}
}

// internString returns the dense index for s, assigning a new one on
// first use. Used for headsigns and stop names, which share one table
// per spec.md §6.
func (r *Result) internString(s string) uint32 {
	if idx, ok := r.stringIdx[s]; ok {
		return idx
	}
	idx := uint32(len(r.strings))
	r.strings = append(r.strings, s)
	r.stringIdx[s] = idx
	return idx
}

func (r *Result) internZone(name string) uint32 {
	if name == "" {
		name = "UTC"
	}
	if idx, ok := r.zoneIdx[name]; ok {
		return idx
	}
	idx := uint32(len(r.zones))
	r.zones = append(r.zones, name)
	r.zoneIdx[name] = idx
	return idx
}

// sortedRouteOrder returns route indices in a stable, deterministic
// order (by stop count, then the canonical stop-id sequence compared
// position by position, then first trip's first departure) so two builds from identical feed bytes emit
// identical dense route ids, satisfying spec.md §8's "idempotent build"
// law.
func (r *Result) sortedRouteOrder() []int {
	order := make([]int, len(r.routes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := r.routes[order[i]], r.routes[order[j]]
		if len(a.Stops) != len(b.Stops) {
			return len(a.Stops) < len(b.Stops)
		}
		for k := range a.Stops {
			if a.Stops[k] != b.Stops[k] {
				return a.Stops[k] < b.Stops[k]
			}
		}
		return a.Trips[0].Dep[0] < b.Trips[0].Dep[0]
	})
	return order
}
