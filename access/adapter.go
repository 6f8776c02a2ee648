// Package access implements the access-router adapter of spec.md §4.3:
// given a coordinate and a time budget, return reachable stops with
// walking durations. It is deterministic for a fixed timetable and
// collaborator version, so query fixtures stay stable (spec.md §4.3).
package access

import (
	"context"
	"math"
	"sort"

	"github.com/bluele/gcache"
	"github.com/tidwall/rtree"
	"golang.org/x/time/rate"
)

// Coord is a geographic position.
type Coord struct {
	Lat, Lon float64
}

// Reachable is one (stop, walking duration) result.
type Reachable struct {
	StopID      uint32
	WalkSeconds int
}

// StopIndex is the minimal view of the timetable's stops an access
// router needs: position lookup by dense id. store.StopsView satisfies
// this without access importing store, keeping the dependency direction
// store -> access free of a cycle.
type StopIndex interface {
	Len() int
	Position(id uint32) Coord
}

// Router is the collaborator interface of spec.md §4.3/§6: the two
// direction-specific lookups plus the builder's batch variant.
type Router interface {
	ReachableFrom(ctx context.Context, c Coord, maxSeconds int) ([]Reachable, error)
	ReachableTo(ctx context.Context, c Coord, maxSeconds int) ([]Reachable, error)
	PairwiseTransfers(ctx context.Context, stops StopIndex, maxSeconds int, maxCount int) (map[uint32][]Reachable, error)
}

// WalkSpeedMetersPerSecond is the fixed speed used by the fallback
// great-circle estimator when no street-network collaborator is
// configured. ~1.34 m/s is a standard average adult walking pace.
const WalkSpeedMetersPerSecond = 1.34

// earthRadiusMeters is used for the haversine great-circle distance.
const earthRadiusMeters = 6371000.0

// RTreeRouter is the in-process fallback described in spec.md §4.3: an
// R-tree spatial index over stops plus great-circle distance at a fixed
// speed. Grounded on the R-tree usage in OneBusAway-maglev's
// spatial_index.go, generalized from a bounds-query index into a
// nearest-stops-within-radius access router.
type RTreeRouter struct {
	tree  *rtree.RTree
	stops StopIndex

	cache gcache.Cache

	// external, if set, is a real street-network collaborator consulted
	// instead of the great-circle fallback; calls to it are
	// rate limited so a misbehaving collaborator can't overwhelm the
	// process, per the domain-stack wiring in SPEC_FULL.md §2.2.
	external  Router
	limiter   *rate.Limiter
}

// NewRTreeRouter indexes every stop in the given StopIndex for
// great-circle reachability queries. cacheSize bounds the memoized
// coordinate-bucket cache (0 disables caching).
func NewRTreeRouter(stops StopIndex, cacheSize int) *RTreeRouter {
	tree := &rtree.RTree{}
	for i := 0; i < stops.Len(); i++ {
		id := uint32(i)
		c := stops.Position(id)
		tree.Insert([2]float64{c.Lat, c.Lon}, [2]float64{c.Lat, c.Lon}, id)
	}

	r := &RTreeRouter{tree: tree, stops: stops}
	if cacheSize > 0 {
		r.cache = gcache.New(cacheSize).LRU().Build()
	}
	return r
}

// WithExternal configures a real street-network collaborator, consulted
// in place of the great-circle fallback, with calls capped at rps
// requests/sec and a burst of burst, per golang.org/x/time/rate.
func (r *RTreeRouter) WithExternal(ext Router, rps float64, burst int) *RTreeRouter {
	r.external = ext
	r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return r
}

func haversineMeters(a, b Coord) float64 {
	lat1, lon1 := a.Lat*math.Pi/180, a.Lon*math.Pi/180
	lat2, lon2 := b.Lat*math.Pi/180, b.Lon*math.Pi/180
	dLat, dLon := lat2-lat1, lon2-lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// cacheKey buckets coordinates to a fixed grid so nearby repeated queries
// (e.g. retried requests from the same rider) hit the memoized result,
// per SPEC_FULL.md §2.2's gcache wiring.
type cacheKey struct {
	latBucket, lonBucket int64
	maxSeconds           int
}

const cacheGridDegrees = 0.0005 // roughly 55m at the equator

func bucket(c Coord, maxSeconds int) cacheKey {
	return cacheKey{
		latBucket:  int64(math.Round(c.Lat / cacheGridDegrees)),
		lonBucket:  int64(math.Round(c.Lon / cacheGridDegrees)),
		maxSeconds: maxSeconds,
	}
}

func (r *RTreeRouter) reachable(ctx context.Context, c Coord, maxSeconds int) ([]Reachable, error) {
	if r.external != nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return r.external.ReachableFrom(ctx, c, maxSeconds)
	}

	if r.cache != nil {
		if v, err := r.cache.Get(bucket(c, maxSeconds)); err == nil {
			return v.([]Reachable), nil
		}
	}

	maxMeters := float64(maxSeconds) * WalkSpeedMetersPerSecond
	degreeRadius := maxMeters / 111320.0 // rough meters-per-degree at mid latitudes

	var out []Reachable
	r.tree.Search(
		[2]float64{c.Lat - degreeRadius, c.Lon - degreeRadius},
		[2]float64{c.Lat + degreeRadius, c.Lon + degreeRadius},
		func(min, max [2]float64, data interface{}) bool {
			id := data.(uint32)
			d := haversineMeters(c, r.stops.Position(id))
			secs := int(d / WalkSpeedMetersPerSecond)
			if secs <= maxSeconds {
				out = append(out, Reachable{StopID: id, WalkSeconds: secs})
			}
			return true
		},
	)
	sort.Slice(out, func(i, j int) bool { return out[i].WalkSeconds < out[j].WalkSeconds })

	if r.cache != nil {
		r.cache.Set(bucket(c, maxSeconds), out)
	}
	return out, nil
}

// ReachableFrom implements Router.
func (r *RTreeRouter) ReachableFrom(ctx context.Context, c Coord, maxSeconds int) ([]Reachable, error) {
	return r.reachable(ctx, c, maxSeconds)
}

// ReachableTo implements Router. The great-circle fallback is symmetric,
// so it delegates to the same search; a directed street-network
// collaborator would not be.
func (r *RTreeRouter) ReachableTo(ctx context.Context, c Coord, maxSeconds int) ([]Reachable, error) {
	if r.external != nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return r.external.ReachableTo(ctx, c, maxSeconds)
	}
	return r.reachable(ctx, c, maxSeconds)
}

// PairwiseTransfers implements the builder's batch variant of spec.md
// §4.2 step 5 and §6: for every stop, all reachable neighbors within
// maxSeconds, up to maxCount, sorted ascending by duration, self-transfer
// excluded.
func (r *RTreeRouter) PairwiseTransfers(ctx context.Context, stops StopIndex, maxSeconds int, maxCount int) (map[uint32][]Reachable, error) {
	out := make(map[uint32][]Reachable, stops.Len())
	for i := 0; i < stops.Len(); i++ {
		id := uint32(i)
		c := stops.Position(id)
		reach, err := r.reachable(ctx, c, maxSeconds)
		if err != nil {
			return nil, err
		}
		filtered := reach[:0:0]
		for _, cand := range reach {
			if cand.StopID == id {
				continue
			}
			filtered = append(filtered, cand)
		}
		if len(filtered) > maxCount {
			filtered = filtered[:maxCount]
		}
		out[id] = filtered
	}
	return out, nil
}
