package builder

import (
	"math"
	"sort"
	"strings"

	"github.com/farebox/farebox/feed"
)

// namedStop is a feed stop carrying its namespaced id, ready for dedup.
type namedStop struct {
	UniqueID string
	Name     string
	Lat, Lon float64
	TZName   string
}

// normalizeName lower-cases and strips punctuation/whitespace runs so
// "Main St." and "main st" compare equal, per spec.md §4.2 step 2's
// "name-normalized forms match".
func normalizeName(s string) string {
	var b strings.Builder
	lastWasSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasSpace = false
		default:
			if !lastWasSpace {
				b.WriteByte(' ')
			}
			lastWasSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusMeters = 6371000.0
	p1, p2 := lat1*math.Pi/180, lat2*math.Pi/180
	dLat, dLon := (lat2-lat1)*math.Pi/180, (lon2-lon1)*math.Pi/180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// dedupResult maps every namespaced stop id (from every feed) onto its
// canonical namespaced id. Canonical ids are a subset of their own keys
// (they map to themselves).
type dedupResult map[string]string

// dedupStops implements spec.md §4.2 step 2: two stops from different
// feeds collapse to one iff their coordinates are within
// radiusMeters and their normalized names match; tie-break keeps the
// lexicographically smaller namespaced id as canonical.
//
// Candidates are bucketed on a grid sized to the dedup radius so the
// comparison is near-linear instead of quadratic in the stop count,
// which matters at planet scale per spec.md §1.
func dedupStops(stops []namedStop, radiusMeters float64) dedupResult {
	type bucketKey struct{ x, y int64 }
	cellDegrees := radiusMeters / 111320.0
	buckets := map[bucketKey][]int{}
	cellOf := func(lat, lon float64) bucketKey {
		return bucketKey{int64(math.Floor(lat / cellDegrees)), int64(math.Floor(lon / cellDegrees))}
	}
	for i, s := range stops {
		k := cellOf(s.Lat, s.Lon)
		buckets[k] = append(buckets[k], i)
	}

	parent := make([]int, len(stops))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i, s := range stops {
		c := cellOf(s.Lat, s.Lon)
		norm := normalizeName(s.Name)
		feedTag, _, _ := strings.Cut(s.UniqueID, ":")
		// A degree of longitude spans cos(lat) times the meters of a degree
		// of latitude, so away from the equator the radius can reach more
		// than one longitude cell.
		lonReach := int64(math.Ceil(1 / math.Max(math.Cos(s.Lat*math.Pi/180), 0.01)))
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := -lonReach; dy <= lonReach; dy++ {
				for _, j := range buckets[bucketKey{c.x + dx, c.y + dy}] {
					if j <= i {
						continue
					}
					other := stops[j]
					if otherTag, _, _ := strings.Cut(other.UniqueID, ":"); otherTag == feedTag {
						continue
					}
					if normalizeName(other.Name) != norm {
						continue
					}
					if haversineMeters(s.Lat, s.Lon, other.Lat, other.Lon) <= radiusMeters {
						union(i, j)
					}
				}
			}
		}
	}

	groups := map[int][]int{}
	for i := range stops {
		r := find(i)
		groups[r] = append(groups[r], i)
	}

	result := make(dedupResult, len(stops))
	for _, members := range groups {
		ids := make([]string, len(members))
		for k, m := range members {
			ids[k] = stops[m].UniqueID
		}
		sort.Strings(ids)
		canonical := ids[0]
		for _, id := range ids {
			result[id] = canonical
		}
	}
	return result
}

// canonicalStops collects, for each dedup group, the namedStop whose
// UniqueID is the group's canonical id, sorted by UniqueID, used to build
// the final Stop array.
func canonicalStops(stops []namedStop, dedup dedupResult) []namedStop {
	seen := map[string]bool{}
	var out []namedStop
	for _, s := range stops {
		canon := dedup[s.UniqueID]
		if seen[canon] {
			continue
		}
		seen[canon] = true
		if canon == s.UniqueID {
			out = append(out, s)
			continue
		}
		// canonical id belongs to a different stop; find it.
		for _, other := range stops {
			if other.UniqueID == canon {
				out = append(out, other)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

func namedStopsFromFeeds(feeds []feed.Feed) []namedStop {
	var out []namedStop
	for _, f := range feeds {
		for _, s := range f.Stops {
			tz := s.TimezoneName
			if tz == "" {
				tz = f.AgencyTimezone
			}
			out = append(out, namedStop{
				UniqueID: s.UniqueID(),
				Name:     s.Name,
				Lat:      s.Lat,
				Lon:      s.Lon,
				TZName:   tz,
			})
		}
	}
	return out
}
