package geo

import (
	"cmp"
	"math"
	"slices"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/cropprice/internal/model"
)

const (
	// Shortest length of one degree of latitude on WGS-84 (at the equator).
	minDegreeKM = 110.5
	// Widens the prefilter box so geodesics that bow poleward are never cut.
	boundsMargin = 1.1
	// Above this latitude the box degenerates and a full scan is used.
	maxBoundsLat = 89.0
)

// FindNearby returns every table location within radiusKM of p, nearest
// first. Ties are ordered by state then district. An empty, non-nil slice
// is returned when nothing is in range.
func FindNearby(p model.Point, radiusKM float64, t *Table) []model.ProximityMatch {
	matches := make([]model.ProximityMatch, 0)
	if t == nil || radiusKM < 0 || math.IsNaN(radiusKM) || !p.Valid() {
		return matches
	}

	bounds, bounded := searchBounds(p, radiusKM)
	for _, loc := range t.locs {
		if bounded && !bounds.OverlapsPoint(geom.XY, geom.Coord{loc.Longitude, loc.Latitude}) {
			continue
		}
		d := DistanceKM(p.Lat, p.Lon, loc.Latitude, loc.Longitude)
		if d > radiusKM {
			continue
		}
		matches = append(matches, model.ProximityMatch{
			State:      loc.State,
			District:   loc.District,
			DistanceKM: d,
		})
	}

	slices.SortStableFunc(matches, compareMatches)
	return matches
}

func compareMatches(a, b model.ProximityMatch) int {
	if c := cmp.Compare(a.DistanceKM, b.DistanceKM); c != 0 {
		return c
	}
	if c := cmp.Compare(a.State, b.State); c != 0 {
		return c
	}
	return cmp.Compare(a.District, b.District)
}

// searchBounds returns a lon/lat box guaranteed to contain every point
// within radiusKM of p. It reports false when the box would wrap a pole or
// the antimeridian; callers then scan without prefiltering.
func searchBounds(p model.Point, radiusKM float64) (*geom.Bounds, bool) {
	latDelta := radiusKM / minDegreeKM * boundsMargin
	poleward := math.Abs(p.Lat) + latDelta
	if poleward >= maxBoundsLat {
		return nil, false
	}
	lonDelta := latDelta / math.Cos(toRad(poleward))
	if p.Lon-lonDelta < -180 || p.Lon+lonDelta > 180 {
		return nil, false
	}
	return geom.NewBounds(geom.XY).Set(
		p.Lon-lonDelta, p.Lat-latDelta,
		p.Lon+lonDelta, p.Lat+latDelta,
	), true
}
