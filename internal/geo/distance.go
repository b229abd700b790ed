// Package geo computes distances between live positions and planned routes.
// Everything here is pure: no I/O, no state, safe to call from any goroutine.
package geo

import (
	"math"

	"route-deviation-service/internal/domain"
)

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(a, b domain.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// DistanceToRoute returns the minimum distance in meters from pos to any part
// of the route: the closest point on the straight Start-End leg of every
// segment, plus the closest point on every consecutive pair along a segment's
// detailed path when one is present.
//
// A route with no segments is a caller bug (trips without a planned route
// must be rejected before geometry runs) and panics.
func DistanceToRoute(pos domain.LatLng, route domain.PlannedRoute) float64 {
	if len(route.Segments) == 0 {
		panic("geo: DistanceToRoute called with empty route")
	}

	minDist := math.MaxFloat64
	for _, seg := range route.Segments {
		if d := distanceToSegment(pos, seg.Start, seg.End); d < minDist {
			minDist = d
		}
		for i := 0; i+1 < len(seg.Path); i++ {
			if d := distanceToSegment(pos, seg.Path[i], seg.Path[i+1]); d < minDist {
				minDist = d
			}
		}
	}
	return minDist
}

// distanceToSegment projects pos onto the segment a-b in a local flat frame
// (longitude scaled by cos of the mean latitude), clamps the projection to
// [0,1], and returns the haversine distance to the projected point.
func distanceToSegment(pos, a, b domain.LatLng) float64 {
	meanLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	scale := math.Cos(meanLat)

	ax, ay := a.Lng*scale, a.Lat
	bx, by := b.Lng*scale, b.Lat
	px, py := pos.Lng*scale, pos.Lat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return Haversine(pos, a)
	}

	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	closest := domain.LatLng{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
	return Haversine(pos, closest)
}
