package utils

import "math"

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371008.8

// Bounds is a latitude/longitude box in degrees. The zero value is empty.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64

	set bool
}

// Empty reports whether no point has been added to b.
func (b Bounds) Empty() bool {
	return !b.set
}

// Extend grows b to cover (lat, lon).
func (b *Bounds) Extend(lat, lon float64) {
	if !b.set {
		*b = Bounds{MinLat: lat, MaxLat: lat, MinLon: lon, MaxLon: lon, set: true}
		return
	}
	b.MinLat = math.Min(b.MinLat, lat)
	b.MaxLat = math.Max(b.MaxLat, lat)
	b.MinLon = math.Min(b.MinLon, lon)
	b.MaxLon = math.Max(b.MaxLon, lon)
}

// Center returns the midpoint of b.
func (b Bounds) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// BoundsAround returns a box holding every point within radiusMeters of
// (lat, lon). Near a pole the box spans every longitude.
func BoundsAround(lat, lon, radiusMeters float64) Bounds {
	latOffset := degrees(radiusMeters / EarthRadiusMeters)
	b := Bounds{
		MinLat: math.Max(lat-latOffset, -90),
		MaxLat: math.Min(lat+latOffset, 90),
		MinLon: -180,
		MaxLon: 180,
		set:    true,
	}

	cosLat := math.Cos(radians(lat))
	if cosLat > 1e-9 {
		lonOffset := degrees(radiusMeters / (EarthRadiusMeters * cosLat))
		if lonOffset < 180 {
			b.MinLon, b.MaxLon = lon-lonOffset, lon+lonOffset
		}
	}
	return b
}

// Distance is the haversine distance in meters between two points given in
// degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
