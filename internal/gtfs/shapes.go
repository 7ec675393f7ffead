package gtfs

import (
	"github.com/twpayne/go-polyline"

	"transitsync.dev/internal/models"
	"transitsync.dev/internal/utils"
)

// RegionBounds is the center and span of the area the static data covers.
type RegionBounds struct {
	Lat     float64
	Lon     float64
	LatSpan float64
	LonSpan float64
}

// ComputeRegionBounds calculates the geographic boundaries of the GTFS region
// from all shape points, falling back to stops for feeds without shapes.
// Returns nil if neither exists.
func ComputeRegionBounds(shapes map[string][]models.ShapePoint, stops []models.Stop) *RegionBounds {
	var box utils.Bounds
	for _, points := range shapes {
		for _, point := range points {
			box.Extend(point.Lat, point.Lon)
		}
	}
	if box.Empty() {
		for _, stop := range stops {
			box.Extend(stop.Lat, stop.Lon)
		}
	}
	if box.Empty() {
		return nil
	}

	lat, lon := box.Center()
	return &RegionBounds{
		Lat:     lat,
		Lon:     lon,
		LatSpan: box.MaxLat - box.MinLat,
		LonSpan: box.MaxLon - box.MinLon,
	}
}

// GetRegionBounds returns zeros until static data has been loaded.
func (manager *Manager) GetRegionBounds() (lat, lon, latSpan, lonSpan float64) {
	idx := manager.current()
	if idx == nil || idx.bounds == nil {
		return 0, 0, 0, 0
	}
	return idx.bounds.Lat, idx.bounds.Lon, idx.bounds.LatSpan, idx.bounds.LonSpan
}

// GetShapePolyline returns the shape encoded with the Google polyline
// algorithm, for map clients.
func (manager *Manager) GetShapePolyline(shapeID string) (string, bool) {
	points := manager.GetShapePoints(shapeID)
	if len(points) == 0 {
		return "", false
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Lat, p.Lon}
	}
	return string(polyline.EncodeCoords(coords)), true
}
