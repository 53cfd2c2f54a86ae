package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/rendis/mapharvest/internal/model"
)

// FilterWithin drops businesses located outside area, grown by margin degrees on
// every side. Businesses without coordinates are kept.
func FilterWithin(businesses []model.Business, area orb.Bound, margin float64) []model.Business {
	poly := area.Pad(margin).ToPolygon()
	var kept []model.Business
	for _, b := range businesses {
		if inside(b, poly) {
			kept = append(kept, b)
		}
	}
	return kept
}

// Within is FilterWithin for a single business.
func Within(b model.Business, area orb.Bound, margin float64) bool {
	return inside(b, area.Pad(margin).ToPolygon())
}

func inside(b model.Business, poly orb.Polygon) bool {
	return !b.HasLocation() || planar.PolygonContains(poly, orb.Point{b.Lng, b.Lat})
}
