// Package geo evaluates point-in-polygon containment for administrative
// boundaries stored as GeoJSON geometry on place entities.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/cortolima/treeobs-go/internal/errors"
)

// Boundary is one decoded administrative boundary, keeping the owning
// entity's identity alongside its geometry.
type Boundary struct {
	ID   uint
	Name string
	geom orb.Geometry
}

// Decode parses a GeoJSON geometry string into a Boundary. Only Polygon and
// MultiPolygon geometries are valid boundaries.
func Decode(id uint, name, rawGeoJSON string) (*Boundary, error) {
	g, err := geojson.UnmarshalGeometry([]byte(rawGeoJSON))
	if err != nil {
		return nil, errors.New(err).
			Component("geo").
			Category(errors.CategorySpatial).
			Context("boundary_id", id).
			Context("boundary_name", name).
			Build()
	}

	geom := g.Geometry()
	switch geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return &Boundary{ID: id, Name: name, geom: geom}, nil
	default:
		return nil, errors.Newf("boundary geometry must be Polygon or MultiPolygon, got %s", geom.GeoJSONType()).
			Component("geo").
			Category(errors.CategorySpatial).
			Context("boundary_id", id).
			Context("boundary_name", name).
			Build()
	}
}

// Contains reports whether the point lies within the boundary.
func (b *Boundary) Contains(pt orb.Point) bool {
	switch geom := b.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, pt)
	default:
		return false
	}
}

// Bound returns the boundary's bounding box.
func (b *Boundary) Bound() orb.Bound {
	return b.geom.Bound()
}

// Set is an ordered collection of boundaries. Iteration order is the order
// boundaries were added in, which callers keep at entity-ID ascending so
// containment ties resolve deterministically.
type Set []*Boundary

// First returns the first boundary containing pt, or nil. The remaining
// count of containing boundaries is returned so callers can warn about
// overlapping boundary data.
func (s Set) First(pt orb.Point) (match *Boundary, others int) {
	for _, b := range s {
		if !b.Contains(pt) {
			continue
		}
		if match == nil {
			match = b
		} else {
			others++
		}
	}
	return match, others
}

// FilterBound drops boundaries whose bounding boxes do not intersect bound,
// preserving order. Used to pre-filter candidates against the extent of the
// records being processed.
func (s Set) FilterBound(bound orb.Bound) Set {
	out := make(Set, 0, len(s))
	for _, b := range s {
		if b.Bound().Intersects(bound) {
			out = append(out, b)
		}
	}
	return out
}

// ExtentBuffer is the padding, in degrees, applied around the records'
// extent before filtering boundaries. Roughly five kilometers.
const ExtentBuffer = 0.05

// Extent computes the buffered bounding box of a set of points. ok is false
// when there are no points.
func Extent(points []orb.Point) (bound orb.Bound, ok bool) {
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	bound = orb.MultiPoint(points).Bound()
	bound = bound.Pad(ExtentBuffer)
	return bound, true
}
