package raster

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Mask returns a new Grid cropped to the bounding box of poly, with every
// cell whose center falls outside poly set to no-data. poly must be a
// Polygon or MultiPolygon in the same CRS as the grid. Fails with
// ErrNoOverlap when the polygon and grid extents are disjoint.
func (g *Grid) Mask(poly geom.T) (*Grid, error) {
	if g.tf.B != 0 || g.tf.D != 0 {
		return nil, eris.New("raster: rotated grids are not supported")
	}
	rings, err := polygonRings(poly)
	if err != nil {
		return nil, err
	}

	pb := poly.Bounds()
	gMinX, gMinY, gMaxX, gMaxY := g.Bounds()
	if pb.Min(0) > gMaxX || pb.Max(0) < gMinX || pb.Min(1) > gMaxY || pb.Max(1) < gMinY {
		return nil, eris.Wrapf(ErrNoOverlap, "raster: polygon bounds [%g %g %g %g] vs grid bounds [%g %g %g %g]",
			pb.Min(0), pb.Min(1), pb.Max(0), pb.Max(1), gMinX, gMinY, gMaxX, gMaxY)
	}

	// Crop window: pixel rows/cols covering the polygon bbox, clamped to the
	// grid.
	c0, r0 := g.inv.Apply(pb.Min(0), pb.Max(1))
	c1, r1 := g.inv.Apply(pb.Max(0), pb.Min(1))
	minRow := clamp(int(math.Floor(math.Min(r0, r1))), 0, g.rows-1)
	maxRow := clamp(int(math.Ceil(math.Max(r0, r1)))-1, 0, g.rows-1)
	minCol := clamp(int(math.Floor(math.Min(c0, c1))), 0, g.cols-1)
	maxCol := clamp(int(math.Ceil(math.Max(c0, c1)))-1, 0, g.cols-1)

	rows := maxRow - minRow + 1
	cols := maxCol - minCol + 1
	data := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, y := g.CoordOf(minRow+r, minCol+c)
			if pointInRings(rings, x, y) {
				data[r*cols+c] = g.Value(minRow+r, minCol+c)
			} else {
				data[r*cols+c] = g.nodata
			}
		}
	}

	// Shift the origin to the crop window's top-left corner.
	x0, y0 := g.tf.Apply(float64(minCol), float64(minRow))
	tf := g.tf
	tf.C, tf.F = x0, y0
	return NewFlat(data, rows, cols, tf, g.crs, g.nodata)
}

// ring is a closed linear ring as flat XY pairs.
type ring []float64

// polygonRings flattens a Polygon or MultiPolygon into its rings. Interior
// rings participate in even-odd containment, so holes are excluded without
// tracking ring roles.
func polygonRings(t geom.T) ([]ring, error) {
	var rings []ring
	switch p := t.(type) {
	case *geom.Polygon:
		for i := 0; i < p.NumLinearRings(); i++ {
			rings = append(rings, ring(p.LinearRing(i).FlatCoords()))
		}
	case *geom.MultiPolygon:
		for i := 0; i < p.NumPolygons(); i++ {
			sub := p.Polygon(i)
			for j := 0; j < sub.NumLinearRings(); j++ {
				rings = append(rings, ring(sub.LinearRing(j).FlatCoords()))
			}
		}
	default:
		return nil, eris.Errorf("raster: mask geometry must be Polygon or MultiPolygon, got %T", t)
	}
	if len(rings) == 0 {
		return nil, eris.New("raster: mask polygon has no rings")
	}
	return rings, nil
}

// pointInRings reports even-odd containment of (x, y) across all rings.
func pointInRings(rings []ring, x, y float64) bool {
	inside := false
	for _, rg := range rings {
		stride := 2
		n := len(rg) / stride
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			xi, yi := rg[i*stride], rg[i*stride+1]
			xj, yj := rg[j*stride], rg[j*stride+1]
			if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
				inside = !inside
			}
		}
	}
	return inside
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
