// Package rasterize burns vector features onto a binary occupancy grid
// congruent with a reference raster. Lines mark every cell they pass
// through, polygons additionally fill every cell whose center they cover.
package rasterize

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/swac-vis/africa-rural-atlas/internal/raster"
	"github.com/swac-vis/africa-rural-atlas/internal/vector"
)

// ErrCRSMismatch indicates features whose CRS differs from the reference
// grid. Reprojection is the caller's responsibility.
var ErrCRSMismatch = eris.New("rasterize: feature CRS does not match reference grid")

// Occupancy is a binary grid congruent to its reference Grid, marking cells
// that contain at least one feature.
type Occupancy struct {
	mask       []bool
	rows, cols int
	tf         raster.Affine
	inv        raster.Affine
	crs        string
	occupied   int
	features   int
}

// Rows returns the number of grid rows.
func (o *Occupancy) Rows() int { return o.rows }

// Cols returns the number of grid columns.
func (o *Occupancy) Cols() int { return o.cols }

// Occupied reports whether cell (row, col) contains a feature.
func (o *Occupancy) Occupied(row, col int) bool { return o.mask[row*o.cols+col] }

// OccupiedCells returns the number of distinct occupied cells.
func (o *Occupancy) OccupiedCells() int { return o.occupied }

// FeatureCount returns the number of input features that marked at least one
// cell. Several features may collapse into one occupied cell.
func (o *Occupancy) FeatureCount() int { return o.features }

// Empty reports whether no cell is occupied.
func (o *Occupancy) Empty() bool { return o.occupied == 0 }

// CongruentTo reports whether o shares g's shape, transform, and CRS.
func (o *Occupancy) CongruentTo(g *raster.Grid) bool {
	return o.rows == g.Rows() && o.cols == g.Cols() && o.tf == g.Transform() && o.crs == g.CRS()
}

// Rasterize maps every feature geometry onto the cells of ref it intersects.
// Geometries outside the grid extent contribute nothing; duplicate or
// overlapping geometries are idempotent. The reference transform must be
// axis-aligned (no rotation terms).
func Rasterize(fs *vector.FeatureSet, ref *raster.Grid) (*Occupancy, error) {
	if fs.CRS != ref.CRS() {
		return nil, eris.Wrapf(ErrCRSMismatch, "rasterize: features are %s, grid is %s", fs.CRS, ref.CRS())
	}
	tf := ref.Transform()
	if tf.B != 0 || tf.D != 0 {
		return nil, eris.Errorf("rasterize: rotated grids are not supported")
	}
	inv, err := tf.Invert()
	if err != nil {
		return nil, err
	}

	o := &Occupancy{
		mask: make([]bool, ref.Rows()*ref.Cols()),
		rows: ref.Rows(),
		cols: ref.Cols(),
		tf:   tf,
		inv:  inv,
		crs:  ref.CRS(),
	}
	for _, f := range fs.Features {
		if f.Geom == nil || f.Geom.Empty() {
			continue
		}
		before := o.occupied
		o.burn(f.Geom)
		if o.occupied > before || o.anyHit(f.Geom) {
			o.features++
		}
	}
	return o, nil
}

// anyHit reports whether any vertex of the geometry lands on an occupied
// cell, so duplicate features still count toward FeatureCount even when
// their leading vertices fall outside the grid.
func (o *Occupancy) anyHit(t geom.T) bool {
	if gc, ok := t.(*geom.GeometryCollection); ok {
		for _, sub := range gc.Geoms() {
			if o.anyHit(sub) {
				return true
			}
		}
		return false
	}
	flat := t.FlatCoords()
	stride := t.Stride()
	if stride < 2 {
		return false
	}
	for i := 0; i+1 < len(flat); i += stride {
		if row, col, ok := o.cellOf(flat[i], flat[i+1]); ok && o.mask[row*o.cols+col] {
			return true
		}
	}
	return false
}

func (o *Occupancy) burn(t geom.T) {
	switch g := t.(type) {
	case *geom.Point:
		o.markPoint(g.X(), g.Y())
	case *geom.MultiPoint:
		for i := 0; i < g.NumPoints(); i++ {
			p := g.Point(i)
			o.markPoint(p.X(), p.Y())
		}
	case *geom.LineString:
		o.burnLine(g.FlatCoords())
	case *geom.MultiLineString:
		for i := 0; i < g.NumLineStrings(); i++ {
			o.burnLine(g.LineString(i).FlatCoords())
		}
	case *geom.Polygon:
		o.burnPolygon(polygonRings(g))
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			o.burnPolygon(polygonRings(g.Polygon(i)))
		}
	case *geom.GeometryCollection:
		for _, sub := range g.Geoms() {
			o.burn(sub)
		}
	}
}

func polygonRings(p *geom.Polygon) [][]float64 {
	rings := make([][]float64, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		rings = append(rings, p.LinearRing(i).FlatCoords())
	}
	return rings
}

func (o *Occupancy) cellOf(x, y float64) (row, col int, ok bool) {
	fc, fr := o.inv.Apply(x, y)
	col = int(math.Floor(fc))
	row = int(math.Floor(fr))
	if row < 0 || row >= o.rows || col < 0 || col >= o.cols {
		return 0, 0, false
	}
	return row, col, true
}

func (o *Occupancy) mark(row, col int) {
	if row < 0 || row >= o.rows || col < 0 || col >= o.cols {
		return
	}
	i := row*o.cols + col
	if !o.mask[i] {
		o.mask[i] = true
		o.occupied++
	}
}

func (o *Occupancy) markPoint(x, y float64) {
	if row, col, ok := o.cellOf(x, y); ok {
		o.mark(row, col)
	}
}

func (o *Occupancy) burnLine(flat []float64) {
	for i := 0; i+3 < len(flat); i += 2 {
		o.traceSegment(flat[i], flat[i+1], flat[i+2], flat[i+3])
	}
}

// traceSegment marks every cell the segment passes through using
// Amanatides-Woo grid traversal in pixel space.
func (o *Occupancy) traceSegment(x0, y0, x1, y1 float64) {
	px0, py0 := o.inv.Apply(x0, y0)
	px1, py1 := o.inv.Apply(x1, y1)

	cx := int(math.Floor(px0))
	cy := int(math.Floor(py0))
	ex := int(math.Floor(px1))
	ey := int(math.Floor(py1))

	o.mark(cy, cx)

	dx := px1 - px0
	dy := py1 - py0
	stepX, stepY := sign(dx), sign(dy)

	tMaxX, tDeltaX := boundaryCrossings(px0, dx, stepX)
	tMaxY, tDeltaY := boundaryCrossings(py0, dy, stepY)

	// Cap iterations at the maximum possible number of crossed cells.
	for iter := abs(ex-cx) + abs(ey-cy); iter > 0; iter-- {
		if tMaxX < tMaxY {
			cx += stepX
			tMaxX += tDeltaX
		} else {
			cy += stepY
			tMaxY += tDeltaY
		}
		o.mark(cy, cx)
		if cx == ex && cy == ey {
			break
		}
	}
	o.mark(ey, ex)
}

// boundaryCrossings returns the parameter t of the first pixel-boundary
// crossing along one axis and the t increment per subsequent crossing.
func boundaryCrossings(p, d float64, step int) (tMax, tDelta float64) {
	if step == 0 {
		return math.Inf(1), math.Inf(1)
	}
	cell := math.Floor(p)
	var next float64
	if step > 0 {
		next = cell + 1
	} else {
		next = cell
	}
	return (next - p) / d, math.Abs(1 / d)
}

// burnPolygon marks boundary cells by tracing each ring and interior cells
// by even-odd scanline fill at each row's center.
func (o *Occupancy) burnPolygon(rings [][]float64) {
	minRow, maxRow := o.rows, -1
	for _, rg := range rings {
		o.burnLine(rg)
		for i := 0; i+1 < len(rg); i += 2 {
			_, fr := o.inv.Apply(rg[i], rg[i+1])
			r := int(math.Floor(fr))
			if r < minRow {
				minRow = r
			}
			if r > maxRow {
				maxRow = r
			}
		}
	}
	minRow = max(minRow, 0)
	maxRow = min(maxRow, o.rows-1)

	for r := minRow; r <= maxRow; r++ {
		// World y of this row's cell centers.
		_, y := o.tf.Apply(0.5, float64(r)+0.5)
		xs := ringCrossings(rings, y)
		for i := 0; i+1 < len(xs); i += 2 {
			o.fillSpan(r, xs[i], xs[i+1])
		}
	}
}

// ringCrossings returns the sorted world-x positions where the horizontal
// line at y crosses any ring edge.
func ringCrossings(rings [][]float64, y float64) []float64 {
	var xs []float64
	for _, rg := range rings {
		n := len(rg) / 2
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			xi, yi := rg[i*2], rg[i*2+1]
			xj, yj := rg[j*2], rg[j*2+1]
			if (yi > y) != (yj > y) {
				xs = append(xs, xi+(y-yi)*(xj-xi)/(yj-yi))
			}
		}
	}
	sortFloats(xs)
	return xs
}

// fillSpan marks cells in row r whose centers lie in [xa, xb].
func (o *Occupancy) fillSpan(r int, xa, xb float64) {
	ca, _ := o.inv.Apply(xa, 0)
	cb, _ := o.inv.Apply(xb, 0)
	if ca > cb {
		ca, cb = cb, ca
	}
	lo := int(math.Ceil(ca - 0.5))
	hi := int(math.Floor(cb - 0.5))
	for c := max(lo, 0); c <= min(hi, o.cols-1); c++ {
		o.mark(r, c)
	}
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
