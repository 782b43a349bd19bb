// Package raster provides the gridded population data model: a 2D scalar
// raster with an affine pixel-to-world transform, a coordinate reference
// identity, and a no-data sentinel.
package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Sentinel errors for raster loading and masking.
var (
	// ErrFormat indicates a source that cannot be parsed as a single-band raster.
	ErrFormat = eris.New("raster: malformed source")
	// ErrCRS indicates a raster with no determinable coordinate reference.
	ErrCRS = eris.New("raster: missing coordinate reference")
	// ErrNoOverlap indicates a mask polygon that does not intersect the grid extent.
	ErrNoOverlap = eris.New("raster: polygon does not overlap grid extent")
)

// Affine maps pixel space to world space:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// Pixel (0,0) is the top-left corner of the top-left cell, so cell centers
// sit at half-pixel offsets.
type Affine struct {
	A, B, C, D, E, F float64
}

// NewGeoTransform builds a north-up affine from an origin (top-left corner)
// and signed cell sizes. dy is negative for north-up rasters.
func NewGeoTransform(x0, y0, dx, dy float64) Affine {
	return Affine{A: dx, B: 0, C: x0, D: 0, E: dy, F: y0}
}

// Apply maps fractional pixel coordinates to world coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert returns the world-to-pixel inverse of t. Fails when the transform
// is degenerate (zero determinant).
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, eris.Wrap(ErrFormat, "raster: affine transform is not invertible")
	}
	inv := Affine{
		A: t.E / det,
		B: -t.B / det,
		D: -t.D / det,
		E: t.A / det,
	}
	inv.C = -(inv.A*t.C + inv.B*t.F)
	inv.F = -(inv.D*t.C + inv.E*t.F)
	return inv, nil
}

// Scale returns the transform for a grid whose cells are factor times larger
// in both axes, keeping the same origin.
func (t Affine) Scale(factor float64) Affine {
	return Affine{
		A: t.A * factor, B: t.B * factor, C: t.C,
		D: t.D * factor, E: t.E * factor, F: t.F,
	}
}

// Grid is an immutable single-band raster. Cell values are either finite
// numbers or the no-data sentinel.
type Grid struct {
	data       []float64 // row-major
	rows, cols int
	tf, inv    Affine
	crs        string
	nodata     float64
}

// New constructs a Grid from row-major 2D data. All rows must have equal
// length and every value must be finite or equal to the no-data sentinel.
func New(data [][]float64, tf Affine, crs string, nodata float64) (*Grid, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, eris.Wrap(ErrFormat, "raster: empty grid")
	}
	cols := len(data[0])
	flat := make([]float64, 0, len(data)*cols)
	for i, row := range data {
		if len(row) != cols {
			return nil, eris.Wrapf(ErrFormat, "raster: ragged row %d (%d values, want %d)", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return NewFlat(flat, len(data), cols, tf, crs, nodata)
}

// NewFlat constructs a Grid from a row-major flat slice. The slice is owned
// by the Grid after the call.
func NewFlat(data []float64, rows, cols int, tf Affine, crs string, nodata float64) (*Grid, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, eris.Wrapf(ErrFormat, "raster: data length %d does not match %dx%d", len(data), rows, cols)
	}
	if crs == "" {
		return nil, eris.Wrap(ErrCRS, "raster: empty CRS identifier")
	}
	inv, err := tf.Invert()
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		if isNoData(v, nodata) {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.Wrapf(ErrFormat, "raster: non-finite value at index %d", i)
		}
	}
	return &Grid{data: data, rows: rows, cols: cols, tf: tf, inv: inv, crs: crs, nodata: nodata}, nil
}

func isNoData(v, nodata float64) bool {
	if math.IsNaN(nodata) {
		return math.IsNaN(v)
	}
	return v == nodata
}

// Rows returns the number of grid rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of grid columns.
func (g *Grid) Cols() int { return g.cols }

// CRS returns the coordinate reference identifier, e.g. "EPSG:4326".
func (g *Grid) CRS() string { return g.crs }

// NoData returns the no-data sentinel value.
func (g *Grid) NoData() float64 { return g.nodata }

// Transform returns the pixel-to-world affine.
func (g *Grid) Transform() Affine { return g.tf }

// Value returns the cell value at (row, col). Panics when out of range,
// matching slice indexing semantics.
func (g *Grid) Value(row, col int) float64 {
	return g.data[row*g.cols+col]
}

// IsNoData reports whether v equals the grid's no-data sentinel.
func (g *Grid) IsNoData(v float64) bool { return isNoData(v, g.nodata) }

// CellOf resolves world coordinates to the containing cell. ok is false when
// the point falls outside the grid extent.
func (g *Grid) CellOf(x, y float64) (row, col int, ok bool) {
	fc, fr := g.inv.Apply(x, y)
	col = int(math.Floor(fc))
	row = int(math.Floor(fr))
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return 0, 0, false
	}
	return row, col, true
}

// CoordOf returns the world coordinates of the center of cell (row, col).
func (g *Grid) CoordOf(row, col int) (x, y float64) {
	return g.tf.Apply(float64(col)+0.5, float64(row)+0.5)
}

// CellSize returns the absolute cell extent along x and y in world units.
func (g *Grid) CellSize() (sx, sy float64) {
	sx = math.Hypot(g.tf.A, g.tf.D)
	sy = math.Hypot(g.tf.B, g.tf.E)
	return sx, sy
}

// Bounds returns the grid extent in world coordinates.
func (g *Grid) Bounds() (minX, minY, maxX, maxY float64) {
	corners := [4][2]float64{{0, 0}, {float64(g.cols), 0}, {0, float64(g.rows)}, {float64(g.cols), float64(g.rows)}}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y := g.tf.Apply(c[0], c[1])
		minX, minY = math.Min(minX, x), math.Min(minY, y)
		maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}

// Congruent reports whether o has the same shape, transform, and CRS as g.
func (g *Grid) Congruent(o *Grid) bool {
	return g.rows == o.rows && g.cols == o.cols && g.tf == o.tf && g.crs == o.crs
}
