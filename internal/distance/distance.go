// Package distance computes exact Euclidean distance fields over occupancy
// grids using the Felzenszwalb-Huttenlocher transform, generalized to
// anisotropic cell sizes.
package distance

import (
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/swac-vis/africa-rural-atlas/internal/rasterize"
)

// ErrNoReferenceFeatures indicates an occupancy grid with no occupied cells.
// Every distance would be infinite, so the scope must be skipped and flagged
// rather than silently producing a degenerate field.
var ErrNoReferenceFeatures = eris.New("distance: occupancy grid has no occupied cells")

// unreachable is a finite stand-in for +inf squared distance. Keeping it
// finite avoids NaN in the parabola intersection arithmetic; it dwarfs any
// real squared distance on a continental grid.
const unreachable = 1e30

// Field is a grid of distances from each cell center to the nearest occupied
// cell, in the physical units of the cell sizes passed to Transform.
type Field struct {
	d          []float64
	rows, cols int
}

// Rows returns the number of grid rows.
func (f *Field) Rows() int { return f.rows }

// Cols returns the number of grid columns.
func (f *Field) Cols() int { return f.cols }

// At returns the distance at cell (row, col).
func (f *Field) At(row, col int) float64 { return f.d[row*f.cols+col] }

// Transform computes the distance field for occ. cellX and cellY are the
// physical cell extents (e.g. kilometers) along the two axes; they may
// differ. Occupied cells have distance zero. Fails with
// ErrNoReferenceFeatures when occ is empty.
func Transform(occ *rasterize.Occupancy, cellX, cellY float64) (*Field, error) {
	if occ.Empty() {
		return nil, eris.Wrap(ErrNoReferenceFeatures, "distance: cannot measure against empty reference set")
	}
	if cellX <= 0 || cellY <= 0 {
		return nil, eris.Errorf("distance: cell sizes must be positive, got (%g, %g)", cellX, cellY)
	}

	rows, cols := occ.Rows(), occ.Cols()
	sq := make([]float64, rows*cols)

	// Pass 1: per-column 1D squared distances along rows.
	parallel(cols, func(c int) {
		f := make([]float64, rows)
		for r := 0; r < rows; r++ {
			if occ.Occupied(r, c) {
				f[r] = 0
			} else {
				f[r] = unreachable
			}
		}
		out := dt1d(f, cellY)
		for r := 0; r < rows; r++ {
			sq[r*cols+c] = out[r]
		}
	})

	// Pass 2: per-row 1D transform along columns over the pass-1 results.
	parallel(rows, func(r int) {
		row := sq[r*cols : (r+1)*cols]
		copy(row, dt1d(row, cellX))
	})

	d := make([]float64, rows*cols)
	for i, v := range sq {
		d[i] = math.Sqrt(v)
	}
	return &Field{d: d, rows: rows, cols: cols}, nil
}

// dt1d is the one-dimensional squared-distance transform of sampled function
// f, with samples spaced `spacing` apart: the lower envelope of parabolas
// (Felzenszwalb & Huttenlocher 2012). Anisotropy enters through the sample
// positions i*spacing.
func dt1d(f []float64, spacing float64) []float64 {
	n := len(f)
	out := make([]float64, n)
	v := make([]int, n)       // indices of parabolas in the lower envelope
	z := make([]float64, n+1) // boundaries between envelope segments

	pos := func(i int) float64 { return float64(i) * spacing }
	intersect := func(p, q int) float64 {
		return ((f[q] + pos(q)*pos(q)) - (f[p] + pos(p)*pos(p))) / (2 * (pos(q) - pos(p)))
	}

	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		s := intersect(v[k], q)
		for s <= z[k] {
			k--
			s = intersect(v[k], q)
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < pos(q) {
			k++
		}
		p := v[k]
		dx := pos(q) - pos(p)
		out[q] = dx*dx + f[p]
	}
	return out
}

// parallel runs fn for each index in [0, n) across GOMAXPROCS workers.
func parallel(n int, fn func(i int)) {
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait() // fn never returns an error
}
