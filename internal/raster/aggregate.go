package raster

import (
	"github.com/rotisserie/eris"
)

// BlockAggregate holds the coarse map layers produced by block aggregation:
// per-block population and cell counts, split at the urban density threshold.
// All four grids are congruent with each other.
type BlockAggregate struct {
	RuralPop   *Grid
	RuralCells *Grid
	UrbanPop   *Grid
	UrbanCells *Grid
}

// Aggregate reduces the grid by the given block factor, summing population
// per block split at the density threshold. Blocks that contain no valid
// cells are no-data in the population planes and zero in the count planes.
// Trailing rows and columns that do not fill a whole block are dropped.
func (g *Grid) Aggregate(factor int, threshold float64) (*BlockAggregate, error) {
	if factor <= 0 {
		return nil, eris.Errorf("raster: aggregation factor must be positive, got %d", factor)
	}
	outRows := g.rows / factor
	outCols := g.cols / factor
	if outRows == 0 || outCols == 0 {
		return nil, eris.Errorf("raster: factor %d exceeds grid size %dx%d", factor, g.rows, g.cols)
	}

	n := outRows * outCols
	ruralPop := make([]float64, n)
	ruralCells := make([]float64, n)
	urbanPop := make([]float64, n)
	urbanCells := make([]float64, n)

	for bi := 0; bi < outRows; bi++ {
		for bj := 0; bj < outCols; bj++ {
			var rp, up float64
			var rc, uc, valid int
			for r := bi * factor; r < (bi+1)*factor; r++ {
				for c := bj * factor; c < (bj+1)*factor; c++ {
					v := g.Value(r, c)
					if g.IsNoData(v) {
						continue
					}
					valid++
					if v >= threshold {
						up += v
						uc++
					} else {
						rp += v
						rc++
					}
				}
			}
			k := bi*outCols + bj
			if valid == 0 {
				ruralPop[k] = g.nodata
				urbanPop[k] = g.nodata
				continue
			}
			ruralPop[k] = rp
			ruralCells[k] = float64(rc)
			urbanPop[k] = up
			urbanCells[k] = float64(uc)
		}
	}

	tf := g.tf.Scale(float64(factor))
	out := &BlockAggregate{}
	var err error
	if out.RuralPop, err = NewFlat(ruralPop, outRows, outCols, tf, g.crs, g.nodata); err != nil {
		return nil, err
	}
	if out.RuralCells, err = NewFlat(ruralCells, outRows, outCols, tf, g.crs, g.nodata); err != nil {
		return nil, err
	}
	if out.UrbanPop, err = NewFlat(urbanPop, outRows, outCols, tf, g.crs, g.nodata); err != nil {
		return nil, err
	}
	if out.UrbanCells, err = NewFlat(urbanCells, outRows, outCols, tf, g.crs, g.nodata); err != nil {
		return nil, err
	}
	return out, nil
}
