package pipeline

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/classify"
	"github.com/swac-vis/africa-rural-atlas/internal/distance"
	"github.com/swac-vis/africa-rural-atlas/internal/raster"
	"github.com/swac-vis/africa-rural-atlas/internal/rasterize"
)

// RunScope executes the analysis for one scope in strict phase order: mask,
// rasterize, distance, classify and bin, aggregate. Each phase consumes the
// completed output of its predecessor.
func (r *Runner) RunScope(ctx context.Context, in *ScopeInput) (*aggregate.ScopeResult, error) {
	if in == nil || in.Scope == "" {
		return nil, eris.New("pipeline: scope input is required")
	}
	if in.Population == nil {
		return nil, eris.Errorf("pipeline: %s has no population grid", in.Scope)
	}
	if in.Features == nil {
		return nil, eris.Errorf("pipeline: %s has no feature set", in.Scope)
	}
	log := zap.L().With(zap.String("scope", in.Scope))

	pop := in.Population
	if in.Boundary != nil {
		start := time.Now()
		masked, err := pop.Mask(in.Boundary)
		if err != nil {
			if eris.Is(err, raster.ErrNoOverlap) {
				// The boundary lies entirely outside the raster: the scope
				// has no analyzable cells, which is a valid empty result,
				// not a failure.
				log.Warn("pipeline: boundary does not overlap raster, reporting empty scope")
				return r.emptyResult(in.Scope)
			}
			return nil, eris.Wrapf(err, "pipeline: %s mask", in.Scope)
		}
		log.Info("pipeline: masked to boundary",
			zap.Int("rows", masked.Rows()),
			zap.Int("cols", masked.Cols()),
			zap.Duration("took", time.Since(start)),
		)
		pop = masked
	}

	if r.cfg.DropModeValue {
		cleaned, mode, dropped := dropModeValue(pop)
		if dropped > 0 {
			log.Info("pipeline: dropped most frequent raster value",
				zap.Float64("value", mode),
				zap.Int("cells", dropped),
			)
			pop = cleaned
		}
	}

	// With a block factor above one the population is coarsened before any
	// later phase, preserving the urban/rural split per block.
	var blocks *raster.BlockAggregate
	ref := pop
	if r.cfg.BlockFactor > 1 {
		var err error
		blocks, err = pop.Aggregate(r.cfg.BlockFactor, r.splitValue())
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: %s block aggregation", in.Scope)
		}
		ref = blocks.UrbanPop
		log.Info("pipeline: coarsened population",
			zap.Int("factor", r.cfg.BlockFactor),
			zap.Int("rows", ref.Rows()),
			zap.Int("cols", ref.Cols()),
		)
	}

	features := in.Features
	if r.cfg.ClassField != "" {
		features = features.Filter(r.cfg.ClassField, r.cfg.ClassFilter)
		log.Debug("pipeline: filtered features",
			zap.String("field", r.cfg.ClassField),
			zap.Strings("classes", r.cfg.ClassFilter),
			zap.Int("kept", len(features.Features)),
		)
	}

	start := time.Now()
	occ, err := rasterize.Rasterize(features, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s rasterize", in.Scope)
	}
	log.Info("pipeline: rasterized features",
		zap.Int("features", occ.FeatureCount()),
		zap.Int("occupied_cells", occ.OccupiedCells()),
		zap.Duration("took", time.Since(start)),
	)

	cellX, cellY := r.cellSizeKM(ref)
	start = time.Now()
	field, err := distance.Transform(occ, cellX, cellY)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s distance", in.Scope)
	}
	log.Info("pipeline: distance transform complete",
		zap.Float64("cell_x_km", cellX),
		zap.Float64("cell_y_km", cellY),
		zap.Duration("took", time.Since(start)),
	)

	acc, err := aggregate.NewAccumulator(in.Scope, r.bands, r.cfg.CumulativeThresholds)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s accumulator", in.Scope)
	}
	acc.SetFacilityStats(occ.OccupiedCells(), occ.FeatureCount())

	start = time.Now()
	if blocks != nil {
		err = accumulateBlocks(ctx, acc, blocks, field)
	} else {
		err = r.accumulateCells(ctx, acc, pop, field)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s classify", in.Scope)
	}

	res, err := acc.Result()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s aggregate", in.Scope)
	}
	log.Info("pipeline: scope complete",
		zap.Float64("population", res.TotalPopulation),
		zap.Int("cells", res.CellCount),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// accumulateCells folds every populated, valid cell into the accumulator.
func (r *Runner) accumulateCells(ctx context.Context, acc *aggregate.Accumulator, pop *raster.Grid, field *distance.Field) error {
	for row := 0; row < pop.Rows(); row++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: canceled")
		}
		for col := 0; col < pop.Cols(); col++ {
			v := pop.Value(row, col)
			if pop.IsNoData(v) || v == 0 {
				continue
			}
			class, population := r.classifier.Classify(v)
			acc.Add(aggregate.CellRecord{
				Population: population,
				Class:      class,
				DistanceKM: field.At(row, col),
			})
		}
	}
	return nil
}

// accumulateBlocks folds the coarsened planes: the split was already applied
// during aggregation, so each block contributes up to one record per class.
func accumulateBlocks(ctx context.Context, acc *aggregate.Accumulator, blocks *raster.BlockAggregate, field *distance.Field) error {
	urban, rural := blocks.UrbanPop, blocks.RuralPop
	for row := 0; row < urban.Rows(); row++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: canceled")
		}
		for col := 0; col < urban.Cols(); col++ {
			if u := urban.Value(row, col); !urban.IsNoData(u) && u != 0 {
				acc.Add(aggregate.CellRecord{
					Population: math.Abs(u),
					Class:      classify.ClassUrban,
					DistanceKM: field.At(row, col),
				})
			}
			if v := rural.Value(row, col); !rural.IsNoData(v) && v != 0 {
				acc.Add(aggregate.CellRecord{
					Population: math.Abs(v),
					Class:      classify.ClassRural,
					DistanceKM: field.At(row, col),
				})
			}
		}
	}
	return nil
}

// splitValue is the block-aggregation split point: the density threshold for
// unsigned rasters, zero for sign-encoded ones.
func (r *Runner) splitValue() float64 {
	if r.classifier.Policy() == classify.PolicyThreshold {
		return r.cfg.DensityThreshold
	}
	return 0
}

// cellSizeKM converts the grid's cell sizes to kilometers: geographic grids
// by the configured degree length, projected grids assuming meter units.
func (r *Runner) cellSizeKM(g *raster.Grid) (x, y float64) {
	sx, sy := g.CellSize()
	if isGeographic(g.CRS()) {
		return sx * r.cfg.KmPerDegree, sy * r.cfg.KmPerDegree
	}
	return sx / 1000, sy / 1000
}

func isGeographic(crs string) bool {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "EPSG:4326", "WGS84", "CRS:84", "OGC:CRS84":
		return true
	}
	return false
}

// dropModeValue blanks the most frequent valid value, for rasters whose
// fill value is undeclared. Values occurring once, and zeros, never count
// as a fill value.
func dropModeValue(g *raster.Grid) (*raster.Grid, float64, int) {
	counts := make(map[float64]int)
	for row := 0; row < g.Rows(); row++ {
		for col := 0; col < g.Cols(); col++ {
			v := g.Value(row, col)
			if g.IsNoData(v) || v == 0 {
				continue
			}
			counts[v]++
		}
	}
	var mode float64
	best := 0
	for v, n := range counts {
		if n > best || (n == best && v < mode) {
			mode, best = v, n
		}
	}
	if best < 2 {
		return g, 0, 0
	}

	data := make([]float64, g.Rows()*g.Cols())
	for row := 0; row < g.Rows(); row++ {
		for col := 0; col < g.Cols(); col++ {
			v := g.Value(row, col)
			if !g.IsNoData(v) && v == mode {
				v = g.NoData()
			}
			data[row*g.Cols()+col] = v
		}
	}
	cleaned, err := raster.NewFlat(data, g.Rows(), g.Cols(), g.Transform(), g.CRS(), g.NoData())
	if err != nil {
		// The source grid already passed validation, so a rebuild cannot
		// fail; fall back to the original rather than dropping the scope.
		return g, 0, 0
	}
	return cleaned, mode, best
}

// emptyResult builds the zero-coverage result for a scope with no
// analyzable cells.
func (r *Runner) emptyResult(scope string) (*aggregate.ScopeResult, error) {
	acc, err := aggregate.NewAccumulator(scope, r.bands, r.cfg.CumulativeThresholds)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s accumulator", scope)
	}
	return acc.Result()
}
