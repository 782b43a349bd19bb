package aggregate

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/swac-vis/africa-rural-atlas/internal/classify"
)

// classStats accumulates one urban/rural series.
type classStats struct {
	bandPop   []float64
	bandCells []int
	// reachAt[i] is population first reachable at thresholds[i]; the last
	// slot collects population beyond every threshold.
	reachAt []float64
	distSum float64 // sum of distance*population for weighted means
	within1 float64
	within5 float64
	total   float64
	cells   int
}

// Accumulator folds cell records for one scope into band and cumulative
// tables. It is not safe for concurrent use; each scope worker owns its own.
type Accumulator struct {
	scope      string
	bands      *classify.Bands
	thresholds []float64
	urban      classStats
	rural      classStats

	facilityCells int
	facilityCount int
}

// NewAccumulator builds an Accumulator for one scope. Thresholds must be
// positive and strictly ascending.
func NewAccumulator(scope string, bands *classify.Bands, thresholds []float64) (*Accumulator, error) {
	if scope == "" {
		return nil, eris.New("aggregate: scope name is required")
	}
	if len(thresholds) == 0 {
		return nil, eris.New("aggregate: at least one cumulative threshold is required")
	}
	prev := 0.0
	for i, t := range thresholds {
		if t <= prev {
			return nil, eris.Errorf("aggregate: thresholds must be positive and strictly ascending, got %v at index %d", t, i)
		}
		prev = t
	}

	a := &Accumulator{
		scope:      scope,
		bands:      bands,
		thresholds: append([]float64(nil), thresholds...),
	}
	for _, s := range []*classStats{&a.urban, &a.rural} {
		s.bandPop = make([]float64, bands.Count())
		s.bandCells = make([]int, bands.Count())
		s.reachAt = make([]float64, len(thresholds)+1)
	}
	return a, nil
}

// SetFacilityStats records occupancy metadata reported alongside the result.
func (a *Accumulator) SetFacilityStats(occupiedCells, featureCount int) {
	a.facilityCells = occupiedCells
	a.facilityCount = featureCount
}

// Add folds one cell record into the running tables.
func (a *Accumulator) Add(rec CellRecord) {
	s := &a.rural
	if rec.Class == classify.ClassUrban {
		s = &a.urban
	}

	band := a.bands.Index(rec.DistanceKM)
	s.bandPop[band] += rec.Population
	s.bandCells[band]++

	// First threshold that reaches this cell; beyond-all goes to the
	// overflow slot.
	i := sort.SearchFloat64s(a.thresholds, rec.DistanceKM)
	s.reachAt[i] += rec.Population

	s.distSum += rec.DistanceKM * rec.Population
	if rec.DistanceKM <= 1 {
		s.within1 += rec.Population
	}
	if rec.DistanceKM <= 5 {
		s.within5 += rec.Population
	}
	s.total += rec.Population
	s.cells++
}

// Result assembles the scope tables and verifies the reconciliation
// invariants. Totals are derived from the band sums, so the band partition
// reconciles with the totals exactly by construction; Reconcile still
// verifies every published invariant.
func (a *Accumulator) Result() (*ScopeResult, error) {
	res := &ScopeResult{
		Scope:           a.scope,
		UrbanPopulation: sum(a.urban.bandPop),
		RuralPopulation: sum(a.rural.bandPop),
		UrbanCells:      a.urban.cells,
		RuralCells:      a.rural.cells,
		CellCount:       a.urban.cells + a.rural.cells,
		FacilityCells:   a.facilityCells,
		FacilityCount:   a.facilityCount,
	}
	res.TotalPopulation = res.UrbanPopulation + res.RuralPopulation

	res.Bands = make([]BandRow, a.bands.Count())
	for i := range res.Bands {
		row := BandRow{
			Label:           a.bands.Label(i),
			UrbanPopulation: a.urban.bandPop[i],
			RuralPopulation: a.rural.bandPop[i],
			UrbanCells:      a.urban.bandCells[i],
			RuralCells:      a.rural.bandCells[i],
		}
		row.TotalPopulation = row.UrbanPopulation + row.RuralPopulation
		row.UrbanShare = share(row.UrbanPopulation, res.TotalPopulation)
		row.RuralShare = share(row.RuralPopulation, res.TotalPopulation)
		res.Bands[i] = row
	}

	res.Cumulative = make([]ThresholdRow, len(a.thresholds))
	var urbanReach, ruralReach float64
	for i, t := range a.thresholds {
		urbanReach += a.urban.reachAt[i]
		ruralReach += a.rural.reachAt[i]
		row := ThresholdRow{
			ThresholdKM:     t,
			UrbanPopulation: urbanReach,
			RuralPopulation: ruralReach,
			TotalPopulation: urbanReach + ruralReach,
		}
		// Per-class shares are against that class's own total, so "75% of
		// the urban population lives within 1 km" reads off directly.
		row.UrbanShare = share(row.UrbanPopulation, res.UrbanPopulation)
		row.RuralShare = share(row.RuralPopulation, res.RuralPopulation)
		row.TotalShare = share(row.TotalPopulation, res.TotalPopulation)
		row.NoAccess = res.TotalPopulation - row.TotalPopulation
		row.NoAccessShare = share(row.NoAccess, res.TotalPopulation)
		// Both per-class totals are known within a scope, so the split is
		// reported here; rollups may lose it.
		row.UrbanNoAccess = ptr(res.UrbanPopulation - row.UrbanPopulation)
		row.RuralNoAccess = ptr(res.RuralPopulation - row.RuralPopulation)
		res.Cumulative[i] = row
	}

	res.Gap = GapAnalysis{
		UrbanMeanDistanceKM: share(a.urban.distSum, res.UrbanPopulation),
		RuralMeanDistanceKM: share(a.rural.distSum, res.RuralPopulation),
		UrbanCoverage1KM:    share(a.urban.within1, res.UrbanPopulation),
		RuralCoverage1KM:    share(a.rural.within1, res.RuralPopulation),
		UrbanCoverage5KM:    share(a.urban.within5, res.UrbanPopulation),
		RuralCoverage5KM:    share(a.rural.within5, res.RuralPopulation),
	}
	res.Gap.MeanDistanceGapKM = res.Gap.RuralMeanDistanceKM - res.Gap.UrbanMeanDistanceKM
	res.Gap.CoverageGap1KM = res.Gap.UrbanCoverage1KM - res.Gap.RuralCoverage1KM
	res.Gap.CoverageGap5KM = res.Gap.UrbanCoverage5KM - res.Gap.RuralCoverage5KM

	if err := Reconcile(res); err != nil {
		return nil, err
	}
	return res, nil
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}

// share returns num/den, or 0 for an empty denominator.
func share(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func ptr(v float64) *float64 { return &v }
