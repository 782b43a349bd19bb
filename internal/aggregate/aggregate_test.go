package aggregate

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swac-vis/africa-rural-atlas/internal/classify"
)

func defaultBands(t *testing.T) *classify.Bands {
	t.Helper()
	b, err := classify.NewBands(classify.DefaultBreaks)
	require.NoError(t, err)
	return b
}

// scenarioRecords is the 4x4 sign-encoded grid with one road cell at (0,0):
// an urban 2x2 block of +100 next to a rural 2x2 block of -50, everything
// else unpopulated.
func scenarioRecords(t *testing.T) []CellRecord {
	t.Helper()
	c, err := classify.NewClassifier(classify.PolicySign, 0)
	require.NoError(t, err)

	cells := []struct {
		value float64
		dist  float64
	}{
		{value: 100, dist: 0},
		{value: 100, dist: 1},
		{value: 100, dist: 1},
		{value: 100, dist: math.Sqrt2},
		{value: -50, dist: 2},
		{value: -50, dist: 3},
		{value: -50, dist: math.Sqrt(5)},
		{value: -50, dist: math.Sqrt(10)},
	}
	recs := make([]CellRecord, len(cells))
	for i, cell := range cells {
		class, pop := c.Classify(cell.value)
		recs[i] = CellRecord{Population: pop, Class: class, DistanceKM: cell.dist}
	}
	return recs
}

func buildScope(t *testing.T, scope string, recs []CellRecord) *ScopeResult {
	t.Helper()
	acc, err := NewAccumulator(scope, defaultBands(t), []float64{1, 2, 5, 10})
	require.NoError(t, err)
	acc.SetFacilityStats(1, 1)
	for _, rec := range recs {
		acc.Add(rec)
	}
	res, err := acc.Result()
	require.NoError(t, err)
	return res
}

func TestNewAccumulator_Validation(t *testing.T) {
	bands := defaultBands(t)

	tests := []struct {
		name       string
		scope      string
		thresholds []float64
		wantErr    bool
	}{
		{name: "valid", scope: "NER", thresholds: []float64{1, 5, 10}},
		{name: "empty scope", scope: "", thresholds: []float64{1}, wantErr: true},
		{name: "no thresholds", scope: "NER", thresholds: nil, wantErr: true},
		{name: "not ascending", scope: "NER", thresholds: []float64{5, 1}, wantErr: true},
		{name: "non-positive", scope: "NER", thresholds: []float64{0, 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAccumulator(tt.scope, bands, tt.thresholds)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAccumulator_SignScenario(t *testing.T) {
	res := buildScope(t, "NER", scenarioRecords(t))

	assert.Equal(t, 600.0, res.TotalPopulation)
	assert.Equal(t, 400.0, res.UrbanPopulation)
	assert.Equal(t, 200.0, res.RuralPopulation)
	assert.Equal(t, 8, res.CellCount)
	assert.Equal(t, 4, res.UrbanCells)
	assert.Equal(t, 4, res.RuralCells)
	assert.Equal(t, 1, res.FacilityCells)

	// Bands are closed on the right, so the two cells at exactly 1 km land
	// in 0-1km with the road cell itself.
	first := res.Bands[0]
	require.Equal(t, "0-1km", first.Label)
	assert.Equal(t, 300.0, first.UrbanPopulation)
	assert.Equal(t, 0.0, first.RuralPopulation)
	assert.Equal(t, 3, first.UrbanCells)

	second := res.Bands[1]
	require.Equal(t, "1-2km", second.Label)
	assert.Equal(t, 100.0, second.UrbanPopulation, "sqrt(2) falls in 1-2km")
	assert.Equal(t, 50.0, second.RuralPopulation, "the cell at exactly 2 km")

	within1 := res.Cumulative[0]
	require.Equal(t, 1.0, within1.ThresholdKM)
	assert.Equal(t, 300.0, within1.UrbanPopulation)
	assert.Equal(t, 0.0, within1.RuralPopulation)
	assert.Equal(t, 0.75, within1.UrbanShare, "300 of 400 urban within 1 km")
	assert.Equal(t, 0.0, within1.RuralShare)
	assert.Equal(t, 300.0, within1.NoAccess)
	require.NotNil(t, within1.UrbanNoAccess)
	require.NotNil(t, within1.RuralNoAccess)
	assert.Equal(t, 100.0, *within1.UrbanNoAccess)
	assert.Equal(t, 200.0, *within1.RuralNoAccess)

	// Everything is reachable within 5 km.
	within5 := res.Cumulative[2]
	require.Equal(t, 5.0, within5.ThresholdKM)
	assert.Equal(t, 600.0, within5.TotalPopulation)
	assert.Equal(t, 0.0, within5.NoAccess)
}

func TestAccumulator_BandSumsMatchTotals(t *testing.T) {
	res := buildScope(t, "NER", scenarioRecords(t))

	var urban, rural, shares float64
	for _, row := range res.Bands {
		urban += row.UrbanPopulation
		rural += row.RuralPopulation
		shares += row.UrbanShare + row.RuralShare
	}
	assert.Equal(t, res.UrbanPopulation, urban)
	assert.Equal(t, res.RuralPopulation, rural)
	assert.InDelta(t, 1.0, shares, 1e-3)
}

func TestAccumulator_CumulativeMonotone(t *testing.T) {
	res := buildScope(t, "NER", scenarioRecords(t))

	var prevURB, prevRUR float64
	for _, row := range res.Cumulative {
		assert.GreaterOrEqual(t, row.UrbanPopulation, prevURB)
		assert.GreaterOrEqual(t, row.RuralPopulation, prevRUR)
		assert.GreaterOrEqual(t, row.NoAccess, 0.0)
		prevURB, prevRUR = row.UrbanPopulation, row.RuralPopulation
	}
}

func TestAccumulator_GapAnalysis(t *testing.T) {
	res := buildScope(t, "NER", scenarioRecords(t))

	assert.Equal(t, 0.75, res.Gap.UrbanCoverage1KM)
	assert.Equal(t, 0.0, res.Gap.RuralCoverage1KM)
	assert.Equal(t, 0.75, res.Gap.CoverageGap1KM)
	assert.Equal(t, 1.0, res.Gap.UrbanCoverage5KM)
	assert.Equal(t, 1.0, res.Gap.RuralCoverage5KM)
	assert.Greater(t, res.Gap.RuralMeanDistanceKM, res.Gap.UrbanMeanDistanceKM,
		"the rural block sits farther from the road")
}

func TestAccumulator_EmptyScope(t *testing.T) {
	res := buildScope(t, "ESH", nil)

	assert.Equal(t, 0.0, res.TotalPopulation)
	assert.Equal(t, 0, res.CellCount)
	for _, row := range res.Bands {
		assert.Zero(t, row.TotalPopulation)
	}
	for _, row := range res.Cumulative {
		assert.Zero(t, row.NoAccess)
		assert.Zero(t, row.TotalShare)
	}
}

func TestRollup(t *testing.T) {
	a := buildScope(t, "NER", scenarioRecords(t))
	b := buildScope(t, "MLI", scenarioRecords(t))

	region, err := Rollup("Sahel", []*ScopeResult{a, b})
	require.NoError(t, err)

	assert.Equal(t, "Sahel", region.Region)
	assert.Equal(t, []string{"NER", "MLI"}, region.Members)
	assert.Equal(t, 1200.0, region.TotalPopulation)
	assert.Equal(t, 800.0, region.UrbanPopulation)
	assert.Equal(t, 400.0, region.RuralPopulation)

	assert.Equal(t, 600.0, region.Bands[0].UrbanPopulation)
	assert.Equal(t, 0.5, region.Bands[0].UrbanShare, "shares recomputed against regional totals")

	within1 := region.Cumulative[0]
	assert.Equal(t, 600.0, within1.UrbanPopulation)
	assert.Equal(t, 0.75, within1.UrbanShare)
	require.NotNil(t, within1.UrbanNoAccess)
	assert.Equal(t, 200.0, *within1.UrbanNoAccess)
	require.NotNil(t, within1.RuralNoAccess)
	assert.Equal(t, 400.0, *within1.RuralNoAccess)
}

func TestRollup_UnknownSplitStaysUnreported(t *testing.T) {
	a := buildScope(t, "NER", scenarioRecords(t))
	b := buildScope(t, "MLI", scenarioRecords(t))
	for i := range b.Cumulative {
		b.Cumulative[i].UrbanNoAccess = nil
		b.Cumulative[i].RuralNoAccess = nil
	}

	region, err := Rollup("Sahel", []*ScopeResult{a, b})
	require.NoError(t, err)

	for _, row := range region.Cumulative {
		assert.Nil(t, row.UrbanNoAccess, "partial splits must not be published")
		assert.Nil(t, row.RuralNoAccess)
	}
}

func TestRollup_ShapeMismatch(t *testing.T) {
	a := buildScope(t, "NER", scenarioRecords(t))

	other, err := classify.NewBands([]float64{10, 50})
	require.NoError(t, err)
	acc, err := NewAccumulator("MLI", other, []float64{1, 2, 5, 10})
	require.NoError(t, err)
	b, err := acc.Result()
	require.NoError(t, err)

	_, err = Rollup("Sahel", []*ScopeResult{a, b})
	assert.Error(t, err)

	_, err = Rollup("Sahel", nil)
	assert.Error(t, err)
}

func TestReconcile_DetectsCorruption(t *testing.T) {
	res := buildScope(t, "NER", scenarioRecords(t))
	require.NoError(t, Reconcile(res))

	res.TotalPopulation += 100
	err := Reconcile(res)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrReconciliation))
}
