package aggregate

import (
	"math"

	"github.com/rotisserie/eris"
)

// shareTolerance bounds the floating-point slack allowed when a complete
// partition's shares are summed.
const shareTolerance = 1e-3

// sumTolerance bounds accumulated floating-point error when comparing
// population sums that are exact in real arithmetic.
const sumTolerance = 1e-6

// Reconcile verifies the aggregate invariants of a scope result:
//
//   - band-table population sums equal the scope totals
//   - urban + rural equals the combined total
//   - complete-partition shares sum to 1 (populated scopes only)
//   - cumulative series are non-decreasing in the threshold
//   - no-access residuals are non-negative
//
// A violation is a logic defect, reported as ErrReconciliation.
func Reconcile(res *ScopeResult) error {
	return reconcileTables(res.Scope,
		res.TotalPopulation, res.UrbanPopulation, res.RuralPopulation,
		res.Bands, res.Cumulative)
}

// ReconcileRegion applies the same invariants to a rolled-up region result.
func ReconcileRegion(res *RegionResult) error {
	return reconcileTables(res.Region,
		res.TotalPopulation, res.UrbanPopulation, res.RuralPopulation,
		res.Bands, res.Cumulative)
}

func reconcileTables(name string, total, urban, rural float64, bands []BandRow, cum []ThresholdRow) error {
	var bandUrban, bandRural, bandShares float64
	for _, row := range bands {
		bandUrban += row.UrbanPopulation
		bandRural += row.RuralPopulation
		bandShares += row.UrbanShare + row.RuralShare
	}
	if !closeTo(bandUrban, urban) || !closeTo(bandRural, rural) {
		return eris.Wrapf(ErrReconciliation,
			"aggregate: %s band sums (urban %g, rural %g) do not match totals (urban %g, rural %g)",
			name, bandUrban, bandRural, urban, rural)
	}
	if !closeTo(urban+rural, total) {
		return eris.Wrapf(ErrReconciliation,
			"aggregate: %s urban %g + rural %g does not equal total %g",
			name, urban, rural, total)
	}
	if total > 0 && math.Abs(bandShares-1) > shareTolerance {
		return eris.Wrapf(ErrReconciliation,
			"aggregate: %s band shares sum to %g, want 1", name, bandShares)
	}

	var prevURB, prevRUR float64
	for _, row := range cum {
		if row.UrbanPopulation < prevURB-sumTolerance || row.RuralPopulation < prevRUR-sumTolerance {
			return eris.Wrapf(ErrReconciliation,
				"aggregate: %s cumulative series decreases at %g km", name, row.ThresholdKM)
		}
		prevURB, prevRUR = row.UrbanPopulation, row.RuralPopulation

		if row.NoAccess < -sumTolerance {
			return eris.Wrapf(ErrReconciliation,
				"aggregate: %s negative no-access %g at %g km", name, row.NoAccess, row.ThresholdKM)
		}
		if !closeTo(row.NoAccess, total-row.TotalPopulation) {
			return eris.Wrapf(ErrReconciliation,
				"aggregate: %s no-access %g does not equal total %g minus reachable %g at %g km",
				name, row.NoAccess, total, row.TotalPopulation, row.ThresholdKM)
		}
	}
	return nil
}

// closeTo compares sums that should be exact, allowing only accumulated
// floating-point error relative to the magnitudes involved.
func closeTo(a, b float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		scale = 1
	}
	return math.Abs(a-b) <= sumTolerance*scale
}
