package aggregate

import (
	"github.com/rotisserie/eris"
)

// Rollup sums member scope results into one region result. All members must
// share the same band labels and cumulative thresholds; shares are recomputed
// against the regional totals rather than summed.
//
// The urban/rural no-access split is carried through only when every member
// reports it. Otherwise the split stays nil, so a partially known breakdown
// is never published as zero.
func Rollup(region string, members []*ScopeResult) (*RegionResult, error) {
	if region == "" {
		return nil, eris.New("aggregate: region name is required")
	}
	if len(members) == 0 {
		return nil, eris.Errorf("aggregate: region %s has no member results", region)
	}
	first := members[0]
	for _, m := range members[1:] {
		if err := sameShape(first, m); err != nil {
			return nil, eris.Wrapf(err, "aggregate: region %s", region)
		}
	}

	res := &RegionResult{
		Region:     region,
		Members:    make([]string, len(members)),
		Bands:      make([]BandRow, len(first.Bands)),
		Cumulative: make([]ThresholdRow, len(first.Cumulative)),
	}
	for i := range res.Bands {
		res.Bands[i].Label = first.Bands[i].Label
	}
	splitKnown := make([]bool, len(first.Cumulative))
	for i, row := range first.Cumulative {
		res.Cumulative[i].ThresholdKM = row.ThresholdKM
		splitKnown[i] = true
	}

	for i, m := range members {
		res.Members[i] = m.Scope
		res.TotalPopulation += m.TotalPopulation
		res.UrbanPopulation += m.UrbanPopulation
		res.RuralPopulation += m.RuralPopulation

		for j, row := range m.Bands {
			dst := &res.Bands[j]
			dst.UrbanPopulation += row.UrbanPopulation
			dst.RuralPopulation += row.RuralPopulation
			dst.TotalPopulation += row.TotalPopulation
			dst.UrbanCells += row.UrbanCells
			dst.RuralCells += row.RuralCells
		}
		for j, row := range m.Cumulative {
			dst := &res.Cumulative[j]
			dst.UrbanPopulation += row.UrbanPopulation
			dst.RuralPopulation += row.RuralPopulation
			dst.TotalPopulation += row.TotalPopulation
			if row.UrbanNoAccess == nil || row.RuralNoAccess == nil {
				splitKnown[j] = false
			}
		}
	}

	for i := range res.Bands {
		row := &res.Bands[i]
		row.UrbanShare = share(row.UrbanPopulation, res.TotalPopulation)
		row.RuralShare = share(row.RuralPopulation, res.TotalPopulation)
	}
	for i := range res.Cumulative {
		row := &res.Cumulative[i]
		row.UrbanShare = share(row.UrbanPopulation, res.UrbanPopulation)
		row.RuralShare = share(row.RuralPopulation, res.RuralPopulation)
		row.TotalShare = share(row.TotalPopulation, res.TotalPopulation)
		row.NoAccess = res.TotalPopulation - row.TotalPopulation
		row.NoAccessShare = share(row.NoAccess, res.TotalPopulation)
		if splitKnown[i] {
			var urb, rur float64
			for _, m := range members {
				urb += *m.Cumulative[i].UrbanNoAccess
				rur += *m.Cumulative[i].RuralNoAccess
			}
			row.UrbanNoAccess = ptr(urb)
			row.RuralNoAccess = ptr(rur)
		}
	}

	if err := ReconcileRegion(res); err != nil {
		return nil, err
	}
	return res, nil
}

// sameShape reports whether two scope results were produced under the same
// band and threshold configuration. Mixing configurations in one rollup would
// sum populations across unrelated intervals.
func sameShape(a, b *ScopeResult) error {
	if len(a.Bands) != len(b.Bands) {
		return eris.Errorf("member %s has %d bands, member %s has %d", a.Scope, len(a.Bands), b.Scope, len(b.Bands))
	}
	for i := range a.Bands {
		if a.Bands[i].Label != b.Bands[i].Label {
			return eris.Errorf("band %d label mismatch between %s (%s) and %s (%s)",
				i, a.Scope, a.Bands[i].Label, b.Scope, b.Bands[i].Label)
		}
	}
	if len(a.Cumulative) != len(b.Cumulative) {
		return eris.Errorf("member %s has %d thresholds, member %s has %d", a.Scope, len(a.Cumulative), b.Scope, len(b.Cumulative))
	}
	for i := range a.Cumulative {
		if a.Cumulative[i].ThresholdKM != b.Cumulative[i].ThresholdKM {
			return eris.Errorf("threshold %d mismatch between %s (%g km) and %s (%g km)",
				i, a.Scope, a.Cumulative[i].ThresholdKM, b.Scope, b.Cumulative[i].ThresholdKM)
		}
	}
	return nil
}
