package export

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
)

// writeXLSX produces one workbook with a summary sheet plus band and
// cumulative sheets for scopes and, when present, regions.
func (w *Writer) writeXLSX(name string, b *Bundle) ([]string, error) {
	f := xlsx.NewFile()

	if err := addScopeSheet(f, b.Scopes); err != nil {
		return nil, err
	}
	if err := addBandSheet(f, "Bands", scopeBands(b.Scopes)); err != nil {
		return nil, err
	}
	if err := addThresholdSheet(f, "Cumulative", scopeThresholds(b.Scopes)); err != nil {
		return nil, err
	}
	if len(b.Regions) > 0 {
		var bands []bandCSVRow
		var cumulative []thresholdCSVRow
		for _, res := range b.Regions {
			bands = append(bands, bandRows(res.Region, res.Bands)...)
			cumulative = append(cumulative, thresholdRows(res.Region, res.Cumulative)...)
		}
		if err := addBandSheet(f, "Region Bands", bands); err != nil {
			return nil, err
		}
		if err := addThresholdSheet(f, "Region Cumulative", cumulative); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(w.dir, name+".xlsx")
	if err := f.Save(path); err != nil {
		return nil, eris.Wrapf(err, "export: write %s", path)
	}
	return []string{path}, nil
}

func scopeBands(scopes []aggregate.ScopeResult) []bandCSVRow {
	var out []bandCSVRow
	for _, res := range scopes {
		out = append(out, bandRows(res.Scope, res.Bands)...)
	}
	return out
}

func scopeThresholds(scopes []aggregate.ScopeResult) []thresholdCSVRow {
	var out []thresholdCSVRow
	for _, res := range scopes {
		out = append(out, thresholdRows(res.Scope, res.Cumulative)...)
	}
	return out
}

func addScopeSheet(f *xlsx.File, scopes []aggregate.ScopeResult) error {
	sheet, err := f.AddSheet("Scopes")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range []string{
		"scope", "population", "urban_population", "rural_population",
		"cell_count", "facility_count",
		"urban_mean_distance_km", "rural_mean_distance_km", "mean_distance_gap_km",
	} {
		header.AddCell().SetString(h)
	}
	for _, res := range scopes {
		row := sheet.AddRow()
		row.AddCell().SetString(res.Scope)
		row.AddCell().SetFloat(res.TotalPopulation)
		row.AddCell().SetFloat(res.UrbanPopulation)
		row.AddCell().SetFloat(res.RuralPopulation)
		row.AddCell().SetInt(res.CellCount)
		row.AddCell().SetInt(res.FacilityCount)
		row.AddCell().SetFloat(res.Gap.UrbanMeanDistanceKM)
		row.AddCell().SetFloat(res.Gap.RuralMeanDistanceKM)
		row.AddCell().SetFloat(res.Gap.MeanDistanceGapKM)
	}
	return nil
}

func addBandSheet(f *xlsx.File, name string, rows []bandCSVRow) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range []string{
		"scope", "band", "urban_population", "rural_population",
		"total_population", "urban_share", "rural_share",
	} {
		header.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Scope)
		row.AddCell().SetString(r.Band)
		row.AddCell().SetFloat(r.UrbanPopulation)
		row.AddCell().SetFloat(r.RuralPopulation)
		row.AddCell().SetFloat(r.TotalPopulation)
		row.AddCell().SetFloat(r.UrbanShare)
		row.AddCell().SetFloat(r.RuralShare)
	}
	return nil
}

func addThresholdSheet(f *xlsx.File, name string, rows []thresholdCSVRow) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range []string{
		"scope", "threshold_km", "urban_population", "rural_population",
		"total_with_access", "urban_share", "rural_share",
		"total_no_access", "urban_no_access", "rural_no_access",
	} {
		header.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Scope)
		row.AddCell().SetFloat(r.ThresholdKM)
		row.AddCell().SetFloat(r.UrbanPopulation)
		row.AddCell().SetFloat(r.RuralPopulation)
		row.AddCell().SetFloat(r.TotalPopulation)
		row.AddCell().SetFloat(r.UrbanShare)
		row.AddCell().SetFloat(r.RuralShare)
		row.AddCell().SetFloat(r.NoAccess)
		// Unknown splits stay blank rather than reading as zero.
		if r.UrbanNoAccess != nil {
			row.AddCell().SetFloat(*r.UrbanNoAccess)
		} else {
			row.AddCell()
		}
		if r.RuralNoAccess != nil {
			row.AddCell().SetFloat(*r.RuralNoAccess)
		} else {
			row.AddCell()
		}
	}
	return nil
}
