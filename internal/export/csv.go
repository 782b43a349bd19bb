package export

import (
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
)

// scopeCSVRow is the per-scope summary line, gap metrics included.
type scopeCSVRow struct {
	Scope               string  `csv:"scope"`
	TotalPopulation     float64 `csv:"population"`
	UrbanPopulation     float64 `csv:"urban_population"`
	RuralPopulation     float64 `csv:"rural_population"`
	CellCount           int     `csv:"cell_count"`
	FacilityCount       int     `csv:"facility_count"`
	UrbanMeanDistanceKM float64 `csv:"urban_mean_distance_km"`
	RuralMeanDistanceKM float64 `csv:"rural_mean_distance_km"`
	MeanDistanceGapKM   float64 `csv:"mean_distance_gap_km"`
}

// bandCSVRow flattens one distance band of one scope or region.
type bandCSVRow struct {
	Scope           string  `csv:"scope"`
	Band            string  `csv:"band"`
	UrbanPopulation float64 `csv:"urban_population"`
	RuralPopulation float64 `csv:"rural_population"`
	TotalPopulation float64 `csv:"total_population"`
	UrbanShare      float64 `csv:"urban_share"`
	RuralShare      float64 `csv:"rural_share"`
}

// thresholdCSVRow flattens one cumulative threshold of one scope or region.
// The no-access split columns stay empty when the split is not known.
type thresholdCSVRow struct {
	Scope           string   `csv:"scope"`
	ThresholdKM     float64  `csv:"threshold_km"`
	UrbanPopulation float64  `csv:"urban_population"`
	RuralPopulation float64  `csv:"rural_population"`
	TotalPopulation float64  `csv:"total_with_access"`
	UrbanShare      float64  `csv:"urban_share"`
	RuralShare      float64  `csv:"rural_share"`
	NoAccess        float64  `csv:"total_no_access"`
	UrbanNoAccess   *float64 `csv:"urban_no_access"`
	RuralNoAccess   *float64 `csv:"rural_no_access"`
}

func (w *Writer) writeCSV(name string, b *Bundle) ([]string, error) {
	var paths []string

	scopes := make([]scopeCSVRow, len(b.Scopes))
	var bands []bandCSVRow
	var cumulative []thresholdCSVRow
	for i, res := range b.Scopes {
		scopes[i] = scopeCSVRow{
			Scope:               res.Scope,
			TotalPopulation:     res.TotalPopulation,
			UrbanPopulation:     res.UrbanPopulation,
			RuralPopulation:     res.RuralPopulation,
			CellCount:           res.CellCount,
			FacilityCount:       res.FacilityCount,
			UrbanMeanDistanceKM: res.Gap.UrbanMeanDistanceKM,
			RuralMeanDistanceKM: res.Gap.RuralMeanDistanceKM,
			MeanDistanceGapKM:   res.Gap.MeanDistanceGapKM,
		}
		bands = append(bands, bandRows(res.Scope, res.Bands)...)
		cumulative = append(cumulative, thresholdRows(res.Scope, res.Cumulative)...)
	}

	var regionBands []bandCSVRow
	var regionCumulative []thresholdCSVRow
	for _, res := range b.Regions {
		regionBands = append(regionBands, bandRows(res.Region, res.Bands)...)
		regionCumulative = append(regionCumulative, thresholdRows(res.Region, res.Cumulative)...)
	}

	tables := []struct {
		suffix string
		rows   any
		skip   bool
	}{
		{"_scopes.csv", scopes, false},
		{"_bands.csv", bands, false},
		{"_cumulative.csv", cumulative, false},
		{"_region_bands.csv", regionBands, len(regionBands) == 0},
		{"_region_cumulative.csv", regionCumulative, len(regionCumulative) == 0},
	}
	for _, tbl := range tables {
		if tbl.skip {
			continue
		}
		path := filepath.Join(w.dir, name+tbl.suffix)
		raw, err := csvutil.Marshal(tbl.rows)
		if err != nil {
			return nil, eris.Wrapf(err, "export: marshal %s", tbl.suffix)
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return nil, eris.Wrapf(err, "export: write %s", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func bandRows(scope string, rows []aggregate.BandRow) []bandCSVRow {
	out := make([]bandCSVRow, len(rows))
	for i, r := range rows {
		out[i] = bandCSVRow{
			Scope:           scope,
			Band:            r.Label,
			UrbanPopulation: r.UrbanPopulation,
			RuralPopulation: r.RuralPopulation,
			TotalPopulation: r.TotalPopulation,
			UrbanShare:      r.UrbanShare,
			RuralShare:      r.RuralShare,
		}
	}
	return out
}

func thresholdRows(scope string, rows []aggregate.ThresholdRow) []thresholdCSVRow {
	out := make([]thresholdCSVRow, len(rows))
	for i, r := range rows {
		out[i] = thresholdCSVRow{
			Scope:           scope,
			ThresholdKM:     r.ThresholdKM,
			UrbanPopulation: r.UrbanPopulation,
			RuralPopulation: r.RuralPopulation,
			TotalPopulation: r.TotalPopulation,
			UrbanShare:      r.UrbanShare,
			RuralShare:      r.RuralShare,
			NoAccess:        r.NoAccess,
			UrbanNoAccess:   r.UrbanNoAccess,
			RuralNoAccess:   r.RuralNoAccess,
		}
	}
	return out
}
