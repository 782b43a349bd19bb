// Package aggregate reduces classified, binned cell records into per-scope
// accessibility statistics and rolls scope results up into regions, with
// reconciliation invariants enforced after every rollup.
package aggregate

import (
	"github.com/rotisserie/eris"

	"github.com/swac-vis/africa-rural-atlas/internal/classify"
)

// ErrReconciliation indicates an aggregate invariant violation (partition
// sums not matching totals, shares not summing to one, negative residuals).
// It signals a logic defect, never bad input, and must abort the run.
var ErrReconciliation = eris.New("aggregate: reconciliation invariant violated")

// CellRecord is the per-cell tuple consumed by the Accumulator: one record
// per populated, valid cell.
type CellRecord struct {
	Population float64
	Class      classify.Class
	DistanceKM float64
}

// BandRow is the non-cumulative population breakdown for one distance band.
type BandRow struct {
	Label           string  `json:"label"`
	UrbanPopulation float64 `json:"urban_population"`
	RuralPopulation float64 `json:"rural_population"`
	TotalPopulation float64 `json:"total_population"`
	UrbanCells      int     `json:"urban_cells"`
	RuralCells      int     `json:"rural_cells"`
	UrbanShare      float64 `json:"urban_share_of_total_population"`
	RuralShare      float64 `json:"rural_share_of_total_population"`
}

// ThresholdRow is the cumulative population reachable within one distance
// threshold. The urban/rural no-access split is nil when the per-class
// totals backing it are not independently known; it is never silently
// reported as zero.
type ThresholdRow struct {
	ThresholdKM     float64  `json:"threshold_km"`
	UrbanPopulation float64  `json:"urban_population"`
	RuralPopulation float64  `json:"rural_population"`
	TotalPopulation float64  `json:"total_with_access"`
	UrbanShare      float64  `json:"share_urban"`
	RuralShare      float64  `json:"share_rural"`
	TotalShare      float64  `json:"share_total_with_access"`
	NoAccess        float64  `json:"total_no_access"`
	NoAccessShare   float64  `json:"share_total_no_access"`
	UrbanNoAccess   *float64 `json:"urban_no_access,omitempty"`
	RuralNoAccess   *float64 `json:"rural_no_access,omitempty"`
}

// GapAnalysis summarizes the urban-rural accessibility gap for one scope.
// Mean distances are population-weighted; coverage values are shares of the
// per-class population within the fixed 1 km and 5 km horizons.
type GapAnalysis struct {
	UrbanMeanDistanceKM float64 `json:"urban_mean_distance_km"`
	RuralMeanDistanceKM float64 `json:"rural_mean_distance_km"`
	MeanDistanceGapKM   float64 `json:"mean_distance_gap_km"`
	UrbanCoverage1KM    float64 `json:"urban_coverage_1km"`
	RuralCoverage1KM    float64 `json:"rural_coverage_1km"`
	CoverageGap1KM      float64 `json:"coverage_gap_1km"`
	UrbanCoverage5KM    float64 `json:"urban_coverage_5km"`
	RuralCoverage5KM    float64 `json:"rural_coverage_5km"`
	CoverageGap5KM      float64 `json:"coverage_gap_5km"`
}

// ScopeResult is the immutable per-scope output of one analysis run.
type ScopeResult struct {
	Scope           string         `json:"scope"`
	TotalPopulation float64        `json:"population"`
	UrbanPopulation float64        `json:"urban_population"`
	RuralPopulation float64        `json:"rural_population"`
	CellCount       int            `json:"cell_count"`
	UrbanCells      int            `json:"urban_cells"`
	RuralCells      int            `json:"rural_cells"`
	FacilityCells   int            `json:"facility_cells"`
	FacilityCount   int            `json:"facility_count"`
	Bands           []BandRow      `json:"bands"`
	Cumulative      []ThresholdRow `json:"cumulative"`
	Gap             GapAnalysis    `json:"gap"`
}

// RegionResult is the sum of the member scopes' tables for one region.
type RegionResult struct {
	Region          string         `json:"region"`
	Members         []string       `json:"members"`
	TotalPopulation float64        `json:"population"`
	UrbanPopulation float64        `json:"urban_population"`
	RuralPopulation float64        `json:"rural_population"`
	Bands           []BandRow      `json:"bands"`
	Cumulative      []ThresholdRow `json:"cumulative"`
}

// Audit lists everything a rollup could not account for. Entries here are
// reported, never silently dropped.
type Audit struct {
	// UnmappedScopes are present in the data but assigned to no region.
	UnmappedScopes []string `json:"unmapped_scopes,omitempty"`
	// MissingMembers are configured region members absent from the data,
	// keyed by region.
	MissingMembers map[string][]string `json:"missing_members,omitempty"`
	// ExcludedScopes failed their analysis run and were left out of all
	// region totals.
	ExcludedScopes []string `json:"excluded_scopes,omitempty"`
}
