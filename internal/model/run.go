// Package model defines the persisted records shared by the store, the
// pipeline, and the API server.
package model

import (
	"time"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
)

// RunStatus tracks an analysis run through its lifecycle.
type RunStatus string

// Run statuses.
const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunParams is the configuration snapshot a run was started with, kept with
// the run so results stay interpretable after the live config changes.
type RunParams struct {
	Scopes               []string  `json:"scopes"`
	Policy               string    `json:"policy"`
	DensityThreshold     float64   `json:"density_threshold,omitempty"`
	BandBreaks           []float64 `json:"band_breaks"`
	CumulativeThresholds []float64 `json:"cumulative_thresholds"`
	ClassField           string    `json:"class_field,omitempty"`
	ClassFilter          []string  `json:"class_filter,omitempty"`
	KmPerDegree          float64   `json:"km_per_degree,omitempty"`
	BlockFactor          int       `json:"block_factor,omitempty"`
}

// Run is one analysis run over a set of scopes.
type Run struct {
	ID        string           `json:"id"`
	Params    RunParams        `json:"params"`
	Status    RunStatus        `json:"status"`
	Error     string           `json:"error,omitempty"`
	Audit     *aggregate.Audit `json:"audit,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ScopeFailure records one scope that failed during a run. Failed scopes are
// excluded from region rollups and listed in the run audit.
type ScopeFailure struct {
	RunID    string    `json:"run_id"`
	Scope    string    `json:"scope"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
