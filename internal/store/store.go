// Package store persists analysis runs and their per-scope and per-region
// results, behind a single interface with SQLite and Postgres backends.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
)

// ErrNotFound reports a missing run, scope, or region record.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for analysis runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, audit *aggregate.Audit) error
	FailRun(ctx context.Context, runID string, cause string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Scope results
	SaveScopeResult(ctx context.Context, runID string, res *aggregate.ScopeResult) error
	GetScopeResult(ctx context.Context, runID, scope string) (*aggregate.ScopeResult, error)
	ListScopeResults(ctx context.Context, runID string) ([]aggregate.ScopeResult, error)
	SaveScopeFailure(ctx context.Context, runID, scope, cause string) error
	ListScopeFailures(ctx context.Context, runID string) ([]model.ScopeFailure, error)

	// Region results
	SaveRegionResult(ctx context.Context, runID string, res *aggregate.RegionResult) error
	ListRegionResults(ctx context.Context, runID string) ([]aggregate.RegionResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds a Store for the configured driver.
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(databaseURL)
	case "postgres":
		return NewPostgres(ctx, databaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
