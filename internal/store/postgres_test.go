package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, params, status, error, audit, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	paramsJSON, err := json.Marshal(model.RunParams{Scopes: []string{"Niger"}, Policy: "sign"})
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, params, status, error, audit, created_at, updated_at FROM runs`).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows([]string{"id", "params", "status", "error", "audit", "created_at", "updated_at"}).
			AddRow("run-1", paramsJSON, "complete", (*string)(nil), (*[]byte)(nil), now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, []string{"Niger"}, run.Params.Scopes)
	assert.Nil(t, run.Audit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.RunParams{Scopes: []string{"Niger"}, Policy: "sign"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("running", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusRunning)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailRun(context.Background(), "run-1", "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetScopeResult_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT result FROM scope_results`).
		WithArgs("run-1", "Chad").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetScopeResult(context.Background(), "run-1", "Chad")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListScopeResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	resJSON, err := json.Marshal(&aggregate.ScopeResult{Scope: "Niger", TotalPopulation: 600})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT result FROM scope_results WHERE run_id = \$1 ORDER BY scope`).
		WithArgs("run-1").
		WillReturnRows(mock.NewRows([]string{"result"}).AddRow(resJSON))

	results, err := s.ListScopeResults(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Niger", results[0].Scope)
	assert.Equal(t, 600.0, results[0].TotalPopulation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScopeResult_BandsCopied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res := &aggregate.ScopeResult{
		Scope: "Niger",
		Bands: []aggregate.BandRow{
			{Label: "0-1km", TotalPopulation: 300, UrbanPopulation: 300, UrbanCells: 3},
			{Label: ">1km", TotalPopulation: 300, RuralPopulation: 300, RuralCells: 4},
		},
	}

	mock.ExpectExec(`INSERT INTO scope_results`).
		WithArgs(pgxmock.AnyArg(), "run-1", "Niger", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM scope_bands`).
		WithArgs("run-1", "Niger").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"scope_bands"},
		[]string{"run_id", "scope", "band", "total_population",
			"urban_population", "rural_population", "urban_cells", "rural_cells"}).
		WillReturnResult(2)

	err := s.SaveScopeResult(context.Background(), "run-1", res)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScopeFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scope_failures`).
		WithArgs(pgxmock.AnyArg(), "run-1", "Chad", "raster missing", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveScopeFailure(context.Background(), "run-1", "Chad", "raster missing")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRegionResult_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO region_results`).
		WithArgs(pgxmock.AnyArg(), "run-1", "West Africa", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRegionResult(context.Background(), "run-1", &aggregate.RegionResult{Region: "West Africa"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
