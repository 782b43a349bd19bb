package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/db"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
	"github.com/swac-vis/africa-rural-atlas/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":         `INSERT INTO runs (id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status":  `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_run":            `SELECT id, params, status, error, audit, created_at, updated_at FROM runs WHERE id = $1`,
	"get_scope_result":   `SELECT result FROM scope_results WHERE run_id = $1 AND scope = $2`,
	"list_scope_results": `SELECT result FROM scope_results WHERE run_id = $1 ORDER BY scope`,
	"insert_failure":     `INSERT INTO scope_failures (id, run_id, scope, error, failed_at) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	// Cold databases and managed instances waking from idle fail the first
	// ping transiently.
	pingCfg := resilience.DefaultRetryConfig()
	pingCfg.OnRetry = resilience.RetryLogger("postgres", "ping")
	err = resilience.Do(ctx, pingCfg, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	params     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT,
	audit      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scope_results (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	scope      TEXT NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(run_id, scope)
);

CREATE TABLE IF NOT EXISTS scope_failures (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	scope     TEXT NOT NULL,
	error     TEXT NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS region_results (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	region     TEXT NOT NULL,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(run_id, region)
);

CREATE TABLE IF NOT EXISTS scope_bands (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	scope            TEXT NOT NULL,
	band             TEXT NOT NULL,
	total_population DOUBLE PRECISION NOT NULL,
	urban_population DOUBLE PRECISION NOT NULL,
	rural_population DOUBLE PRECISION NOT NULL,
	urban_cells      BIGINT NOT NULL,
	rural_cells      BIGINT NOT NULL,
	PRIMARY KEY (run_id, scope, band)
);

CREATE TABLE IF NOT EXISTS scope_thresholds (
	run_id            TEXT NOT NULL REFERENCES runs(id),
	scope             TEXT NOT NULL,
	threshold_km      DOUBLE PRECISION NOT NULL,
	urban_population  DOUBLE PRECISION NOT NULL,
	rural_population  DOUBLE PRECISION NOT NULL,
	total_with_access DOUBLE PRECISION NOT NULL,
	total_no_access   DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, scope, threshold_km)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_scope_results_run_id ON scope_results(run_id);
CREATE INDEX IF NOT EXISTS idx_scope_failures_run_id ON scope_failures(run_id);
CREATE INDEX IF NOT EXISTS idx_region_results_run_id ON region_results(run_id);
CREATE INDEX IF NOT EXISTS idx_scope_thresholds_scope ON scope_thresholds(scope, threshold_km);
CREATE INDEX IF NOT EXISTS idx_scope_bands_scope ON scope_bands(scope, band);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, paramsJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, audit *aggregate.Audit) error {
	var auditJSON []byte
	if audit != nil {
		raw, err := json.Marshal(audit)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit")
		}
		auditJSON = raw
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, audit = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), auditJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var paramsJSON []byte
	var errMsg *string
	var auditJSON *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, params, status, error, audit, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &paramsJSON, &r.Status, &errMsg, &auditJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	if auditJSON != nil {
		r.Audit = &aggregate.Audit{}
		if err := json.Unmarshal(*auditJSON, r.Audit); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, error, audit, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var paramsJSON []byte
		var errMsg *string
		var auditJSON *[]byte

		if err := rows.Scan(&r.ID, &paramsJSON, &r.Status, &errMsg, &auditJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal params")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		if auditJSON != nil {
			r.Audit = &aggregate.Audit{}
			if err := json.Unmarshal(*auditJSON, r.Audit); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveScopeResult(ctx context.Context, runID string, res *aggregate.ScopeResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scope result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scope_results (id, run_id, scope, result, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, scope) DO UPDATE SET result = $4, created_at = $5`,
		uuid.New().String(), runID, res.Scope, resultJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save scope result %s", res.Scope)
	}

	// The cumulative table is also stored relationally so thresholds can be
	// queried across runs without unpacking JSON.
	rows := make([][]any, len(res.Cumulative))
	for i, row := range res.Cumulative {
		rows[i] = []any{runID, res.Scope, row.ThresholdKM,
			row.UrbanPopulation, row.RuralPopulation, row.TotalPopulation, row.NoAccess}
	}
	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "scope_thresholds",
		Columns: []string{"run_id", "scope", "threshold_km",
			"urban_population", "rural_population", "total_with_access", "total_no_access"},
		ConflictKeys: []string{"run_id", "scope", "threshold_km"},
	}, rows)
	if err != nil {
		return eris.Wrapf(err, "postgres: save scope thresholds %s", res.Scope)
	}

	// Band rows are replaced wholesale per scope, so a plain COPY suffices.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM scope_bands WHERE run_id = $1 AND scope = $2`,
		runID, res.Scope,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: clear scope bands %s", res.Scope)
	}
	bandRows := make([][]any, len(res.Bands))
	for i, row := range res.Bands {
		bandRows[i] = []any{runID, res.Scope, row.Label,
			row.TotalPopulation, row.UrbanPopulation, row.RuralPopulation,
			row.UrbanCells, row.RuralCells}
	}
	_, err = db.CopyFrom(ctx, s.pool, "scope_bands",
		[]string{"run_id", "scope", "band", "total_population",
			"urban_population", "rural_population", "urban_cells", "rural_cells"},
		bandRows)
	return eris.Wrapf(err, "postgres: save scope bands %s", res.Scope)
}

func (s *PostgresStore) GetScopeResult(ctx context.Context, runID, scope string) (*aggregate.ScopeResult, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM scope_results WHERE run_id = $1 AND scope = $2`,
		runID, scope,
	).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "scope result %s/%s", runID, scope)
		}
		return nil, eris.Wrapf(err, "postgres: get scope result %s/%s", runID, scope)
	}

	var res aggregate.ScopeResult
	if err := json.Unmarshal(resultJSON, &res); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal scope result")
	}
	return &res, nil
}

func (s *PostgresStore) ListScopeResults(ctx context.Context, runID string) ([]aggregate.ScopeResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM scope_results WHERE run_id = $1 ORDER BY scope`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list scope results %s", runID)
	}
	defer rows.Close()

	var results []aggregate.ScopeResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scope result")
		}
		var res aggregate.ScopeResult
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal scope result")
		}
		results = append(results, res)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list scope results iterate")
}

func (s *PostgresStore) SaveScopeFailure(ctx context.Context, runID, scope, cause string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scope_failures (id, run_id, scope, error, failed_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), runID, scope, cause, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save scope failure %s", scope)
}

func (s *PostgresStore) ListScopeFailures(ctx context.Context, runID string) ([]model.ScopeFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, scope, error, failed_at FROM scope_failures WHERE run_id = $1 ORDER BY failed_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list scope failures %s", runID)
	}
	defer rows.Close()

	var failures []model.ScopeFailure
	for rows.Next() {
		var f model.ScopeFailure
		if err := rows.Scan(&f.RunID, &f.Scope, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scope failure")
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "postgres: list scope failures iterate")
}

func (s *PostgresStore) SaveRegionResult(ctx context.Context, runID string, res *aggregate.RegionResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal region result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO region_results (id, run_id, region, result, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, region) DO UPDATE SET result = $4, created_at = $5`,
		uuid.New().String(), runID, res.Region, resultJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save region result %s", res.Region)
}

func (s *PostgresStore) ListRegionResults(ctx context.Context, runID string) ([]aggregate.RegionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM region_results WHERE run_id = $1 ORDER BY region`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list region results %s", runID)
	}
	defer rows.Close()

	var results []aggregate.RegionResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region result")
		}
		var res aggregate.RegionResult
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal region result")
		}
		results = append(results, res)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list region results iterate")
}
