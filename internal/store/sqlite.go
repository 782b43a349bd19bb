package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	params     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT,
	audit      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scope_results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	scope      TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(run_id, scope)
);

CREATE TABLE IF NOT EXISTS scope_failures (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	scope     TEXT NOT NULL,
	error     TEXT NOT NULL,
	failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS region_results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	region     TEXT NOT NULL,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(run_id, region)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_scope_results_run_id ON scope_results(run_id);
CREATE INDEX IF NOT EXISTS idx_scope_failures_run_id ON scope_failures(run_id);
CREATE INDEX IF NOT EXISTS idx_region_results_run_id ON region_results(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, params, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(paramsJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, audit *aggregate.Audit) error {
	var auditJSON sql.NullString
	if audit != nil {
		raw, err := json.Marshal(audit)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit")
		}
		auditJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, audit = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), auditJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, params, status, error, audit, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, params, status, error, audit, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveScopeResult(ctx context.Context, runID string, res *aggregate.ScopeResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scope result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scope_results (id, run_id, scope, result, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, scope) DO UPDATE SET result = excluded.result, created_at = excluded.created_at`,
		uuid.New().String(), runID, res.Scope, string(resultJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save scope result %s", res.Scope)
}

func (s *SQLiteStore) GetScopeResult(ctx context.Context, runID, scope string) (*aggregate.ScopeResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM scope_results WHERE run_id = ? AND scope = ?`,
		runID, scope,
	).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: scope result %s/%s", runID, scope)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get scope result %s/%s", runID, scope)
	}

	var res aggregate.ScopeResult
	if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal scope result")
	}
	return &res, nil
}

func (s *SQLiteStore) ListScopeResults(ctx context.Context, runID string) ([]aggregate.ScopeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM scope_results WHERE run_id = ? ORDER BY scope`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list scope results %s", runID)
	}
	defer rows.Close()

	var results []aggregate.ScopeResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scope result")
		}
		var res aggregate.ScopeResult
		if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scope result")
		}
		results = append(results, res)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list scope results iterate")
}

func (s *SQLiteStore) SaveScopeFailure(ctx context.Context, runID, scope, cause string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scope_failures (id, run_id, scope, error, failed_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, scope, cause, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save scope failure %s", scope)
}

func (s *SQLiteStore) ListScopeFailures(ctx context.Context, runID string) ([]model.ScopeFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, scope, error, failed_at FROM scope_failures WHERE run_id = ? ORDER BY failed_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list scope failures %s", runID)
	}
	defer rows.Close()

	var failures []model.ScopeFailure
	for rows.Next() {
		var f model.ScopeFailure
		if err := rows.Scan(&f.RunID, &f.Scope, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scope failure")
		}
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "sqlite: list scope failures iterate")
}

func (s *SQLiteStore) SaveRegionResult(ctx context.Context, runID string, res *aggregate.RegionResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal region result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO region_results (id, run_id, region, result, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, region) DO UPDATE SET result = excluded.result, created_at = excluded.created_at`,
		uuid.New().String(), runID, res.Region, string(resultJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save region result %s", res.Region)
}

func (s *SQLiteStore) ListRegionResults(ctx context.Context, runID string) ([]aggregate.RegionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM region_results WHERE run_id = ? ORDER BY region`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list region results %s", runID)
	}
	defer rows.Close()

	var results []aggregate.RegionResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region result")
		}
		var res aggregate.RegionResult
		if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal region result")
		}
		results = append(results, res)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list region results iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var paramsJSON string
	var errMsg, auditJSON sql.NullString

	err := row.Scan(&r.ID, &paramsJSON, &r.Status, &errMsg, &auditJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if auditJSON.Valid {
		r.Audit = &aggregate.Audit{}
		if err := json.Unmarshal([]byte(auditJSON.String), r.Audit); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit")
		}
	}
	return &r, nil
}
