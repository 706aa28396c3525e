package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/db"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	retry   resilience.RetryConfig
	closeFn func()
}

const (
	sqlInsertRun = `INSERT INTO bom_runs (id, project_id, product_type, style, variables, aggregates, evaluation_order, computed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	sqlGetRun = `SELECT id, project_id, product_type, style, variables, aggregates, evaluation_order, computed_at, created_at
		FROM bom_runs WHERE id = $1`
	sqlGetLines = `SELECT component_type_id, component_code, name, raw_quantity, rounded_quantity, unit, rounding_level, aggregate_key, optional, display_order
		FROM bom_lines WHERE run_id = $1 ORDER BY position`
	sqlGetLabor = `SELECT group_id, group_code, multi_select, labor_code_id, code, name, unit, quantity, is_default
		FROM bom_labor WHERE run_id = $1 ORDER BY position`
	sqlRunProject = `SELECT project_id FROM bom_runs WHERE id = $1 FOR SHARE`

	sqlAddAdjustment = `INSERT INTO bom_adjustments (id, run_id, project_id, line_ref, calculated_cost, adjusted_cost, reason,
		flagged, requires_approval, percent_delta, absolute_delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	sqlListAdjustments = `SELECT id, run_id, project_id, line_ref, calculated_cost, adjusted_cost, reason,
		flagged, requires_approval, percent_delta, absolute_delta, created_at
		FROM bom_adjustments WHERE run_id = $1 ORDER BY created_at, id`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":       sqlInsertRun,
	"get_run":          sqlGetRun,
	"get_lines":        sqlGetLines,
	"get_labor":        sqlGetLabor,
	"add_adjustment":   sqlAddAdjustment,
	"list_adjustments": sqlListAdjustments,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Open(ctx, connString, poolCfg, preparedStatements)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open store")
	}
	s := NewPostgresWithPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "postgres")
	return &PostgresStore{pool: pool, retry: retry}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS bom_runs (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL,
	product_type     TEXT NOT NULL,
	style            TEXT NOT NULL DEFAULT '',
	variables        JSONB NOT NULL,
	aggregates       JSONB,
	evaluation_order JSONB NOT NULL,
	computed_at      TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bom_lines (
	run_id            TEXT NOT NULL REFERENCES bom_runs(id),
	position          INTEGER NOT NULL,
	component_type_id TEXT NOT NULL,
	component_code    TEXT NOT NULL,
	name              TEXT NOT NULL,
	raw_quantity      DOUBLE PRECISION NOT NULL,
	rounded_quantity  DOUBLE PRECISION NOT NULL,
	unit              TEXT NOT NULL,
	rounding_level    TEXT NOT NULL,
	aggregate_key     TEXT NOT NULL DEFAULT '',
	optional          BOOLEAN NOT NULL DEFAULT false,
	display_order     INTEGER NOT NULL,
	PRIMARY KEY (run_id, position)
);

ALTER TABLE bom_lines ADD COLUMN IF NOT EXISTS aggregate_key TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS bom_labor (
	run_id        TEXT NOT NULL REFERENCES bom_runs(id),
	position      INTEGER NOT NULL,
	group_id      TEXT NOT NULL,
	group_code    TEXT NOT NULL,
	multi_select  BOOLEAN NOT NULL,
	labor_code_id TEXT NOT NULL,
	code          TEXT NOT NULL,
	name          TEXT NOT NULL,
	unit          TEXT NOT NULL DEFAULT '',
	quantity      DOUBLE PRECISION,
	is_default    BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS bom_adjustments (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES bom_runs(id),
	project_id        TEXT NOT NULL,
	line_ref          TEXT NOT NULL,
	calculated_cost   DOUBLE PRECISION NOT NULL,
	adjusted_cost     DOUBLE PRECISION NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	flagged           BOOLEAN NOT NULL,
	requires_approval BOOLEAN NOT NULL,
	percent_delta     DOUBLE PRECISION,
	absolute_delta    DOUBLE PRECISION NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bom_runs_project ON bom_runs(project_id);
CREATE INDEX IF NOT EXISTS idx_bom_runs_product ON bom_runs(product_type);
CREATE INDEX IF NOT EXISTS idx_bom_adjustments_run ON bom_adjustments(run_id);
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

// SaveRun writes the run header and COPYs its lines and labor inside one
// transaction. Transient failures retry the whole transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, projectID string, b *model.BOM) (*model.BOMRun, error) {
	run, err := newRun(projectID, b)
	if err != nil {
		return nil, err
	}
	header, err := encodeHeader(run)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode run")
	}
	var aggregates []byte
	if agg, ok := header.aggregates.(string); ok {
		aggregates = []byte(agg)
	}

	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return eris.Wrap(err, "postgres: begin tx")
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		_, err = tx.Exec(ctx, sqlInsertRun,
			run.ID, run.ProjectID, run.BOM.ProductType, run.BOM.Style,
			[]byte(header.variables), aggregates, []byte(header.order), run.BOM.ComputedAt, run.CreatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert run")
		}
		if _, err := db.CopyFrom(ctx, tx, "bom_lines", lineColumns, lineRows(run)); err != nil {
			return eris.Wrap(err, "postgres: copy lines")
		}
		if _, err := db.CopyFrom(ctx, tx, "bom_labor", laborColumns, laborRows(run)); err != nil {
			return eris.Wrap(err, "postgres: copy labor")
		}
		return eris.Wrap(tx.Commit(ctx), "postgres: commit run")
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("store: run saved",
		zap.String("run_id", run.ID),
		zap.String("project_id", run.ProjectID),
		zap.Int("lines", len(run.BOM.Lines)),
	)
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.BOMRun, error) {
	run, err := scanPgRun(s.pool.QueryRow(ctx, sqlGetRun, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx, sqlGetLines, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query lines")
	}
	run.BOM.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Line, error) {
		var (
			l     model.Line
			level string
		)
		err := row.Scan(&l.ComponentTypeID, &l.ComponentCode, &l.Name, &l.RawQuantity, &l.RoundedQuantity,
			&l.Unit, &level, &l.AggregateKey, &l.Optional, &l.DisplayOrder)
		l.RoundingLevel = model.RoundingLevel(level)
		return l, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lines")
	}

	rows, err = s.pool.Query(ctx, sqlGetLabor, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query labor")
	}
	labor, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (laborRow, error) {
		var r laborRow
		err := row.Scan(&r.groupID, &r.groupCode, &r.multiSelect, &r.line.LaborCodeID, &r.line.Code,
			&r.line.Name, &r.line.Unit, &r.line.Quantity, &r.line.IsDefault)
		return r, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan labor")
	}
	run.BOM.Labor = groupLabor(labor)
	return run, nil
}

// ListRuns returns run headers, newest first. Lines and labor are loaded by
// GetRun only.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.BOMRun, error) {
	query := `SELECT id, project_id, product_type, style, variables, aggregates, evaluation_order, computed_at, created_at
		FROM bom_runs WHERE 1=1`
	var args []any
	argN := 1

	if filter.ProjectID != "" {
		query += ` AND project_id = $` + strconv.Itoa(argN)
		args = append(args, filter.ProjectID)
		argN++
	}
	if filter.ProductType != "" {
		query += ` AND product_type = $` + strconv.Itoa(argN)
		args = append(args, filter.ProductType)
		argN++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT $` + strconv.Itoa(argN)
	args = append(args, limit)
	argN++

	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.BOMRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// AddAdjustment appends an adjustment. The run row is share-locked so it
// cannot disappear between the existence check and the insert.
func (s *PostgresStore) AddAdjustment(ctx context.Context, adj *model.Adjustment) error {
	if err := checkAdjustment(adj); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var projectID string
	err = tx.QueryRow(ctx, sqlRunProject, adj.RunID).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return runNotFound(adj.RunID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup run %s", adj.RunID)
	}
	if adj.ProjectID == "" {
		adj.ProjectID = projectID
	}

	c := adj.Classification
	_, err = tx.Exec(ctx, sqlAddAdjustment,
		adj.ID, adj.RunID, adj.ProjectID, adj.LineRef, adj.CalculatedCost, adj.AdjustedCost, adj.Reason,
		c.Flagged, c.RequiresApproval, c.PercentDelta, c.AbsoluteDelta, adj.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert adjustment")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit adjustment")
}

func (s *PostgresStore) ListAdjustments(ctx context.Context, runID string) ([]model.Adjustment, error) {
	rows, err := s.pool.Query(ctx, sqlListAdjustments, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list adjustments")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Adjustment, error) {
		var a model.Adjustment
		err := row.Scan(&a.ID, &a.RunID, &a.ProjectID, &a.LineRef, &a.CalculatedCost, &a.AdjustedCost, &a.Reason,
			&a.Classification.Flagged, &a.Classification.RequiresApproval, &a.Classification.PercentDelta,
			&a.Classification.AbsoluteDelta, &a.CreatedAt)
		return a, err
	})
	return out, eris.Wrap(err, "postgres: scan adjustments")
}

func scanPgRun(row pgx.Row) (*model.BOMRun, error) {
	var (
		r                       model.BOMRun
		vars, aggregates, order []byte
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.BOM.ProductType, &r.BOM.Style, &vars, &aggregates, &order,
		&r.BOM.ComputedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeHeader(&r, vars, aggregates, order); err != nil {
		return nil, err
	}
	return &r, nil
}
