package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fenceworks/estimator/internal/model"
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
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS bom_runs (
	id               TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL,
	product_type     TEXT NOT NULL,
	style            TEXT NOT NULL DEFAULT '',
	variables        TEXT NOT NULL,
	aggregates       TEXT,
	evaluation_order TEXT NOT NULL,
	computed_at      DATETIME NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS bom_lines (
	run_id            TEXT NOT NULL REFERENCES bom_runs(id),
	position          INTEGER NOT NULL,
	component_type_id TEXT NOT NULL,
	component_code    TEXT NOT NULL,
	name              TEXT NOT NULL,
	raw_quantity      REAL NOT NULL,
	rounded_quantity  REAL NOT NULL,
	unit              TEXT NOT NULL,
	rounding_level    TEXT NOT NULL,
	aggregate_key     TEXT NOT NULL DEFAULT '',
	optional          BOOLEAN NOT NULL DEFAULT 0,
	display_order     INTEGER NOT NULL,
	PRIMARY KEY (run_id, position)
);

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
	quantity      REAL,
	is_default    BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS bom_adjustments (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES bom_runs(id),
	project_id        TEXT NOT NULL,
	line_ref          TEXT NOT NULL,
	calculated_cost   REAL NOT NULL,
	adjusted_cost     REAL NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	flagged           BOOLEAN NOT NULL,
	requires_approval BOOLEAN NOT NULL,
	percent_delta     REAL,
	absolute_delta    REAL NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_bom_runs_project ON bom_runs(project_id);
CREATE INDEX IF NOT EXISTS idx_bom_runs_product ON bom_runs(product_type);
CREATE INDEX IF NOT EXISTS idx_bom_adjustments_run ON bom_adjustments(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun writes the run header, its lines and its labor in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, projectID string, b *model.BOM) (*model.BOMRun, error) {
	run, err := newRun(projectID, b)
	if err != nil {
		return nil, err
	}
	header, err := encodeHeader(run)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode run")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bom_runs (id, project_id, product_type, style, variables, aggregates, evaluation_order, computed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, run.BOM.ProductType, run.BOM.Style,
		header.variables, header.aggregates, header.order, run.BOM.ComputedAt, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	if err := insertRows(ctx, tx, "bom_lines", lineColumns, lineRows(run)); err != nil {
		return nil, err
	}
	if err := insertRows(ctx, tx, "bom_labor", laborColumns, laborRows(run)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit run")
	}

	zap.L().Debug("store: run saved",
		zap.String("run_id", run.ID),
		zap.String("project_id", run.ProjectID),
		zap.Int("lines", len(run.BOM.Lines)),
	)
	return run, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+table+" ("+strings.Join(columns, ", ")+") VALUES ("+placeholders+")")
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", table)
		}
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.BOMRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, product_type, style, variables, aggregates, evaluation_order, computed_at, created_at
		 FROM bom_runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	if run.BOM.Lines, err = s.lines(ctx, runID); err != nil {
		return nil, err
	}
	if run.BOM.Labor, err = s.labor(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) lines(ctx context.Context, runID string) ([]model.Line, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT component_type_id, component_code, name, raw_quantity, rounded_quantity, unit, rounding_level, aggregate_key, optional, display_order
		 FROM bom_lines WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query lines")
	}
	defer rows.Close()

	lines := []model.Line{}
	for rows.Next() {
		var (
			l     model.Line
			level string
		)
		if err := rows.Scan(&l.ComponentTypeID, &l.ComponentCode, &l.Name, &l.RawQuantity, &l.RoundedQuantity,
			&l.Unit, &level, &l.AggregateKey, &l.Optional, &l.DisplayOrder); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan line")
		}
		l.RoundingLevel = model.RoundingLevel(level)
		lines = append(lines, l)
	}
	return lines, eris.Wrap(rows.Err(), "sqlite: lines iterate")
}

func (s *SQLiteStore) labor(ctx context.Context, runID string) ([]model.LaborSelection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, group_code, multi_select, labor_code_id, code, name, unit, quantity, is_default
		 FROM bom_labor WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query labor")
	}
	defer rows.Close()

	var out []laborRow
	for rows.Next() {
		var (
			r   laborRow
			qty sql.NullFloat64
		)
		if err := rows.Scan(&r.groupID, &r.groupCode, &r.multiSelect, &r.line.LaborCodeID, &r.line.Code,
			&r.line.Name, &r.line.Unit, &qty, &r.line.IsDefault); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan labor")
		}
		if qty.Valid {
			q := qty.Float64
			r.line.Quantity = &q
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: labor iterate")
	}
	return groupLabor(out), nil
}

// ListRuns returns run headers, newest first. Lines and labor are loaded by
// GetRun only.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.BOMRun, error) {
	query := `SELECT id, project_id, product_type, style, variables, aggregates, evaluation_order, computed_at, created_at
		FROM bom_runs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.ProductType != "" {
		query += ` AND product_type = ?`
		args = append(args, filter.ProductType)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
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

	var runs []model.BOMRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// AddAdjustment appends an adjustment. The referenced run must exist; the
// run itself is never modified.
func (s *SQLiteStore) AddAdjustment(ctx context.Context, adj *model.Adjustment) error {
	if err := checkAdjustment(adj); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var projectID string
	err = tx.QueryRowContext(ctx, `SELECT project_id FROM bom_runs WHERE id = ?`, adj.RunID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return runNotFound(adj.RunID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup run %s", adj.RunID)
	}
	if adj.ProjectID == "" {
		adj.ProjectID = projectID
	}

	c := adj.Classification
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bom_adjustments (id, run_id, project_id, line_ref, calculated_cost, adjusted_cost, reason,
			flagged, requires_approval, percent_delta, absolute_delta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID, adj.RunID, adj.ProjectID, adj.LineRef, adj.CalculatedCost, adj.AdjustedCost, adj.Reason,
		c.Flagged, c.RequiresApproval, c.PercentDelta, c.AbsoluteDelta, adj.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert adjustment")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit adjustment")
}

func (s *SQLiteStore) ListAdjustments(ctx context.Context, runID string) ([]model.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, project_id, line_ref, calculated_cost, adjusted_cost, reason,
			flagged, requires_approval, percent_delta, absolute_delta, created_at
		 FROM bom_adjustments WHERE run_id = ? ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list adjustments")
	}
	defer rows.Close()

	var out []model.Adjustment
	for rows.Next() {
		var (
			a   model.Adjustment
			pct sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.ProjectID, &a.LineRef, &a.CalculatedCost, &a.AdjustedCost, &a.Reason,
			&a.Classification.Flagged, &a.Classification.RequiresApproval, &pct, &a.Classification.AbsoluteDelta,
			&a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan adjustment")
		}
		if pct.Valid {
			p := pct.Float64
			a.Classification.PercentDelta = &p
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list adjustments iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

type encodedHeader struct {
	variables  string
	aggregates any
	order      string
}

func encodeHeader(run *model.BOMRun) (encodedHeader, error) {
	var h encodedHeader
	vars, err := json.Marshal(run.BOM.Variables)
	if err != nil {
		return h, err
	}
	order, err := json.Marshal(run.BOM.EvaluationOrder)
	if err != nil {
		return h, err
	}
	h.variables, h.order = string(vars), string(order)
	if len(run.BOM.Aggregates) > 0 {
		agg, err := json.Marshal(run.BOM.Aggregates)
		if err != nil {
			return h, err
		}
		h.aggregates = string(agg)
	}
	return h, nil
}

func scanRun(row scannable) (*model.BOMRun, error) {
	var (
		r          model.BOMRun
		vars       string
		aggregates sql.NullString
		order      string
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.BOM.ProductType, &r.BOM.Style, &vars, &aggregates, &order,
		&r.BOM.ComputedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeHeader(&r, []byte(vars), []byte(aggregates.String), []byte(order)); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeHeader(r *model.BOMRun, vars, aggregates, order []byte) error {
	if err := json.Unmarshal(vars, &r.BOM.Variables); err != nil {
		return eris.Wrap(err, "unmarshal variables")
	}
	if err := json.Unmarshal(order, &r.BOM.EvaluationOrder); err != nil {
		return eris.Wrap(err, "unmarshal evaluation order")
	}
	if len(aggregates) > 0 {
		if err := json.Unmarshal(aggregates, &r.BOM.Aggregates); err != nil {
			return eris.Wrap(err, "unmarshal aggregates")
		}
	}
	return nil
}
