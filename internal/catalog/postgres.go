package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/db"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/resilience"
)

// PostgresSource reads snapshots from the catalog schema. Every snapshot is
// read inside one REPEATABLE READ, READ ONLY transaction so concurrent
// catalog edits never produce a mixed view.
type PostgresSource struct {
	pool    db.Pool
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// PostgresOption configures a PostgresSource.
type PostgresOption func(*PostgresSource)

// WithRetry sets the retry policy for transient read failures.
func WithRetry(cfg resilience.RetryConfig) PostgresOption {
	return func(s *PostgresSource) { s.retry = cfg }
}

// WithBreaker fails snapshot reads fast while the catalog database is down.
func WithBreaker(cb *resilience.Breaker) PostgresOption {
	return func(s *PostgresSource) { s.breaker = cb }
}

// NewPostgresSource creates a catalog source on pool.
func NewPostgresSource(pool db.Pool, opts ...PostgresOption) *PostgresSource {
	s := &PostgresSource{pool: pool, retry: resilience.DefaultRetryConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("catalog", "snapshot")
	}
	return s
}

// Snapshot implements Source.
func (s *PostgresSource) Snapshot(ctx context.Context, productCode, styleCode string) (*model.Snapshot, error) {
	read := func(ctx context.Context) (*model.Catalog, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*model.Catalog, error) {
			return s.readProduct(ctx, productCode)
		})
	}

	var (
		cat *model.Catalog
		err error
	)
	if s.breaker != nil {
		cat, err = resilience.Guard(ctx, s.breaker, read)
	} else {
		cat, err = read(ctx)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Debug("catalog: snapshot read",
		zap.String("product", productCode),
		zap.String("style", styleCode),
		zap.Int("components", len(cat.Assignments)),
		zap.Int("formulas", len(cat.Formulas)),
	)
	return cat.Snapshot(productCode, styleCode)
}

// readProduct loads every catalog row relevant to one product type.
func (s *PostgresSource) readProduct(ctx context.Context, productCode string) (*model.Catalog, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: begin snapshot tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var pt model.ProductType
	err = tx.QueryRow(ctx,
		`SELECT id, code, name, display_order FROM catalog.product_types WHERE code = $1`,
		productCode,
	).Scan(&pt.ID, &pt.Code, &pt.Name, &pt.DisplayOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: product type %q", model.ErrNotFound, productCode)
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query product type")
	}

	cat := &model.Catalog{ProductTypes: []model.ProductType{pt}}
	for _, step := range []struct {
		name string
		read func(context.Context, pgx.Tx, string, *model.Catalog) error
	}{
		{"styles", readStyles},
		{"variables", readVariables},
		{"components", readComponents},
		{"assignments", readAssignments},
		{"formulas", readFormulas},
		{"labor groups", readLaborGroups},
		{"labor codes", readLaborCodes},
		{"eligibility", readEligibility},
	} {
		if err := step.read(ctx, tx, pt.ID, cat); err != nil {
			return nil, eris.Wrapf(err, "catalog: read %s", step.name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "catalog: commit snapshot tx")
	}
	return cat, nil
}

func readStyles(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, product_type_id, code, name FROM catalog.product_styles WHERE product_type_id = $1`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var st model.ProductStyle
		if err := rows.Scan(&st.ID, &st.ProductTypeID, &st.Code, &st.Name); err != nil {
			return err
		}
		cat.Styles = append(cat.Styles, st)
	}
	return rows.Err()
}

func readVariables(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, product_type_id, name, kind, allowed_values, COALESCE(default_value, 'null'::jsonb)
		FROM catalog.product_variables WHERE product_type_id = $1`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v    model.ProductVariable
			kind string
			def  []byte
		)
		if err := rows.Scan(&v.ID, &v.ProductTypeID, &v.Name, &kind, &v.AllowedValues, &def); err != nil {
			return err
		}
		v.Kind = model.VariableKind(kind)
		if len(def) > 0 {
			if err := json.Unmarshal(def, &v.Default); err != nil {
				return eris.Wrapf(err, "variable %s default", v.Name)
			}
		}
		cat.Variables = append(cat.Variables, v)
	}
	return rows.Err()
}

func readComponents(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT c.id, c.code, c.name, c.unit, COALESCE(c.output, ''), COALESCE(c.aggregate_key, '')
		FROM catalog.component_types c
		WHERE c.id IN (SELECT component_type_id FROM catalog.component_assignments WHERE product_type_id = $1)`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c model.ComponentType
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Unit, &c.Output, &c.AggregateKey); err != nil {
			return err
		}
		cat.Components = append(cat.Components, c)
	}
	return rows.Err()
}

func readAssignments(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, product_type_id, component_type_id, optional, display_order, COALESCE(visibility, '{}'::jsonb)
		FROM catalog.component_assignments WHERE product_type_id = $1`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a   model.ComponentAssignment
			vis []byte
		)
		if err := rows.Scan(&a.ID, &a.ProductTypeID, &a.ComponentTypeID, &a.Optional, &a.DisplayOrder, &vis); err != nil {
			return err
		}
		cond, err := model.ParseVisibilityCondition(vis)
		if err != nil {
			return eris.Wrapf(err, "assignment %s", a.ID)
		}
		a.Visibility = cond
		cat.Assignments = append(cat.Assignments, a)
	}
	return rows.Err()
}

func readFormulas(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, product_type_id, COALESCE(style_id, ''), component_type_id, formula, rounding_level, active
		FROM catalog.formula_templates WHERE product_type_id = $1 AND active`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f       model.FormulaTemplate
			styleID string
			level   string
		)
		if err := rows.Scan(&f.ID, &f.ProductTypeID, &styleID, &f.ComponentTypeID, &f.Formula, &level, &f.Active); err != nil {
			return err
		}
		if styleID != "" {
			f.StyleID = &styleID
		}
		f.RoundingLevel = model.RoundingLevel(level)
		cat.Formulas = append(cat.Formulas, f)
	}
	return rows.Err()
}

func readLaborGroups(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, code, name, multi_select, required, display_order
		FROM catalog.labor_groups
		WHERE id IN (SELECT labor_group_id FROM catalog.labor_group_eligibility WHERE product_type_id = $1)`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var g model.LaborGroup
		if err := rows.Scan(&g.ID, &g.Code, &g.Name, &g.MultiSelect, &g.Required, &g.DisplayOrder); err != nil {
			return err
		}
		cat.LaborGroups = append(cat.LaborGroups, g)
	}
	return rows.Err()
}

func readLaborCodes(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, code, name, unit
		FROM catalog.labor_codes
		WHERE id IN (SELECT labor_code_id FROM catalog.labor_group_eligibility WHERE product_type_id = $1)`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var lc model.LaborCode
		if err := rows.Scan(&lc.ID, &lc.Code, &lc.Name, &lc.Unit); err != nil {
			return err
		}
		cat.LaborCodes = append(cat.LaborCodes, lc)
	}
	return rows.Err()
}

func readEligibility(ctx context.Context, tx pgx.Tx, productID string, cat *model.Catalog) error {
	rows, err := tx.Query(ctx,
		`SELECT id, product_type_id, labor_group_id, labor_code_id,
			COALESCE(condition, ''), COALESCE(quantity_formula, ''), is_default, display_order
		FROM catalog.labor_group_eligibility WHERE product_type_id = $1`,
		productID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.LaborGroupEligibility
		if err := rows.Scan(&e.ID, &e.ProductTypeID, &e.LaborGroupID, &e.LaborCodeID,
			&e.Condition, &e.QuantityFormula, &e.IsDefault, &e.DisplayOrder); err != nil {
			return err
		}
		cat.Eligibility = append(cat.Eligibility, e)
	}
	return rows.Err()
}
