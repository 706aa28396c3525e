package catalog

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/db"
	"github.com/fenceworks/estimator/internal/model"
)

// tablePlan is one catalog table in foreign-key order with its rows.
type tablePlan struct {
	cfg  db.UpsertConfig
	rows [][]any
}

// Publish validates cat and upserts it into the catalog schema in a single
// transaction. Rows are matched by id; nothing is deleted, so retiring a
// formula means publishing it with active: false.
func Publish(ctx context.Context, pool db.Pool, cat *model.Catalog) (int64, error) {
	if problems := Validate(cat); len(problems) > 0 {
		return 0, &ValidationError{Problems: problems}
	}

	plans, err := publishPlans(cat)
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: publish: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var total int64
	for _, p := range plans {
		n, err := db.Upsert(ctx, tx, p.cfg, p.rows)
		if err != nil {
			return 0, eris.Wrapf(err, "catalog: publish %s", p.cfg.Table)
		}
		zap.L().Debug("catalog: published table", zap.String("table", p.cfg.Table), zap.Int64("rows", n))
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "catalog: publish: commit tx")
	}
	return total, nil
}

func publishPlans(cat *model.Catalog) ([]tablePlan, error) {
	plan := func(table string, cols []string) tablePlan {
		return tablePlan{cfg: db.UpsertConfig{Table: table, Columns: cols, ConflictKeys: []string{"id"}}}
	}

	products := plan("catalog.product_types", []string{"id", "code", "name", "display_order"})
	for _, p := range cat.ProductTypes {
		products.rows = append(products.rows, []any{p.ID, p.Code, p.Name, p.DisplayOrder})
	}

	styles := plan("catalog.product_styles", []string{"id", "product_type_id", "code", "name"})
	for _, s := range cat.Styles {
		styles.rows = append(styles.rows, []any{s.ID, s.ProductTypeID, s.Code, s.Name})
	}

	variables := plan("catalog.product_variables", []string{"id", "product_type_id", "name", "kind", "allowed_values", "default_value"})
	for _, v := range cat.Variables {
		def, err := jsonOrNil(v.Default)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: encode default of %s", v.Name)
		}
		allowed := v.AllowedValues
		if allowed == nil {
			allowed = []string{}
		}
		variables.rows = append(variables.rows, []any{v.ID, v.ProductTypeID, v.Name, string(v.Kind), allowed, def})
	}

	components := plan("catalog.component_types", []string{"id", "code", "name", "unit", "output", "aggregate_key"})
	for _, c := range cat.Components {
		components.rows = append(components.rows, []any{c.ID, c.Code, c.Name, c.Unit, nullString(c.Output), nullString(c.AggregateKey)})
	}

	formulas := plan("catalog.formula_templates", []string{"id", "product_type_id", "style_id", "component_type_id", "formula", "rounding_level", "active"})
	for _, f := range cat.Formulas {
		level := f.RoundingLevel
		if level == "" {
			level = model.RoundComponent
		}
		formulas.rows = append(formulas.rows, []any{f.ID, f.ProductTypeID, f.StyleID, f.ComponentTypeID, f.Formula, string(level), f.Active})
	}

	assignments := plan("catalog.component_assignments", []string{"id", "product_type_id", "component_type_id", "optional", "display_order", "visibility"})
	for _, a := range cat.Assignments {
		var vis any
		if len(a.Visibility) > 0 {
			b, err := json.Marshal(a.Visibility)
			if err != nil {
				return nil, eris.Wrapf(err, "catalog: encode visibility of %s", a.ID)
			}
			vis = b
		}
		assignments.rows = append(assignments.rows, []any{a.ID, a.ProductTypeID, a.ComponentTypeID, a.Optional, a.DisplayOrder, vis})
	}

	groups := plan("catalog.labor_groups", []string{"id", "code", "name", "multi_select", "required", "display_order"})
	for _, g := range cat.LaborGroups {
		groups.rows = append(groups.rows, []any{g.ID, g.Code, g.Name, g.MultiSelect, g.Required, g.DisplayOrder})
	}

	codes := plan("catalog.labor_codes", []string{"id", "code", "name", "unit"})
	for _, lc := range cat.LaborCodes {
		codes.rows = append(codes.rows, []any{lc.ID, lc.Code, lc.Name, lc.Unit})
	}

	eligibility := plan("catalog.labor_group_eligibility", []string{"id", "product_type_id", "labor_group_id", "labor_code_id", "condition", "quantity_formula", "is_default", "display_order"})
	for _, e := range cat.Eligibility {
		eligibility.rows = append(eligibility.rows, []any{e.ID, e.ProductTypeID, e.LaborGroupID, e.LaborCodeID,
			nullString(e.Condition), nullString(e.QuantityFormula), e.IsDefault, e.DisplayOrder})
	}

	return []tablePlan{products, styles, variables, components, formulas, assignments, groups, codes, eligibility}, nil
}

func jsonOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
