package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// Problem is one catalog defect found by Validate.
type Problem struct {
	Entity  string `json:"entity"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s %s: %s", p.Entity, p.ID, p.Message)
}

// ValidationError carries every problem found in a catalog.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("catalog: %d problem(s): %s", len(e.Problems), strings.Join(msgs, "; "))
}

type validator struct {
	cat      *model.Catalog
	problems []Problem

	products   map[string]model.ProductType
	styles     map[string]model.ProductStyle
	components map[string]model.ComponentType
	groups     map[string]model.LaborGroup
	codes      map[string]model.LaborCode
}

func (v *validator) add(entity, id, format string, args ...any) {
	v.problems = append(v.problems, Problem{Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a catalog document the way a catalog editor should before
// saving it: identifiers resolve, formulas and conditions compile, the
// one-active-formula and one-default invariants hold, components rounded
// together share a unit, required single-select labor groups can always
// pick a code, and no product's formulas form a dependency cycle. A nil result means the catalog can be published.
func Validate(cat *model.Catalog) []Problem {
	v := &validator{
		cat:        cat,
		products:   make(map[string]model.ProductType),
		styles:     make(map[string]model.ProductStyle),
		components: make(map[string]model.ComponentType),
		groups:     make(map[string]model.LaborGroup),
		codes:      make(map[string]model.LaborCode),
	}
	v.indexes()
	v.variables()
	v.formulas()
	v.assignments()
	v.eligibility()
	v.cycles()
	return v.problems
}

func (v *validator) indexes() {
	codes := make(map[string]bool)
	for _, p := range v.cat.ProductTypes {
		v.unique("product_type", p.ID, p.Code, codes)
		v.products[p.ID] = p
	}
	codes = make(map[string]bool)
	for _, s := range v.cat.Styles {
		if _, ok := v.products[s.ProductTypeID]; !ok {
			v.add("style", s.ID, "unknown product type %s", s.ProductTypeID)
		}
		v.unique("style", s.ID, s.ProductTypeID+"/"+s.Code, codes)
		v.styles[s.ID] = s
	}
	codes = make(map[string]bool)
	units := make(map[string]model.ComponentType)
	for _, c := range v.cat.Components {
		v.unique("component", c.ID, c.Code, codes)
		v.components[c.ID] = c

		key := c.AggregateKey
		if key == "" {
			key = c.Code
		}
		if first, ok := units[key]; ok && first.Unit != c.Unit {
			v.add("component", c.ID, "aggregate %q mixes units %q (%s) and %q", key, first.Unit, first.Code, c.Unit)
		} else if !ok {
			units[key] = c
		}
	}
	codes = make(map[string]bool)
	for _, g := range v.cat.LaborGroups {
		v.unique("labor_group", g.ID, g.Code, codes)
		v.groups[g.ID] = g
	}
	codes = make(map[string]bool)
	for _, lc := range v.cat.LaborCodes {
		v.unique("labor_code", lc.ID, lc.Code, codes)
		v.codes[lc.ID] = lc
	}
}

func (v *validator) unique(entity, id, code string, seen map[string]bool) {
	if id == "" {
		v.add(entity, code, "missing id")
	}
	if seen[code] {
		v.add(entity, id, "duplicate code %s", code)
	}
	seen[code] = true
}

func (v *validator) variables() {
	seen := make(map[string]bool)
	for _, pv := range v.cat.Variables {
		if _, ok := v.products[pv.ProductTypeID]; !ok {
			v.add("variable", pv.ID, "unknown product type %s", pv.ProductTypeID)
		}
		key := pv.ProductTypeID + "/" + pv.Name
		if seen[key] {
			v.add("variable", pv.ID, "duplicate variable name %s", pv.Name)
		}
		seen[key] = true

		switch pv.Kind {
		case model.VariableNumeric:
			if pv.Default != nil {
				if val, ok := formula.ValueOf(pv.Default); !ok {
					v.add("variable", pv.ID, "default is not a number")
				} else if _, ok := val.Number(); !ok {
					v.add("variable", pv.ID, "default is not a number")
				}
			}
		case model.VariableSelect:
			if len(pv.AllowedValues) == 0 {
				v.add("variable", pv.ID, "select variable %s has no allowed values", pv.Name)
			}
			if pv.Default != nil {
				s, ok := model.CanonicalString(pv.Default)
				if !ok || !containsString(pv.AllowedValues, s) {
					v.add("variable", pv.ID, "default %v is not an allowed value", pv.Default)
				}
			}
		default:
			v.add("variable", pv.ID, "unknown kind %q", pv.Kind)
		}
	}
}

func (v *validator) formulas() {
	active := make(map[string]string)
	for _, f := range v.cat.Formulas {
		if _, ok := v.products[f.ProductTypeID]; !ok {
			v.add("formula", f.ID, "unknown product type %s", f.ProductTypeID)
		}
		if _, ok := v.components[f.ComponentTypeID]; !ok {
			v.add("formula", f.ID, "unknown component type %s", f.ComponentTypeID)
		}
		style := ""
		if f.StyleID != nil {
			style = *f.StyleID
			st, ok := v.styles[style]
			switch {
			case !ok:
				v.add("formula", f.ID, "unknown style %s", style)
			case st.ProductTypeID != f.ProductTypeID:
				v.add("formula", f.ID, "style %s belongs to another product type", st.Code)
			}
		}
		switch f.RoundingLevel {
		case model.RoundComponent, model.RoundProject, "":
		default:
			v.add("formula", f.ID, "unknown rounding level %q", f.RoundingLevel)
		}
		if !f.Active {
			continue
		}

		key := f.ProductTypeID + "/" + style + "/" + f.ComponentTypeID
		if other, dup := active[key]; dup {
			v.add("formula", f.ID, "second active formula for the same product, style and component (also %s)", other)
		}
		active[key] = f.ID

		expr, err := formula.Compile(f.Formula)
		if err != nil {
			v.add("formula", f.ID, "%v", err)
			continue
		}
		v.references("formula", f.ID, f.ProductTypeID, expr)
	}
}

// references reports identifiers that are neither a variable of the product
// nor the output of a component assigned to it.
func (v *validator) references(entity, id, productID string, expr *formula.Expr) {
	known := make(map[string]bool)
	for _, pv := range v.cat.Variables {
		if pv.ProductTypeID == productID {
			known[pv.Name] = true
		}
	}
	for _, a := range v.cat.Assignments {
		if a.ProductTypeID == productID {
			if c, ok := v.components[a.ComponentTypeID]; ok {
				known[c.OutputName()] = true
			}
		}
	}
	for _, ref := range expr.References() {
		if !known[ref] {
			v.add(entity, id, "references unknown name %q", ref)
		}
	}
}

func (v *validator) assignments() {
	declared := make(map[string]map[string]bool)
	for _, pv := range v.cat.Variables {
		if declared[pv.ProductTypeID] == nil {
			declared[pv.ProductTypeID] = make(map[string]bool)
		}
		declared[pv.ProductTypeID][pv.Name] = true
	}

	seen := make(map[string]bool)
	for _, a := range v.cat.Assignments {
		if _, ok := v.products[a.ProductTypeID]; !ok {
			v.add("assignment", a.ID, "unknown product type %s", a.ProductTypeID)
		}
		if _, ok := v.components[a.ComponentTypeID]; !ok {
			v.add("assignment", a.ID, "unknown component type %s", a.ComponentTypeID)
		}
		key := a.ProductTypeID + "/" + a.ComponentTypeID
		if seen[key] {
			v.add("assignment", a.ID, "component assigned twice to the same product type")
		}
		seen[key] = true

		if err := a.Visibility.Validate(); err != nil {
			v.add("assignment", a.ID, "%v", err)
			continue
		}
		for _, name := range a.Visibility.Variables() {
			if !declared[a.ProductTypeID][name] {
				v.add("assignment", a.ID, "visibility references undeclared variable %q", name)
			}
		}
	}
}

func (v *validator) eligibility() {
	type groupKey struct{ product, group string }
	defaults := make(map[groupKey][]string)
	unconditional := make(map[groupKey]bool)
	present := make(map[groupKey]bool)

	for _, e := range v.cat.Eligibility {
		if _, ok := v.products[e.ProductTypeID]; !ok {
			v.add("eligibility", e.ID, "unknown product type %s", e.ProductTypeID)
		}
		if _, ok := v.groups[e.LaborGroupID]; !ok {
			v.add("eligibility", e.ID, "unknown labor group %s", e.LaborGroupID)
		}
		if _, ok := v.codes[e.LaborCodeID]; !ok {
			v.add("eligibility", e.ID, "unknown labor code %s", e.LaborCodeID)
		}

		k := groupKey{e.ProductTypeID, e.LaborGroupID}
		present[k] = true
		if e.IsDefault {
			defaults[k] = append(defaults[k], e.ID)
		}
		if e.Condition == "" {
			unconditional[k] = true
		} else if expr, err := formula.Compile(e.Condition); err != nil {
			v.add("eligibility", e.ID, "condition: %v", err)
		} else {
			v.references("eligibility", e.ID, e.ProductTypeID, expr)
		}
		if e.QuantityFormula != "" {
			if expr, err := formula.Compile(e.QuantityFormula); err != nil {
				v.add("eligibility", e.ID, "quantity formula: %v", err)
			} else {
				v.references("eligibility", e.ID, e.ProductTypeID, expr)
			}
		}
	}

	keys := make([]groupKey, 0, len(present))
	for k := range present {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].product != keys[j].product {
			return keys[i].product < keys[j].product
		}
		return keys[i].group < keys[j].group
	})
	for _, k := range keys {
		id := k.product + "/" + k.group
		if d := defaults[k]; len(d) > 1 {
			v.add("labor_group", id, "more than one default code (%s)", strings.Join(d, ", "))
		}
		g, ok := v.groups[k.group]
		if ok && g.Required && !g.MultiSelect && len(defaults[k]) == 0 && !unconditional[k] {
			v.add("labor_group", id, "required group has neither a default nor an unconditional code")
		}
	}
}

// cycles plans every product/style combination with all formula-bearing
// components, ignoring visibility, so a cycle that only some inputs reach
// is still found.
func (v *validator) cycles() {
	for _, p := range v.cat.ProductTypes {
		styles := []string{""}
		for _, s := range v.cat.Styles {
			if s.ProductTypeID == p.ID {
				styles = append(styles, s.Code)
			}
		}
		reported := make(map[string]bool)
		for _, style := range styles {
			snap, err := v.cat.Snapshot(p.Code, style)
			if err != nil {
				var ce *model.CatalogError
				if errors.As(err, &ce) && !reported[err.Error()] {
					reported[err.Error()] = true
					v.add("product_type", p.ID, "%s", ce.Reason)
				}
				continue
			}
			var items []bom.PlanItem
			for _, sc := range snap.Components {
				if sc.Formula == nil {
					if !sc.Assignment.Optional {
						msg := fmt.Sprintf("required component %s has no active formula", sc.Component.Code)
						if style != "" {
							msg += " for style " + style
						}
						if !reported[msg] {
							reported[msg] = true
							v.add("product_type", p.ID, "%s", msg)
						}
					}
					continue
				}
				expr, err := formula.Compile(sc.Formula.Formula)
				if err != nil {
					continue
				}
				items = append(items, bom.PlanItem{Component: sc, Expr: expr})
			}
			if _, err := bom.Plan(items); err != nil && !reported[err.Error()] {
				reported[err.Error()] = true
				v.add("product_type", p.ID, "%v", err)
			}
		}
	}
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
