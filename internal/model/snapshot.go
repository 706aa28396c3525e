package model

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a product type or style code is not in the catalog.
var ErrNotFound = errors.New("not found")

// Snapshot is the immutable, per-run view of the catalog for one product
// type and optional style. It is safe to share between goroutines as long as
// nobody mutates it after construction.
type Snapshot struct {
	Product    ProductType          `json:"product"`
	Style      *ProductStyle        `json:"style,omitempty"`
	Variables  []ProductVariable    `json:"variables"`
	Components []SnapshotComponent  `json:"components"`
	Labor      []SnapshotLaborGroup `json:"labor"`
}

// SnapshotComponent is a component assignment with its resolved formula.
// Formula is nil when no active formula exists for the product/style.
type SnapshotComponent struct {
	Assignment ComponentAssignment `json:"assignment"`
	Component  ComponentType       `json:"component"`
	Formula    *FormulaTemplate    `json:"formula,omitempty"`
}

// SnapshotLaborGroup is a labor group with the options eligible for the
// snapshot's product type, in display order.
type SnapshotLaborGroup struct {
	Group   LaborGroup    `json:"group"`
	Options []LaborOption `json:"options"`
}

// LaborOption pairs an eligibility row with its labor code.
type LaborOption struct {
	Eligibility LaborGroupEligibility `json:"eligibility"`
	Code        LaborCode             `json:"code"`
}

// StyleCode returns the style code or "" for style-agnostic snapshots.
func (s *Snapshot) StyleCode() string {
	if s.Style == nil {
		return ""
	}
	return s.Style.Code
}

// Snapshot builds the per-run view for a product code and optional style
// code. The returned snapshot shares no slices with the catalog.
func (c *Catalog) Snapshot(productCode, styleCode string) (*Snapshot, error) {
	var product *ProductType
	for i := range c.ProductTypes {
		if c.ProductTypes[i].Code == productCode {
			product = &c.ProductTypes[i]
			break
		}
	}
	if product == nil {
		return nil, fmt.Errorf("%w: product type %q", ErrNotFound, productCode)
	}

	snap := &Snapshot{Product: *product}

	if styleCode != "" {
		for i := range c.Styles {
			st := c.Styles[i]
			if st.ProductTypeID == product.ID && st.Code == styleCode {
				snap.Style = &st
				break
			}
		}
		if snap.Style == nil {
			return nil, fmt.Errorf("%w: style %q for product type %q", ErrNotFound, styleCode, productCode)
		}
	}

	for _, v := range c.Variables {
		if v.ProductTypeID == product.ID {
			v.AllowedValues = append([]string(nil), v.AllowedValues...)
			snap.Variables = append(snap.Variables, v)
		}
	}
	sort.SliceStable(snap.Variables, func(i, j int) bool {
		return snap.Variables[i].Name < snap.Variables[j].Name
	})

	components, err := c.snapshotComponents(product, snap.Style)
	if err != nil {
		return nil, err
	}
	snap.Components = components

	labor, err := c.snapshotLabor(product)
	if err != nil {
		return nil, err
	}
	snap.Labor = labor

	return snap, nil
}

func (c *Catalog) snapshotComponents(product *ProductType, style *ProductStyle) ([]SnapshotComponent, error) {
	byID := make(map[string]ComponentType, len(c.Components))
	for _, ct := range c.Components {
		byID[ct.ID] = ct
	}

	seen := make(map[string]bool)
	var out []SnapshotComponent
	for _, a := range c.Assignments {
		if a.ProductTypeID != product.ID {
			continue
		}
		ct, ok := byID[a.ComponentTypeID]
		if !ok {
			return nil, &CatalogError{Product: product.Code, Component: a.ComponentTypeID, Reason: "assignment references unknown component type"}
		}
		if seen[ct.ID] {
			return nil, &CatalogError{Product: product.Code, Component: ct.Code, Reason: "component assigned more than once"}
		}
		seen[ct.ID] = true

		f, err := c.resolveFormula(product, style, ct)
		if err != nil {
			return nil, err
		}

		a.Visibility = copyCondition(a.Visibility)
		out = append(out, SnapshotComponent{Assignment: a, Component: ct, Formula: f})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Assignment.DisplayOrder != out[j].Assignment.DisplayOrder {
			return out[i].Assignment.DisplayOrder < out[j].Assignment.DisplayOrder
		}
		return out[i].Component.Code < out[j].Component.Code
	})
	return out, nil
}

// resolveFormula picks the style-specific active formula when one exists and
// falls back to the style-agnostic one.
func (c *Catalog) resolveFormula(product *ProductType, style *ProductStyle, ct ComponentType) (*FormulaTemplate, error) {
	var specific, generic []FormulaTemplate
	for _, f := range c.Formulas {
		if !f.Active || f.ProductTypeID != product.ID || f.ComponentTypeID != ct.ID {
			continue
		}
		switch {
		case f.StyleID == nil:
			generic = append(generic, f)
		case style != nil && *f.StyleID == style.ID:
			specific = append(specific, f)
		}
	}

	pick := generic
	if len(specific) > 0 {
		pick = specific
	}
	switch len(pick) {
	case 0:
		return nil, nil
	case 1:
		f := pick[0]
		if f.RoundingLevel == "" {
			f.RoundingLevel = RoundComponent
		}
		return &f, nil
	default:
		return nil, &CatalogError{Product: product.Code, Component: ct.Code, Reason: fmt.Sprintf("%d active formulas for the same style scope", len(pick))}
	}
}

func (c *Catalog) snapshotLabor(product *ProductType) ([]SnapshotLaborGroup, error) {
	groups := make(map[string]LaborGroup, len(c.LaborGroups))
	for _, g := range c.LaborGroups {
		groups[g.ID] = g
	}
	codes := make(map[string]LaborCode, len(c.LaborCodes))
	for _, lc := range c.LaborCodes {
		codes[lc.ID] = lc
	}

	index := make(map[string]int)
	var out []SnapshotLaborGroup
	for _, e := range c.Eligibility {
		if e.ProductTypeID != product.ID {
			continue
		}
		g, ok := groups[e.LaborGroupID]
		if !ok {
			return nil, &CatalogError{Product: product.Code, Reason: fmt.Sprintf("eligibility %s references unknown labor group %s", e.ID, e.LaborGroupID)}
		}
		lc, ok := codes[e.LaborCodeID]
		if !ok {
			return nil, &CatalogError{Product: product.Code, Reason: fmt.Sprintf("eligibility %s references unknown labor code %s", e.ID, e.LaborCodeID)}
		}
		i, ok := index[g.ID]
		if !ok {
			i = len(out)
			index[g.ID] = i
			out = append(out, SnapshotLaborGroup{Group: g})
		}
		out[i].Options = append(out[i].Options, LaborOption{Eligibility: e, Code: lc})
	}

	for i := range out {
		opts := out[i].Options
		sort.SliceStable(opts, func(a, b int) bool {
			if opts[a].Eligibility.DisplayOrder != opts[b].Eligibility.DisplayOrder {
				return opts[a].Eligibility.DisplayOrder < opts[b].Eligibility.DisplayOrder
			}
			return opts[a].Code.Code < opts[b].Code.Code
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group.DisplayOrder != out[j].Group.DisplayOrder {
			return out[i].Group.DisplayOrder < out[j].Group.DisplayOrder
		}
		return out[i].Group.Code < out[j].Group.Code
	})
	return out, nil
}

func copyCondition(c VisibilityCondition) VisibilityCondition {
	if c == nil {
		return nil
	}
	out := make(VisibilityCondition, len(c))
	for k, v := range c {
		out[k] = append([]string(nil), v...)
	}
	return out
}
