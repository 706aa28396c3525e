package bom

import (
	"fmt"

	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// SelectLabor resolves which labor codes apply to one group under the bound
// configuration. Options must already be in display order. Conditions are
// evaluated against b, which should hold the final component outputs so that
// quantity formulas can reference them.
func SelectLabor(group model.SnapshotLaborGroup, b *Bindings, cache *formula.Cache) (model.LaborSelection, error) {
	sel := model.LaborSelection{
		GroupID:     group.Group.ID,
		GroupCode:   group.Group.Code,
		MultiSelect: group.Group.MultiSelect,
	}

	def := -1
	for i, opt := range group.Options {
		if !opt.Eligibility.IsDefault {
			continue
		}
		if def >= 0 {
			return sel, &ConfigurationError{
				Group:  group.Group.Code,
				Reason: fmt.Sprintf("more than one default code (%s, %s)", group.Options[def].Code.Code, opt.Code.Code),
			}
		}
		def = i
	}

	var picked []int
	for i, opt := range group.Options {
		ok, err := eligible(opt.Eligibility, b, cache)
		if err != nil {
			return sel, err
		}
		if !ok {
			continue
		}
		picked = append(picked, i)
		if !group.Group.MultiSelect {
			break
		}
	}

	if group.Group.MultiSelect {
		if def >= 0 && !containsIndex(picked, def) {
			picked = insertOrdered(picked, def)
		}
	} else if len(picked) == 0 && def >= 0 {
		picked = []int{def}
	}

	if len(picked) == 0 {
		if group.Group.Required {
			return sel, &ConfigurationError{Group: group.Group.Code, Reason: "no eligible or default labor code"}
		}
		return sel, nil
	}

	for _, i := range picked {
		opt := group.Options[i]
		line := model.LaborLine{
			LaborCodeID: opt.Code.ID,
			Code:        opt.Code.Code,
			Name:        opt.Code.Name,
			Unit:        opt.Code.Unit,
			IsDefault:   opt.Eligibility.IsDefault,
		}
		if opt.Eligibility.QuantityFormula != "" {
			e, err := cache.Compile(opt.Eligibility.QuantityFormula)
			if err != nil {
				return sel, err
			}
			qty, err := e.EvalNumber(b)
			if err != nil {
				return sel, err
			}
			qty = formula.RoundUp(qty)
			line.Quantity = &qty
		}
		sel.Codes = append(sel.Codes, line)
	}
	return sel, nil
}

func eligible(e model.LaborGroupEligibility, b *Bindings, cache *formula.Cache) (bool, error) {
	if e.Condition == "" {
		return true, nil
	}
	expr, err := cache.Compile(e.Condition)
	if err != nil {
		return false, err
	}
	return expr.EvalBool(b)
}

func containsIndex(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// insertOrdered keeps option indexes ascending, which is display order.
func insertOrdered(xs []int, x int) []int {
	for i, v := range xs {
		if v > x {
			xs = append(xs, 0)
			copy(xs[i+1:], xs[i:])
			xs[i] = x
			return xs
		}
	}
	return append(xs, x)
}
