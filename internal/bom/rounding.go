package bom

import (
	"fmt"
	"math"
	"sort"

	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// Normalize applies a component's rounding level to its raw quantity.
// Component-level quantities are rounded up to whole units; applying it to
// an already whole quantity returns it unchanged. Project-level quantities
// pass through raw and are rounded later by Aggregate.
func Normalize(raw float64, level model.RoundingLevel) (float64, error) {
	switch level {
	case model.RoundComponent, "":
		return formula.RoundUp(raw), nil
	case model.RoundProject:
		return raw, nil
	default:
		return 0, &CatalogError{Reason: fmt.Sprintf("unknown rounding level %q", level)}
	}
}

// Aggregate rolls up project-level lines by aggregate key (see
// model.Line.AggregateName), so several components such as bagged concrete
// for line posts and gate posts can share one rounding. Each group's raw
// total is rounded up once, and the whole units are handed back to the
// member lines by largest remainder so that their rounded quantities sum to
// the group total. Lines may come from several BOMs of the same project;
// RoundedQuantity is written in place. Component-level lines are ignored.
//
// Members of a group must share a unit and have non-negative raw
// quantities; otherwise a *CatalogError is returned and no line is touched.
func Aggregate(lines []*model.Line) ([]model.Aggregate, error) {
	groups := make(map[string][]*model.Line)
	var keys []string
	for _, l := range lines {
		if l.RoundingLevel != model.RoundProject {
			continue
		}
		key := l.AggregateName()
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], l)
	}
	sort.Strings(keys)

	for _, key := range keys {
		members := groups[key]
		for _, l := range members {
			if l.RawQuantity < 0 {
				return nil, &CatalogError{
					Component: l.ComponentCode,
					Reason:    fmt.Sprintf("negative project-level quantity %v", l.RawQuantity),
				}
			}
			if l.Unit != members[0].Unit {
				return nil, &CatalogError{
					Component: l.ComponentCode,
					Reason: fmt.Sprintf("aggregate %q mixes units %q (%s) and %q (%s)",
						key, members[0].Unit, members[0].ComponentCode, l.Unit, l.ComponentCode),
				}
			}
		}
	}

	out := make([]model.Aggregate, 0, len(keys))
	for _, key := range keys {
		members := groups[key]
		var raw float64
		for _, l := range members {
			raw += l.RawQuantity
		}
		total := formula.RoundUp(raw)
		distribute(members, total)

		agg := model.Aggregate{
			Key:          key,
			Unit:         members[0].Unit,
			RawTotal:     raw,
			RoundedTotal: total,
		}
		seen := make(map[string]bool)
		for _, l := range members {
			if !seen[l.ComponentCode] {
				seen[l.ComponentCode] = true
				agg.Components = append(agg.Components, l.ComponentCode)
			}
		}
		out = append(out, agg)
	}
	return out, nil
}

// distribute assigns floor(raw) to every line and hands the remaining units
// to the lines with the largest fractional part. Ties go to the lower
// display order, then to the earlier line. Raw quantities are non-negative,
// so the floors never exceed total.
func distribute(lines []*model.Line, total float64) {
	type share struct {
		idx  int
		frac float64
	}
	shares := make([]share, len(lines))
	var assigned float64
	for i, l := range lines {
		base := math.Floor(formula.Snap(l.RawQuantity))
		l.RoundedQuantity = base
		assigned += base
		shares[i] = share{idx: i, frac: l.RawQuantity - base}
	}

	sort.SliceStable(shares, func(a, b int) bool {
		if shares[a].frac != shares[b].frac {
			return shares[a].frac > shares[b].frac
		}
		return lines[shares[a].idx].DisplayOrder < lines[shares[b].idx].DisplayOrder
	})

	left := int(total - assigned)
	for i := 0; left > 0 && len(shares) > 0; i = (i + 1) % len(shares) {
		lines[shares[i].idx].RoundedQuantity++
		left--
	}
}
