package bom

import (
	"sort"

	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// PlanItem is one visible component with its compiled formula.
type PlanItem struct {
	Component model.SnapshotComponent
	Expr      *formula.Expr
}

// Code returns the component code.
func (p PlanItem) Code() string { return p.Component.Component.Code }

// Output returns the name other formulas use to reference this item.
func (p PlanItem) Output() string { return p.Component.Component.OutputName() }

func (p PlanItem) less(o PlanItem) bool {
	if p.Component.Assignment.DisplayOrder != o.Component.Assignment.DisplayOrder {
		return p.Component.Assignment.DisplayOrder < o.Component.Assignment.DisplayOrder
	}
	return p.Code() < o.Code()
}

// Plan orders items so every formula runs after the components whose
// outputs it references. References that match no item's output are left
// to the evaluator (they resolve to inputs or fail as unbound). Among items
// whose dependencies are satisfied, display order then code decides, so the
// result does not depend on the order items are passed in.
func Plan(items []PlanItem) ([]PlanItem, error) {
	n := len(items)
	byOutput := make(map[string]int, n)
	for i, it := range items {
		if j, dup := byOutput[it.Output()]; dup {
			return nil, &CatalogError{
				Product:   it.Component.Assignment.ProductTypeID,
				Component: it.Code(),
				Reason:    "output name " + it.Output() + " also used by " + items[j].Code(),
			}
		}
		byOutput[it.Output()] = i
	}

	deps := make([][]int, n)
	dependents := make([][]int, n)
	for i, it := range items {
		if it.Expr == nil {
			continue
		}
		for _, ref := range it.Expr.References() {
			j, ok := byOutput[ref]
			if !ok {
				continue
			}
			if j == i {
				return nil, &CyclicDependencyError{Cycle: []string{it.Code(), it.Code()}}
			}
			deps[i] = append(deps[i], j)
			dependents[j] = append(dependents[j], i)
		}
	}

	indegree := make([]int, n)
	var ready []int
	for i := range items {
		indegree[i] = len(deps[i])
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]PlanItem, 0, n)
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool { return items[ready[a]].less(items[ready[b]]) })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, items[next])
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(ordered) < n {
		return nil, &CyclicDependencyError{Cycle: findCycle(items, deps, indegree)}
	}
	return ordered, nil
}

// findCycle walks the unresolved nodes depth-first and returns the first
// cycle found as a list of component codes.
func findCycle(items []PlanItem, deps [][]int, indegree []int) []string {
	var remaining []int
	for i := range items {
		if indegree[i] > 0 {
			remaining = append(remaining, i)
		}
	}
	sort.Slice(remaining, func(a, b int) bool { return items[remaining[a]].less(items[remaining[b]]) })

	visiting := make(map[int]bool)
	visited := make(map[int]bool)
	var stack []int
	var cycle []string

	var visit func(i int) bool
	visit = func(i int) bool {
		visiting[i] = true
		stack = append(stack, i)
		next := append([]int(nil), deps[i]...)
		sort.Slice(next, func(a, b int) bool { return items[next[a]].less(items[next[b]]) })
		for _, d := range next {
			if visiting[d] {
				for k, s := range stack {
					if s == d {
						for _, c := range stack[k:] {
							cycle = append(cycle, items[c].Code())
						}
						cycle = append(cycle, items[d].Code())
						return true
					}
				}
			}
			if !visited[d] && visit(d) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, i)
		visited[i] = true
		return false
	}

	for _, i := range remaining {
		if !visited[i] && visit(i) {
			return cycle
		}
	}
	return nil
}
