package model

import "fmt"

// VisibilityConditionError reports a malformed visibility condition.
type VisibilityConditionError struct {
	Variable string
	Reason   string
}

func (e *VisibilityConditionError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("visibility condition: variable %q: %s", e.Variable, e.Reason)
	}
	return "visibility condition: " + e.Reason
}

// CatalogError reports catalog data that cannot form a consistent snapshot,
// such as two active formulas for the same component.
type CatalogError struct {
	Product   string
	Component string
	Reason    string
}

func (e *CatalogError) Error() string {
	switch {
	case e.Component != "":
		return fmt.Sprintf("catalog: product %s component %s: %s", e.Product, e.Component, e.Reason)
	case e.Product != "":
		return fmt.Sprintf("catalog: product %s: %s", e.Product, e.Reason)
	default:
		return "catalog: " + e.Reason
	}
}
