package bom

import (
	"github.com/fenceworks/estimator/internal/model"
)

// IsVisible decides whether a component applies to the bound configuration.
// A nil condition is always visible. Allowed values of one variable are
// OR-ed, variables are AND-ed, and comparison is case-sensitive on the
// canonical string form of the bound value. A variable that is not bound
// makes the condition false; it never errors and never defaults to visible.
// Only a structurally malformed condition returns an error.
func IsVisible(cond model.VisibilityCondition, b *Bindings) (bool, error) {
	if len(cond) == 0 {
		return true, nil
	}
	if err := cond.Validate(); err != nil {
		return false, err
	}

	for _, name := range cond.Variables() {
		v, ok := b.Lookup(name)
		if !ok {
			return false, nil
		}
		s, ok := model.CanonicalString(v.Interface())
		if !ok || !contains(cond[name], s) {
			return false, nil
		}
	}
	return true, nil
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
