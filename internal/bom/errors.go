package bom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// VisibilityConditionError reports a malformed visibility condition.
type VisibilityConditionError = model.VisibilityConditionError

// CatalogError reports snapshot data that cannot be computed, such as a
// required component without an active formula.
type CatalogError = model.CatalogError

// CyclicDependencyError reports formulas that reference each other's outputs
// in a cycle. Cycle lists component codes, starting and ending with the same
// component.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic formula dependency: " + strings.Join(e.Cycle, " -> ")
}

// ConfigurationError reports an ambiguous or unsatisfiable labor group: no
// eligible and no default code for a required group, or more than one default.
type ConfigurationError struct {
	Group  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("labor group %s: %s", e.Group, e.Reason)
}

// Stage is a state of the assembly state machine.
type Stage string

const (
	StageBound         Stage = "bound"
	StageFiltered      Stage = "filtered"
	StageOrdered       Stage = "ordered"
	StageEvaluated     Stage = "evaluated"
	StageNormalized    Stage = "normalized"
	StageLaborResolved Stage = "labor_resolved"
	StageAssembled     Stage = "assembled"
)

// RunError wraps the first failure of a run with the context a catalog
// maintainer needs to locate the defect.
type RunError struct {
	Stage      Stage
	Product    string
	Style      string
	Component  string
	LaborGroup string
	Formula    string
	Err        error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bom: %s failed for product %s", e.Stage, e.Product)
	if e.Style != "" {
		fmt.Fprintf(&b, " style %s", e.Style)
	}
	if e.Component != "" {
		fmt.Fprintf(&b, " component %s", e.Component)
	}
	if e.LaborGroup != "" {
		fmt.Fprintf(&b, " labor group %s", e.LaborGroup)
	}
	if e.Formula != "" {
		fmt.Fprintf(&b, " formula %q", e.Formula)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *RunError) Unwrap() error { return e.Err }

// UnpriceableMessage is the caller-facing text for a run that failed on
// catalog data.
const UnpriceableMessage = "this configuration cannot currently be priced"

// IsUnpriceable reports whether err is a catalog-data defect surfaced by a
// run, as opposed to an infrastructure failure.
func IsUnpriceable(err error) bool {
	if err == nil {
		return false
	}
	var (
		fe  *formula.Error
		vce *VisibilityConditionError
		cde *CyclicDependencyError
		cfg *ConfigurationError
		cat *CatalogError
	)
	return errors.As(err, &fe) || errors.As(err, &vce) || errors.As(err, &cde) ||
		errors.As(err, &cfg) || errors.As(err, &cat)
}
