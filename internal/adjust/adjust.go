// Package adjust classifies human corrections to computed BOM lines against
// flag and approval thresholds.
package adjust

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/fenceworks/estimator/internal/model"
)

// LaborRefPrefix marks a line reference that points at a labor code rather
// than a component line, e.g. "labor:PS-STD".
const LaborRefPrefix = "labor:"

// Classify compares an adjusted value against its calculated baseline.
// The percent delta is relative to |calculated| and is undefined when the
// baseline is zero, in which case only the amount thresholds apply. A
// threshold <= 0 is not configured and never triggers.
func Classify(calculated, adjusted float64, t model.Thresholds) model.Classification {
	c := model.Classification{AbsoluteDelta: adjusted - calculated}
	if calculated != 0 {
		pct := c.AbsoluteDelta * 100 / math.Abs(calculated)
		c.PercentDelta = &pct
	}

	c.Flagged = exceeds(c, t.FlagPercent, t.FlagAmount)
	c.RequiresApproval = exceeds(c, t.ApprovalPercent, t.ApprovalAmount)
	return c
}

func exceeds(c model.Classification, percent, amount float64) bool {
	if percent > 0 && c.PercentDelta != nil && math.Abs(*c.PercentDelta) >= percent {
		return true
	}
	return amount > 0 && math.Abs(c.AbsoluteDelta) >= amount
}

// ValidateThresholds checks threshold settings for consistency. Approval
// thresholds below their flag counterparts are reported but Classify does not
// depend on the ordering.
func ValidateThresholds(t model.Thresholds) error {
	var errs []string

	vals := []struct {
		name string
		v    float64
	}{
		{"flag_percent", t.FlagPercent},
		{"flag_amount", t.FlagAmount},
		{"approval_percent", t.ApprovalPercent},
		{"approval_amount", t.ApprovalAmount},
	}
	for _, f := range vals {
		if f.v < 0 || math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Sprintf("%s must be a finite value >= 0", f.name))
		}
	}

	if t.FlagPercent > 0 && t.ApprovalPercent > 0 && t.ApprovalPercent < t.FlagPercent {
		errs = append(errs, "approval_percent must be >= flag_percent")
	}
	if t.FlagAmount > 0 && t.ApprovalAmount > 0 && t.ApprovalAmount < t.FlagAmount {
		errs = append(errs, "approval_amount must be >= flag_amount")
	}

	if len(errs) > 0 {
		return eris.Errorf("adjust: threshold validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NewAdjustment builds an adjustment record against a persisted run. The
// line reference must name a component line of the run, or a selected labor
// code prefixed with LaborRefPrefix.
func NewAdjustment(run *model.BOMRun, lineRef string, calculated, adjusted float64, reason string, t model.Thresholds) (*model.Adjustment, error) {
	if run == nil {
		return nil, eris.New("adjust: run is required")
	}
	if !HasLine(&run.BOM, lineRef) {
		return nil, eris.Errorf("adjust: run %s has no line %q", run.ID, lineRef)
	}
	if math.IsNaN(calculated) || math.IsNaN(adjusted) || math.IsInf(calculated, 0) || math.IsInf(adjusted, 0) {
		return nil, eris.New("adjust: costs must be finite")
	}

	return &model.Adjustment{
		ID:             uuid.NewString(),
		RunID:          run.ID,
		ProjectID:      run.ProjectID,
		LineRef:        lineRef,
		CalculatedCost: calculated,
		AdjustedCost:   adjusted,
		Reason:         reason,
		Classification: Classify(calculated, adjusted, t),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// HasLine reports whether ref names a component line or selected labor code
// of b.
func HasLine(b *model.BOM, ref string) bool {
	if code, ok := strings.CutPrefix(ref, LaborRefPrefix); ok {
		for _, sel := range b.Labor {
			for _, lc := range sel.Codes {
				if lc.Code == code {
					return true
				}
			}
		}
		return false
	}
	return b.Line(ref) != nil
}
