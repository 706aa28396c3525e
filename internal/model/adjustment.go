package model

import "time"

// Thresholds configure adjustment classification. A value <= 0 means the
// threshold is not configured and never triggers.
type Thresholds struct {
	FlagPercent     float64 `json:"flag_percent" yaml:"flag_percent" mapstructure:"flag_percent"`
	FlagAmount      float64 `json:"flag_amount" yaml:"flag_amount" mapstructure:"flag_amount"`
	ApprovalPercent float64 `json:"approval_percent" yaml:"approval_percent" mapstructure:"approval_percent"`
	ApprovalAmount  float64 `json:"approval_amount" yaml:"approval_amount" mapstructure:"approval_amount"`
}

// Classification is the outcome of comparing an adjusted value against its
// calculated baseline. PercentDelta is nil when the baseline is zero.
type Classification struct {
	Flagged          bool     `json:"flagged"`
	RequiresApproval bool     `json:"requires_approval"`
	PercentDelta     *float64 `json:"percent_delta"`
	AbsoluteDelta    float64  `json:"absolute_delta"`
}

// Adjustment is a human correction to one line of a persisted BOM run.
// It references the immutable baseline and never overwrites it.
type Adjustment struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	ProjectID      string         `json:"project_id"`
	LineRef        string         `json:"line_ref"`
	CalculatedCost float64        `json:"calculated_cost"`
	AdjustedCost   float64        `json:"adjusted_cost"`
	Reason         string         `json:"reason,omitempty"`
	Classification Classification `json:"classification"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Amount is the signed adjustment amount.
func (a Adjustment) Amount() float64 {
	return a.AdjustedCost - a.CalculatedCost
}
