package model

import "time"

// Line is one material line of an assembled BOM.
type Line struct {
	ComponentTypeID string        `json:"component_type_id"`
	ComponentCode   string        `json:"component_code"`
	Name            string        `json:"name"`
	RawQuantity     float64       `json:"raw_quantity"`
	RoundedQuantity float64       `json:"rounded_quantity"`
	Unit            string        `json:"unit"`
	RoundingLevel   RoundingLevel `json:"rounding_level"`
	AggregateKey    string        `json:"aggregate_key,omitempty"`
	Optional        bool          `json:"optional"`
	DisplayOrder    int           `json:"display_order"`
}

// AggregateName is the roll-up group of a project-level line: its
// component's aggregate key, or the component code when none is set.
func (l Line) AggregateName() string {
	if l.AggregateKey != "" {
		return l.AggregateKey
	}
	return l.ComponentCode
}

// LaborLine is a labor code selected (or offered) for a labor group.
type LaborLine struct {
	LaborCodeID string   `json:"labor_code_id"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Unit        string   `json:"unit,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	IsDefault   bool     `json:"is_default"`
}

// LaborSelection is the outcome of eligibility resolution for one group.
// Single-select groups carry exactly one code; multi-select groups carry
// every eligible candidate.
type LaborSelection struct {
	GroupID     string      `json:"group_id"`
	GroupCode   string      `json:"group_code"`
	MultiSelect bool        `json:"multi_select"`
	Codes       []LaborLine `json:"codes"`
}

// Aggregate is a project-level roll-up of deferred-rounding components.
type Aggregate struct {
	Key          string   `json:"key"`
	Unit         string   `json:"unit"`
	RawTotal     float64  `json:"raw_total"`
	RoundedTotal float64  `json:"rounded_total"`
	Components   []string `json:"components"`
}

// BOM is the itemized output of one computation run.
type BOM struct {
	ProductType     string           `json:"product_type"`
	Style           string           `json:"style,omitempty"`
	Variables       map[string]any   `json:"variables"`
	Lines           []Line           `json:"lines"`
	Labor           []LaborSelection `json:"labor"`
	Aggregates      []Aggregate      `json:"aggregates,omitempty"`
	EvaluationOrder []string         `json:"evaluation_order"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// Line returns the line for a component code, or nil.
func (b *BOM) Line(componentCode string) *Line {
	for i := range b.Lines {
		if b.Lines[i].ComponentCode == componentCode {
			return &b.Lines[i]
		}
	}
	return nil
}

// LaborFor returns the labor selection for a group code, or nil.
func (b *BOM) LaborFor(groupCode string) *LaborSelection {
	for i := range b.Labor {
		if b.Labor[i].GroupCode == groupCode {
			return &b.Labor[i]
		}
	}
	return nil
}

// BOMRun is a persisted BOM tied to a concrete project. Runs are immutable;
// corrections are recorded as Adjustments.
type BOMRun struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	BOM       BOM       `json:"bom"`
	CreatedAt time.Time `json:"created_at"`
}
