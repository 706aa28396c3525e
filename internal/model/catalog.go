package model

import "gopkg.in/yaml.v3"

// VariableKind distinguishes numeric input slots from select lists.
type VariableKind string

const (
	VariableNumeric VariableKind = "numeric"
	VariableSelect  VariableKind = "select"
)

// RoundingLevel controls when a component's raw quantity is rounded.
type RoundingLevel string

const (
	// RoundComponent rounds immediately after the formula result.
	RoundComponent RoundingLevel = "component"
	// RoundProject defers rounding until project-level aggregation.
	RoundProject RoundingLevel = "project"
)

// ProductType is a sellable fence category (e.g. Wood Vertical).
type ProductType struct {
	ID           string `json:"id" yaml:"id"`
	Code         string `json:"code" yaml:"code"`
	Name         string `json:"name" yaml:"name"`
	DisplayOrder int    `json:"display_order" yaml:"display_order"`
}

// ProductStyle is an optional variant of a ProductType (e.g. good-neighbor).
type ProductStyle struct {
	ID            string `json:"id" yaml:"id"`
	ProductTypeID string `json:"product_type_id" yaml:"product_type_id"`
	Code          string `json:"code" yaml:"code"`
	Name          string `json:"name" yaml:"name"`
}

// ProductVariable is a named input slot scoped to a ProductType.
type ProductVariable struct {
	ID            string       `json:"id" yaml:"id"`
	ProductTypeID string       `json:"product_type_id" yaml:"product_type_id"`
	Name          string       `json:"name" yaml:"name"`
	Kind          VariableKind `json:"kind" yaml:"kind"`
	AllowedValues []string     `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	Default       any          `json:"default,omitempty" yaml:"default,omitempty"`
}

// ComponentType is one material line kind (post, picket, rail, bracket...).
// Components sharing an AggregateKey are rounded together when their
// formulas defer rounding to the project, e.g. every bagged concrete line.
type ComponentType struct {
	ID           string `json:"id" yaml:"id"`
	Code         string `json:"code" yaml:"code"`
	Name         string `json:"name" yaml:"name"`
	Unit         string `json:"unit" yaml:"unit"`
	Output       string `json:"output,omitempty" yaml:"output,omitempty"`
	AggregateKey string `json:"aggregate_key,omitempty" yaml:"aggregate_key,omitempty"`
}

// OutputName is the identifier other formulas use to reference this
// component's computed quantity.
func (c ComponentType) OutputName() string {
	if c.Output != "" {
		return c.Output
	}
	return c.Code + "_qty"
}

// FormulaTemplate computes the raw quantity of one component for a product
// type. A nil StyleID applies to every style of the product type.
type FormulaTemplate struct {
	ID              string        `json:"id" yaml:"id"`
	ProductTypeID   string        `json:"product_type_id" yaml:"product_type_id"`
	StyleID         *string       `json:"style_id,omitempty" yaml:"style_id,omitempty"`
	ComponentTypeID string        `json:"component_type_id" yaml:"component_type_id"`
	Formula         string        `json:"formula" yaml:"formula"`
	RoundingLevel   RoundingLevel `json:"rounding_level" yaml:"rounding_level"`
	Active          bool          `json:"active" yaml:"active"`
}

// ComponentAssignment links a ComponentType to a ProductType.
type ComponentAssignment struct {
	ID              string              `json:"id" yaml:"id"`
	ProductTypeID   string              `json:"product_type_id" yaml:"product_type_id"`
	ComponentTypeID string              `json:"component_type_id" yaml:"component_type_id"`
	Optional        bool                `json:"optional" yaml:"optional"`
	DisplayOrder    int                 `json:"display_order" yaml:"display_order"`
	Visibility      VisibilityCondition `json:"visibility,omitempty" yaml:"visibility,omitempty"`
}

// LaborGroup is a bucket of labor operations for one sub-task.
type LaborGroup struct {
	ID           string `json:"id" yaml:"id"`
	Code         string `json:"code" yaml:"code"`
	Name         string `json:"name" yaml:"name"`
	MultiSelect  bool   `json:"multi_select" yaml:"multi_select"`
	Required     bool   `json:"required" yaml:"required"`
	DisplayOrder int    `json:"display_order" yaml:"display_order"`
}

// LaborCode is a billable labor operation, independent of product type.
type LaborCode struct {
	ID   string `json:"id" yaml:"id"`
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
	Unit string `json:"unit" yaml:"unit"`
}

// LaborGroupEligibility makes a labor code available for a product type
// within a labor group. An empty Condition always matches.
type LaborGroupEligibility struct {
	ID              string `json:"id" yaml:"id"`
	ProductTypeID   string `json:"product_type_id" yaml:"product_type_id"`
	LaborGroupID    string `json:"labor_group_id" yaml:"labor_group_id"`
	LaborCodeID     string `json:"labor_code_id" yaml:"labor_code_id"`
	Condition       string `json:"condition,omitempty" yaml:"condition,omitempty"`
	QuantityFormula string `json:"quantity_formula,omitempty" yaml:"quantity_formula,omitempty"`
	IsDefault       bool   `json:"is_default" yaml:"is_default"`
	DisplayOrder    int    `json:"display_order" yaml:"display_order"`
}

// Catalog is a complete catalog document. It is the unit loaded by the
// file-backed catalog source and the input to catalog validation.
type Catalog struct {
	ProductTypes []ProductType           `json:"product_types" yaml:"product_types"`
	Styles       []ProductStyle          `json:"styles" yaml:"styles"`
	Variables    []ProductVariable       `json:"variables" yaml:"variables"`
	Components   []ComponentType         `json:"components" yaml:"components"`
	Formulas     []FormulaTemplate       `json:"formulas" yaml:"formulas"`
	Assignments  []ComponentAssignment   `json:"assignments" yaml:"assignments"`
	LaborGroups  []LaborGroup            `json:"labor_groups" yaml:"labor_groups"`
	LaborCodes   []LaborCode             `json:"labor_codes" yaml:"labor_codes"`
	Eligibility  []LaborGroupEligibility `json:"eligibility" yaml:"eligibility"`
}

// UnmarshalYAML defaults Active to true and RoundingLevel to component for
// hand-written catalog files.
func (f *FormulaTemplate) UnmarshalYAML(node *yaml.Node) error {
	type plain FormulaTemplate
	p := plain{Active: true, RoundingLevel: RoundComponent}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*f = FormulaTemplate(p)
	return nil
}
