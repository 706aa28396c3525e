package bom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fenceworks/estimator/internal/model"
)

var fixedClock = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }

func strPtr(s string) *string { return &s }

// woodVertical is a small Wood Vertical catalog: posts, pickets, rails,
// steel-only hardware, three concrete options and two labor groups.
func woodVertical() *model.Catalog {
	formula := func(id, component, src string) model.FormulaTemplate {
		return model.FormulaTemplate{
			ID: id, ProductTypeID: "p-wv", ComponentTypeID: component,
			Formula: src, RoundingLevel: model.RoundComponent, Active: true,
		}
	}
	picketGN := formula("f-picket-gn", "c-picket", "[length] * 12 / 5.5 * 2")
	picketGN.StyleID = strPtr("s-gn")
	picketGN.RoundingLevel = model.RoundProject
	picket := formula("f-picket", "c-picket", "[length] * 12 / 5.5")
	picket.RoundingLevel = model.RoundProject
	retired := formula("f-post-old", "c-post", "[length] / [spacing]")
	retired.Active = false

	return &model.Catalog{
		ProductTypes: []model.ProductType{{ID: "p-wv", Code: "WV", Name: "Wood Vertical"}},
		Styles: []model.ProductStyle{
			{ID: "s-std", ProductTypeID: "p-wv", Code: "standard", Name: "Standard"},
			{ID: "s-gn", ProductTypeID: "p-wv", Code: "good-neighbor", Name: "Good Neighbor"},
		},
		Variables: []model.ProductVariable{
			{ID: "v-length", ProductTypeID: "p-wv", Name: "length", Kind: model.VariableNumeric},
			{ID: "v-spacing", ProductTypeID: "p-wv", Name: "spacing", Kind: model.VariableNumeric, Default: 8},
			{ID: "v-height", ProductTypeID: "p-wv", Name: "height", Kind: model.VariableNumeric, Default: 6},
			{ID: "v-post", ProductTypeID: "p-wv", Name: "post_type", Kind: model.VariableSelect,
				AllowedValues: []string{"WOOD", "STEEL"}, Default: "WOOD"},
			{ID: "v-concrete", ProductTypeID: "p-wv", Name: "concrete_type", Kind: model.VariableSelect,
				AllowedValues: []string{"3-part", "red-bags", "yellow-bags"}, Default: "3-part"},
		},
		Components: []model.ComponentType{
			{ID: "c-post", Code: "post", Name: "Post", Unit: "ea", Output: "post_qty"},
			{ID: "c-picket", Code: "picket", Name: "Picket", Unit: "ea"},
			{ID: "c-rail", Code: "rail", Name: "Rail", Unit: "ea"},
			{ID: "c-bracket", Code: "bracket", Name: "Steel post bracket", Unit: "ea"},
			{ID: "c-lag", Code: "lag_screws", Name: "Lag screws", Unit: "ea"},
			{ID: "c-c3", Code: "concrete_3part", Name: "Concrete (3-part)", Unit: "bag"},
			{ID: "c-red", Code: "concrete_red", Name: "Concrete (red bag)", Unit: "bag"},
			{ID: "c-yellow", Code: "concrete_yellow", Name: "Concrete (yellow bag)", Unit: "bag"},
		},
		Formulas: []model.FormulaTemplate{
			retired,
			formula("f-post", "c-post", "ROUNDUP([length] / [spacing]) + 1"),
			picket,
			picketGN,
			formula("f-rail", "c-rail", "([post_qty] - 1) * 2"),
			formula("f-bracket", "c-bracket", "[post_qty] * 2"),
			formula("f-lag", "c-lag", "[bracket_qty] * 4"),
			formula("f-c3", "c-c3", "[post_qty] * 0.5"),
			formula("f-red", "c-red", "[post_qty] * 1.5"),
			formula("f-yellow", "c-yellow", "[post_qty] * 0.65"),
		},
		Assignments: []model.ComponentAssignment{
			{ID: "a-post", ProductTypeID: "p-wv", ComponentTypeID: "c-post", DisplayOrder: 10},
			{ID: "a-picket", ProductTypeID: "p-wv", ComponentTypeID: "c-picket", DisplayOrder: 20},
			{ID: "a-rail", ProductTypeID: "p-wv", ComponentTypeID: "c-rail", DisplayOrder: 30},
			{ID: "a-bracket", ProductTypeID: "p-wv", ComponentTypeID: "c-bracket", DisplayOrder: 40,
				Visibility: model.VisibilityCondition{"post_type": {"STEEL"}}},
			{ID: "a-lag", ProductTypeID: "p-wv", ComponentTypeID: "c-lag", DisplayOrder: 50,
				Visibility: model.VisibilityCondition{"post_type": {"STEEL"}}},
			{ID: "a-c3", ProductTypeID: "p-wv", ComponentTypeID: "c-c3", DisplayOrder: 60,
				Visibility: model.VisibilityCondition{"concrete_type": {"3-part"}}},
			{ID: "a-red", ProductTypeID: "p-wv", ComponentTypeID: "c-red", DisplayOrder: 61,
				Visibility: model.VisibilityCondition{"concrete_type": {"red-bags"}}},
			{ID: "a-yellow", ProductTypeID: "p-wv", ComponentTypeID: "c-yellow", DisplayOrder: 62,
				Visibility: model.VisibilityCondition{"concrete_type": {"yellow-bags"}}},
		},
		LaborGroups: []model.LaborGroup{
			{ID: "g-post", Code: "post_setting", Name: "Post setting", Required: true, DisplayOrder: 1},
			{ID: "g-extra", Code: "extras", Name: "Extras", MultiSelect: true, DisplayOrder: 2},
		},
		LaborCodes: []model.LaborCode{
			{ID: "l-tall", Code: "PS-TALL", Name: "Set tall posts", Unit: "ea"},
			{ID: "l-steel", Code: "PS-STEEL", Name: "Set steel posts", Unit: "ea"},
			{ID: "l-std", Code: "PS-STD", Name: "Set wood posts", Unit: "ea"},
			{ID: "l-haul", Code: "HAUL", Name: "Haul away old fence", Unit: "ft"},
			{ID: "l-stain", Code: "STAIN", Name: "Stain", Unit: "ft"},
			{ID: "l-clean", Code: "CLEANUP", Name: "Site cleanup", Unit: "job"},
		},
		Eligibility: []model.LaborGroupEligibility{
			{ID: "e-tall", ProductTypeID: "p-wv", LaborGroupID: "g-post", LaborCodeID: "l-tall",
				Condition: "[height] > 6", QuantityFormula: "[post_qty]", DisplayOrder: 1},
			{ID: "e-steel", ProductTypeID: "p-wv", LaborGroupID: "g-post", LaborCodeID: "l-steel",
				Condition: `[height] <= 6 AND [post_type] == "STEEL"`, QuantityFormula: "[post_qty]", DisplayOrder: 2},
			{ID: "e-std", ProductTypeID: "p-wv", LaborGroupID: "g-post", LaborCodeID: "l-std",
				Condition: `[post_type] == "WOOD"`, QuantityFormula: "[post_qty]", IsDefault: true, DisplayOrder: 3},
			{ID: "e-haul", ProductTypeID: "p-wv", LaborGroupID: "g-extra", LaborCodeID: "l-haul",
				Condition: "[length] > 50", QuantityFormula: "[length]", DisplayOrder: 1},
			{ID: "e-stain", ProductTypeID: "p-wv", LaborGroupID: "g-extra", LaborCodeID: "l-stain",
				Condition: `[post_type] == "STEEL"`, DisplayOrder: 2},
			{ID: "e-clean", ProductTypeID: "p-wv", LaborGroupID: "g-extra", LaborCodeID: "l-clean",
				Condition: "[length] > 1000", IsDefault: true, DisplayOrder: 3},
		},
	}
}

func snapshot(t *testing.T, cat *model.Catalog, style string) *model.Snapshot {
	t.Helper()
	snap, err := cat.Snapshot("WV", style)
	require.NoError(t, err)
	return snap
}

func laborCodes(sel *model.LaborSelection) []string {
	if sel == nil {
		return nil
	}
	out := make([]string, len(sel.Codes))
	for i, c := range sel.Codes {
		out[i] = c.Code
	}
	return out
}
