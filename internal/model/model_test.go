package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseVisibilityCondition(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want VisibilityCondition
	}{
		{name: "empty input", raw: "", want: nil},
		{name: "null", raw: "null", want: nil},
		{name: "empty object", raw: "{}", want: nil},
		{name: "scalar value", raw: `{"post_type":"STEEL"}`, want: VisibilityCondition{"post_type": {"STEEL"}}},
		{name: "list value", raw: `{"concrete_type":["red-bags","yellow-bags"]}`, want: VisibilityCondition{"concrete_type": {"red-bags", "yellow-bags"}}},
		{name: "numbers canonical", raw: `{"height":[6.0, 8]}`, want: VisibilityCondition{"height": {"6", "8"}}},
		{name: "bool", raw: `{"gate":true}`, want: VisibilityCondition{"gate": {"true"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVisibilityCondition([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVisibilityCondition_Malformed(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `{"a":[]}`, `{"a":{"b":1}}`, `{"a":[null]}`, `{not json`} {
		_, err := ParseVisibilityCondition([]byte(raw))
		var vce *VisibilityConditionError
		assert.True(t, errors.As(err, &vce), "expected VisibilityConditionError for %s, got %v", raw, err)
	}
}

func TestVisibilityCondition_UnmarshalYAMLAndJSON(t *testing.T) {
	var a ComponentAssignment
	require.NoError(t, yaml.Unmarshal([]byte("visibility:\n  post_type: STEEL\n  height: [6, 8]\n"), &a))
	assert.Equal(t, VisibilityCondition{"post_type": {"STEEL"}, "height": {"6", "8"}}, a.Visibility)
	assert.Equal(t, []string{"height", "post_type"}, a.Visibility.Variables())

	var b ComponentAssignment
	require.NoError(t, json.Unmarshal([]byte(`{"visibility":{"post_type":["WOOD"]}}`), &b))
	assert.Equal(t, VisibilityCondition{"post_type": {"WOOD"}}, b.Visibility)

	assert.Error(t, yaml.Unmarshal([]byte("visibility: [a, b]\n"), &a))
}

func TestComponentType_OutputName(t *testing.T) {
	assert.Equal(t, "post_qty", ComponentType{Code: "post", Output: "post_qty"}.OutputName())
	assert.Equal(t, "rail_qty", ComponentType{Code: "rail"}.OutputName())
}

func TestComponentType_AggregateKeyYAML(t *testing.T) {
	var c ComponentType
	require.NoError(t, yaml.Unmarshal([]byte("{id: c-red, code: concrete_red, unit: bag, aggregate_key: concrete_bags}"), &c))
	assert.Equal(t, "concrete_bags", c.AggregateKey)
}

func TestLine_AggregateName(t *testing.T) {
	assert.Equal(t, "concrete_bags", Line{ComponentCode: "concrete_red", AggregateKey: "concrete_bags"}.AggregateName())
	assert.Equal(t, "picket", Line{ComponentCode: "picket"}.AggregateName())
}

func TestBOM_Lookups(t *testing.T) {
	b := &BOM{
		Lines: []Line{{ComponentCode: "post"}, {ComponentCode: "rail"}},
		Labor: []LaborSelection{{GroupCode: "post_setting"}},
	}
	require.NotNil(t, b.Line("rail"))
	assert.Equal(t, "rail", b.Line("rail").ComponentCode)
	assert.Nil(t, b.Line("gate"))
	assert.NotNil(t, b.LaborFor("post_setting"))
	assert.Nil(t, b.LaborFor("extras"))
}

func TestAdjustment_Amount(t *testing.T) {
	assert.InDelta(t, -25.5, Adjustment{CalculatedCost: 100, AdjustedCost: 74.5}.Amount(), 1e-9)
}

func TestCatalogError(t *testing.T) {
	assert.Equal(t, "catalog: product WV component post: no active formula",
		(&CatalogError{Product: "WV", Component: "post", Reason: "no active formula"}).Error())
	assert.Equal(t, "catalog: product WV: bad", (&CatalogError{Product: "WV", Reason: "bad"}).Error())
	assert.Equal(t, "catalog: bad", (&CatalogError{Reason: "bad"}).Error())
	assert.Equal(t, `visibility condition: variable "x": empty allowed-value set`,
		(&VisibilityConditionError{Variable: "x", Reason: "empty allowed-value set"}).Error())
}

func TestCatalogSnapshot_NotFound(t *testing.T) {
	cat := &Catalog{
		ProductTypes: []ProductType{{ID: "p-wv", Code: "WV"}},
		Styles:       []ProductStyle{{ID: "s1", ProductTypeID: "p-other", Code: "standard"}},
	}

	_, err := cat.Snapshot("CL", "")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = cat.Snapshot("WV", "standard")
	assert.True(t, errors.Is(err, ErrNotFound), "styles of other products are not visible")

	snap, err := cat.Snapshot("WV", "")
	require.NoError(t, err)
	assert.Equal(t, "", snap.StyleCode())
}
