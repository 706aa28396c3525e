package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/model"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"length=100", " post_type = STEEL ", "spacing=7.5", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"length":    100.0,
		"post_type": "STEEL",
		"spacing":   7.5,
		"note":      "a=b",
	}, vars)

	for _, bad := range []string{"length", "=5", ""} {
		_, err := parseVars([]string{bad})
		assert.Error(t, err, "expected error for %q", bad)
	}
}

func TestParseVars_NonFiniteStaysText(t *testing.T) {
	vars, err := parseVars([]string{"length=Inf", "height=NaN", "width=-inf", "spacing=1e3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"length":  "Inf",
		"height":  "NaN",
		"width":   "-inf",
		"spacing": 1000.0,
	}, vars)
}

func TestCompute_InfiniteLengthFails(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := computeSegment(t.Context(), env, segment{Product: "WV", Variables: map[string]any{"length": "Inf"}})
	require.Error(t, err)
	assert.True(t, bom.IsUnpriceable(err))
}

func TestComputeSegment(t *testing.T) {
	env := newTestEnv(t, nil)

	b, err := computeSegment(t.Context(), env, segment{Product: "WV", Variables: map[string]any{"length": 100.0}})
	require.NoError(t, err)

	post := b.Line("post")
	require.NotNil(t, post)
	assert.InDelta(t, 14.0, post.RoundedQuantity, 1e-9)
	require.NotNil(t, b.LaborFor("post_setting"))
	assert.Equal(t, "PS-STD", b.LaborFor("post_setting").Codes[0].Code)
}

func TestComputeSegment_Errors(t *testing.T) {
	env := newTestEnv(t, breakFormula("f-post", "[length] / 0"))

	_, err := computeSegment(t.Context(), env, segment{})
	assert.Error(t, err)

	_, err = computeSegment(t.Context(), env, segment{Product: "NOPE"})
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = computeSegment(t.Context(), env, segment{Product: "WV", Variables: map[string]any{"length": 100.0}})
	require.Error(t, err)
	assert.True(t, bom.IsUnpriceable(err))
}

func TestPrintBOM(t *testing.T) {
	env := newTestEnv(t, nil)
	b, err := computeSegment(t.Context(), env, segment{Product: "WV", Variables: map[string]any{"length": 1000.0}})
	require.NoError(t, err)

	var buf bytes.Buffer
	printBOM(&buf, b)
	out := buf.String()

	assert.Contains(t, out, "COMPONENT")
	assert.Contains(t, out, "post")
	assert.Contains(t, out, "LABOR GROUP")
	assert.Contains(t, out, "PS-STD")
	assert.Contains(t, out, "(default)")
	assert.Contains(t, out, "PROJECT TOTAL")
	// 1000 * 12 / 5.5 = 2181.82 pickets, rounded once at project level.
	assert.Contains(t, out, printer.Sprintf("%v", 2182.0))
}
