package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceworks/estimator/internal/model"
)

const fixture = "testdata/wood_vertical.yaml"

func TestLoadFile(t *testing.T) {
	cat, err := LoadFile(fixture)
	require.NoError(t, err)

	assert.Len(t, cat.ProductTypes, 1)
	assert.Len(t, cat.Components, 8)
	assert.Len(t, cat.Formulas, 10)

	byID := make(map[string]model.FormulaTemplate)
	for _, f := range cat.Formulas {
		byID[f.ID] = f
	}
	assert.True(t, byID["f-post"].Active, "active defaults to true")
	assert.False(t, byID["f-post-old"].Active)
	assert.Equal(t, model.RoundComponent, byID["f-post"].RoundingLevel)
	assert.Equal(t, model.RoundProject, byID["f-picket"].RoundingLevel)
	require.NotNil(t, byID["f-picket-gn"].StyleID)
	assert.Equal(t, "s-gn", *byID["f-picket-gn"].StyleID)

	assert.Equal(t, model.VisibilityCondition{"post_type": {"STEEL"}}, cat.Assignments[3].Visibility)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: read file")

	_, err = Parse([]byte("product_types: {not: [a list"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog: parse yaml")
}

func TestFileSource_Snapshot(t *testing.T) {
	src, err := OpenFile(fixture)
	require.NoError(t, err)

	snap, err := src.Snapshot(context.Background(), "WV", "good-neighbor")
	require.NoError(t, err)
	assert.Equal(t, "good-neighbor", snap.StyleCode())
	require.Len(t, snap.Components, 8)
	assert.Equal(t, "post", snap.Components[0].Component.Code)
	assert.Equal(t, "f-picket-gn", snap.Components[1].Formula.ID)
	require.Len(t, snap.Labor, 2)
	assert.Equal(t, "post_setting", snap.Labor[0].Group.Code)

	_, err = src.Snapshot(context.Background(), "CHAINLINK", "")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = src.Snapshot(context.Background(), "WV", "shadowbox")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

var _ Source = (*FileSource)(nil)
var _ Source = (*PostgresSource)(nil)
