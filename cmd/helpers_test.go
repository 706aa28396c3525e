package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/catalog"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/store"
)

const fixtureCatalog = "../internal/catalog/testdata/wood_vertical.yaml"

// newTestEnv builds an environment on the fixture catalog and a fresh
// SQLite store. mutate may alter the catalog before it is served.
func newTestEnv(t *testing.T, mutate func(*model.Catalog)) *bomEnv {
	t.Helper()

	cat, err := catalog.LoadFile(fixtureCatalog)
	require.NoError(t, err)
	if mutate != nil {
		mutate(cat)
	}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(t.Context()))

	env := &bomEnv{
		Catalog: catalog.NewFileSource(cat),
		Engine:  bom.NewEngine(),
		Store:   st,
	}
	t.Cleanup(env.Close)
	return env
}

// breakFormula replaces the text of the formula with the given id.
func breakFormula(id, text string) func(*model.Catalog) {
	return func(cat *model.Catalog) {
		for i := range cat.Formulas {
			if cat.Formulas[i].ID == id {
				cat.Formulas[i].Formula = text
			}
		}
	}
}
