package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/catalog"
)

var migrateCatalog bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the run store schema (and the catalog schema with --catalog-schema)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("compute"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("store schema migrated", zap.String("driver", cfg.Store.Driver))

		if !migrateCatalog && cfg.Catalog.Source != "postgres" {
			return nil
		}

		pool, err := openCatalogPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		return catalog.Migrate(ctx, pool)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateCatalog, "catalog-schema", false, "also apply the postgres catalog schema")
	rootCmd.AddCommand(migrateCmd)
}
