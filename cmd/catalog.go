package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the postgres product catalog",
}

var catalogPublishCmd = &cobra.Command{
	Use:   "publish <catalog.yaml>",
	Short: "Validate a catalog document and upsert it into the catalog database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cat, err := catalog.LoadFile(args[0])
		if err != nil {
			return err
		}

		pool, err := openCatalogPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := catalog.Migrate(ctx, pool); err != nil {
			return err
		}
		n, err := catalog.Publish(ctx, pool, cat)
		if err != nil {
			return err
		}

		zap.L().Info("catalog published", zap.String("path", args[0]), zap.Int64("rows", n))
		fmt.Fprintf(cmd.OutOrStdout(), "published %d rows from %s\n", n, args[0])
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogPublishCmd)
	rootCmd.AddCommand(catalogCmd)
}
