package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/catalog"
)

var validateCmd = &cobra.Command{
	Use:   "validate [catalog.yaml]",
	Short: "Check a catalog document before it is published",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Catalog.Path
		if catalogPath != "" {
			path = catalogPath
		}
		if len(args) == 1 {
			path = args[0]
		}

		cat, err := catalog.LoadFile(path)
		if err != nil {
			return err
		}

		problems := catalog.Validate(cat)
		out := cmd.OutOrStdout()
		for _, p := range problems {
			fmt.Fprintln(out, p.String())
		}
		if len(problems) > 0 {
			return eris.Errorf("catalog %s has %d problem(s)", path, len(problems))
		}

		zap.L().Info("catalog is valid",
			zap.String("path", path),
			zap.Int("products", len(cat.ProductTypes)),
			zap.Int("formulas", len(cat.Formulas)),
		)
		fmt.Fprintf(out, "%s: ok\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
