package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/export"
	"github.com/fenceworks/estimator/internal/model"
)

// segment is one product configuration of a project.
type segment struct {
	Product   string         `json:"product" yaml:"product"`
	Style     string         `json:"style,omitempty" yaml:"style"`
	Variables map[string]any `json:"variables" yaml:"variables"`
}

// computeSegment takes a fresh catalog snapshot and runs the engine on it.
func computeSegment(ctx context.Context, env *bomEnv, seg segment) (*model.BOM, error) {
	if seg.Product == "" {
		return nil, eris.New("product is required")
	}
	snap, err := env.Catalog.Snapshot(ctx, seg.Product, seg.Style)
	if err != nil {
		return nil, err
	}
	return env.Engine.Compute(snap, seg.Variables)
}

var (
	computeProduct string
	computeStyle   string
	computeVars    []string
	computeProjectID string
	computeSave    bool
	computeXLSX    string
	computeJSON    bool
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute the BOM for one product configuration",
	Example: `  fence-bom compute --catalog catalog.yaml --product WV --var length=100 --var post_type=STEEL
  fence-bom compute --product WV --style good-neighbor --var length=80 --project P-1001 --save --xlsx bom.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		vars, err := parseVars(computeVars)
		if err != nil {
			return err
		}
		if computeSave && computeProjectID == "" {
			return eris.New("--project is required with --save")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "compute", computeSave)
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := computeSegment(ctx, env, segment{Product: computeProduct, Style: computeStyle, Variables: vars})
		if err != nil {
			if bom.IsUnpriceable(err) {
				zap.L().Error(bom.UnpriceableMessage, zap.Error(err))
				return eris.Wrap(err, bom.UnpriceableMessage)
			}
			return eris.Wrap(err, "compute")
		}

		if computeSave {
			run, err := env.Store.SaveRun(ctx, computeProjectID, b)
			if err != nil {
				return eris.Wrap(err, "save run")
			}
			zap.L().Info("run saved",
				zap.String("run_id", run.ID),
				zap.String("project", run.ProjectID),
			)
		}

		if computeXLSX != "" {
			if err := writeXLSX(computeXLSX, []export.Job{{ProjectID: computeProjectID, BOM: b}}); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if computeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		}
		printBOM(out, b)
		return nil
	},
}

func init() {
	computeCmd.Flags().StringVar(&computeProduct, "product", "", "product type code (required)")
	computeCmd.Flags().StringVar(&computeStyle, "style", "", "product style code")
	computeCmd.Flags().StringArrayVar(&computeVars, "var", nil, "variable binding name=value (repeatable)")
	computeCmd.Flags().StringVar(&computeProjectID, "project", "", "project id for saved runs")
	computeCmd.Flags().BoolVar(&computeSave, "save", false, "persist the run to the store")
	computeCmd.Flags().StringVar(&computeXLSX, "xlsx", "", "also write the BOM to this workbook")
	computeCmd.Flags().BoolVar(&computeJSON, "json", false, "print the BOM as JSON")
	_ = computeCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(computeCmd)
}

// parseVars turns name=value pairs into engine inputs. Values that parse as
// finite numbers are bound as numbers, everything else as text.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, eris.Errorf("invalid --var %q: want name=value", p)
		}
		vars[name] = scalar(raw)
	}
	return vars, nil
}

// scalar converts one textual input to a float64 when it is a finite
// number. "Inf" and "NaN" stay text so formulas reject them.
func scalar(raw string) any {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return raw
}

func writeXLSX(path string, jobs []export.Job) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := export.WriteBOMs(f, jobs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "close %s", path)
	}
	zap.L().Info("workbook written", zap.String("path", path), zap.Int("boms", len(jobs)))
	return nil
}

var printer = message.NewPrinter(language.English)

// printBOM writes the human-readable BOM table.
func printBOM(w io.Writer, b *model.BOM) {
	title := b.ProductType
	if b.Style != "" {
		title += " / " + b.Style
	}
	fmt.Fprintf(w, "%s\n\n", title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tNAME\tQTY\tUNIT\tRAW\tROUNDING")
	for _, l := range b.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ComponentCode, l.Name,
			printer.Sprintf("%v", l.RoundedQuantity), l.Unit,
			printer.Sprintf("%.2f", l.RawQuantity), l.RoundingLevel)
	}
	_ = tw.Flush()

	if len(b.Labor) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "LABOR GROUP\tCODE\tNAME\tQTY\tUNIT")
		for _, sel := range b.Labor {
			for _, c := range sel.Codes {
				qty := "-"
				if c.Quantity != nil {
					qty = printer.Sprintf("%v", *c.Quantity)
				}
				name := c.Name
				if c.IsDefault {
					name += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sel.GroupCode, c.Code, name, qty, c.Unit)
			}
		}
		_ = tw.Flush()
	}

	if len(b.Aggregates) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PROJECT TOTAL\tQTY\tUNIT\tRAW")
		for _, a := range b.Aggregates {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Key,
				printer.Sprintf("%v", a.RoundedTotal), a.Unit,
				printer.Sprintf("%.2f", a.RawTotal))
		}
		_ = tw.Flush()
	}
}
