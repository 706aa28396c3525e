package main

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/adjust"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/store"
)

var (
	classifyCalculated float64
	classifyAdjusted   float64
	classifyRun        string
	classifyLine       string
	classifyReason     string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify an adjustment against the flag and approval thresholds",
	Long: `Classify compares an adjusted cost with its calculated baseline using the
configured thresholds. With --run and --line the adjustment is recorded
against the stored run; the run itself is never modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		thresholds := cfg.Adjust.Thresholds()
		if err := adjust.ValidateThresholds(thresholds); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if classifyRun == "" {
			return enc.Encode(adjust.Classify(classifyCalculated, classifyAdjusted, thresholds))
		}
		if classifyLine == "" {
			return eris.New("--line is required with --run")
		}

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

		adj, err := recordAdjustment(ctx, st, adjustmentRequest{
			RunID:          classifyRun,
			LineRef:        classifyLine,
			CalculatedCost: classifyCalculated,
			AdjustedCost:   classifyAdjusted,
			Reason:         classifyReason,
		}, thresholds)
		if err != nil {
			return err
		}
		return enc.Encode(adj)
	},
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyCalculated, "calculated", 0, "calculated (baseline) cost")
	classifyCmd.Flags().Float64Var(&classifyAdjusted, "adjusted", 0, "adjusted cost")
	classifyCmd.Flags().StringVar(&classifyRun, "run", "", "record the adjustment against this run id")
	classifyCmd.Flags().StringVar(&classifyLine, "line", "", "component code or labor:CODE the adjustment applies to")
	classifyCmd.Flags().StringVar(&classifyReason, "reason", "", "reason for the adjustment")
	_ = classifyCmd.MarkFlagRequired("calculated")
	_ = classifyCmd.MarkFlagRequired("adjusted")
	rootCmd.AddCommand(classifyCmd)
}

// adjustmentRequest is a correction to one line of a stored run.
type adjustmentRequest struct {
	RunID          string  `json:"-"`
	LineRef        string  `json:"line_ref"`
	CalculatedCost float64 `json:"calculated_cost"`
	AdjustedCost   float64 `json:"adjusted_cost"`
	Reason         string  `json:"reason"`
}

// invalidAdjustmentError marks a request the run cannot accept.
type invalidAdjustmentError struct{ err error }

func (e *invalidAdjustmentError) Error() string { return e.err.Error() }
func (e *invalidAdjustmentError) Unwrap() error { return e.err }

// recordAdjustment classifies req and appends it to the run's adjustments.
func recordAdjustment(ctx context.Context, st store.Store, req adjustmentRequest, t model.Thresholds) (*model.Adjustment, error) {
	run, err := st.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	adj, err := adjust.NewAdjustment(run, req.LineRef, req.CalculatedCost, req.AdjustedCost, req.Reason, t)
	if err != nil {
		return nil, &invalidAdjustmentError{err: err}
	}
	if err := st.AddAdjustment(ctx, adj); err != nil {
		return nil, eris.Wrap(err, "add adjustment")
	}

	zap.L().Info("adjustment recorded",
		zap.String("run_id", adj.RunID),
		zap.String("line", adj.LineRef),
		zap.Bool("flagged", adj.Classification.Flagged),
		zap.Bool("requires_approval", adj.Classification.RequiresApproval),
	)
	return adj, nil
}
