// Package store persists assembled BOM runs and the adjustments recorded
// against them. Runs are immutable once saved.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/fenceworks/estimator/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ProjectID   string `json:"project_id,omitempty"`
	ProductType string `json:"product_type,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for BOM runs.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, projectID string, b *model.BOM) (*model.BOMRun, error)
	GetRun(ctx context.Context, runID string) (*model.BOMRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.BOMRun, error)

	// Adjustments
	AddAdjustment(ctx context.Context, adj *model.Adjustment) error
	ListAdjustments(ctx context.Context, runID string) ([]model.Adjustment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

var lineColumns = []string{
	"run_id", "position", "component_type_id", "component_code", "name",
	"raw_quantity", "rounded_quantity", "unit", "rounding_level", "aggregate_key", "optional", "display_order",
}

var laborColumns = []string{
	"run_id", "position", "group_id", "group_code", "multi_select",
	"labor_code_id", "code", "name", "unit", "quantity", "is_default",
}

// newRun stamps a BOM with a fresh id for saving.
func newRun(projectID string, b *model.BOM) (*model.BOMRun, error) {
	if b == nil {
		return nil, eris.New("store: nil BOM")
	}
	if projectID == "" {
		return nil, eris.New("store: project id is required")
	}
	return &model.BOMRun{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		BOM:       *b,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func lineRows(run *model.BOMRun) [][]any {
	rows := make([][]any, len(run.BOM.Lines))
	for i, l := range run.BOM.Lines {
		rows[i] = []any{
			run.ID, i, l.ComponentTypeID, l.ComponentCode, l.Name,
			l.RawQuantity, l.RoundedQuantity, l.Unit, string(l.RoundingLevel), l.AggregateKey, l.Optional, l.DisplayOrder,
		}
	}
	return rows
}

// laborRows flattens selections to one row per selected code. Rows of one
// group are contiguous so groupLabor can rebuild the selections.
func laborRows(run *model.BOMRun) [][]any {
	var rows [][]any
	for _, sel := range run.BOM.Labor {
		for _, c := range sel.Codes {
			rows = append(rows, []any{
				run.ID, len(rows), sel.GroupID, sel.GroupCode, sel.MultiSelect,
				c.LaborCodeID, c.Code, c.Name, c.Unit, c.Quantity, c.IsDefault,
			})
		}
	}
	return rows
}

type laborRow struct {
	groupID     string
	groupCode   string
	multiSelect bool
	line        model.LaborLine
}

func groupLabor(rows []laborRow) []model.LaborSelection {
	var out []model.LaborSelection
	for _, r := range rows {
		if n := len(out); n == 0 || out[n-1].GroupID != r.groupID {
			out = append(out, model.LaborSelection{
				GroupID:     r.groupID,
				GroupCode:   r.groupCode,
				MultiSelect: r.multiSelect,
			})
		}
		last := &out[len(out)-1]
		last.Codes = append(last.Codes, r.line)
	}
	return out
}

func checkAdjustment(adj *model.Adjustment) error {
	switch {
	case adj == nil:
		return eris.New("store: nil adjustment")
	case adj.ID == "":
		return eris.New("store: adjustment id is required")
	case adj.RunID == "":
		return eris.New("store: adjustment run id is required")
	}
	return nil
}

func runNotFound(runID string) error {
	return fmt.Errorf("%w: run %s", model.ErrNotFound, runID)
}
