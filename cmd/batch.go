package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/export"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/resilience"
)

// project is one job in a batch file. Its segments are computed
// independently and their project-level lines are rounded together.
type project struct {
	ID       string    `yaml:"id"`
	Segments []segment `yaml:"segments"`
}

type projectFile struct {
	Projects []project `yaml:"projects"`
}

// projectResult is the outcome of one project. On failure BOMs is empty.
type projectResult struct {
	ID         string
	BOMs       []*model.BOM
	Aggregates []model.Aggregate
	RunIDs     []string
	Err        error
}

var (
	batchProjects string
	batchSheet    string
	batchSave     bool
	batchXLSX     string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Compute BOMs for every project in a YAML or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		projects, err := loadProjects(batchProjects, batchSheet)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "compute", batchSave)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := processBatch(ctx, projects, cfg.Batch.MaxConcurrentRuns, func(ctx context.Context, seg segment) (*model.BOM, error) {
			return computeSegment(ctx, env, seg)
		})
		if err != nil {
			return err
		}

		if batchSave {
			saveResults(ctx, env, results)
		}

		if batchXLSX != "" {
			var jobs []export.Job
			for _, r := range results {
				for _, b := range r.BOMs {
					jobs = append(jobs, export.Job{ProjectID: r.ID, BOM: b})
				}
			}
			if len(jobs) > 0 {
				if err := writeXLSX(batchXLSX, jobs); err != nil {
					return err
				}
			}
		}

		printBatchSummary(cmd.OutOrStdout(), results)

		for _, r := range results {
			if r.Err != nil {
				return eris.New("one or more projects failed")
			}
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchProjects, "projects", "", "project file (.yaml, .yml or .xlsx)")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "worksheet name for .xlsx project files (default first sheet)")
	batchCmd.Flags().BoolVar(&batchSave, "save", false, "persist every segment as a run")
	batchCmd.Flags().StringVar(&batchXLSX, "xlsx", "", "write all BOMs to this workbook")
	_ = batchCmd.MarkFlagRequired("projects")
	rootCmd.AddCommand(batchCmd)
}

// segmentFunc computes one segment.
type segmentFunc func(ctx context.Context, seg segment) (*model.BOM, error)

// processBatch computes projects concurrently. Each project's segments run
// in order against fresh snapshots; a failing segment fails its project
// without aborting the batch. Results keep the input order.
func processBatch(ctx context.Context, projects []project, concurrency int, compute segmentFunc) ([]projectResult, error) {
	results := make([]projectResult, len(projects))
	if len(projects) == 0 {
		zap.L().Info("no projects to compute")
		return results, nil
	}

	zap.L().Info("processing batch",
		zap.Int("projects", len(projects)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, p := range projects {
		g.Go(func() error {
			log := zap.L().With(zap.String("project", p.ID))

			res := computeProject(gctx, p, compute)
			results[i] = res
			if res.Err != nil {
				failed.Add(1)
				if bom.IsUnpriceable(res.Err) {
					log.Warn(bom.UnpriceableMessage, zap.Error(res.Err))
				} else {
					log.Error("project failed",
						zap.String("error_class", resilience.Classify(res.Err)),
						zap.Error(res.Err),
					)
				}
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("project computed",
				zap.Int("segments", len(res.BOMs)),
				zap.Int("aggregates", len(res.Aggregates)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}

func computeProject(ctx context.Context, p project, compute segmentFunc) projectResult {
	res := projectResult{ID: p.ID}
	if len(p.Segments) == 0 {
		res.Err = eris.Errorf("project %s has no segments", p.ID)
		return res
	}

	boms := make([]*model.BOM, 0, len(p.Segments))
	for i, seg := range p.Segments {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		b, err := compute(ctx, seg)
		if err != nil {
			res.Err = eris.Wrapf(err, "segment %d (%s)", i+1, seg.Product)
			return res
		}
		boms = append(boms, b)
	}

	aggs, err := aggregateProject(boms)
	if err != nil {
		res.Err = eris.Wrap(err, "aggregate project")
		return res
	}
	res.BOMs = boms
	res.Aggregates = aggs
	return res
}

// aggregateProject rounds project-level lines across all segments at once.
// Member lines receive their share of each rounded total in place, and every
// segment's aggregates are replaced by the project totals it contributes to.
func aggregateProject(boms []*model.BOM) ([]model.Aggregate, error) {
	if len(boms) == 1 {
		return boms[0].Aggregates, nil
	}

	var lines []*model.Line
	for _, b := range boms {
		for i := range b.Lines {
			lines = append(lines, &b.Lines[i])
		}
	}
	totals, err := bom.Aggregate(lines)
	if err != nil {
		return nil, err
	}

	for _, b := range boms {
		keys := make(map[string]bool)
		for _, l := range b.Lines {
			if l.RoundingLevel == model.RoundProject {
				keys[l.AggregateName()] = true
			}
		}
		var own []model.Aggregate
		for _, a := range totals {
			if keys[a.Key] {
				own = append(own, a)
			}
		}
		b.Aggregates = own
	}
	return totals, nil
}

func saveResults(ctx context.Context, env *bomEnv, results []projectResult) {
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			continue
		}
		for _, b := range r.BOMs {
			run, err := env.Store.SaveRun(ctx, r.ID, b)
			if err != nil {
				r.Err = eris.Wrap(err, "save run")
				zap.L().Error("save run failed", zap.String("project", r.ID), zap.Error(err))
				break
			}
			r.RunIDs = append(r.RunIDs, run.ID)
		}
	}
}

func printBatchSummary(w io.Writer, results []projectResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSTATUS\tSEGMENTS\tLINES\tRUNS\tDETAIL")
	for _, r := range results {
		var lines int
		for _, b := range r.BOMs {
			lines += len(b.Lines)
		}
		status, detail := "ok", ""
		if r.Err != nil {
			status, detail = "failed", r.Err.Error()
			if bom.IsUnpriceable(r.Err) {
				status = "unpriceable"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, status, len(r.BOMs), lines, strings.Join(r.RunIDs, ","), detail)
	}
	_ = tw.Flush()
}

// loadProjects reads a project file. YAML files carry the projects list;
// XLSX sheets carry one segment per row.
func loadProjects(path, sheet string) ([]project, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err := export.ReadSheet(path, sheet)
		if err != nil {
			return nil, err
		}
		return projectsFromRows(rows)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read project file %s", path)
		}
		var pf projectFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, eris.Wrap(err, "parse project file")
		}
		for i, p := range pf.Projects {
			if p.ID == "" {
				return nil, eris.Errorf("project %d has no id", i+1)
			}
		}
		return pf.Projects, nil
	}
}

// projectsFromRows groups sheet rows by project id. The header row must
// name project_id and product columns; an optional style column selects the
// style and every other column is a variable.
func projectsFromRows(rows [][]string) ([]project, error) {
	if len(rows) == 0 {
		return nil, eris.New("project sheet is empty")
	}

	header := rows[0]
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(h)] = i
	}
	idCol, ok := col["project_id"]
	if !ok {
		return nil, eris.New("project sheet has no project_id column")
	}
	productCol, ok := col["product"]
	if !ok {
		return nil, eris.New("project sheet has no product column")
	}
	styleCol, hasStyle := col["style"]

	var (
		projects []project
		index    = map[string]int{}
	)
	for n, row := range rows[1:] {
		cell := func(i int) string {
			if i < len(row) {
				return row[i]
			}
			return ""
		}
		id := cell(idCol)
		if id == "" {
			continue
		}
		seg := segment{Product: cell(productCol), Variables: map[string]any{}}
		if seg.Product == "" {
			return nil, eris.Errorf("row %d: product is required", n+2)
		}
		if hasStyle {
			seg.Style = cell(styleCol)
		}

		var pairs []string
		for i, h := range header {
			if i == idCol || i == productCol || (hasStyle && i == styleCol) || h == "" || cell(i) == "" {
				continue
			}
			pairs = append(pairs, h+"="+cell(i))
		}
		vars, err := parseVars(pairs)
		if err != nil {
			return nil, eris.Wrapf(err, "row %d", n+2)
		}
		seg.Variables = vars

		j, seen := index[id]
		if !seen {
			j = len(projects)
			index[id] = j
			projects = append(projects, project{ID: id})
		}
		projects[j].Segments = append(projects[j].Segments, seg)
	}
	return projects, nil
}
