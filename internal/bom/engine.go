// Package bom turns a catalog snapshot and a set of customer inputs into an
// itemized bill of materials with labor selections.
//
// A run moves through fixed stages: inputs are bound over variable
// defaults, invisible components are filtered out, the remaining formulas
// are ordered by their output references, evaluated and rounded, labor
// groups are resolved against the final context, and the result is
// assembled. The first failure aborts the run with a *RunError; no partial
// BOM is ever returned.
package bom

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// Engine computes BOMs. It holds no per-run state, so one Engine may serve
// concurrent Compute calls.
type Engine struct {
	cache  *formula.Cache
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache shares a compiled formula cache between engines.
func WithCache(c *formula.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger used for stage tracing.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the timestamp source for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with a private formula cache unless one is
// supplied.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = formula.NewCache()
	}
	return e
}

// Cache returns the engine's compiled formula cache.
func (e *Engine) Cache() *formula.Cache { return e.cache }

func (e *Engine) log() *zap.Logger {
	if e.logger != nil {
		return e.logger
	}
	return zap.L()
}

type run struct {
	snap  *model.Snapshot
	b     *Bindings
	log   *zap.Logger
	items []PlanItem
	lines []model.Line
}

func (r *run) fail(stage Stage, err error) *RunError {
	return &RunError{
		Stage:   stage,
		Product: r.snap.Product.Code,
		Style:   r.snap.StyleCode(),
		Err:     err,
	}
}

func (r *run) failComponent(stage Stage, sc model.SnapshotComponent, err error) *RunError {
	re := r.fail(stage, err)
	re.Component = sc.Component.Code
	if sc.Formula != nil {
		re.Formula = sc.Formula.Formula
	}
	return re
}

// Compute runs one BOM computation for snap with the caller's variable
// values. vars may omit variables that declare a default.
func (e *Engine) Compute(snap *model.Snapshot, vars map[string]any) (*model.BOM, error) {
	r := &run{
		snap: snap,
		log: e.log().With(
			zap.String("product", snap.Product.Code),
			zap.String("style", snap.StyleCode()),
		),
	}

	r.b = Bind(snap.Variables, vars)
	r.log.Debug("bom: stage", zap.String("stage", string(StageBound)), zap.Int("inputs", len(r.b.inputs)))

	if err := e.filter(r); err != nil {
		return nil, err
	}
	r.log.Debug("bom: stage", zap.String("stage", string(StageFiltered)), zap.Int("visible", len(r.items)))

	ordered, err := Plan(r.items)
	if err != nil {
		return nil, r.fail(StageOrdered, err)
	}
	r.items = ordered
	r.log.Debug("bom: stage", zap.String("stage", string(StageOrdered)), zap.Strings("order", planCodes(ordered)))

	if err := r.evaluate(); err != nil {
		return nil, err
	}
	r.log.Debug("bom: stage", zap.String("stage", string(StageEvaluated)), zap.Int("lines", len(r.lines)))

	aggregates, err := r.normalize()
	if err != nil {
		return nil, err
	}
	r.log.Debug("bom: stage", zap.String("stage", string(StageNormalized)), zap.Int("aggregates", len(aggregates)))

	labor, err := e.resolveLabor(r)
	if err != nil {
		return nil, err
	}
	r.log.Debug("bom: stage", zap.String("stage", string(StageLaborResolved)), zap.Int("groups", len(labor)))

	sort.SliceStable(r.lines, func(i, j int) bool {
		if r.lines[i].DisplayOrder != r.lines[j].DisplayOrder {
			return r.lines[i].DisplayOrder < r.lines[j].DisplayOrder
		}
		return r.lines[i].ComponentCode < r.lines[j].ComponentCode
	})

	out := &model.BOM{
		ProductType:     snap.Product.Code,
		Style:           snap.StyleCode(),
		Variables:       r.b.Inputs(),
		Lines:           r.lines,
		Labor:           labor,
		Aggregates:      aggregates,
		EvaluationOrder: planCodes(ordered),
		ComputedAt:      e.now().UTC(),
	}
	r.log.Debug("bom: stage", zap.String("stage", string(StageAssembled)))
	return out, nil
}

// filter drops invisible components and compiles the formulas of the rest.
func (e *Engine) filter(r *run) error {
	for _, sc := range r.snap.Components {
		visible, err := IsVisible(sc.Assignment.Visibility, r.b)
		if err != nil {
			return r.failComponent(StageFiltered, sc, err)
		}
		if !visible {
			continue
		}
		if sc.Formula == nil {
			if sc.Assignment.Optional {
				r.log.Warn("bom: optional component has no active formula, skipping",
					zap.String("component", sc.Component.Code))
				continue
			}
			return r.failComponent(StageFiltered, sc, &CatalogError{
				Product:   r.snap.Product.Code,
				Component: sc.Component.Code,
				Reason:    "no active formula",
			})
		}
		expr, err := e.cache.Compile(sc.Formula.Formula)
		if err != nil {
			return r.failComponent(StageFiltered, sc, err)
		}
		r.items = append(r.items, PlanItem{Component: sc, Expr: expr})
	}
	return nil
}

// evaluate runs formulas in plan order. Component-level results are rounded
// before they are bound so that downstream formulas see whole units.
func (r *run) evaluate() error {
	r.lines = make([]model.Line, 0, len(r.items))
	for _, it := range r.items {
		sc := it.Component
		raw, err := it.Expr.EvalNumber(r.b)
		if err != nil {
			return r.failComponent(StageEvaluated, sc, err)
		}
		rounded, err := Normalize(raw, sc.Formula.RoundingLevel)
		if err != nil {
			return r.failComponent(StageNormalized, sc, err)
		}
		r.b.SetOutput(it.Output(), rounded)

		level := sc.Formula.RoundingLevel
		if level == "" {
			level = model.RoundComponent
		}
		r.lines = append(r.lines, model.Line{
			ComponentTypeID: sc.Component.ID,
			ComponentCode:   sc.Component.Code,
			Name:            sc.Component.Name,
			RawQuantity:     raw,
			RoundedQuantity: rounded,
			Unit:            sc.Component.Unit,
			RoundingLevel:   level,
			AggregateKey:    sc.Component.AggregateKey,
			Optional:        sc.Assignment.Optional,
			DisplayOrder:    sc.Assignment.DisplayOrder,
		})
	}
	return nil
}

func (r *run) normalize() ([]model.Aggregate, error) {
	var project []*model.Line
	for i := range r.lines {
		if r.lines[i].RoundingLevel == model.RoundProject {
			project = append(project, &r.lines[i])
		}
	}
	if len(project) == 0 {
		return nil, nil
	}
	aggs, err := Aggregate(project)
	if err != nil {
		re := r.fail(StageNormalized, err)
		var ce *CatalogError
		if errors.As(err, &ce) {
			ce.Product = r.snap.Product.Code
			re.Component = ce.Component
		}
		return nil, re
	}
	return aggs, nil
}

func (e *Engine) resolveLabor(r *run) ([]model.LaborSelection, error) {
	var out []model.LaborSelection
	for _, g := range r.snap.Labor {
		sel, err := SelectLabor(g, r.b, e.cache)
		if err != nil {
			re := r.fail(StageLaborResolved, err)
			re.LaborGroup = g.Group.Code
			var fe *formula.Error
			if errors.As(err, &fe) {
				re.Formula = fe.Formula
			}
			return nil, re
		}
		if len(sel.Codes) == 0 {
			continue
		}
		out = append(out, sel)
	}
	return out, nil
}

func planCodes(items []PlanItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Code()
	}
	return out
}
