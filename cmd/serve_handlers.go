package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/adjust"
	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/resilience"
	"github.com/fenceworks/estimator/internal/store"
)

// api serves the HTTP endpoints.
type api struct {
	env        *bomEnv
	thresholds model.Thresholds
}

type pinger interface {
	Ping(ctx context.Context) error
}

// bomRequest computes one segment and optionally stores it for a project.
type bomRequest struct {
	segment
	ProjectID string `json:"project_id,omitempty"`
	Save      bool   `json:"save,omitempty"`
}

type bomResponse struct {
	RunID string     `json:"run_id,omitempty"`
	BOM   *model.BOM `json:"bom"`
}

// unpriceableResponse is returned when catalog data prevents a run.
type unpriceableResponse struct {
	Error      string `json:"error"`
	Stage      string `json:"stage,omitempty"`
	Product    string `json:"product,omitempty"`
	Style      string `json:"style,omitempty"`
	Component  string `json:"component,omitempty"`
	LaborGroup string `json:"labor_group,omitempty"`
	Formula    string `json:"formula,omitempty"`
	Detail     string `json:"detail"`
}

type classifyRequest struct {
	CalculatedCost *float64 `json:"calculated_cost"`
	AdjustedCost   *float64 `json:"adjusted_cost"`
}

type runResponse struct {
	Run         *model.BOMRun      `json:"run"`
	Adjustments []model.Adjustment `json:"adjustments"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.env.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			zap.L().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) computeBOM(w http.ResponseWriter, r *http.Request) {
	var req bomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Product == "" {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	if req.Save && req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required to save a run")
		return
	}

	b, err := computeSegment(r.Context(), a.env, req.segment)
	if err != nil {
		a.computeError(w, req.segment, err)
		return
	}

	resp := bomResponse{BOM: b}
	if req.Save {
		run, err := a.env.Store.SaveRun(r.Context(), req.ProjectID, b)
		if err != nil {
			zap.L().Error("save run failed", zap.String("project", req.ProjectID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not save run")
			return
		}
		resp.RunID = run.ID
		resp.BOM = &run.BOM
		writeJSON(w, http.StatusCreated, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) computeError(w http.ResponseWriter, seg segment, err error) {
	log := zap.L().With(zap.String("product", seg.Product), zap.String("style", seg.Style))

	switch {
	case bom.IsUnpriceable(err):
		log.Warn(bom.UnpriceableMessage, zap.Error(err))
		resp := unpriceableResponse{Error: bom.UnpriceableMessage, Detail: err.Error()}
		var re *bom.RunError
		if errors.As(err, &re) {
			resp.Stage = string(re.Stage)
			resp.Product = re.Product
			resp.Style = re.Style
			resp.Component = re.Component
			resp.LaborGroup = re.LaborGroup
			resp.Formula = re.Formula
			resp.Detail = re.Err.Error()
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen), resilience.IsTransient(err):
		log.Error("catalog unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
	default:
		log.Error("compute failed", zap.String("error_class", resilience.Classify(err)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "compute failed")
	}
}

func (a *api) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CalculatedCost == nil || req.AdjustedCost == nil {
		writeError(w, http.StatusBadRequest, "calculated_cost and adjusted_cost are required")
		return
	}
	writeJSON(w, http.StatusOK, adjust.Classify(*req.CalculatedCost, *req.AdjustedCost, a.thresholds))
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.env.Store.GetRun(r.Context(), id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	adjs, err := a.env.Store.ListAdjustments(r.Context(), id)
	if err != nil {
		a.storeError(w, err)
		return
	}
	if adjs == nil {
		adjs = []model.Adjustment{}
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Adjustments: adjs})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		ProjectID:   q.Get("project_id"),
		ProductType: q.Get("product"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	runs, err := a.env.Store.ListRuns(r.Context(), filter)
	if err != nil {
		a.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.BOMRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *api) addAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RunID = chi.URLParam(r, "id")

	adj, err := recordAdjustment(r.Context(), a.env.Store, req, a.thresholds)
	if err != nil {
		var invalid *invalidAdjustmentError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (a *api) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	zap.L().Error("store request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON encodes v before committing the status. A value that cannot be
// encoded is answered with a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("encode response failed", zap.Int("status", status), zap.Error(err))
		status = http.StatusInternalServerError
		body = []byte(`{"error":"could not encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
