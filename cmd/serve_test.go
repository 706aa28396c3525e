package main

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceworks/estimator/internal/bom"
	"github.com/fenceworks/estimator/internal/config"
	"github.com/fenceworks/estimator/internal/model"
	"github.com/fenceworks/estimator/internal/store"
)

var testThresholds = model.Thresholds{FlagPercent: 5, ApprovalPercent: 10}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{AllowedOrigins: []string{"https://estimator.example.com"}}
}

func newTestRouter(t *testing.T, mutate func(*model.Catalog)) (http.Handler, *bomEnv) {
	t.Helper()
	env := newTestEnv(t, mutate)
	return buildRouter(&api{env: env, thresholds: testThresholds}, testServerConfig()), env
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestRouter_ComputeBOM(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/v1/bom", map[string]any{
		"product":   "WV",
		"variables": map[string]any{"length": 100, "post_type": "STEEL"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[bomResponse](t, rr)
	assert.Empty(t, resp.RunID)
	require.NotNil(t, resp.BOM)
	assert.Equal(t, "WV", resp.BOM.ProductType)
	require.NotNil(t, resp.BOM.Line("bracket"))
	assert.InDelta(t, 14.0, resp.BOM.Line("post").RoundedQuantity, 1e-9)
}

func TestRouter_ComputeBOM_SaveAndFetchRun(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/v1/bom", map[string]any{
		"product":    "WV",
		"variables":  map[string]any{"length": 100},
		"project_id": "P-1001",
		"save":       true,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	saved := decode[bomResponse](t, rr)
	require.NotEmpty(t, saved.RunID)

	rr = do(t, h, http.MethodGet, "/v1/runs/"+saved.RunID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[runResponse](t, rr)
	assert.Equal(t, "P-1001", got.Run.ProjectID)
	assert.Equal(t, saved.BOM.Lines, got.Run.BOM.Lines)
	assert.Empty(t, got.Adjustments)

	rr = do(t, h, http.MethodGet, "/v1/runs?project_id=P-1001", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[map[string][]model.BOMRun](t, rr)
	require.Len(t, list["runs"], 1)
	assert.Equal(t, saved.RunID, list["runs"][0].ID)
}

func TestRouter_ComputeBOM_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/bom", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/bom", map[string]any{"variables": map[string]any{"length": 10}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "product is required", decode[map[string]string](t, rr)["error"])

	rr = do(t, h, http.MethodPost, "/v1/bom", map[string]any{"product": "WV", "save": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/bom", map[string]any{"product": "NOPE"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_ComputeBOM_Unpriceable(t *testing.T) {
	h, env := newTestRouter(t, breakFormula("f-post", "[length] / 0"))

	rr := do(t, h, http.MethodPost, "/v1/bom", map[string]any{
		"product":    "WV",
		"variables":  map[string]any{"length": 100},
		"project_id": "P-1",
		"save":       true,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	resp := decode[unpriceableResponse](t, rr)
	assert.Equal(t, bom.UnpriceableMessage, resp.Error)
	assert.Equal(t, string(bom.StageEvaluated), resp.Stage)
	assert.Equal(t, "WV", resp.Product)
	assert.Equal(t, "post", resp.Component)
	assert.Equal(t, "[length] / 0", resp.Formula)
	assert.Contains(t, resp.Detail, "division by zero")

	runs, err := env.Store.ListRuns(t.Context(), store.RunFilter{ProjectID: "P-1"})
	require.NoError(t, err)
	assert.Empty(t, runs, "a failed run stores nothing")
}

func TestRouter_Classify(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rr := do(t, h, http.MethodPost, "/v1/adjustments/classify", map[string]any{
		"calculated_cost": 1000,
		"adjusted_cost":   1150,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	c := decode[model.Classification](t, rr)
	assert.True(t, c.Flagged)
	assert.True(t, c.RequiresApproval)
	require.NotNil(t, c.PercentDelta)
	assert.InDelta(t, 15.0, *c.PercentDelta, 1e-9)

	rr = do(t, h, http.MethodPost, "/v1/adjustments/classify", map[string]any{"calculated_cost": 0, "adjusted_cost": 5})
	require.Equal(t, http.StatusOK, rr.Code)
	c = decode[model.Classification](t, rr)
	assert.Nil(t, c.PercentDelta)
	assert.False(t, c.Flagged)

	rr = do(t, h, http.MethodPost, "/v1/adjustments/classify", map[string]any{"calculated_cost": 10})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Adjustments(t *testing.T) {
	h, env := newTestRouter(t, nil)

	b, err := computeSegment(t.Context(), env, segment{Product: "WV", Variables: map[string]any{"length": 100.0}})
	require.NoError(t, err)
	run, err := env.Store.SaveRun(t.Context(), "P-7", b)
	require.NoError(t, err)

	rr := do(t, h, http.MethodPost, "/v1/runs/"+run.ID+"/adjustments", map[string]any{
		"line_ref":        "post",
		"calculated_cost": 280,
		"adjusted_cost":   290,
		"reason":          "rocky soil",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	adj := decode[model.Adjustment](t, rr)
	assert.Equal(t, run.ID, adj.RunID)
	assert.Equal(t, "P-7", adj.ProjectID)
	assert.False(t, adj.Classification.Flagged)
	assert.InDelta(t, 10.0, adj.Classification.AbsoluteDelta, 1e-9)

	rr = do(t, h, http.MethodPost, "/v1/runs/"+run.ID+"/adjustments", map[string]any{
		"line_ref":        "labor:PS-STD",
		"calculated_cost": 400,
		"adjusted_cost":   300,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	adj = decode[model.Adjustment](t, rr)
	assert.True(t, adj.Classification.RequiresApproval)

	rr = do(t, h, http.MethodPost, "/v1/runs/"+run.ID+"/adjustments", map[string]any{
		"line_ref":        "gate",
		"calculated_cost": 1,
		"adjusted_cost":   2,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/v1/runs/missing/adjustments", map[string]any{
		"line_ref":        "post",
		"calculated_cost": 1,
		"adjusted_cost":   2,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[runResponse](t, rr)
	require.Len(t, got.Adjustments, 2)
	assert.Equal(t, b.Lines, got.Run.BOM.Lines, "adjustments never alter the stored baseline")
}

func TestRouter_RunNotFound(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rr := do(t, h, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	sc := testServerConfig()
	sc.RateLimitRPS = 0.001
	sc.RateLimitBurst = 1
	h := buildRouter(&api{env: env, thresholds: testThresholds}, sc)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	rr := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestRouter_CORS(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/bom", nil)
	req.Header.Set("Origin", "https://estimator.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://estimator.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteJSON_UnencodableValueIsServerError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]float64{"total": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"could not encode response"}`, rr.Body.String())
}

func TestWriteJSON_CommitsStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]int{"n": 1})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"n":1}`, rr.Body.String())
}
