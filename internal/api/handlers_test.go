package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/healstack/coord-engine/internal/engine"
	"github.com/healstack/coord-engine/internal/ensemble"
	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/policy"
	"github.com/healstack/coord-engine/internal/repo"
	"github.com/healstack/coord-engine/internal/services"
)

type fakeExecutor struct{}

func (fakeExecutor) Execute(context.Context, models.Action) (models.ExecutionResult, error) {
	return models.ExecutionResult{Success: true, CompletedAt: time.Now().UTC()}, nil
}

type fakeArchive struct {
	mu        sync.Mutex
	decisions map[string]models.Decision
	outcomes  []models.RemediationOutcome
	approvals map[string]bool
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{decisions: make(map[string]models.Decision), approvals: make(map[string]bool)}
}

func (a *fakeArchive) SaveDecision(_ context.Context, d models.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions[d.ID] = d
	return nil
}

func (a *fakeArchive) GetDecision(_ context.Context, id string) (models.Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.decisions[id]
	if !ok {
		return models.Decision{}, repo.ErrNotFound
	}
	return d, nil
}

func (a *fakeArchive) ListDecisions(context.Context, models.ListDecisionsRequest) ([]models.Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Decision, 0, len(a.decisions))
	for _, d := range a.decisions {
		out = append(out, d)
	}
	return out, nil
}

func (a *fakeArchive) ListEscalated(context.Context, int) ([]models.Decision, error) {
	return nil, nil
}

func (a *fakeArchive) SaveOutcome(_ context.Context, o models.RemediationOutcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
	return nil
}

func (a *fakeArchive) ListOutcomes(context.Context, models.ListOutcomesRequest) ([]models.RemediationOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.RemediationOutcome(nil), a.outcomes...), nil
}

func (a *fakeArchive) SaveApproval(_ context.Context, approval models.Approval) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approvals[approval.DecisionID] = approval.Approved
	return nil
}

func (a *fakeArchive) Approved(decisionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.approvals[decisionID]
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	store := policy.NewStore(nil, policy.StoreConfig{})
	weights := ensemble.NewWeightTable(0)
	aggregator := ensemble.NewAggregator(nil, weights)
	freshness := engine.NewFreshnessIndex()
	archive := newFakeArchive()

	arbiter := engine.NewArbiter(nil, store, nil, engine.ArbiterConfig{})
	gate := engine.NewGate(nil, store, freshness, archive)
	tracker := engine.NewTracker(nil, weights, store, nil, archive)
	pipeline := engine.NewPipeline(nil, aggregator, arbiter, gate, tracker, fakeExecutor{}, archive, nil, freshness, nil, engine.PipelineConfig{})

	service := services.NewCoordinationService(nil, pipeline, store, archive, fakeExecutor{}, nil, time.Second)

	router := mux.NewRouter()
	NewHandlers(nil, service).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRunCycleEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/cycles", models.CycleRequest{
		Target: "checkout",
		Samples: []models.DetectorSample{
			{DetectorID: "zscore", IsAnomaly: false, Score: 0.1, Timestamp: time.Now().UTC()},
			{DetectorID: "ewma", IsAnomaly: false, Score: 0.2, Timestamp: time.Now().UTC()},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var result models.CycleResult
	decodeBody(t, rec, &result)
	if result.Verdict.IsAnomaly {
		t.Fatal("clean samples produced anomaly verdict")
	}
}

func TestRunCycleValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/cycles", models.CycleRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing target: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", raw.Code)
	}
}

func TestActionLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/actions", models.Action{
		Target:   "checkout",
		Type:     models.ActionRestart,
		Priority: 7,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created models.Action
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Status != models.StatusPending {
		t.Fatalf("created = %+v", created)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/actions/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/actions/unknown-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get unknown: status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/actions?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var listed struct {
		Actions []models.Action `json:"actions"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Actions) != 1 {
		t.Fatalf("listed = %+v", listed)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/actions/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", rec.Code)
	}
	var stats models.ActionStats
	decodeBody(t, rec, &stats)
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSubmitActionConflictStatus(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/actions", models.Action{
		Target: "checkout", Type: models.ActionRestart, Priority: 8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first submit: status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/actions", models.Action{
		Target: "checkout", Type: models.ActionResourceScaling, Priority: 2,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflicting submit: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitActionValidationStatus(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/actions", models.Action{Type: models.ActionRestart})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/rules", policy.Rule{Name: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule: status = %d", rec.Code)
	}

	rule := policy.Rule{
		Name:     "cpu_high",
		Priority: 5,
		Condition: policy.Condition{
			Type:      policy.CondMetricThreshold,
			Metric:    "cpu_usage_percent",
			Operator:  policy.OpGT,
			Threshold: 90,
		},
		Action:            policy.RuleAction{Type: models.ActionResourceScaling, Priority: 5},
		MaxActionsPerHour: 4,
		Enabled:           true,
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/rules", rule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var listed struct {
		Rules []policy.Rule `json:"rules"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Rules) != 1 || listed.Rules[0].Name != "cpu_high" {
		t.Fatalf("rules = %+v", listed.Rules)
	}
}

func TestCircuitEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/circuits/checkout/open", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open: status = %d", rec.Code)
	}
	var state policy.CircuitBreakerState
	decodeBody(t, rec, &state)
	if state.State != policy.BreakerOpen {
		t.Fatalf("state after open = %s", state.State)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/circuits/checkout", nil)
	decodeBody(t, rec, &state)
	if state.State != policy.BreakerOpen {
		t.Fatalf("state readback = %s", state.State)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/circuits/checkout/close", nil)
	decodeBody(t, rec, &state)
	if state.State != policy.BreakerClosed {
		t.Fatalf("state after close = %s", state.State)
	}
}

func TestApproveUnknownDecisionStatus(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/approvals", models.Approval{
		DecisionID: "ghost",
		Approved:   true,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestListDecisionsRejectsBadTimeRange(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/decisions?start=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListDecisionsEmpty(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/decisions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
