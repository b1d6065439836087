package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/healstack/coord-engine/internal/models"
	"github.com/healstack/coord-engine/internal/policy"
	"github.com/healstack/coord-engine/internal/repo"
	"github.com/healstack/coord-engine/internal/services"
	"github.com/healstack/coord-engine/internal/utils"
)

// Handlers exposes the coordination service over HTTP.
type Handlers struct {
	logger  *slog.Logger
	service *services.CoordinationService
	started time.Time
}

// NewHandlers constructs the HTTP handler set.
func NewHandlers(logger *slog.Logger, service *services.CoordinationService) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, service: service, started: time.Now().UTC()}
}

// RegisterRoutes installs the control-plane routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/cycles", h.RunCycle).Methods(http.MethodPost)

	v1.HandleFunc("/actions", h.SubmitAction).Methods(http.MethodPost)
	v1.HandleFunc("/actions", h.ListActions).Methods(http.MethodGet)
	v1.HandleFunc("/actions/stats", h.ActionStats).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id}", h.GetAction).Methods(http.MethodGet)

	v1.HandleFunc("/approvals", h.ListApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/approvals", h.Approve).Methods(http.MethodPost)

	v1.HandleFunc("/decisions", h.ListDecisions).Methods(http.MethodGet)
	v1.HandleFunc("/outcomes", h.ListOutcomes).Methods(http.MethodGet)
	v1.HandleFunc("/patterns", h.ListPatterns).Methods(http.MethodGet)

	v1.HandleFunc("/rules", h.ListRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", h.RegisterRule).Methods(http.MethodPost)

	v1.HandleFunc("/circuits/{target}", h.CircuitState).Methods(http.MethodGet)
	v1.HandleFunc("/circuits/{target}/open", h.OpenCircuit).Methods(http.MethodPost)
	v1.HandleFunc("/circuits/{target}/close", h.CloseCircuit).Methods(http.MethodPost)
}

// Health reports liveness plus queue diagnostics.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.service.ActionStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"actions":        stats,
		"cycle_p95_ms":   h.service.LatencyP95().Milliseconds(),
	})
}

// RunCycle triggers one coordination cycle for a target.
func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	var req models.CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.service.RunCycle(r.Context(), req)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			writeError(w, http.StatusBadRequest, appErr.Msg)
			return
		}
		h.logger.Error("cycle failed", slog.String("target", req.Target), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitAction queues a manually submitted remediation action.
func (h *Handlers) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var action models.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accepted, err := h.service.SubmitAction(r.Context(), action)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			writeError(w, http.StatusBadRequest, appErr.Msg)
			return
		}
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	status := http.StatusCreated
	if accepted.Status == models.StatusCancelled {
		status = http.StatusConflict
	}
	writeJSON(w, status, accepted)
}

// ListActions returns registry contents, optionally filtered by status.
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	status := models.ActionStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": h.service.ListActions(status),
	})
}

// ActionStats summarises the registry by lifecycle state.
func (h *Handlers) ActionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ActionStats())
}

// GetAction returns one registered action.
func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	action, ok := h.service.GetAction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// ListApprovals returns escalated decisions awaiting sign-off.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	decisions, err := h.service.PendingApprovals(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list approvals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

// Approve records a sign-off and executes the decision when approved.
func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	var approval models.Approval
	if err := json.NewDecoder(r.Body).Decode(&approval); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.service.Approve(r.Context(), approval)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			writeError(w, http.StatusBadRequest, appErr.Msg)
			return
		}
		h.logger.Error("approval failed", slog.String("decision", approval.DecisionID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "approval failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListDecisions queries the decision archive.
func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	req := models.ListDecisionsRequest{
		Target:   r.URL.Query().Get("target"),
		Path:     models.DecisionPath(r.URL.Query().Get("path")),
		PageSize: intQuery(r, "page_size", 100),
	}
	var ok bool
	if req.Start, req.End, ok = timeRange(w, r); !ok {
		return
	}
	decisions, err := h.service.ListDecisions(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

// ListOutcomes queries the outcome archive.
func (h *Handlers) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	req, ok := outcomesRequest(w, r)
	if !ok {
		return
	}
	outcomes, err := h.service.ListOutcomes(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

// ListPatterns mines failure patterns from archived outcomes.
func (h *Handlers) ListPatterns(w http.ResponseWriter, r *http.Request) {
	req, ok := outcomesRequest(w, r)
	if !ok {
		return
	}
	patterns, err := h.service.MinePatterns(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mine patterns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": patterns})
}

// ListRules returns installed rules in evaluation order.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": h.service.Rules()})
}

// RegisterRule validates and installs one rule.
func (h *Handlers) RegisterRule(w http.ResponseWriter, r *http.Request) {
	var rule policy.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.RegisterRule(r.Context(), rule); err != nil {
		if errors.Is(err, policy.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// CircuitState reports one target's breaker.
func (h *Handlers) CircuitState(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	writeJSON(w, http.StatusOK, h.service.CircuitState(target))
}

// OpenCircuit manually trips a breaker.
func (h *Handlers) OpenCircuit(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	h.service.OpenCircuit(r.Context(), target)
	writeJSON(w, http.StatusOK, h.service.CircuitState(target))
}

// CloseCircuit manually resets a breaker.
func (h *Handlers) CloseCircuit(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	h.service.CloseCircuit(r.Context(), target)
	writeJSON(w, http.StatusOK, h.service.CircuitState(target))
}

func outcomesRequest(w http.ResponseWriter, r *http.Request) (models.ListOutcomesRequest, bool) {
	req := models.ListOutcomesRequest{
		Target:   r.URL.Query().Get("target"),
		PageSize: intQuery(r, "page_size", 100),
	}
	var ok bool
	if req.Start, req.End, ok = timeRange(w, r); !ok {
		return models.ListOutcomesRequest{}, false
	}
	return req, true
}

func timeRange(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = utils.ParseRFC3339(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return start, end, false
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = utils.ParseRFC3339(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return start, end, false
		}
	}
	return start, end, true
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
