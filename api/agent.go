package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/raid-guild/arcmeter-go/agent"
	"github.com/raid-guild/arcmeter-go/clients"
	"github.com/raid-guild/arcmeter-go/types"
)

// Run request defaults.
var (
	defaultMaxSpendUSD   = decimal.RequireFromString("0.05")
	defaultConfidenceMin = 0.5
)

// AgentHandler serves the buyer agent endpoints.
type AgentHandler struct {
	runner *agent.Runner
	runs   agent.RunStore
	log    *slog.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(runner *agent.Runner, runs agent.RunStore, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{runner: runner, runs: runs, log: logger}
}

// runRequest is the body of POST /run. Every field is optional.
type runRequest struct {
	Goal          string           `json:"goal"`
	MaxSpendUSD   *decimal.Decimal `json:"maxSpendUsd"`
	ConfidenceMin *float64         `json:"confidenceMin"`
	Prompt        string           `json:"prompt"`
}

func (b runRequest) toAgentRunRequest() types.AgentRunRequest {
	req := types.AgentRunRequest{
		Goal:          types.GoalGetSignal,
		MaxSpendUSD:   defaultMaxSpendUSD,
		ConfidenceMin: defaultConfidenceMin,
		Prompt:        b.Prompt,
	}
	if types.Goal(b.Goal) == types.GoalCompute {
		req.Goal = types.GoalCompute
	}
	if b.MaxSpendUSD != nil {
		req.MaxSpendUSD = *b.MaxSpendUSD
	}
	if b.ConfidenceMin != nil {
		req.ConfidenceMin = *b.ConfidenceMin
	}
	return req
}

// Run handles POST /run.
func (h *AgentHandler) Run(w http.ResponseWriter, r *http.Request) {

	// Decode the request body
	var body runRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "invalid_request")
		return
	}

	// Execute the run
	response, err := h.runner.Run(r.Context(), body.toAgentRunRequest())
	if err != nil {
		h.log.Error("run failed", "runId", response.RunID, "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, clients.ErrUpstream) {
			status = http.StatusBadGateway
		}
		writeError(w, h.log, status, "run_failed")
		return
	}

	writeJSON(w, h.log, http.StatusOK, response)
}

// Runs handles GET /runs.
func (h *AgentHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context())
	if err != nil {
		h.log.Error("failed to list runs", "err", err)
		writeError(w, h.log, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /runs/{runId}.
func (h *AgentHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "runId"))
	if errors.Is(err, agent.ErrRunNotFound) {
		writeError(w, h.log, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		h.log.Error("failed to get run", "err", err)
		writeError(w, h.log, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, h.log, http.StatusOK, run)
}

// Health handles GET /health.
func (h *AgentHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]any{"ok": true})
}

// NewAgentRouter returns the agent routes.
func NewAgentRouter(h *AgentHandler, logger *slog.Logger) http.Handler {
	r := newRouter(logger)
	r.Get("/health", h.Health)
	r.Post("/run", h.Run)
	r.Get("/runs", h.Runs)
	r.Get("/runs/{runId}", h.GetRun)
	return r
}
