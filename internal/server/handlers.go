package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/service/pipeline"
	"github.com/kiko-hq/kiko/internal/storage"
)

// Fixed failure messages of the pipeline routes. The cause is logged, never
// returned.
const (
	msgMetadataFailed = "Metadata processing failed"
	msgActionFailed   = "Action processing failed"
	msgAudienceFailed = "Audience analysis failed"
	msgCPMFailed      = "CPM analysis failed"
)

// Pipeline runs the service's workflows. *pipeline.Controller satisfies it.
type Pipeline interface {
	ProcessEmail(ctx context.Context, req model.ProcessEmailRequest) (pipeline.Outcome, error)
	PerformAction(ctx context.Context, req model.ActionRequest) (pipeline.Outcome, error)
	AudienceAnalysis(ctx context.Context, campaignID int64) (*model.AudienceAnalysisOutput, error)
	CPMAnalysis(ctx context.Context, campaignID int64) (model.CPMAnalysis, error)
}

// RunReader reads stored runs. *persistence.Gateway satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, id int64, env model.Environment) (model.AgentRun, error)
}

// Pinger checks database connectivity. *storage.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	pipeline            Pipeline
	runs                RunReader
	db                  Pinger
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB.
type HandlersDeps struct {
	Pipeline            Pipeline
	Runs                RunReader
	DB                  Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:            d.Pipeline,
		runs:                d.Runs,
		db:                  d.DB,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleRoot handles GET /.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "This is the email processing service",
		"status":  "healthy",
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Postgres: "not_configured",
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK
	if h.db != nil {
		resp.Postgres = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			resp.Postgres = "disconnected"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, status, resp)
}

// HandleProcessEmail handles POST /process-email.
func (h *Handlers) HandleProcessEmail(w http.ResponseWriter, r *http.Request) {
	var req model.ProcessEmailRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	env, err := model.ParseEnvironment(string(req.Env))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	req.Env = env

	out, err := h.pipeline.ProcessEmail(r.Context(), req)
	if err != nil {
		h.pipelineFailure(w, r, err, msgMetadataFailed, "message_id", req.Conversation.LastMessage())
		return
	}
	writeJSON(w, r, http.StatusOK, model.AgentRunResponse{AgentRun: out.Run, Degraded: out.SideEffects.APIIssues()})
}

// HandleAction handles POST /action.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req model.ActionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	out, err := h.pipeline.PerformAction(r.Context(), req)
	if err != nil {
		h.pipelineFailure(w, r, err, msgActionFailed)
		return
	}
	writeJSON(w, r, http.StatusOK, model.AgentRunResponse{AgentRun: out.Run, Degraded: out.SideEffects.APIIssues()})
}

// HandleAudienceAnalysis handles POST /audience-analysis?campaign_id=.
func (h *Handlers) HandleAudienceAnalysis(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := campaignIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.pipeline.AudienceAnalysis(r.Context(), campaignID)
	if err != nil {
		h.pipelineFailure(w, r, err, msgAudienceFailed, "campaign_id", campaignID)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleCPMAnalysis handles POST /cpm-analysis?campaign_id=.
func (h *Handlers) HandleCPMAnalysis(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := campaignIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.pipeline.CPMAnalysis(r.Context(), campaignID)
	if err != nil {
		h.pipelineFailure(w, r, err, msgCPMFailed, "campaign_id", campaignID)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleGetAgentRun handles GET /agent-runs/{id}?env=.
func (h *Handlers) HandleGetAgentRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run id")
		return
	}
	env, err := model.ParseEnvironment(r.URL.Query().Get("env"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, err := h.runs.GetRun(r.Context(), id, env)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "agent run not found")
			return
		}
		h.logger.Error("get agent run failed", "error", err, "run_id", id, "env", env)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to get agent run")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AgentRunResponse{AgentRun: run})
}

// pipelineFailure logs err and writes the route's fixed 500 message.
func (h *Handlers) pipelineFailure(w http.ResponseWriter, r *http.Request, err error, message string, attrs ...any) {
	attrs = append(attrs, "error", err, "request_id", RequestIDFromContext(r.Context()))
	h.logger.Error(message, attrs...)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, message)
}

// campaignIDParam reads the required campaign_id query parameter.
func campaignIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("campaign_id")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "campaign_id is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "campaign_id must be an integer")
		return 0, false
	}
	return id, true
}
