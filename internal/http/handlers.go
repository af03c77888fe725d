package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-compare-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
	"github.com/kjstillabower/forecast-compare-service/internal/service"
	"github.com/kjstillabower/forecast-compare-service/internal/session"
	"github.com/kjstillabower/forecast-compare-service/internal/traffic"
	"github.com/kjstillabower/forecast-compare-service/internal/validation"
)

// Error codes returned in the error body.
const (
	codeInvalidRequest       = "INVALID_REQUEST"
	codeSessionNotFound      = "SESSION_NOT_FOUND"
	codeNoInput              = "NO_INPUT"
	codeNoCandidates         = "NO_CANDIDATES"
	codeNoSelection          = "NO_SELECTION"
	codeWrongStage           = "WRONG_STAGE"
	codeTransitionInProgress = "TRANSITION_IN_PROGRESS"
	codeRateLimited          = "RATE_LIMITED"
	codeInternal             = "INTERNAL_ERROR"
)

// maxBodyBytes bounds request bodies; five queries and their selections fit easily.
const maxBodyBytes = 64 << 10

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Overload applies only when the inbound limiter is enabled (RateLimitRPS > 0).
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	// StorePing, when set, is called to check session store reachability. Used when backend is memcached.
	StorePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orchestrator     *service.Orchestrator
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(orchestrator *service.Orchestrator, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type submitQueriesRequest struct {
	Queries     []string `json:"queries" validate:"required,max=5"`
	HorizonDays int      `json:"horizonDays"`
}

type selectionRequest struct {
	QueryIndex     *int `json:"queryIndex" validate:"required"`
	CandidateIndex *int `json:"candidateIndex" validate:"required"`
}

type submitSelectionsRequest struct {
	Selections []*selectionRequest `json:"selections" validate:"required,dive"`
}

// forecastResponse is the RESULT view: one entry per chosen location with display series.
type forecastResponse struct {
	SessionID   string           `json:"sessionId"`
	HorizonDays int              `json:"horizonDays"`
	Series      []seriesResponse `json:"series"`
}

type seriesResponse struct {
	models.ForecastSeries
	TimeSeries models.TimeSeries `json:"timeSeries"`
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orchestrator.Start(r.Context())
	if err != nil {
		h.writeOrchestratorError(w, r, models.Session{}, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orchestrator.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeOrchestratorError(w, r, models.Session{}, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.End(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeOrchestratorError(w, r, models.Session{}, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestartSession handles POST /sessions/{id}/restart.
func (h *Handler) RestartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orchestrator.Restart(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeOrchestratorError(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SubmitQueries handles POST /sessions/{id}/queries. An omitted horizon means the default;
// other horizons are checked by the orchestrator after the blank-input check.
func (h *Handler) SubmitQueries(w http.ResponseWriter, r *http.Request) {
	var body submitQueriesRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.HorizonDays == 0 {
		body.HorizonDays = models.DefaultHorizonDays
	}

	sess, err := h.orchestrator.SubmitQueries(r.Context(), mux.Vars(r)["id"], body.Queries, body.HorizonDays)
	if err != nil {
		h.writeOrchestratorError(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// SubmitSelections handles POST /sessions/{id}/selections. Null entries and picks naming a
// missing group or candidate are ignored.
func (h *Handler) SubmitSelections(w http.ResponseWriter, r *http.Request) {
	var body submitSelectionsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	selections := make([]*models.Selection, len(body.Selections))
	for i, s := range body.Selections {
		if s == nil {
			continue
		}
		selections[i] = &models.Selection{QueryIndex: *s.QueryIndex, CandidateIndex: *s.CandidateIndex}
	}

	sess, err := h.orchestrator.SubmitSelections(r.Context(), mux.Vars(r)["id"], selections)
	if err != nil {
		h.writeOrchestratorError(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetForecast handles GET /sessions/{id}/forecast. Only available in the RESULT stage.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orchestrator.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeOrchestratorError(w, r, models.Session{}, err)
		return
	}
	if sess.Stage != models.StageResult {
		writeErrorWithSession(w, r, http.StatusConflict, codeWrongStage, "forecast is available only after locations are chosen", &sess)
		return
	}

	resp := forecastResponse{
		SessionID:   sess.ID,
		HorizonDays: sess.HorizonDays,
		Series:      make([]seriesResponse, 0, len(sess.Forecasts)),
	}
	for _, fs := range sess.Forecasts {
		resp.Series = append(resp.Series, seriesResponse{ForecastSeries: fs, TimeSeries: fs.TimeSeries()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "forecast-compare-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in priority order: shutting-down > session store
// unreachable > overloaded > upstream error rate breach > healthy.
func (h *Handler) computeHealthStatus() (healthResult, map[string]string) {
	checks := map[string]string{"accuweather": "healthy"}
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}, checks
	}

	if h.healthConfig.StorePing != nil {
		if err := h.healthConfig.StorePing(); err != nil {
			checks["sessionStore"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "session_store_unreachable"}, checks
		}
		checks["sessionStore"] = "healthy"
	}

	if threshold := h.overloadThreshold(); threshold > 0 {
		if float64(traffic.DenialCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}, checks
		}
	}

	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errCount)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			checks["accuweather"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}, checks
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

// overloadThreshold is the number of 429s in the overload window above which the service
// reports overloaded: a percentage of what the inbound limiter admits in that window.
func (h *Handler) overloadThreshold() float64 {
	cfg := h.healthConfig
	if cfg.RateLimitRPS <= 0 || cfg.OverloadWindow <= 0 || cfg.OverloadThresholdPct <= 0 {
		return 0
	}
	return float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
}

// decodeBody decodes and validates a JSON body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return false
	}
	return true
}

// writeOrchestratorError maps orchestrator and store errors to status codes. The session
// snapshot, when there is one, is included so clients can render its message.
func (h *Handler) writeOrchestratorError(w http.ResponseWriter, r *http.Request, sess models.Session, err error) {
	var snapshot *models.Session
	if sess.ID != "" {
		snapshot = &sess
	}
	message := err.Error()
	if sess.Message != "" {
		message = sess.Message
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		writeErrorWithSession(w, r, http.StatusNotFound, codeSessionNotFound, "session not found", nil)
	case errors.Is(err, service.ErrTransitionInProgress):
		writeErrorWithSession(w, r, http.StatusConflict, codeTransitionInProgress, err.Error(), snapshot)
	case errors.Is(err, service.ErrWrongStage):
		writeErrorWithSession(w, r, http.StatusConflict, codeWrongStage, err.Error(), snapshot)
	case errors.Is(err, service.ErrNoInput):
		writeErrorWithSession(w, r, http.StatusUnprocessableEntity, codeNoInput, message, snapshot)
	case errors.Is(err, service.ErrNoCandidates):
		writeErrorWithSession(w, r, http.StatusUnprocessableEntity, codeNoCandidates, message, snapshot)
	case errors.Is(err, service.ErrNoSelection):
		writeErrorWithSession(w, r, http.StatusUnprocessableEntity, codeNoSelection, message, snapshot)
	case errors.Is(err, service.ErrInvalidHorizon), errors.Is(err, service.ErrInvalidQuery), errors.Is(err, service.ErrTooManyQueries):
		writeErrorWithSession(w, r, http.StatusBadRequest, codeInvalidRequest, message, snapshot)
	default:
		observability.LoggerFromContext(r.Context()).Error("request failed", zap.Error(err))
		writeErrorWithSession(w, r, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorWithSession(w, r, status, code, message, nil)
}

func writeErrorWithSession(w http.ResponseWriter, r *http.Request, status int, code, message string, sess *models.Session) {
	body := map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   strings.TrimSpace(message),
			"requestId": observability.CorrelationID(r.Context()),
		},
	}
	if sess != nil {
		body["session"] = sess
	}
	writeJSON(w, status, body)
}
