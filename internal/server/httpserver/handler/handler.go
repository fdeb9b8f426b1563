package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/telemetry/logger"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 8 << 20

// Config configures a Handler.
type Config struct {
	// Engine serves every entity and admin endpoint. Required.
	Engine *engine.Engine

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Handler routes API requests to the engine.
type Handler struct {
	engine  *engine.Engine
	logger  *slog.Logger
	maxBody int64
	ready   atomic.Bool
	mux     *http.ServeMux
}

// New creates a Handler. It reports not ready until SetReady(true).
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &Handler{
		engine:  cfg.Engine,
		logger:  cfg.Logger,
		maxBody: cfg.MaxBodyBytes,
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// SetReady flips the readiness probe.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// Ready reports the readiness probe state.
func (h *Handler) Ready() bool { return h.ready.Load() }

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	// Health
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Entities
	h.mux.HandleFunc("GET /v1/entities/{kind}", h.handleListEntities)
	h.mux.HandleFunc("POST /v1/entities/{kind}", h.handleCreateEntity)
	h.mux.HandleFunc("DELETE /v1/entities/{kind}", h.handleDeleteEntity)
	h.mux.HandleFunc("PUT /v1/entities/{kind}/state", h.handleUpdateState)

	// Admin
	h.mux.HandleFunc("GET /admin/v1/status/summary", h.handleAdminStatus)
	h.mux.HandleFunc("POST /admin/v1/checkpoints", h.handleCheckpoint)
	h.mux.HandleFunc("GET /admin/v1/checkpoints/current", h.handleCurrentCheckpoint)
	h.mux.HandleFunc("POST /admin/v1/recoveries", h.handleRecover)
	h.mux.HandleFunc("POST /admin/v1/parallelism", h.handleParallelism)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// decode reads a JSON body into v, bounded by MaxBodyBytes.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// handleEngineError converts engine errors to HTTP responses.
func (h *Handler) handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var agg *domain.AggregateError
	if errors.As(err, &agg) {
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrPartialFailure.Code, err.Error(),
			PartialFailureDetails{Failures: failures(agg)})
		return
	}

	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		status := domain.StatusForCode(code)
		if status >= 500 {
			h.logger.Error("request failed", "error", err, "code", code)
		}
		h.writeError(w, r, status, code, err.Error(), nil)
		return
	}

	h.logger.Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "internal server error", nil)
}

func failures(agg *domain.AggregateError) []FailureResponse {
	out := make([]FailureResponse, 0, agg.Len())
	for _, err := range agg.Failures.Errors {
		f := FailureResponse{Message: err.Error(), Code: domain.GetErrorCode(err)}
		var ee *domain.EntityError
		if errors.As(err, &ee) {
			f.ID = ee.ID
			f.Kind = ee.Kind.String()
		}
		out = append(out, f)
	}
	return out
}
