package handler

import (
	"encoding/json"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// EntityRequest is the request body for POST /v1/entities/{kind}.
type EntityRequest struct {
	ID         string          `json:"id"`
	Expression json.RawMessage `json:"expression"`
	State      []byte          `json:"state,omitempty"`
}

// StateRequest is the request body for PUT /v1/entities/{kind}/state.
type StateRequest struct {
	State []byte `json:"state"`
}

// EntityResponse represents an entity in API responses.
type EntityResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Expression  json.RawMessage `json:"expression,omitempty"`
	State       []byte          `json:"state,omitempty"`
	Initialized bool            `json:"initialized"`
	Dirty       bool            `json:"dirty"`
	Invalid     bool            `json:"invalid,omitempty"`
	LoadError   string          `json:"load_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListEntitiesResponse is the response body for GET /v1/entities/{kind}.
type ListEntitiesResponse struct {
	Kind  string           `json:"kind"`
	Items []EntityResponse `json:"items"`
	Total int              `json:"total"`
}

// ParallelismRequest is the request body for POST /admin/v1/parallelism.
// Zero leaves a setting unchanged.
type ParallelismRequest struct {
	Checkpoint int `json:"checkpoint"`
	Recovery   int `json:"recovery"`
}

// ParallelismResponse reports the effective parallelism.
type ParallelismResponse struct {
	Checkpoint int `json:"checkpoint"`
	Recovery   int `json:"recovery"`
}

// StatusResponse is the response body for GET /admin/v1/status/summary.
type StatusResponse struct {
	EngineID       string              `json:"engine_id"`
	CheckpointID   string              `json:"checkpoint_id"`
	Version        string              `json:"version"`
	Scheduler      string              `json:"scheduler"`
	Ready          bool                `json:"ready"`
	Entities       map[string]int      `json:"entities"`
	Templates      int                 `json:"templates"`
	LastCheckpoint *storage.Info       `json:"last_checkpoint,omitempty"`
	Parallelism    ParallelismResponse `json:"parallelism"`
	Time           string              `json:"time"`
}

// FailureResponse describes one per-entity failure of a partial checkpoint
// or recovery.
type FailureResponse struct {
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PartialFailureDetails is attached to RX-ENG-5000 responses.
type PartialFailureDetails struct {
	Failures   []FailureResponse        `json:"failures"`
	Checkpoint *engine.CheckpointResult `json:"checkpoint,omitempty"`
	Recovery   *engine.RecoveryResult   `json:"recovery,omitempty"`
}

func toEntityResponse(e *domain.Entity) EntityResponse {
	resp := EntityResponse{
		ID:          e.ID,
		Kind:        e.Kind.String(),
		Initialized: e.Initialized(),
		Dirty:       e.Dirty(),
		Invalid:     e.IsInvalid(),
		CreatedAt:   e.CreatedAt,
	}
	if e.IsInvalid() {
		resp.LoadError = e.LoadError().Error()
		return resp
	}
	if e.Expr != nil {
		if raw, err := expr.ToJSON(e.Expr); err == nil {
			resp.Expression = raw
		}
	}
	resp.State = e.State()
	return resp
}
