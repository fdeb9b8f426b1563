package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/engine"
	"github.com/yndnr/rxcheckpoint/internal/infra/buildinfo"
)

// handleAdminStatus handles GET /admin/v1/status/summary.
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	cp, rp := h.engine.Parallelism()
	resp := StatusResponse{
		EngineID:     h.engine.ID(),
		CheckpointID: h.engine.CheckpointID(),
		Version:      buildinfo.Get().Version,
		Scheduler:    h.engine.Scheduler().State().String(),
		Ready:        h.Ready(),
		Entities:     h.engine.EntityCounts(),
		Templates:    h.engine.TemplateCount(),
		Parallelism:  ParallelismResponse{Checkpoint: cp, Recovery: rp},
		Time:         time.Now().UTC().Format(time.RFC3339),
	}
	if info, ok := h.engine.LastCheckpoint(); ok {
		resp.LastCheckpoint = &info
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleCheckpoint handles POST /admin/v1/checkpoints?mode=full|differential.
func (h *Handler) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	mode, err := engine.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}

	res, err := h.engine.Checkpoint(r.Context(), mode)
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.logger.Info("checkpoint requested",
		"mode", mode.String(),
		"sequence", res.Info.Sequence,
		"written", res.Written)
	h.writeJSON(w, r, http.StatusCreated, res)
}

// handleCurrentCheckpoint handles GET /admin/v1/checkpoints/current.
func (h *Handler) handleCurrentCheckpoint(w http.ResponseWriter, r *http.Request) {
	info, ok := h.engine.LastCheckpoint()
	if !ok {
		h.handleEngineError(w, r, domain.ErrCheckpointNotFound)
		return
	}
	h.writeJSON(w, r, http.StatusOK, info)
}

// handleRecover handles POST /admin/v1/recoveries. A recovery with
// per-entity failures still replaced the engine state; the result travels
// in the error details.
func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Recover(r.Context())
	var agg *domain.AggregateError
	switch {
	case errors.As(err, &agg):
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrPartialFailure.Code, err.Error(),
			PartialFailureDetails{Failures: failures(agg), Recovery: res})
		return
	case err != nil:
		h.handleEngineError(w, r, err)
		return
	}
	h.logger.Info("recovery requested",
		"found", res.Found,
		"loaded", res.Loaded,
		"invalid", res.Invalid)
	h.writeJSON(w, r, http.StatusOK, res)
}

// handleParallelism handles POST /admin/v1/parallelism.
func (h *Handler) handleParallelism(w http.ResponseWriter, r *http.Request) {
	var req ParallelismRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.SetParallelism(req.Checkpoint, req.Recovery); err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	cp, rp := h.engine.Parallelism()
	h.writeJSON(w, r, http.StatusOK, ParallelismResponse{Checkpoint: cp, Recovery: rp})
}
