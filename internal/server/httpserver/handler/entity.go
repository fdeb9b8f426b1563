package handler

import (
	"net/http"
	"sort"

	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/pkg/expr"
)

func (h *Handler) kind(w http.ResponseWriter, r *http.Request) (domain.Kind, bool) {
	kind, err := domain.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.handleEngineError(w, r, err)
		return domain.KindUnknown, false
	}
	return kind, true
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.handleEngineError(w, r, domain.ErrMissingArgument.WithDetails("id"))
		return "", false
	}
	return id, true
}

// handleListEntities handles GET /v1/entities/{kind}. With an id query
// parameter it returns that single entity.
func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		ent, err := h.engine.Get(kind, id)
		if err != nil {
			h.handleEngineError(w, r, err)
			return
		}
		h.writeJSON(w, r, http.StatusOK, toEntityResponse(ent))
		return
	}

	ents, err := h.engine.List(kind)
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	items := make([]EntityResponse, len(ents))
	for i, ent := range ents {
		items[i] = toEntityResponse(ent)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	h.writeJSON(w, r, http.StatusOK, ListEntitiesResponse{
		Kind:  kind.String(),
		Items: items,
		Total: len(items),
	})
}

// handleCreateEntity handles POST /v1/entities/{kind}. Definition kinds are
// defined, instance kinds are created and bound.
func (h *Handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	var req EntityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Expression) == 0 {
		h.handleEngineError(w, r, domain.ErrMissingArgument.WithDetails("expression"))
		return
	}
	ex, err := expr.FromJSON(req.Expression)
	if err != nil {
		h.handleEngineError(w, r, domain.ErrInvalidArgument.WithDetails("expression").WithCause(err))
		return
	}

	var ent *domain.Entity
	if kind.IsDefinition() {
		ent, err = h.engine.Define(r.Context(), kind, req.ID, ex, req.State)
	} else {
		ent, err = h.engine.Create(r.Context(), kind, req.ID, ex, req.State)
	}
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, toEntityResponse(ent))
}

// handleDeleteEntity handles DELETE /v1/entities/{kind}?id=.
func (h *Handler) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	var err error
	if kind.IsDefinition() {
		err = h.engine.Undefine(r.Context(), kind, id)
	} else {
		err = h.engine.Delete(r.Context(), kind, id)
	}
	if err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

// handleUpdateState handles PUT /v1/entities/{kind}/state?id=.
func (h *Handler) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req StateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.UpdateState(r.Context(), kind, id, req.State); err != nil {
		h.handleEngineError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}
