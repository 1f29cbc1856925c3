package controlapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/dispatcher"
	"github.com/bytedeck/unlock-engine/internal/logger"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// parseTargetRef extracts the {kind}/{id} pair from the URL.
func parseTargetRef(r *http.Request) (content.Ref, *ErrorResponse) {
	kind, err := content.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return content.Ref{}, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Unknown content kind in URL",
		}
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return content.Ref{}, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Target id must be a positive integer",
		}
	}

	return content.Ref{Kind: kind, ID: id}, nil
}

// handleCreatePrereq processes POST .../targets/{kind}/{id}/prereqs.
func (a *API) handleCreatePrereq(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	parent, errResp := parseTargetRef(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	var req PrereqRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	row := &prereq.Row{
		TenantID: tn.ID,
		Parent:   parent,
		Required: req.Required.toClause(),
		SortKey:  req.SortKey,
	}
	if req.Alternate != nil {
		alt := req.Alternate.toClause()
		row.Alternate = &alt
	}

	if err := a.prereqs.Create(r.Context(), row); err != nil {
		a.renderPrereqWriteError(w, r, err)
		return
	}

	a.notifyPrereqChanged(r, tn, parent)

	log.Info("prereq row created",
		slog.Int64("prereq_id", row.ID),
		slog.String("parent", parent.String()),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapRowToResponse(row))
}

// handleListPrereqs processes GET .../targets/{kind}/{id}/prereqs.
func (a *API) handleListPrereqs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	parent, errResp := parseTargetRef(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	rows, err := a.prereqs.ListForParent(r.Context(), tn.ID, parent)
	if err != nil {
		log.Error("failed to list prereq rows", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to list prerequisites"})
		return
	}

	dtos := make([]PrereqRow, len(rows))
	for i, row := range rows {
		dtos[i] = mapRowToResponse(row)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"data": dtos})
}

// handleGetPrereq processes GET .../prereqs/{prereqID}.
func (a *API) handleGetPrereq(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	id, errResp := parsePrereqID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	row, err := a.prereqs.Get(r.Context(), tn.ID, id)
	if errors.Is(err, prereq.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: "Prerequisite row not found"})
		return
	}
	if err != nil {
		log.Error("failed to load prereq row", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to load prerequisite"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRowToResponse(row))
}

// handleUpdatePrereq processes PUT .../prereqs/{prereqID}: a full replacement
// of the row's clauses.
func (a *API) handleUpdatePrereq(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	parent, errResp := parseTargetRef(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	id, errResp := parsePrereqID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	var req PrereqRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	row := &prereq.Row{
		ID:       id,
		TenantID: tn.ID,
		Parent:   parent,
		Required: req.Required.toClause(),
		SortKey:  req.SortKey,
	}
	if req.Alternate != nil {
		alt := req.Alternate.toClause()
		row.Alternate = &alt
	}

	if err := a.prereqs.Update(r.Context(), row); err != nil {
		a.renderPrereqWriteError(w, r, err)
		return
	}

	a.notifyPrereqChanged(r, tn, parent)

	log.Info("prereq row updated", slog.Int64("prereq_id", row.ID))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapRowToResponse(row))
}

// handleDeletePrereq processes DELETE .../prereqs/{prereqID}.
func (a *API) handleDeletePrereq(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	parent, errResp := parseTargetRef(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	id, errResp := parsePrereqID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	err := a.prereqs.Delete(r.Context(), tn.ID, id)
	if errors.Is(err, prereq.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: "Prerequisite row not found"})
		return
	}
	if err != nil {
		log.Error("failed to delete prereq row", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to delete prerequisite"})
		return
	}

	a.notifyPrereqChanged(r, tn, parent)

	log.Info("prereq row deleted", slog.Int64("prereq_id", id))
	render.Status(r, http.StatusNoContent)
	render.NoContent(w, r)
}

// handleDeletePrereqsForTarget processes DELETE .../targets/{kind}/{id}/prereqs,
// the cascade used when a target is deleted.
func (a *API) handleDeletePrereqsForTarget(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	parent, errResp := parseTargetRef(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	deleted, err := a.prereqs.DeleteForParent(r.Context(), tn.ID, parent)
	if err != nil {
		log.Error("failed to delete prereq rows for target", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to delete prerequisites"})
		return
	}

	if deleted > 0 {
		a.notifyPrereqChanged(r, tn, parent)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]int64{"deleted": deleted})
}

// --- Private Helpers ---

func parsePrereqID(r *http.Request) (int64, *ErrorResponse) {
	id, err := strconv.ParseInt(chi.URLParam(r, "prereqID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Prerequisite id must be a positive integer",
		}
	}
	return id, nil
}

// renderPrereqWriteError maps store write failures onto API errors: a cycle
// is a conflict the caller must resolve, validation failures are bad input,
// everything else is internal.
func (a *API) renderPrereqWriteError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	switch {
	case errors.Is(err, prereq.ErrCycle):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_CYCLIC_PREREQ",
			Message: "The row would create a prerequisite cycle",
		})

	case errors.Is(err, prereq.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: "Prerequisite row not found"})

	case errors.Is(err, content.ErrUnknownKind):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()})

	default:
		log.Error("failed to write prereq row", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to write prerequisite"})
	}
}

// notifyPrereqChanged reports the invalidation event for a prereq write. A
// failed dispatch only costs freshness, so it is logged, not surfaced.
func (a *API) notifyPrereqChanged(r *http.Request, tn *tenant.Tenant, parent content.Ref) {
	err := a.engine.OnEvent(r.Context(), tn, dispatcher.Event{
		Kind:   dispatcher.EventPrereqChanged,
		Target: parent,
	})
	if err != nil {
		logger.FromContext(r.Context()).Warn("failed to dispatch prereq change",
			slog.String("target", parent.String()),
			slog.String("error", err.Error()),
		)
	}
}
