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
)

// handleEvaluate processes POST .../evaluate: a synchronous single-item check
// against authoritative state.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	var req EvaluateRequest
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

	target := content.Ref{Kind: content.Kind(req.TargetKind), ID: req.TargetID}
	met, err := a.engine.Evaluate(r.Context(), tn, target, req.UserID)
	if err != nil {
		log.Error("evaluation failed",
			slog.String("target", target.String()),
			slog.Int64("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Evaluation failed"})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]bool{"met": met})
}

// handleAvailableIDs processes GET .../users/{userID}/available/{kind}: the
// cached availability set, recomputed live on an UNKNOWN entry.
func (a *API) handleAvailableIDs(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "User id must be a positive integer"})
		return
	}

	kind, err := content.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Unknown content kind in URL"})
		return
	}

	ids, err := a.engine.AvailableIDs(r.Context(), tn, userID, kind)
	if err != nil {
		log.Error("availability read failed",
			slog.Int64("user_id", userID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to read availability"})
		return
	}

	if ids == nil {
		ids = []int64{}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"user_id": userID,
		"kind":    kind.String(),
		"ids":     ids,
	})
}

// handleEvent processes POST .../events: the single funnel collaborators use
// to report domain mutations.
func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	var req EventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()

	ev := dispatcher.Event{
		Kind:   dispatcher.EventKind(req.Event),
		UserID: req.UserID,
		Target: content.Ref{Kind: content.Kind(req.TargetKind), ID: req.TargetID},
	}

	if err := a.engine.OnEvent(r.Context(), tn, ev); err != nil {
		// Unknown event kinds are dropped inside the dispatcher; an error
		// here means the payload is missing scope fields.
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()})
		return
	}

	log.Debug("event accepted", slog.String("event", req.Event))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

// handleRecomputeUser processes POST .../recompute/users/{userID}.
func (a *API) handleRecomputeUser(w http.ResponseWriter, r *http.Request) {
	tn := tenantFromContext(r.Context())

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "User id must be a positive integer"})
		return
	}

	if err := a.engine.RecomputeUser(r.Context(), tn, userID); err != nil {
		a.renderEnqueueError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "enqueued"})
}

// handleRecomputeTarget processes POST .../recompute/targets/{kind}/{id}.
func (a *API) handleRecomputeTarget(w http.ResponseWriter, r *http.Request) {
	tn := tenantFromContext(r.Context())

	target, errResp := parseTargetRef(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if err := a.engine.RecomputeTarget(r.Context(), tn, target); err != nil {
		a.renderEnqueueError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "enqueued"})
}

// handleRecomputeTenant processes POST .../recompute.
func (a *API) handleRecomputeTenant(w http.ResponseWriter, r *http.Request) {
	tn := tenantFromContext(r.Context())

	if err := a.engine.RecomputeTenant(r.Context(), tn); err != nil {
		a.renderEnqueueError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "enqueued"})
}

// handleUpdateSettings processes PATCH .../settings. A semester switch also
// reports the tenant-wide invalidation event.
func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tn := tenantFromContext(r.Context())

	var req UpdateSettingsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if req.AutoUpdateEnabled != nil {
		if err := a.tenants.SetAutoUpdate(r.Context(), tn.ID, *req.AutoUpdateEnabled); err != nil {
			log.Error("failed to update auto-update flag", slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to update settings"})
			return
		}
		log.Info("auto-update flag changed", slog.Bool("enabled", *req.AutoUpdateEnabled))
	}

	if req.ActiveSemesterID != nil {
		if err := a.tenants.SetActiveSemester(r.Context(), tn.ID, *req.ActiveSemesterID); err != nil {
			log.Error("failed to switch active semester", slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to update settings"})
			return
		}

		err := a.engine.OnEvent(r.Context(), tn, dispatcher.Event{Kind: dispatcher.EventSemesterChanged})
		if err != nil {
			log.Warn("failed to dispatch semester change", slog.String("error", err.Error()))
		}
		log.Info("active semester changed", slog.Int64("semester_id", *req.ActiveSemesterID))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "updated"})
}

// renderEnqueueError reports a failed admin enqueue.
func (a *API) renderEnqueueError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, content.ErrUnknownKind) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()})
		return
	}

	logger.FromContext(r.Context()).Error("failed to enqueue recompute job",
		slog.String("error", err.Error()),
	)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Failed to enqueue recompute job"})
}
