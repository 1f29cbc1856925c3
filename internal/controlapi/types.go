package controlapi

import (
	"strings"

	"github.com/bytedeck/unlock-engine/internal/content"
	"github.com/bytedeck/unlock-engine/internal/prereq"
)

// ClausePayload mirrors one prerequisite clause on the wire.
type ClausePayload struct {
	// Kind is one of the closed content kinds ("quest", "badge", "rank",
	// "course_enrollment").
	Kind string `json:"kind"`

	// ID is the referenced object within the tenant.
	ID int64 `json:"id"`

	// Count is the attainment threshold; omitted or zero means 1.
	Count int `json:"count,omitempty"`

	// Invert flips the clause (NOT semantics).
	Invert bool `json:"invert,omitempty"`
}

// validateClause checks one clause payload; field names the clause in error
// details ("required" / "alternate").
func validateClause(field string, c ClausePayload) *ErrorResponse {
	if _, err := content.ParseKind(c.Kind); err != nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Unknown content kind",
			Details: []ErrorDetail{{Field: field + ".kind", Issue: "must be one of quest, badge, rank, course_enrollment"}},
		}
	}
	if c.ID <= 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Clause id must be positive",
			Details: []ErrorDetail{{Field: field + ".id", Issue: "must be a positive integer"}},
		}
	}
	if c.Count < 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Clause count cannot be negative",
			Details: []ErrorDetail{{Field: field + ".count", Issue: "must be >= 0; zero defaults to 1"}},
		}
	}
	return nil
}

// toClause converts the payload to the domain value, applying the count
// default.
func (c ClausePayload) toClause() content.Clause {
	count := c.Count
	if count == 0 {
		count = 1
	}
	return content.Clause{
		Kind:   content.Kind(c.Kind),
		ID:     c.ID,
		Count:  count,
		Invert: c.Invert,
	}
}

func clausePayload(c content.Clause) ClausePayload {
	return ClausePayload{Kind: c.Kind.String(), ID: c.ID, Count: c.Count, Invert: c.Invert}
}

// PrereqRow is the prerequisite resource as returned by the API.
type PrereqRow struct {
	ID         int64          `json:"id"`
	ParentKind string         `json:"parent_kind"`
	ParentID   int64          `json:"parent_id"`
	Required   ClausePayload  `json:"required"`
	Alternate  *ClausePayload `json:"alternate,omitempty"`
	SortKey    int            `json:"sort_key"`

	// Display is the admin-facing rendering, e.g. "NOT (badge) 12 x2 OR (quest) 7".
	Display string `json:"display"`
}

// mapRowToResponse converts the domain row to the response DTO.
func mapRowToResponse(r *prereq.Row) PrereqRow {
	resp := PrereqRow{
		ID:         r.ID,
		ParentKind: r.Parent.Kind.String(),
		ParentID:   r.Parent.ID,
		Required:   clausePayload(r.Required),
		SortKey:    r.SortKey,
		Display:    r.String(),
	}
	if r.Alternate != nil {
		alt := clausePayload(*r.Alternate)
		resp.Alternate = &alt
	}
	return resp
}

// PrereqRequest is the payload for creating or replacing a prerequisite row.
// The parent target comes from the URL, not the body.
type PrereqRequest struct {
	Required  ClausePayload  `json:"required"`
	Alternate *ClausePayload `json:"alternate,omitempty"`
	SortKey   int            `json:"sort_key,omitempty"`
}

// Sanitize normalizes the kind strings.
func (r *PrereqRequest) Sanitize() {
	r.Required.Kind = strings.ToLower(strings.TrimSpace(r.Required.Kind))
	if r.Alternate != nil {
		r.Alternate.Kind = strings.ToLower(strings.TrimSpace(r.Alternate.Kind))
	}
}

// Validate checks the payload against the clause rules.
func (r *PrereqRequest) Validate() *ErrorResponse {
	if errResp := validateClause("required", r.Required); errResp != nil {
		return errResp
	}
	if r.Alternate != nil {
		if errResp := validateClause("alternate", *r.Alternate); errResp != nil {
			return errResp
		}
	}
	return nil
}

// EvaluateRequest asks whether a target's prerequisites are met for a user.
type EvaluateRequest struct {
	TargetKind string `json:"target_kind"`
	TargetID   int64  `json:"target_id"`
	UserID     int64  `json:"user_id"`
}

// Sanitize normalizes the kind string.
func (r *EvaluateRequest) Sanitize() {
	r.TargetKind = strings.ToLower(strings.TrimSpace(r.TargetKind))
}

// Validate checks the evaluation request.
func (r *EvaluateRequest) Validate() *ErrorResponse {
	if _, err := content.ParseKind(r.TargetKind); err != nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Unknown target kind",
			Details: []ErrorDetail{{Field: "target_kind", Issue: "must be one of quest, badge, rank, course_enrollment"}},
		}
	}
	if r.TargetID <= 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "target_id must be positive"}
	}
	if r.UserID <= 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "user_id must be positive"}
	}
	return nil
}

// EventRequest reports one domain event from a collaborator.
type EventRequest struct {
	Event      string `json:"event"`
	UserID     int64  `json:"user_id,omitempty"`
	TargetKind string `json:"target_kind,omitempty"`
	TargetID   int64  `json:"target_id,omitempty"`
}

// Sanitize normalizes the event and kind strings.
func (r *EventRequest) Sanitize() {
	r.Event = strings.ToLower(strings.TrimSpace(r.Event))
	r.TargetKind = strings.ToLower(strings.TrimSpace(r.TargetKind))
}

// UpdateSettingsRequest patches tenant settings. Pointers distinguish
// "missing field" from an explicit false/zero.
type UpdateSettingsRequest struct {
	AutoUpdateEnabled *bool  `json:"auto_update_enabled,omitempty"`
	ActiveSemesterID  *int64 `json:"active_semester_id,omitempty"`
}

// Validate rejects an empty patch.
func (r *UpdateSettingsRequest) Validate() *ErrorResponse {
	if r.AutoUpdateEnabled == nil && r.ActiveSemesterID == nil {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "No settings provided"}
	}
	if r.ActiveSemesterID != nil && *r.ActiveSemesterID <= 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "active_semester_id must be positive"}
	}
	return nil
}

// ErrorResponse is the standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail points at one offending field.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
