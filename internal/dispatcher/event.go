// Package dispatcher translates domain events into background recomputation
// jobs. It is the single funnel for invalidation: boundary code that mutates
// submissions, assertions, enrollments, prerequisites or targets reports the
// change here, and the dispatcher decides the recomputation scope, coalesces
// bursts, and enqueues jobs.
package dispatcher

import (
	"errors"
	"fmt"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// ErrUnknownEvent marks an event kind outside the closed enumeration.
// The dispatcher logs and drops these instead of failing the caller, so a
// newer producer cannot take down an older engine.
var ErrUnknownEvent = errors.New("unknown event kind")

// EventKind enumerates the domain events the engine reacts to.
type EventKind string

const (
	// EventSubmissionApproved fires when a quest submission enters APPROVED.
	EventSubmissionApproved EventKind = "submission_approved"

	// EventSubmissionUnapproved fires when a submission leaves APPROVED
	// (returned or dropped after approval).
	EventSubmissionUnapproved EventKind = "submission_unapproved"

	// EventBadgeGranted fires when a badge assertion is created.
	EventBadgeGranted EventKind = "badge_granted"

	// EventBadgeRevoked fires when a badge assertion is deleted.
	EventBadgeRevoked EventKind = "badge_revoked"

	// EventEnrollmentChanged fires when a course enrollment is created,
	// deleted, activated or deactivated.
	EventEnrollmentChanged EventKind = "enrollment_changed"

	// EventPrereqChanged fires when a prerequisite row is created, updated
	// or deleted on a target.
	EventPrereqChanged EventKind = "prereq_changed"

	// EventTargetEdited fires when a quest, badge or rank is edited in a way
	// that changes its identity or attainment semantics (XP, active flag).
	EventTargetEdited EventKind = "target_edited"

	// EventSemesterChanged fires when the tenant's active semester changes.
	EventSemesterChanged EventKind = "semester_changed"
)

// Event is one tenant-qualified domain event. UserID is set for user-scoped
// kinds; Target identifies the object whose state changed (the quest for a
// submission, the badge for an assertion, the edited target).
type Event struct {
	Kind   EventKind
	UserID int64
	Target content.Ref
}

// userScoped reports whether the event invalidates one user across all kinds.
func (k EventKind) userScoped() bool {
	switch k {
	case EventSubmissionApproved, EventSubmissionUnapproved,
		EventBadgeGranted, EventBadgeRevoked, EventEnrollmentChanged:
		return true
	}
	return false
}

// targetScoped reports whether the event invalidates one target for all users.
func (k EventKind) targetScoped() bool {
	return k == EventPrereqChanged || k == EventTargetEdited
}

// tenantScoped reports whether the event invalidates the whole tenant.
func (k EventKind) tenantScoped() bool {
	return k == EventSemesterChanged
}

// Validate checks that the event carries the fields its scope needs.
func (e Event) Validate() error {
	switch {
	case e.Kind.userScoped():
		if e.UserID <= 0 {
			return fmt.Errorf("event %s requires a user id", e.Kind)
		}
		return nil
	case e.Kind.targetScoped():
		if !e.Target.Kind.Valid() || e.Target.ID <= 0 {
			return fmt.Errorf("event %s requires a valid target", e.Kind)
		}
		return nil
	case e.Kind.tenantScoped():
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Kind)
	}
}
