// Package queue implements the shared background job queue. Jobs are JSON
// payloads on a Redis list: at-least-once delivery, no global ordering, with
// idempotent recomputation compensating for both.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/bytedeck/unlock-engine/internal/content"
)

// JobKind discriminates the recomputation scopes.
type JobKind string

const (
	// JobRecomputeUser recomputes every kind's availability set for one user.
	JobRecomputeUser JobKind = "recompute_user"

	// JobRecomputeTarget re-evaluates one target for every active user,
	// paging with a continuation cursor.
	JobRecomputeTarget JobKind = "recompute_target"

	// JobRecomputeTenant fans out JobRecomputeUser jobs for every user in
	// the tenant (semester rollover, admin resync).
	JobRecomputeTenant JobKind = "recompute_tenant"
)

// Valid reports whether the kind is known. Consumers drop unknown kinds so a
// mixed-version deployment degrades to duplicate work, never to a crash.
func (k JobKind) Valid() bool {
	switch k {
	case JobRecomputeUser, JobRecomputeTarget, JobRecomputeTenant:
		return true
	}
	return false
}

// Job is one unit of background recomputation. Every job is bound to exactly
// one tenant; the worker resolves the tenant before touching any storage.
type Job struct {
	ID       string  `json:"id"`
	TenantID int64   `json:"tenant_id"`
	Kind     JobKind `json:"kind"`

	// UserID is set for recompute_user jobs.
	UserID int64 `json:"user_id,omitempty"`

	// Target is set for recompute_target jobs.
	Target *content.Ref `json:"target,omitempty"`

	// Cursor is the continuation point for paged recompute_target and
	// recompute_tenant jobs: the last user id of the previous page.
	Cursor int64 `json:"cursor,omitempty"`

	// Attempt counts delivery attempts for retry bookkeeping.
	Attempt int `json:"attempt"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewUserJob builds a user-scoped recompute job.
func NewUserJob(tenantID, userID int64) *Job {
	return &Job{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Kind:       JobRecomputeUser,
		UserID:     userID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewTargetJob builds a target-scoped recompute job starting at the cursor.
func NewTargetJob(tenantID int64, target content.Ref, cursor int64) *Job {
	return &Job{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Kind:       JobRecomputeTarget,
		Target:     &target,
		Cursor:     cursor,
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewTenantJob builds a tenant-wide recompute job starting at the cursor.
func NewTenantJob(tenantID, cursor int64) *Job {
	return &Job{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Kind:       JobRecomputeTenant,
		Cursor:     cursor,
		EnqueuedAt: time.Now().UTC(),
	}
}
