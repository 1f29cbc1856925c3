// Package tenant resolves and caches the per-tenant engine settings. Every
// engine operation takes an explicit Tenant value; there is no ambient
// "current tenant" state anywhere in the codebase.
package tenant

import "errors"

// ErrNotFound is returned when a tenant id or slug does not resolve.
// The worker drops jobs for tenants that have been deleted.
var ErrNotFound = errors.New("tenant not found")

// Tenant carries the identity and engine-relevant settings of one deck.
type Tenant struct {
	ID   int64
	Slug string

	// AutoUpdateEnabled gates event-driven dispatch. Admin-triggered
	// recomputes ignore it.
	AutoUpdateEnabled bool

	// ActiveSemesterID scopes every attainment count. Zero means the tenant
	// has no active semester and nothing can be attained.
	ActiveSemesterID int64
}
