// Package controlapi implements the REST API of the unlock engine: prereq
// CRUD, synchronous evaluation, availability reads, event intake and admin
// recompute triggers. Every protected route is nested under a tenant slug;
// the tenant is resolved once per request and passed down explicitly.
package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/bytedeck/unlock-engine/internal/engine"
	"github.com/bytedeck/unlock-engine/internal/prereq"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

// API holds the router and the dependencies of the control plane. It follows
// the dependency injection pattern to facilitate testing.
type API struct {
	// Router is the chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// engine is the unlock facade: evaluate, availability, events, recompute.
	engine *engine.Engine

	// prereqs is the persistence layer for prerequisite rows.
	prereqs prereq.Store

	// tenants resolves the slug in the URL to a tenant binding.
	tenants tenant.Store

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication (test/dev environments only).
	skipAuth bool
}

// NewAPI creates the API with authentication enabled.
func NewAPI(eng *engine.Engine, prereqs prereq.Store, tenants tenant.Store, apiKeyHash string) *API {
	return NewAPIWithConfig(eng, prereqs, tenants, apiKeyHash, false)
}

// NewAPIWithConfig creates the API with explicit control over authentication.
// skipAuth exists for tests; production wiring always passes false. Panics on
// nil dependencies or on an empty key hash with auth enabled.
func NewAPIWithConfig(eng *engine.Engine, prereqs prereq.Store, tenants tenant.Store, apiKeyHash string, skipAuth bool) *API {
	if eng == nil {
		panic("controlapi: engine cannot be nil")
	}
	if prereqs == nil {
		panic("controlapi: prereq store cannot be nil")
	}
	if tenants == nil {
		panic("controlapi: tenant store cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		engine:     eng,
		prereqs:    prereqs,
		tenants:    tenants,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/tenants/{slug}", func(r chi.Router) {
			r.Use(a.resolveTenant)

			r.Post("/evaluate", a.handleEvaluate)
			r.Get("/users/{userID}/available/{kind}", a.handleAvailableIDs)
			r.Post("/events", a.handleEvent)

			r.Post("/recompute", a.handleRecomputeTenant)
			r.Post("/recompute/users/{userID}", a.handleRecomputeUser)
			r.Post("/recompute/targets/{kind}/{id}", a.handleRecomputeTarget)

			r.Patch("/settings", a.handleUpdateSettings)

			r.Route("/targets/{kind}/{id}/prereqs", func(r chi.Router) {
				r.Get("/", a.handleListPrereqs)
				r.Post("/", a.handleCreatePrereq)
				r.Delete("/", a.handleDeletePrereqsForTarget)

				r.Route("/{prereqID}", func(r chi.Router) {
					r.Get("/", a.handleGetPrereq)
					r.Put("/", a.handleUpdatePrereq)
					r.Delete("/", a.handleDeletePrereq)
				})
			})
		})
	})
}

// handleHealthCheck reports HTTP serving capability. Deep dependency checks
// live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
