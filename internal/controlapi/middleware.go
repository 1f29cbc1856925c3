package controlapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/bytedeck/unlock-engine/internal/logger"
	"github.com/bytedeck/unlock-engine/internal/observability"
	"github.com/bytedeck/unlock-engine/internal/tenant"
)

type contextKey string

// tenantCtxKey carries the resolved *tenant.Tenant through the request.
const tenantCtxKey contextKey = "tenant"

// RequestLogger logs each completed request with slog and feeds the HTTP
// metrics. Info for success, Warn for 4xx, Error for 5xx.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		observability.HTTPReqDuration.WithLabelValues(r.Method, routePattern).Observe(duration.Seconds())
		observability.HTTPReqTotal.WithLabelValues(r.Method, routePattern, http.StatusText(status)).Inc()

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)
	})
}

// HashAPIKey returns the hex SHA-256 of the key, the format the API stores
// and compares against. main hashes the configured key once at startup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// authenticateAPIKey validates the X-API-Key header against the stored hash.
// Hash-then-compare keeps the comparison constant time regardless of the
// presented key's length.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Missing X-API-Key header",
			})
			return
		}

		presented := HashAPIKey(key)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(a.apiKeyHash)) != 1 {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// resolveTenant turns the slug path parameter into a tenant binding and
// stores it in the request context. Handlers never see an unresolved tenant.
func (a *API) resolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")

		tn, err := a.tenants.BySlug(r.Context(), slug)
		if errors.Is(err, tenant.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_TENANT_NOT_FOUND",
				Message: "No tenant with slug " + slug,
			})
			return
		}
		if err != nil {
			logger.FromContext(r.Context()).Error("failed to resolve tenant",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INTERNAL",
				Message: "Failed to resolve tenant",
			})
			return
		}

		ctx := context.WithValue(r.Context(), tenantCtxKey, tn)
		log := logger.FromContext(ctx).With(slog.String("tenant", tn.Slug))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx, log)))
	})
}

// tenantFromContext returns the tenant stored by resolveTenant. It panics if
// the middleware did not run, which would be a routing bug.
func tenantFromContext(ctx context.Context) *tenant.Tenant {
	tn, ok := ctx.Value(tenantCtxKey).(*tenant.Tenant)
	if !ok {
		panic("controlapi: tenant missing from request context")
	}
	return tn
}
