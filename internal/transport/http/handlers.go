// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// @title Tenancy API
// @version 1.0.0
// @description Schema-per-tenant SaaS backend. The tenant is selected by the request host.

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/item"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/opentrusty/tenancy/internal/token"
)

// HostResolver maps a request host to its active tenant
type HostResolver interface {
	ResolveByDomain(ctx context.Context, domain string) (*tenant.Tenant, error)
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	resolver        HostResolver
	tenantService   *tenant.Service
	identityService *identity.Service
	itemService     *item.Service
	issuer          *token.Issuer
	binder          tenancy.Binder
	auditLogger     audit.Logger
	instruments     *metrics.Instruments
	cfg             HandlerConfig
}

// HandlerConfig holds request pipeline settings
type HandlerConfig struct {
	// AdminToken guards the admin API. Empty disables it.
	AdminToken      string
	UpdateLastLogin bool
	RequestTimeout  time.Duration
	// MetricsHandler serves /metrics on the public namespace when set.
	MetricsHandler http.Handler
	// HTTPMetrics instruments every request when set.
	HTTPMetrics *metrics.HTTPMetrics
	// CORSOrigins are the browser origins allowed to call the API. Empty
	// disables CORS handling.
	CORSOrigins          []string
	CORSAllowCredentials bool
}

// NewHandler creates a new HTTP handler
func NewHandler(
	tenantService *tenant.Service,
	identityService *identity.Service,
	itemService *item.Service,
	issuer *token.Issuer,
	binder tenancy.Binder,
	auditLogger audit.Logger,
	instruments *metrics.Instruments,
	cfg HandlerConfig,
) *Handler {
	if instruments == nil {
		instruments = metrics.NoopInstruments()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Handler{
		resolver:        tenantService,
		tenantService:   tenantService,
		identityService: identityService,
		itemService:     itemService,
		issuer:          issuer,
		binder:          binder,
		auditLogger:     auditLogger,
		instruments:     instruments,
		cfg:             cfg,
	}
}

// NewRouter creates a new HTTP router.
//
// Every request except /healthz passes the tenant pipeline in this order:
// TenantResolver, CrossTenantGuard, then for protected routes Authenticate and
// RequireActiveUser. The resolved namespace then selects the public or the
// tenant route table.
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if len(h.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: h.cfg.CORSAllowCredentials,
			MaxAge:           600,
		}))
	}
	if h.cfg.HTTPMetrics != nil {
		r.Use(h.cfg.HTTPMetrics.Instrument)
	}
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))

	// Liveness, independent of the directory
	r.Get("/healthz", h.Liveness)

	r.Group(func(r chi.Router) {
		r.Use(h.TenantResolver)
		r.Use(h.CrossTenantGuard)
		r.Mount("/", planeSwitch(h.publicRoutes(), h.tenantRoutes()))
	})

	return r
}

// planeSwitch dispatches to the public or the tenant route table according to
// the namespace resolved for the request.
func planeSwitch(public, tenantPlane http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := tenancy.FromContext(r.Context()); ok && s.IsPublic() {
			public.ServeHTTP(w, r)
			return
		}
		tenantPlane.ServeHTTP(w, r)
	})
}

func (h *Handler) publicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Home)
	r.Get("/health/", h.HealthCheck)
	if h.cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.cfg.MetricsHandler)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.RequireAdminToken)
		r.Get("/tenants/", h.ListTenants)
		r.Post("/tenants/", h.CreateTenant)
		r.Get("/tenants/{namespace}/", h.GetTenant)
		r.Patch("/tenants/{namespace}/", h.UpdateTenant)
		r.Post("/tenants/{namespace}/domains/", h.BindDomain)
		r.Delete("/domains/{domain}/", h.UnbindDomain)
	})
	return r
}

func (h *Handler) tenantRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health/", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/token/", h.ObtainToken)
		r.Post("/token/refresh/", h.RefreshToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Use(h.RequireActiveUser)

			r.Get("/items/", h.ListItems)
			r.Post("/items/", h.CreateItem)
			r.Get("/items/{id}/", h.GetItem)
			r.Put("/items/{id}/", h.ReplaceItem)
			r.Patch("/items/{id}/", h.PatchItem)
			r.Delete("/items/{id}/", h.DeleteItem)

			r.Get("/profile/", h.GetProfile)
		})
	})
	return r
}

// Liveness reports that the process is serving
// @Summary Liveness
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running for the resolved tenant
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health/ [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "multi-tenant service is running",
		"tenant":  tenancy.Namespace(r.Context()),
	})
}

// Home describes the public namespace
// @Summary Home
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router / [get]
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the multi-tenant SaaS service",
		"version": "1.0.0",
		"admin":   "/admin/",
		"health":  "/health/",
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
