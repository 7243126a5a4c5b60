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

package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/opentrusty/tenancy/internal/token"
)

// Pipeline invariants:
// 1. The tenant is derived from the request host only, never from headers,
//    query strings or bodies.
// 2. Exactly one resolution per request; nothing is cached across requests.
// 3. The connection scope opened by the resolver is released on every exit
//    path of the request.

// LoggingMiddleware logs HTTP requests. It installs the per-request log fields
// that later stages fill in, so the end line carries the resolved namespace.
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(logger.WithRequestFields(r.Context()))

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.Host(r.Host),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.Host(r.Host),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// TenantResolver maps the request host to a tenant and installs a connection
// scope bound to its namespace. Unknown hosts are rejected before any other
// stage runs.
func (h *Handler) TenantResolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		host := requestHost(r)

		t, err := h.resolver.ResolveByDomain(ctx, host)
		if err != nil {
			if errors.Is(err, tenant.ErrTenantNotFound) {
				h.instruments.RecordResolution(ctx, metrics.OutcomeUnknown)
				slog.WarnContext(ctx, "no tenant for host", logger.Domain(host))
				respondError(w, http.StatusNotFound, "no such tenant")
				return
			}
			h.instruments.RecordResolution(ctx, metrics.OutcomeError)
			slog.ErrorContext(ctx, "tenant resolution failed", logger.Domain(host), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "tenant resolution failed")
			return
		}

		scope := tenancy.NewScope(t, h.binder)
		defer scope.Close(ctx)

		h.instruments.RecordResolution(ctx, metrics.OutcomeResolved)
		logger.SetNamespace(ctx, t.Namespace)
		trace.SpanFromContext(ctx).SetAttributes(tracing.NamespaceKey.String(t.Namespace))

		next.ServeHTTP(w, r.WithContext(tenancy.WithScope(ctx, scope)))
	})
}

// CrossTenantGuard refuses bearer tokens issued for a namespace other than the
// resolved one. It runs before authentication, so a foreign token yields 403
// even when it is expired or forged.
func (h *Handler) CrossTenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ns := tenancy.Namespace(ctx)

		if err := token.CheckTenant(ns, r.Header.Get("Authorization"), tenant.PublicNamespace); err != nil {
			h.rejectCrossTenant(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rejectCrossTenant(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	ns := tenancy.Namespace(ctx)

	h.instruments.RecordCrossTenant(ctx, ns)
	slog.WarnContext(ctx, "cross-tenant token rejected",
		logger.Path(r.URL.Path), logger.ErrorType(token.Reason(err)), logger.Error(err))
	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeCrossTenantToken,
		Namespace: ns,
		Resource:  r.URL.Path,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})
	respondJSON(w, http.StatusForbidden, map[string]string{
		"error":  "Invalid token for this tenant",
		"detail": "This token cannot be used on this domain",
	})
}

// Authenticate validates the bearer access token and loads its user from the
// current namespace.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, ok := token.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondError(w, http.StatusUnauthorized, "authentication credentials were not provided")
			return
		}

		claims, err := h.issuer.ParseAccess(raw)
		if err != nil {
			slog.DebugContext(ctx, "access token rejected",
				logger.TokenType(token.TypeAccess), logger.ErrorType(token.Reason(err)), logger.Error(err))
			respondError(w, http.StatusUnauthorized, "token is invalid or expired")
			return
		}
		if claims.Tenant != tenancy.Namespace(ctx) {
			respondError(w, http.StatusUnauthorized, "token is invalid or expired")
			return
		}

		user, err := h.identityService.GetUser(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				respondError(w, http.StatusUnauthorized, "user not found")
				return
			}
			slog.ErrorContext(ctx, "failed to load token user", logger.UserID(claims.UserID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to load user")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, &principal{user: user, claims: claims})))
	})
}

// RequireActiveUser rejects authenticated users whose account is disabled.
func (h *Handler) RequireActiveUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !user.IsActive {
			respondError(w, http.StatusForbidden, "user account is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdminToken guards the admin API with a static bearer token.
func (h *Handler) RequireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminToken == "" {
			respondError(w, http.StatusNotFound, "admin API is disabled")
			return
		}
		raw, ok := token.BearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(raw), []byte(h.cfg.AdminToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestHost returns the request host without port, lowercased.
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.ToLower(host)
}
