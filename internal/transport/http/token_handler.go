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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/token"
)

// ObtainTokenRequest represents login credentials
type ObtainTokenRequest struct {
	Username string `json:"username" binding:"required" example:"demo"`
	Password string `json:"password" binding:"required" example:"demo123"`
}

// RefreshTokenRequest carries a refresh token
type RefreshTokenRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// ObtainToken exchanges credentials for a token pair bound to the current tenant
// @Summary Obtain token pair
// @Description Authenticate a user of the tenant selected by the request host
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body ObtainTokenRequest true "Credentials"
// @Success 200 {object} token.Pair
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/token/ [post]
func (h *Handler) ObtainToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ns := tenancy.Namespace(ctx)

	var req ObtainTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.identityService.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrUserInactive) {
			respondError(w, http.StatusUnauthorized, "no active account found with the given credentials")
			return
		}
		slog.ErrorContext(ctx, "authentication failed", logger.Username(req.Username), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	pair, err := h.issuer.Issue(token.Subject{UserID: user.ID, Username: user.Username, Email: user.Email}, ns)
	if err != nil {
		slog.ErrorContext(ctx, "failed to issue token", logger.UserID(user.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	if h.cfg.UpdateLastLogin {
		if err := h.identityService.RecordLogin(ctx, user.ID); err != nil {
			slog.WarnContext(ctx, "failed to record last login", logger.UserID(user.ID), logger.Error(err))
		}
	}

	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenIssued,
		Namespace: ns,
		ActorID:   strconv.FormatInt(user.ID, 10),
		Resource:  "token",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, pair)
}

// RefreshToken exchanges a refresh token for a new access token
// @Summary Refresh token
// @Description Refresh tokens are only accepted on the tenant they were issued for
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshTokenRequest true "Refresh token"
// @Success 200 {object} token.Pair
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /api/token/refresh/ [post]
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ns := tenancy.Namespace(ctx)

	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		respondError(w, http.StatusBadRequest, "refresh is required")
		return
	}

	pair, err := h.issuer.Refresh(ctx, req.Refresh, ns)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrCrossTenantToken):
			h.rejectCrossTenant(w, r, err)
		case errors.Is(err, token.ErrExpired), errors.Is(err, token.ErrBadSignature),
			errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrWrongType),
			errors.Is(err, token.ErrBlacklisted):
			slog.DebugContext(ctx, "refresh token rejected",
				logger.TokenType(token.TypeRefresh), logger.ErrorType(token.Reason(err)), logger.Error(err))
			respondError(w, http.StatusUnauthorized, "token is invalid or expired")
		default:
			slog.ErrorContext(ctx, "failed to refresh token", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenRefreshed,
		Namespace: ns,
		Resource:  "token",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"rotated": pair.Refresh != ""},
	})

	respondJSON(w, http.StatusOK, pair)
}
