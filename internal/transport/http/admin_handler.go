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
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenant"
)

const adminActor = "admin-api"

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	Namespace string   `json:"schema_name" binding:"required" example:"acme"`
	Name      string   `json:"name" binding:"required" example:"Acme Corporation"`
	Domains   []string `json:"domains" binding:"required" example:"acme.example.com"`
	OnTrial   bool     `json:"on_trial"`
	PaidUntil string   `json:"paid_until" example:"2027-01-31"`
}

// UpdateTenantRequest changes billing attributes. A null paid_until clears it.
type UpdateTenantRequest struct {
	OnTrial   *bool           `json:"on_trial"`
	PaidUntil json.RawMessage `json:"paid_until" swaggertype:"string" example:"2027-01-31"`
}

// BindDomainRequest attaches a domain to a tenant
type BindDomainRequest struct {
	Domain    string `json:"domain" binding:"required" example:"www.acme.example.com"`
	IsPrimary bool   `json:"is_primary"`
}

// TenantDetail is a tenant with its domains
type TenantDetail struct {
	*tenant.Tenant
	Domains []*tenant.Domain `json:"domains"`
}

// ListTenants lists tenants in the directory
// @Summary List Tenants
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]any
// @Router /admin/tenants/ [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	tenants, err := h.tenantService.List(r.Context(), limit, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list tenants", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": tenants})
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Description Registers a tenant with its domains and provisions its namespace
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateTenantRequest true "Tenant Data"
// @Success 201 {object} TenantDetail
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /admin/tenants/ [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := tenant.CreateInput{
		Namespace: req.Namespace,
		Name:      req.Name,
		Domains:   req.Domains,
		OnTrial:   req.OnTrial,
		ActorID:   adminActor,
	}
	if req.PaidUntil != "" {
		d, err := time.Parse(time.DateOnly, req.PaidUntil)
		if err != nil {
			respondError(w, http.StatusBadRequest, "paid_until must be YYYY-MM-DD")
			return
		}
		in.PaidUntil = &d
	}

	t, err := h.tenantService.Create(r.Context(), in)
	if err != nil {
		h.respondTenantError(w, r, err)
		return
	}
	h.respondTenantDetail(w, r, http.StatusCreated, t)
}

// GetTenant returns one tenant with its domains
// @Summary Get Tenant
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param namespace path string true "Namespace key"
// @Success 200 {object} TenantDetail
// @Failure 404 {object} map[string]string
// @Router /admin/tenants/{namespace}/ [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenantService.Get(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		h.respondTenantError(w, r, err)
		return
	}
	h.respondTenantDetail(w, r, http.StatusOK, t)
}

// UpdateTenant changes billing attributes
// @Summary Update Tenant
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param namespace path string true "Namespace key"
// @Param request body UpdateTenantRequest true "Billing changes"
// @Success 200 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /admin/tenants/{namespace}/ [patch]
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := tenant.BillingUpdate{OnTrial: req.OnTrial}
	switch raw := bytes.TrimSpace(req.PaidUntil); {
	case len(raw) == 0:
	case bytes.Equal(raw, []byte("null")):
		upd.ClearPaidUntil = true
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			respondError(w, http.StatusBadRequest, "paid_until must be YYYY-MM-DD or null")
			return
		}
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "paid_until must be YYYY-MM-DD or null")
			return
		}
		upd.PaidUntil = &d
	}

	t, err := h.tenantService.UpdateBilling(r.Context(), chi.URLParam(r, "namespace"), upd, adminActor)
	if err != nil {
		h.respondTenantError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// BindDomain attaches a domain to a tenant
// @Summary Bind Domain
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param namespace path string true "Namespace key"
// @Param request body BindDomainRequest true "Domain"
// @Success 201 {object} tenant.Domain
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /admin/tenants/{namespace}/domains/ [post]
func (h *Handler) BindDomain(w http.ResponseWriter, r *http.Request) {
	var req BindDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.tenantService.BindDomain(r.Context(), chi.URLParam(r, "namespace"), req.Domain, req.IsPrimary, adminActor)
	if err != nil {
		h.respondTenantError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// UnbindDomain detaches a domain from its tenant
// @Summary Unbind Domain
// @Tags Admin
// @Security BearerAuth
// @Param domain path string true "Domain"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /admin/domains/{domain}/ [delete]
func (h *Handler) UnbindDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.UnbindDomain(r.Context(), chi.URLParam(r, "domain"), adminActor); err != nil {
		h.respondTenantError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondTenantDetail(w http.ResponseWriter, r *http.Request, status int, t *tenant.Tenant) {
	domains, err := h.tenantService.ListDomains(r.Context(), t.Namespace)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list domains", logger.Namespace(t.Namespace), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}
	if domains == nil {
		domains = []*tenant.Domain{}
	}
	respondJSON(w, status, TenantDetail{Tenant: t, Domains: domains})
}

func (h *Handler) respondTenantError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound), errors.Is(err, tenant.ErrDomainNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, tenant.ErrInvalidNamespace), errors.Is(err, tenant.ErrInvalidDomain),
		errors.Is(err, tenant.ErrInvalidName), errors.Is(err, tenant.ErrPublicNamespace):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenant.ErrProvision):
		slog.ErrorContext(r.Context(), "tenant provisioning failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "namespace provisioning failed")
	default:
		slog.ErrorContext(r.Context(), "tenant operation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "tenant operation failed")
	}
}
