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
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/tenancy/internal/item"
	"github.com/opentrusty/tenancy/internal/observability/logger"
)

// ItemRequest is the writable part of an item
type ItemRequest struct {
	Name        *string `json:"name" example:"Notebook"`
	Description *string `json:"description" example:"A5, dotted"`
}

// ItemPage is a paginated item listing
type ItemPage struct {
	Count    int          `json:"count"`
	Next     *string      `json:"next"`
	Previous *string      `json:"previous"`
	Results  []*item.Item `json:"results"`
}

// ListItems lists the current tenant's items, newest first
// @Summary List items
// @Tags Items
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Success 200 {object} ItemPage
// @Failure 404 {object} map[string]string
// @Router /api/items/ [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusNotFound, "invalid page")
			return
		}
		page = n
	}

	p, err := h.itemService.List(r.Context(), page)
	if errors.Is(err, item.ErrInvalidPage) {
		respondError(w, http.StatusNotFound, "invalid page")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list items", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if page > 1 && len(p.Items) == 0 {
		respondError(w, http.StatusNotFound, "invalid page")
		return
	}

	out := ItemPage{Count: p.Count, Results: p.Items}
	if p.HasNext {
		out.Next = pageURL(r, page+1)
	}
	if page > 1 {
		out.Previous = pageURL(r, page-1)
	}
	respondJSON(w, http.StatusOK, out)
}

func pageURL(r *http.Request, page int) *string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path}
	if page > 1 {
		u.RawQuery = url.Values{"page": {strconv.Itoa(page)}}.Encode()
	}
	s := u.String()
	return &s
}

// CreateItem creates an item owned by the caller
// @Summary Create item
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ItemRequest true "Item"
// @Success 201 {object} item.Item
// @Failure 400 {object} map[string]string
// @Router /api/items/ [post]
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var name, desc string
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		desc = *req.Description
	}

	user := GetUser(r.Context())
	it, err := h.itemService.Create(r.Context(), user.ID, name, desc)
	if err != nil {
		h.respondItemError(w, r, err)
		return
	}
	it.CreatedByUsername = user.Username
	respondJSON(w, http.StatusCreated, it)
}

// GetItem returns one item
// @Summary Get item
// @Tags Items
// @Produce json
// @Security BearerAuth
// @Param id path int true "Item ID"
// @Success 200 {object} item.Item
// @Failure 404 {object} map[string]string
// @Router /api/items/{id}/ [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	it, err := h.itemService.Get(r.Context(), id)
	if err != nil {
		h.respondItemError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}

// ReplaceItem replaces an item's writable fields
// @Summary Replace item
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Item ID"
// @Param request body ItemRequest true "Item"
// @Success 200 {object} item.Item
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/items/{id}/ [put]
func (h *Handler) ReplaceItem(w http.ResponseWriter, r *http.Request) {
	h.updateItem(w, r, true)
}

// PatchItem updates the supplied item fields
// @Summary Update item
// @Tags Items
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Item ID"
// @Param request body ItemRequest true "Fields to change"
// @Success 200 {object} item.Item
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/items/{id}/ [patch]
func (h *Handler) PatchItem(w http.ResponseWriter, r *http.Request) {
	h.updateItem(w, r, false)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request, replace bool) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if replace {
		if req.Name == nil {
			respondError(w, http.StatusBadRequest, "name is required")
			return
		}
		if req.Description == nil {
			empty := ""
			req.Description = &empty
		}
	}

	it, err := h.itemService.Update(r.Context(), id, item.Patch{Name: req.Name, Description: req.Description})
	if err != nil {
		h.respondItemError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}

// DeleteItem removes an item
// @Summary Delete item
// @Tags Items
// @Security BearerAuth
// @Param id path int true "Item ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /api/items/{id}/ [delete]
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	if err := h.itemService.Delete(r.Context(), id); err != nil {
		h.respondItemError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		respondError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondItemError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, item.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, item.ErrInvalidItem):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), "item operation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "item operation failed")
	}
}
