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
	"net/http"
	"time"

	"github.com/opentrusty/tenancy/internal/tenancy"
)

// Profile is the caller's account with its tenant
type Profile struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	TenantSchema string    `json:"tenant_schema"`
	IsStaff      bool      `json:"is_staff"`
	DateJoined   time.Time `json:"date_joined"`
}

// GetProfile returns the caller's profile
// @Summary Get profile
// @Description The authenticated user together with the tenant serving the request
// @Tags User
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Profile
// @Failure 401 {object} map[string]string
// @Router /api/profile/ [get]
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	respondJSON(w, http.StatusOK, Profile{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		TenantSchema: tenancy.Namespace(r.Context()),
		IsStaff:      user.IsStaff,
		DateJoined:   user.DateJoined,
	})
}
