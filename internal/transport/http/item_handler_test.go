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

package http_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates item CRUD through the tenant pipeline.
// Scope: Unit Test
// Expected: Create sets the owner from the caller; update and delete act on the same item.
// Test Case ID: ITH-01
func TestItems_CRUD(t *testing.T) {
	env := newTestEnv(t)
	access, _ := env.login(t, "acme.example.com")
	const host = "acme.example.com"

	res := env.do(t, http.MethodPost, host, "/api/items/", access, map[string]string{
		"name": "Notebook", "description": "A5",
	})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))
	assert.Equal(t, "Notebook", res.Body["name"])
	assert.Equal(t, "alice", res.Body["created_by_username"])
	id := res.Body["id"].(float64)
	require.Equal(t, float64(1), id)

	res = env.do(t, http.MethodGet, host, "/api/items/1/", access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "A5", res.Body["description"])

	res = env.do(t, http.MethodPatch, host, "/api/items/1/", access, map[string]string{"description": "A4"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Notebook", res.Body["name"])
	assert.Equal(t, "A4", res.Body["description"])

	res = env.do(t, http.MethodPut, host, "/api/items/1/", access, map[string]string{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(t, http.MethodPut, host, "/api/items/1/", access, map[string]string{"name": "Pad"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Pad", res.Body["name"])
	assert.Equal(t, "", res.Body["description"])

	res = env.do(t, http.MethodDelete, host, "/api/items/1/", access, nil)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = env.do(t, http.MethodGet, host, "/api/items/1/", access, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(t, http.MethodGet, host, "/api/items/abc/", access, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestItems_Validation(t *testing.T) {
	env := newTestEnv(t)
	access, _ := env.login(t, "acme.example.com")

	res := env.do(t, http.MethodPost, "acme.example.com", "/api/items/", access, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(t, http.MethodPost, "acme.example.com", "/api/items/", access, map[string]string{
		"name": strings.Repeat("x", 201),
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

// TestPurpose: Validates page-number pagination of item listings.
// Scope: Unit Test
// Expected: count/next/previous/results with a page size of two.
// Test Case ID: ITH-02
func TestItems_Pagination(t *testing.T) {
	env := newTestEnv(t)
	access, _ := env.login(t, "acme.example.com")
	const host = "acme.example.com"

	for _, name := range []string{"one", "two", "three"} {
		res := env.do(t, http.MethodPost, host, "/api/items/", access, map[string]string{"name": name})
		require.Equal(t, http.StatusCreated, res.Code)
	}

	res := env.do(t, http.MethodGet, host, "/api/items/", access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(3), res.Body["count"])
	assert.Equal(t, "http://acme.example.com/api/items/?page=2", res.Body["next"])
	assert.Nil(t, res.Body["previous"])
	results := res.Body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "three", results[0].(map[string]any)["name"])

	res = env.do(t, http.MethodGet, host, "/api/items/?page=2", access, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, res.Body["next"])
	assert.Equal(t, "http://acme.example.com/api/items/", res.Body["previous"])
	assert.Len(t, res.Body["results"].([]any), 1)

	res = env.do(t, http.MethodGet, host, "/api/items/?page=3", access, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(t, http.MethodGet, host, "/api/items/?page=zero", access, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(t, http.MethodGet, host, "/api/items/?page=9223372036854775807", access, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

// TestPurpose: Validates that items are isolated per tenant namespace.
// Scope: Unit Test
// Security: Cross-tenant data leakage
// Expected: Items created on acme are invisible on globex, by listing and by ID.
// Test Case ID: ITH-03
func TestItems_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	acme, _ := env.login(t, "acme.example.com")
	globex, _ := env.login(t, "other.example.com")

	res := env.do(t, http.MethodPost, "acme.example.com", "/api/items/", acme, map[string]string{"name": "secret plan"})
	require.Equal(t, http.StatusCreated, res.Code)

	res = env.do(t, http.MethodGet, "other.example.com", "/api/items/", globex, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, float64(0), res.Body["count"])
	assert.Empty(t, res.Body["results"])

	res = env.do(t, http.MethodGet, "other.example.com", "/api/items/1/", globex, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(t, http.MethodGet, "acme.example.com", "/api/items/", acme, nil)
	assert.Equal(t, float64(1), res.Body["count"])
}
