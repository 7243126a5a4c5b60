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
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenancy/internal/audit"
)

func (e *testEnv) admin(t *testing.T, method, path string, body any) response {
	t.Helper()
	return e.do(t, method, "localhost", path, testAdminToken, body)
}

// TestPurpose: Validates that the admin API requires the admin token and is served on the public namespace only.
// Scope: Unit Test
// Security: Directory mutations are not reachable from tenant domains or without credentials
// Expected: 401 without or with a wrong token; 404 on a tenant domain.
// Test Case ID: ADM-01
func TestAdmin_Auth(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodGet, "localhost", "/admin/tenants/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = env.do(t, http.MethodGet, "localhost", "/admin/tenants/", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = env.do(t, http.MethodGet, "acme.example.com", "/admin/tenants/", testAdminToken, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.admin(t, http.MethodGet, "/admin/tenants/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["results"].([]any), 3)
}

// TestPurpose: Validates tenant creation over the admin API.
// Scope: Unit Test
// Expected: 201 with domains; the new domain resolves immediately; conflicts are 409.
// Test Case ID: ADM-02
func TestAdmin_CreateTenant(t *testing.T) {
	env := newTestEnv(t)

	res := env.admin(t, http.MethodPost, "/admin/tenants/", map[string]any{
		"schema_name": "initech",
		"name":        "Initech",
		"domains":     []string{"Initech.example.com", "www.initech.example.com"},
		"on_trial":    true,
		"paid_until":  "2027-01-31",
	})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))
	assert.Equal(t, "initech", res.Body["schema_name"])
	assert.Equal(t, "active", res.Body["status"])
	assert.Equal(t, true, res.Body["on_trial"])
	domains := res.Body["domains"].([]any)
	require.Len(t, domains, 2)
	assert.Equal(t, "initech.example.com", domains[0].(map[string]any)["domain"])
	assert.Equal(t, true, domains[0].(map[string]any)["is_primary"])
	assert.Contains(t, env.provisioner.provisioned, "initech")

	res = env.do(t, http.MethodGet, "initech.example.com", "/health/", "", nil)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "initech", res.Body["tenant"])

	res = env.admin(t, http.MethodPost, "/admin/tenants/", map[string]any{
		"schema_name": "initech", "name": "Again", "domains": []string{"new.example.com"},
	})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = env.admin(t, http.MethodPost, "/admin/tenants/", map[string]any{
		"schema_name": "hooli", "name": "Hooli", "domains": []string{"acme.example.com"},
	})
	assert.Equal(t, http.StatusConflict, res.Code)

	for _, ns := range []string{"Bad-Name", "public", "pg_catalog", ""} {
		res = env.admin(t, http.MethodPost, "/admin/tenants/", map[string]any{
			"schema_name": ns, "name": "x", "domains": []string{"x.example.com"},
		})
		assert.Equal(t, http.StatusBadRequest, res.Code, ns)
	}

	res = env.admin(t, http.MethodPost, "/admin/tenants/", map[string]any{
		"schema_name": "hooli", "name": "Hooli", "domains": []string{"hooli.example.com"}, "paid_until": "soon",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

// TestPurpose: Validates that a failed provisioning leaves no directory record behind.
// Scope: Unit Test
// Expected: 500; the tenant is absent and its domain does not resolve.
// Test Case ID: ADM-03
func TestAdmin_CreateTenantProvisionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provisioner.fail = errors.New("disk full")

	res := env.admin(t, http.MethodPost, "/admin/tenants/", map[string]any{
		"schema_name": "hooli", "name": "Hooli", "domains": []string{"hooli.example.com"},
	})
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, "namespace provisioning failed", res.Body["error"])

	res = env.admin(t, http.MethodGet, "/admin/tenants/hooli/", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(t, http.MethodGet, "hooli.example.com", "/health/", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, 1, env.audit.count(audit.TypeTenantProvisionFailed))
}

// TestPurpose: Validates billing updates and domain binding over the admin API.
// Scope: Unit Test
// Expected: paid_until set and cleared; bound domains resolve; unbound domains stop resolving.
// Test Case ID: ADM-04
func TestAdmin_BillingAndDomains(t *testing.T) {
	env := newTestEnv(t)

	res := env.admin(t, http.MethodPatch, "/admin/tenants/acme/", map[string]any{"paid_until": "2027-06-30", "on_trial": true})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	assert.Equal(t, true, res.Body["on_trial"])
	assert.Contains(t, res.Body["paid_until"], "2027-06-30")

	res = env.admin(t, http.MethodPatch, "/admin/tenants/acme/", map[string]any{"paid_until": nil})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Nil(t, res.Body["paid_until"])
	assert.Equal(t, true, res.Body["on_trial"])

	res = env.admin(t, http.MethodPatch, "/admin/tenants/acme/", map[string]any{"paid_until": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = env.admin(t, http.MethodPatch, "/admin/tenants/nobody/", map[string]any{"on_trial": false})
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.admin(t, http.MethodPost, "/admin/tenants/acme/domains/", map[string]any{"domain": "acme.test", "is_primary": true})
	require.Equal(t, http.StatusCreated, res.Code, string(res.Raw))

	res = env.do(t, http.MethodGet, "acme.test", "/health/", "", nil)
	assert.Equal(t, "acme", res.Body["tenant"])

	res = env.admin(t, http.MethodGet, "/admin/tenants/acme/", nil)
	require.Equal(t, http.StatusOK, res.Code)
	domains := res.Body["domains"].([]any)
	require.Len(t, domains, 2)
	assert.Equal(t, "acme.test", domains[0].(map[string]any)["domain"], "new primary listed first")

	res = env.admin(t, http.MethodPost, "/admin/tenants/globex/domains/", map[string]any{"domain": "acme.test"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = env.admin(t, http.MethodDelete, "/admin/domains/acme.test/", nil)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = env.do(t, http.MethodGet, "acme.test", "/health/", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = env.admin(t, http.MethodDelete, "/admin/domains/acme.test/", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}
