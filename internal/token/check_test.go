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

package token

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the cross-tenant guard on bearer headers.
// Scope: Unit Test
// Security: A token issued in one tenant is refused on another tenant's domain
// Expected: Mismatch is rejected; public, absent and garbage tokens pass through.
// Test Case ID: TOK-05
func TestCheckTenant(t *testing.T) {
	i := newTestIssuer(t, Config{}, nil)
	pair, err := i.Issue(alice, "acme")
	require.NoError(t, err)
	bearer := "Bearer " + pair.Access

	noTenant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           1,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("unrelated-key-unrelated-key-1234"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		namespace string
		header    string
		wantErr   bool
	}{
		{"same tenant", "acme", bearer, false},
		{"other tenant", "globex", bearer, true},
		{"public namespace", "public", bearer, false},
		{"no header", "globex", "", false},
		{"basic auth", "globex", "Basic Zm9vOmJhcg==", false},
		{"garbage", "globex", "Bearer not.a.token", false},
		{"missing tenant claim", "globex", "Bearer " + noTenant, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTenant(tt.namespace, tt.header, "public")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCrossTenantToken)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	raw, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", raw)

	_, ok = BearerToken("bearer abc")
	assert.False(t, ok)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestReason(t *testing.T) {
	cases := map[string]error{
		"cross_tenant":  fmt.Errorf("guard: %w", ErrCrossTenantToken),
		"blacklisted":   ErrBlacklisted,
		"expired":       ErrExpired,
		"bad_signature": ErrBadSignature,
		"wrong_type":    ErrWrongType,
		"malformed":     ErrMalformed,
		"internal":      errors.New("redis down"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Reason(err), want)
	}
}
