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
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// CheckTenant rejects a bearer token whose tenant claim differs from the
// namespace serving the request. It does not verify the token: structurally
// broken tokens and absent bearer headers pass through so that
// authentication reports them. Requests to the public namespace are not
// checked.
func CheckTenant(namespace, authorization, publicNamespace string) error {
	if namespace == publicNamespace {
		return nil
	}
	raw, ok := BearerToken(authorization)
	if !ok {
		return nil
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil
	}
	if claims.Tenant != namespace {
		return fmt.Errorf("%w: issued for %q, presented to %q", ErrCrossTenantToken, claims.Tenant, namespace)
	}
	return nil
}
