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
	"context"

	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/token"
)

type contextKey string

const principalKey contextKey = "principal"

// principal is the authenticated caller of a tenant request
type principal struct {
	user   *identity.User
	claims *token.Claims
}

func withPrincipal(ctx context.Context, p *principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetUser retrieves the authenticated user from context.
func GetUser(ctx context.Context) *identity.User {
	if p, ok := ctx.Value(principalKey).(*principal); ok {
		return p.user
	}
	return nil
}

// GetClaims retrieves the validated access token claims from context.
func GetClaims(ctx context.Context) *token.Claims {
	if p, ok := ctx.Value(principalKey).(*principal); ok {
		return p.claims
	}
	return nil
}
