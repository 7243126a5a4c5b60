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

package tenancy

import "context"

type scopeKey struct{}

// WithScope returns a context carrying s
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// Namespace returns the namespace of the scope carried by ctx, or "".
func Namespace(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.Namespace()
	}
	return ""
}

// QuerierFrom returns the querier of the scope carried by ctx.
func QuerierFrom(ctx context.Context) (Querier, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	return s.Querier(ctx)
}

// TenantQuerier is QuerierFrom restricted to non-public scopes, for storage
// that exists only inside tenant namespaces.
func TenantQuerier(ctx context.Context) (Querier, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	if s.IsPublic() {
		return nil, ErrPublicScope
	}
	return s.Querier(ctx)
}

// Run executes fn with s installed in ctx and releases s afterwards, including
// when fn panics. It serves work outside the request pipeline, such as CLI
// commands.
func Run(ctx context.Context, s *Scope, fn func(ctx context.Context) error) error {
	defer s.Close(ctx)
	return fn(WithScope(ctx, s))
}
