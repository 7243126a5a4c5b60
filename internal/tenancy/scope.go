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

// Package tenancy carries the resolved tenant through a request and binds
// storage access to that tenant's namespace.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opentrusty/tenancy/internal/tenant"
)

var (
	// ErrNoScope is returned when storage is accessed outside a tenant scope.
	ErrNoScope = errors.New("no tenant scope in context")
	// ErrPublicScope is returned when tenant-only storage is accessed from the public namespace.
	ErrPublicScope = errors.New("tenant storage is not available in the public namespace")
	// ErrScopeClosed is returned when a released scope is used again.
	ErrScopeClosed = errors.New("tenant scope already released")
)

// Querier is the subset of pgx used by repositories.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a connection bound to one namespace.
type Conn interface {
	Querier
	Namespace() string
	// Release restores the connection's default namespace and returns it.
	Release(ctx context.Context)
}

// Binder hands out connections bound to a namespace.
type Binder interface {
	Bind(ctx context.Context, namespace string) (Conn, error)
}

// Scope is the per-request binding of storage to one tenant. Its namespace
// never changes after creation.
type Scope struct {
	tenant *tenant.Tenant
	binder Binder

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// NewScope creates a scope for t. No connection is taken until first use.
func NewScope(t *tenant.Tenant, binder Binder) *Scope {
	return &Scope{tenant: t, binder: binder}
}

// Tenant returns the scoped tenant
func (s *Scope) Tenant() *tenant.Tenant {
	return s.tenant
}

// Namespace returns the scoped namespace key
func (s *Scope) Namespace() string {
	return s.tenant.Namespace
}

// IsPublic reports whether the scope targets the public namespace
func (s *Scope) IsPublic() bool {
	return s.tenant.IsPublic()
}

// Querier returns the scope's bound connection, binding it on first call.
func (s *Scope) Querier(ctx context.Context) (Querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := s.binder.Bind(ctx, s.tenant.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to bind namespace %s: %w", s.tenant.Namespace, err)
	}
	if conn.Namespace() != s.tenant.Namespace {
		conn.Release(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("binder returned namespace %q for scope %q", conn.Namespace(), s.tenant.Namespace)
	}
	s.conn = conn
	return conn, nil
}

// Close releases the bound connection, if any. It is safe to call more than
// once and after ctx has been cancelled.
func (s *Scope) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Release(context.WithoutCancel(ctx))
		s.conn = nil
	}
}
