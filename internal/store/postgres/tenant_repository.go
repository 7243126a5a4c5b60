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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// TenantRepository implements tenant.Repository on the public directory tables.
// Every statement names the public schema explicitly, so it is unaffected by
// the search_path of the connection it runs on.
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `t.id, t.namespace, t.name, t.status, t.on_trial, t.paid_until, t.auto_provision, t.created_at, t.updated_at`

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(&t.ID, &t.Namespace, &t.Name, &t.Status, &t.OnTrial, &t.PaidUntil, &t.AutoProvision, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func mapTenantWriteError(err error) error {
	if name, ok := uniqueConstraint(err); ok {
		switch name {
		case "tenant_domains_domain_key":
			return tenant.ErrDomainExists
		case "idx_tenant_domains_primary":
			return fmt.Errorf("%w: tenant already has a primary domain", tenant.ErrConflict)
		default:
			return tenant.ErrTenantExists
		}
	}
	return err
}

// CreateWithDomains inserts a tenant and its domain bindings atomically
func (r *TenantRepository) CreateWithDomains(ctx context.Context, t *tenant.Tenant, domains []*tenant.Domain) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO public.tenants (id, namespace, name, status, on_trial, paid_until, auto_provision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Namespace, t.Name, t.Status, t.OnTrial, t.PaidUntil, t.AutoProvision, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapTenantWriteError(fmt.Errorf("failed to insert tenant: %w", err))
	}

	for _, d := range domains {
		if err := insertDomain(ctx, tx, d); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTenantWriteError(fmt.Errorf("failed to commit tenant: %w", err))
	}
	return nil
}

func insertDomain(ctx context.Context, tx pgx.Tx, d *tenant.Domain) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO public.tenant_domains (id, domain, tenant_id, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.Domain, d.TenantID, d.IsPrimary, d.CreatedAt)
	if err != nil {
		return mapTenantWriteError(fmt.Errorf("failed to insert domain: %w", err))
	}
	return nil
}

// GetByNamespace retrieves a tenant by namespace key
func (r *TenantRepository) GetByNamespace(ctx context.Context, namespace string) (*tenant.Tenant, error) {
	t, err := scanTenant(r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM public.tenants t
		WHERE t.namespace = $1
	`, namespace))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetByDomain retrieves the tenant owning domain
func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*tenant.Tenant, error) {
	t, err := scanTenant(r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM public.tenants t
		JOIN public.tenant_domains d ON d.tenant_id = t.id
		WHERE d.domain = $1
	`, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to resolve domain: %w", err)
	}
	return t, nil
}

// DomainExists reports whether domain is bound to any tenant
func (r *TenantRepository) DomainExists(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM public.tenant_domains WHERE domain = $1)
	`, domain).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check domain: %w", err)
	}
	return exists, nil
}

// SetStatus changes a tenant's lifecycle status
func (r *TenantRepository) SetStatus(ctx context.Context, namespace, status string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE public.tenants SET status = $2, updated_at = $3 WHERE namespace = $1
	`, namespace, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// ClaimProvisioning takes the provisioning lease on a stale tenant record.
// The conditional update is atomic, so of two racing callers at most one wins.
func (r *TenantRepository) ClaimProvisioning(ctx context.Context, namespace string, staleBefore time.Time) (bool, error) {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE public.tenants SET updated_at = $3
		WHERE namespace = $1 AND status = $2 AND updated_at < $4
	`, namespace, tenant.StatusProvisioning, time.Now(), staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to claim tenant: %w", err)
	}
	slog.DebugContext(ctx, "provisioning claim", logger.Namespace(namespace), logger.RowsAffected(result.RowsAffected()))
	return result.RowsAffected() == 1, nil
}

// UpdateBilling stores trial and paid-until attributes
func (r *TenantRepository) UpdateBilling(ctx context.Context, t *tenant.Tenant) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE public.tenants SET on_trial = $2, paid_until = $3, updated_at = $4 WHERE namespace = $1
	`, t.Namespace, t.OnTrial, t.PaidUntil, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// Delete removes a tenant record; its domains go with it
func (r *TenantRepository) Delete(ctx context.Context, namespace string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM public.tenants WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// List lists tenants, oldest first
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM public.tenants t
		ORDER BY t.created_at, t.namespace
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// BindDomain adds a domain binding, demoting the current primary when the
// new binding is primary
func (r *TenantRepository) BindDomain(ctx context.Context, d *tenant.Domain) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if d.IsPrimary {
		if _, err := tx.Exec(ctx, `
			UPDATE public.tenant_domains SET is_primary = FALSE WHERE tenant_id = $1 AND is_primary
		`, d.TenantID); err != nil {
			return fmt.Errorf("failed to demote primary domain: %w", err)
		}
	}
	if err := insertDomain(ctx, tx, d); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTenantWriteError(fmt.Errorf("failed to commit domain: %w", err))
	}
	return nil
}

// UnbindDomain removes a domain binding
func (r *TenantRepository) UnbindDomain(ctx context.Context, domain string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM public.tenant_domains WHERE domain = $1`, domain)
	if err != nil {
		return fmt.Errorf("failed to unbind domain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrDomainNotFound
	}
	return nil
}

// ListDomains lists a tenant's domains, primary first
func (r *TenantRepository) ListDomains(ctx context.Context, namespace string) ([]*tenant.Domain, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT d.id, d.domain, d.tenant_id, t.namespace, d.is_primary, d.created_at
		FROM public.tenant_domains d
		JOIN public.tenants t ON t.id = d.tenant_id
		WHERE t.namespace = $1
		ORDER BY d.is_primary DESC, d.domain
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []*tenant.Domain
	for rows.Next() {
		var d tenant.Domain
		if err := rows.Scan(&d.ID, &d.Domain, &d.TenantID, &d.Namespace, &d.IsPrimary, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, &d)
	}
	return domains, rows.Err()
}

// Namespaces lists every tenant namespace key, for bulk migration
func (r *TenantRepository) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT namespace FROM public.tenants ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
