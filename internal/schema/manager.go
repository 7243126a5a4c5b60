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

// Package schema creates, migrates and drops tenant namespaces.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// ErrPolicyDenied is returned by Drop while namespace destruction is disabled.
var ErrPolicyDenied = errors.New("namespace drop is disabled by policy")

//go:embed migrations/tenant/*.sql migrations/public/*.sql
var embedded embed.FS

const (
	advisoryLock      = `SELECT pg_advisory_xact_lock(hashtext($1))`
	createBookkeeping = `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`
	selectApplied     = `SELECT version FROM schema_migrations`
	recordApplied     = `INSERT INTO schema_migrations (version) VALUES ($1)`
	schemaExists      = `SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`
)

// Migration is one embedded SQL file, identified by its file name stem.
type Migration struct {
	Version string
	SQL     string
}

// Config holds schema manager policy
type Config struct {
	// AllowDrop enables Drop. Off unless explicitly configured.
	AllowDrop bool
}

// Manager applies the tenant table layout to namespaces.
type Manager struct {
	db                *sql.DB
	tenantMigrations  []Migration
	publicMigrations  []Migration
	allowDrop         bool
	tracer            trace.Tracer
	provisionDuration metric.Float64Histogram
}

// Option customises a Manager
type Option func(*Manager)

// WithMigrations replaces the embedded migration sets.
func WithMigrations(tenantSet, publicSet []Migration) Option {
	return func(m *Manager) {
		m.tenantMigrations = tenantSet
		m.publicMigrations = publicSet
	}
}

// WithProvisionHistogram records provisioning latency on h.
func WithProvisionHistogram(h metric.Float64Histogram) Option {
	return func(m *Manager) { m.provisionDuration = h }
}

// WithTracer sets the tracer used for provisioning spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a manager over db using the embedded migrations
func NewManager(db *sql.DB, cfg Config, opts ...Option) (*Manager, error) {
	tenantSet, err := Load(embedded, "migrations/tenant")
	if err != nil {
		return nil, err
	}
	publicSet, err := Load(embedded, "migrations/public")
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:               db,
		tenantMigrations: tenantSet,
		publicMigrations: publicSet,
		allowDrop:        cfg.AllowDrop,
		tracer:           otel.Tracer("github.com/opentrusty/tenancy/internal/schema"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Load reads *.up.sql files from dir in lexical order.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(e.Name(), ".up.sql"),
			SQL:     string(body),
		})
	}
	return out, nil
}

// Provision creates namespace if needed and applies every pending tenant
// migration, all in one transaction. Calling it again is a no-op.
func (m *Manager) Provision(ctx context.Context, namespace string) (err error) {
	if namespace == tenant.PublicNamespace {
		return tenant.ErrPublicNamespace
	}
	if err := tenant.ValidateNamespace(namespace); err != nil {
		return err
	}

	ctx, span := tracing.StartNamespace(ctx, m.tracer, "schema.Provision", namespace)
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	applied, err := m.apply(ctx, namespace, true, m.tenantMigrations)
	if err != nil {
		return err
	}
	if m.provisionDuration != nil {
		m.provisionDuration.Record(ctx, time.Since(start).Seconds())
	}

	slog.InfoContext(ctx, "namespace provisioned",
		logger.Component("schema"),
		logger.Namespace(namespace),
		slog.Int("applied", applied),
	)
	return nil
}

// MigratePublic applies the directory migrations to the public namespace.
func (m *Manager) MigratePublic(ctx context.Context) error {
	applied, err := m.apply(ctx, tenant.PublicNamespace, false, m.publicMigrations)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "public namespace migrated", logger.Component("schema"), slog.Int("applied", applied))
	return nil
}

// MigrateAll brings every listed tenant namespace up to date. It continues
// past failures and reports all of them.
func (m *Manager) MigrateAll(ctx context.Context, namespaces []string) error {
	var errs []error
	for _, ns := range namespaces {
		if ns == tenant.PublicNamespace {
			continue
		}
		if err := m.Provision(ctx, ns); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns, err))
		}
	}
	return errors.Join(errs...)
}

// Drop destroys namespace and everything in it.
func (m *Manager) Drop(ctx context.Context, namespace string) error {
	if !m.allowDrop {
		return ErrPolicyDenied
	}
	if namespace == tenant.PublicNamespace {
		return tenant.ErrPublicNamespace
	}
	if err := tenant.ValidateNamespace(namespace); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quote(namespace)+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop namespace %s: %w", namespace, err)
	}
	slog.WarnContext(ctx, "namespace dropped", logger.Component("schema"), logger.Namespace(namespace))
	return nil
}

// Exists reports whether namespace exists in the database.
func (m *Manager) Exists(ctx context.Context, namespace string) (bool, error) {
	var ok bool
	if err := m.db.QueryRowContext(ctx, schemaExists, namespace).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check namespace: %w", err)
	}
	return ok, nil
}

// Applied lists the migration versions recorded in namespace.
func (m *Manager) Applied(ctx context.Context, namespace string) ([]string, error) {
	if namespace != tenant.PublicNamespace {
		if err := tenant.ValidateNamespace(namespace); err != nil {
			return nil, err
		}
	}
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM "+quote(namespace)+".schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (m *Manager) apply(ctx context.Context, namespace string, create bool, migrations []Migration) (int, error) {
	ident := quote(namespace)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// serialise concurrent runs against the same namespace
	if _, err := tx.ExecContext(ctx, advisoryLock, namespace); err != nil {
		return 0, fmt.Errorf("failed to lock namespace %s: %w", namespace, err)
	}
	if create {
		if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
			return 0, fmt.Errorf("failed to create namespace %s: %w", namespace, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+ident); err != nil {
		return 0, fmt.Errorf("failed to enter namespace %s: %w", namespace, err)
	}
	if _, err := tx.ExecContext(ctx, createBookkeeping); err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	done, err := appliedVersions(ctx, tx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range migrations {
		if done[mig.Version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			return 0, fmt.Errorf("migration %s failed in %s: %w", mig.Version, namespace, err)
		}
		if _, err := tx.ExecContext(ctx, recordApplied, mig.Version); err != nil {
			return 0, fmt.Errorf("failed to record migration %s: %w", mig.Version, err)
		}
		slog.DebugContext(ctx, "migration applied", logger.Namespace(namespace), logger.Migration(mig.Version))
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migrations for %s: %w", namespace, err)
	}
	return applied, nil
}

func appliedVersions(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, selectApplied)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

func quote(namespace string) string {
	return pgx.Identifier{namespace}.Sanitize()
}
