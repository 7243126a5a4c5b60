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

// Command tenantctl manages tenants, their domains and their namespaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/schema"
	"github.com/opentrusty/tenancy/internal/store/postgres"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
)

const actor = "tenantctl"

func main() {
	os.Exit(run(&env{}, os.Args[1:], os.Stderr))
}

// run executes the command line and returns the exit status. Resources
// opened for the command are released before it returns, also on failure.
func run(e *env, args []string, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer e.close()

	root := newRootCommand(e)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// env holds the services a command runs against. It is filled in by open
// before any subcommand executes.
type env struct {
	cfg      *config.Config
	db       tenancy.Binder
	schemas  *schema.Manager
	repo     *postgres.TenantRepository
	tenants  *tenant.Service
	identity *identity.Service
	closers  []func()
}

func (e *env) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      "text",
		ServiceName: "tenantctl",
	})

	dbCfg := postgres.FromConfig(cfg.Database)
	sqlDB, err := postgres.OpenSQL(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	e.closers = append(e.closers, func() { sqlDB.Close() })

	schemas, err := schema.NewManager(sqlDB, schema.Config{AllowDrop: cfg.Tenancy.AllowSchemaDrop})
	if err != nil {
		return err
	}
	if err := schemas.MigratePublic(ctx); err != nil {
		return fmt.Errorf("failed to migrate directory: %w", err)
	}

	db, err := postgres.New(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	e.closers = append(e.closers, db.Close)

	auditLogger := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	e.cfg = cfg
	e.db = db
	e.schemas = schemas
	e.repo = postgres.NewTenantRepository(db)
	e.tenants = tenant.NewService(e.repo, schemas, auditLogger, tenant.WithProvisionLease(cfg.Tenancy.ProvisionLease))
	e.identity = identity.NewService(postgres.NewUserRepository(), hasher, auditLogger)
	return nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Manage tenants of the multi-tenant service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd.Context())
		},
	}

	root.AddCommand(
		newCreateTenantCommand(e),
		newSetupDemoCommand(e),
		newBindDomainCommand(e),
		newUnbindDomainCommand(e),
		newListCommand(e),
		newMigrateCommand(e),
		newDropCommand(e),
	)
	return root
}

// exitError carries the process exit status for a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// Exit statuses of create-tenant
const (
	exitTenantExists = 2
	exitDomainExists = 3
	exitProvision    = 4
	exitAdminAccount = 5
)

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// classifyCreate maps a tenant creation error to its exit status.
func classifyCreate(err error) error {
	switch {
	case errors.Is(err, tenant.ErrTenantExists):
		return &exitError{code: exitTenantExists, err: err}
	case errors.Is(err, tenant.ErrDomainExists):
		return &exitError{code: exitDomainExists, err: err}
	case errors.Is(err, tenant.ErrProvision):
		return &exitError{code: exitProvision, err: err}
	}
	return err
}
