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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
)

type demoTenant struct {
	namespace string
	name      string
	domain    string
}

var demoTenants = []demoTenant{
	{namespace: "school1", name: "School 1", domain: "school1.localhost"},
	{namespace: "school2", name: "School 2", domain: "school2.localhost"},
}

const (
	demoUsername = "demo"
	demoPassword = "demo123"
)

func newSetupDemoCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "setup-demo",
		Short: "Create the public tenant and two demo tenants with a demo user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setupDemo(cmd.Context(), e, cmd.OutOrStdout())
		},
	}
}

func setupDemo(ctx context.Context, e *env, out io.Writer) error {
	_, created, err := e.tenants.EnsurePublic(ctx, e.cfg.Tenancy.PublicDomain)
	if err != nil {
		return fmt.Errorf("failed to ensure public tenant: %w", err)
	}
	if created {
		fmt.Fprintf(out, "Public tenant created for http://%s:8000/admin/\n", e.cfg.Tenancy.PublicDomain)
	} else {
		fmt.Fprintln(out, "Public tenant already exists, skipping")
	}

	for _, d := range demoTenants {
		if _, err := e.tenants.Get(ctx, d.namespace); err == nil {
			fmt.Fprintf(out, "Tenant %q already exists, skipping\n", d.name)
			continue
		} else if !errors.Is(err, tenant.ErrTenantNotFound) {
			return err
		}

		t, err := e.tenants.Create(ctx, tenant.CreateInput{
			Namespace: d.namespace,
			Name:      d.name,
			Domains:   []string{d.domain},
			OnTrial:   true,
			ActorID:   actor,
		})
		if err != nil {
			return classifyCreate(err)
		}

		err = tenancy.Run(ctx, tenancy.NewScope(t, e.db), func(ctx context.Context) error {
			_, err := e.identity.CreateUser(ctx, identity.CreateUserInput{
				Username: demoUsername,
				Email:    fmt.Sprintf("demo@%s.com", d.namespace),
				Password: demoPassword,
				ActorID:  actor,
			})
			return err
		})
		if err != nil {
			return &exitError{code: exitAdminAccount, err: fmt.Errorf("demo user for %s: %w", d.namespace, err)}
		}
		fmt.Fprintf(out, "Created tenant %q\n  URL: http://%s:8000\n  Demo user: %s / %s\n", d.name, d.domain, demoUsername, demoPassword)
	}

	fmt.Fprintf(out, "\nDemo setup complete. Get a token with:\n  curl -X POST http://%s:8000/api/token/ -d '{\"username\":%q,\"password\":%q}'\n",
		demoTenants[0].domain, demoUsername, demoPassword)
	return nil
}

func newBindDomainCommand(e *env) *cobra.Command {
	var primary bool
	cmd := &cobra.Command{
		Use:   "bind-domain <schema> <domain>",
		Short: "Attach a domain to a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := e.tenants.BindDomain(cmd.Context(), args[0], args[1], primary, actor)
			if err != nil {
				if errors.Is(err, tenant.ErrDomainExists) {
					return &exitError{code: exitDomainExists, err: err}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Domain %s bound to %s\n", d.Domain, d.Namespace)
			return nil
		},
	}
	cmd.Flags().BoolVar(&primary, "primary", false, "make this the tenant's primary domain")
	return cmd
}

func newUnbindDomainCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "unbind-domain <domain>",
		Short: "Detach a domain from its tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.tenants.UnbindDomain(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Domain %s unbound\n", args[0])
			return nil
		},
	}
}

func newListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants and their domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tenants, err := listAll(ctx, e.tenants)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "SCHEMA\tNAME\tSTATUS\tTRIAL\tPAID UNTIL\tDOMAINS")
			for _, t := range tenants {
				domains, err := e.tenants.ListDomains(ctx, t.Namespace)
				if err != nil {
					return err
				}
				names := make([]string, len(domains))
				for i, d := range domains {
					names[i] = d.Domain
				}
				paid := "-"
				if t.PaidUntil != nil {
					paid = t.PaidUntil.Format("2006-01-02")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", t.Namespace, t.Name, t.Status, t.OnTrial, paid, strings.Join(names, ","))
			}
			return tw.Flush()
		},
	}
}

// listPageSize is the directory page size used by listAll
const listPageSize = 100

// listAll pages through the whole directory
func listAll(ctx context.Context, tenants *tenant.Service) ([]*tenant.Tenant, error) {
	var all []*tenant.Tenant
	for offset := 0; ; offset += listPageSize {
		page, err := tenants.List(ctx, listPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations to every tenant namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			namespaces, err := e.repo.Namespaces(ctx)
			if err != nil {
				return err
			}
			if err := e.schemas.MigrateAll(ctx, namespaces); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d namespaces up to date\n", len(namespaces))
			return nil
		},
	}
}

func newDropCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <schema>",
		Short: "Destroy a tenant's namespace and remove it from the directory",
		Long:  "Destroy a tenant's namespace and all of its data. Refused unless SCHEMA_ALLOW_DROP is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.tenants.Drop(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s dropped\n", args[0])
			return nil
		},
	}
}
