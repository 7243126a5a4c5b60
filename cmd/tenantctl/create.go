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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
)

var errPasswordMismatch = errors.New("passwords do not match")

type createOptions struct {
	namespace     string
	name          string
	domain        string
	paidUntil     string
	onTrial       bool
	adminUsername string
	adminEmail    string
	adminPassword string
}

func (o *createOptions) wantsAdmin() bool {
	return o.adminUsername != "" || o.adminEmail != "" || o.adminPassword != ""
}

func newCreateTenantCommand(e *env) *cobra.Command {
	var o createOptions
	cmd := &cobra.Command{
		Use:   "create-tenant",
		Short: "Create a tenant, bind its domain and provision its namespace",
		Long: `Create a tenant with one primary domain. The namespace is created and
migrated before the command returns.

When any admin flag is given, an initial staff account is created inside the
new namespace. Without --admin-password the password is read from stdin twice.

Exit status: 2 tenant exists, 3 domain exists, 4 provisioning failed,
5 admin account failed (the tenant and its domain are kept).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createTenant(cmd.Context(), e, &o, bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.namespace, "schema", "", "namespace key, e.g. school1")
	cmd.Flags().StringVar(&o.name, "name", "", "display name, e.g. \"School 1\"")
	cmd.Flags().StringVar(&o.domain, "domain", "", "primary domain, e.g. school1.localhost")
	cmd.Flags().StringVar(&o.paidUntil, "paid-until", "", "subscription end date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&o.onTrial, "on-trial", true, "mark the tenant as on trial")
	cmd.Flags().StringVar(&o.adminUsername, "admin-username", "", "create an initial admin account with this username")
	cmd.Flags().StringVar(&o.adminEmail, "admin-email", "", "email of the initial admin account")
	cmd.Flags().StringVar(&o.adminPassword, "admin-password", "", "password of the initial admin account (prompted when empty)")
	cmd.MarkFlagRequired("schema")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("domain")
	return cmd
}

func createTenant(ctx context.Context, e *env, o *createOptions, in *bufio.Reader, out io.Writer) error {
	input := tenant.CreateInput{
		Namespace: o.namespace,
		Name:      o.name,
		Domains:   []string{o.domain},
		OnTrial:   o.onTrial,
		ActorID:   actor,
	}
	if o.paidUntil != "" {
		d, err := time.Parse(time.DateOnly, o.paidUntil)
		if err != nil {
			return fmt.Errorf("--paid-until must be YYYY-MM-DD: %w", err)
		}
		input.PaidUntil = &d
	}

	password := o.adminPassword
	if o.wantsAdmin() && password == "" {
		var err error
		if password, err = promptPassword(in, out); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Creating tenant...\n  Schema: %s\n  Name: %s\n  Domain: %s\n", o.namespace, o.name, o.domain)
	t, err := e.tenants.Create(ctx, input)
	if err != nil {
		return classifyCreate(err)
	}

	status := "Active"
	if t.OnTrial {
		status = "On Trial"
	}
	fmt.Fprintf(out, "Tenant %q created\n  Schema: %s\n  Domain: %s\n  Status: %s\n", t.Name, t.Namespace, o.domain, status)

	if !o.wantsAdmin() {
		return nil
	}
	var admin *identity.User
	err = tenancy.Run(ctx, tenancy.NewScope(t, e.db), func(ctx context.Context) error {
		admin, err = e.identity.BootstrapAdmin(ctx, t.Namespace, o.adminUsername, o.adminEmail, password)
		return err
	})
	if err != nil {
		return &exitError{code: exitAdminAccount, err: fmt.Errorf("tenant %s was created but its admin account was not: %w", t.Namespace, err)}
	}
	fmt.Fprintf(out, "Admin user created\n  Username: %s\n  Email: %s\n", admin.Username, admin.Email)
	return nil
}

// promptPassword reads a password and its confirmation, one per line.
func promptPassword(in *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter password for admin user: ")
	first, err := readLine(in)
	if err != nil {
		return "", err
	}
	fmt.Fprint(out, "\nConfirm password: ")
	second, err := readLine(in)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(out)
	if first != second {
		return "", errPasswordMismatch
	}
	return first, nil
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
