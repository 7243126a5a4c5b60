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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenancy/internal/tenant"
)

// TestPurpose: Validates that create-tenant failures map to distinct exit statuses.
// Scope: Unit Test
// Security: Operators can tell a taken domain from a failed provisioning
// Expected: Tenant exists 2, domain exists 3, provisioning 4, other 1.
// Test Case ID: CLI-01
func TestClassifyCreate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"tenant exists", tenant.ErrTenantExists, exitTenantExists},
		{"domain exists", fmt.Errorf("%w: school1.localhost", tenant.ErrDomainExists), exitDomainExists},
		{"provisioning", fmt.Errorf("%w: boom", tenant.ErrProvision), exitProvision},
		{"invalid key", tenant.ErrInvalidNamespace, 1},
		{"other", errors.New("connection refused"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyCreate(tt.err)
			assert.Equal(t, tt.code, exitCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExitCode_AdminAccount(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &exitError{code: exitAdminAccount, err: errors.New("weak password")})
	assert.Equal(t, exitAdminAccount, exitCode(err))
}

// TestPurpose: Validates the interactive admin password prompt.
// Scope: Unit Test
// Expected: Matching entries are accepted, a mismatch or missing input is refused.
// Test Case ID: CLI-02
func TestPromptPassword(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		var out bytes.Buffer
		pw, err := promptPassword(bufio.NewReader(strings.NewReader("s3cret!\ns3cret!\n")), &out)
		require.NoError(t, err)
		assert.Equal(t, "s3cret!", pw)
		assert.Contains(t, out.String(), "Confirm password")
	})

	t.Run("match without trailing newline", func(t *testing.T) {
		pw, err := promptPassword(bufio.NewReader(strings.NewReader("s3cret!\r\ns3cret!")), &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "s3cret!", pw)
	})

	t.Run("mismatch", func(t *testing.T) {
		_, err := promptPassword(bufio.NewReader(strings.NewReader("one\ntwo\n")), &bytes.Buffer{})
		assert.ErrorIs(t, err, errPasswordMismatch)
	})

	t.Run("no input", func(t *testing.T) {
		_, err := promptPassword(bufio.NewReader(strings.NewReader("")), &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestCreateOptions_WantsAdmin(t *testing.T) {
	assert.False(t, (&createOptions{namespace: "school1"}).wantsAdmin())
	assert.True(t, (&createOptions{adminUsername: "root"}).wantsAdmin())
	assert.True(t, (&createOptions{adminEmail: "a@b.com"}).wantsAdmin())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand(&env{})
	for _, name := range []string{"create-tenant", "setup-demo", "bind-domain", "unbind-domain", "list", "migrate", "drop"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	create, _, err := root.Find([]string{"create-tenant"})
	require.NoError(t, err)
	onTrial, err := create.Flags().GetBool("on-trial")
	require.NoError(t, err)
	assert.True(t, onTrial)
}

// TestPurpose: Validates that resources opened for a command are released when it fails.
// Scope: Unit Test
// Expected: A failing command exits 1, reports the error and runs every closer in reverse order.
// Test Case ID: CLI-04
func TestRun_ClosesOnFailure(t *testing.T) {
	var order []string
	e := &env{closers: []func(){
		func() { order = append(order, "sql") },
		func() { order = append(order, "pool") },
	}}
	var stderr bytes.Buffer

	code := run(e, []string{"list", "--no-such-flag"}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error:")
	assert.Equal(t, []string{"pool", "sql"}, order)
	assert.Nil(t, e.closers)
}
