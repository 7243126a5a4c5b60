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

package identity

import (
	"context"
	"fmt"
)

// DefaultAdminUsername is used when no admin username is given at tenant creation
const DefaultAdminUsername = "admin"

// DefaultAdminEmail returns the address used when none is given for namespace's admin
func DefaultAdminEmail(namespace string) string {
	return fmt.Sprintf("admin@%s.com", namespace)
}

// BootstrapAdmin creates the first staff account of a freshly provisioned
// tenant. ctx must carry that tenant's scope.
func (s *Service) BootstrapAdmin(ctx context.Context, namespace, username, email, password string) (*User, error) {
	if username == "" {
		username = DefaultAdminUsername
	}
	if email == "" {
		email = DefaultAdminEmail(namespace)
	}

	user, err := s.CreateUser(ctx, CreateUserInput{
		Username: username,
		Email:    email,
		Password: password,
		IsStaff:  true,
		ActorID:  "bootstrap",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin for %s: %w", namespace, err)
	}
	return user, nil
}
