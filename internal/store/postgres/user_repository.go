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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/tenancy"
)

// UserRepository implements identity.UserRepository against the users table
// of the namespace bound to the tenant scope in ctx. It holds no connection
// of its own.
type UserRepository struct{}

// NewUserRepository creates a new user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

const userColumns = `id, username, email, password_hash, is_staff, is_active, date_joined, last_login`

func scanUser(row pgx.Row) (*identity.User, error) {
	var u identity.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsStaff, &u.IsActive, &u.DateJoined, &u.LastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Create inserts a user
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, is_staff, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, date_joined
	`, user.Username, user.Email, user.PasswordHash, user.IsStaff, user.IsActive).Scan(&user.ID, &user.DateJoined)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return identity.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*identity.User, error) {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// UpdateLastLogin stamps last_login
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return err
	}
	result, err := q.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}
