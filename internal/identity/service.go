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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenancy"
)

// MinPasswordLength is the shortest password accepted for new accounts
const MinPasswordLength = 6

// Service manages the accounts of the tenant scope carried by ctx
type Service struct {
	repo        UserRepository
	hasher      *PasswordHasher
	auditLogger audit.Logger
	now         func() time.Time

	// verified against when the username is unknown, so both paths cost one hash
	dummyHash string
}

// NewService creates a new identity service
func NewService(repo UserRepository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	dummy, _ := hasher.Hash("not-a-real-password")
	return &Service{
		repo:        repo,
		hasher:      hasher,
		auditLogger: auditLogger,
		now:         time.Now,
		dummyHash:   dummy,
	}
}

// CreateUserInput describes an account to create
type CreateUserInput struct {
	Username string
	Email    string
	Password string
	IsStaff  bool
	ActorID  string
}

// CreateUser creates an account in the current tenant namespace
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if !isValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	email := strings.TrimSpace(in.Email)
	if email != "" && !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsStaff:      in.IsStaff,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeUserCreated,
		Namespace: tenancy.Namespace(ctx),
		ActorID:   in.ActorID,
		Resource:  username,
		Metadata:  map[string]any{"user_id": user.ID, "is_staff": user.IsStaff},
	})
	return user, nil
}

// Authenticate checks a username and password in the current tenant namespace
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	ns := tenancy.Namespace(ctx)

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		_, _ = s.hasher.Verify(password, s.dummyHash)
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeLoginFailed,
			Namespace: ns,
			Resource:  username,
			Metadata:  map[string]any{"reason": "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		if err != nil {
			slog.WarnContext(ctx, "stored password hash unreadable", logger.UserID(user.ID), logger.Error(err))
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeLoginFailed,
			Namespace: ns,
			ActorID:   strconv.FormatInt(user.ID, 10),
			Resource:  username,
			Metadata:  map[string]any{"reason": "invalid_password"},
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeLoginFailed,
			Namespace: ns,
			ActorID:   strconv.FormatInt(user.ID, 10),
			Resource:  username,
			Metadata:  map[string]any{"reason": "inactive"},
		})
		return nil, ErrUserInactive
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeLoginSuccess,
		Namespace: ns,
		ActorID:   strconv.FormatInt(user.ID, 10),
		Resource:  username,
	})
	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// RecordLogin stamps the user's last login time
func (s *Service) RecordLogin(ctx context.Context, id int64) error {
	return s.repo.UpdateLastLogin(ctx, id, s.now())
}

func isValidUsername(username string) bool {
	if username == "" || len(username) > 150 {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@.+-_", r):
		default:
			return false
		}
	}
	return true
}

func isValidEmail(email string) bool {
	at := strings.LastIndexByte(email, '@')
	return len(email) < 255 && at > 0 && at < len(email)-1
}
