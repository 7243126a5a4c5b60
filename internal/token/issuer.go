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

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/tenancy/internal/id"
	"github.com/opentrusty/tenancy/internal/observability/logger"
)

// MinKeyLength is the minimum HMAC key size
const MinKeyLength = 32

// Config holds issuer settings
type Config struct {
	SigningKey      []byte
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	// RotateRefresh issues a new refresh token on every refresh.
	RotateRefresh bool
	// BlacklistAfterRotation revokes the presented refresh token once rotated.
	BlacklistAfterRotation bool
}

// Issuer signs and validates HS256 tokens
type Issuer struct {
	cfg       Config
	blacklist Blacklist
	parser    *jwt.Parser
	now       func() time.Time
}

// NewIssuer creates an issuer. A nil blacklist disables revocation checks.
func NewIssuer(cfg Config, blacklist Blacklist) (*Issuer, error) {
	if len(cfg.SigningKey) < MinKeyLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakKey, MinKeyLength)
	}
	if cfg.AccessLifetime <= 0 {
		cfg.AccessLifetime = 15 * time.Minute
	}
	if cfg.RefreshLifetime <= 0 {
		cfg.RefreshLifetime = 7 * 24 * time.Hour
	}
	if blacklist == nil {
		blacklist = NopBlacklist{}
	}

	i := &Issuer{cfg: cfg, blacklist: blacklist, now: time.Now}
	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	return i, nil
}

// Issue creates an access/refresh pair for sub, bound to namespace.
func (i *Issuer) Issue(sub Subject, namespace string) (*Pair, error) {
	access, err := i.sign(sub, namespace, TypeAccess, i.cfg.AccessLifetime)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(sub, namespace, TypeRefresh, i.cfg.RefreshLifetime)
	if err != nil {
		return nil, err
	}
	return &Pair{Access: access, Refresh: refresh}, nil
}

// ParseAccess validates an access token and returns its claims.
func (i *Issuer) ParseAccess(raw string) (*Claims, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, ErrWrongType
	}
	return claims, nil
}

// Refresh exchanges a refresh token presented in namespace for a new access
// token, rotating the refresh token when configured.
func (i *Issuer) Refresh(ctx context.Context, raw, namespace string) (*Pair, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeRefresh {
		return nil, ErrWrongType
	}
	if claims.Tenant != namespace {
		return nil, ErrCrossTenantToken
	}

	// With single-use refresh tokens the old ID is revoked before anything is
	// issued, so two concurrent presentations cannot both rotate it.
	singleUse := i.cfg.RotateRefresh && i.cfg.BlacklistAfterRotation
	if singleUse {
		claimed, err := i.blacklist.Claim(ctx, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return nil, fmt.Errorf("failed to blacklist rotated token: %w", err)
		}
		if !claimed {
			slog.WarnContext(ctx, "refresh token reuse rejected", logger.TokenID(claims.ID), logger.TokenType(claims.TokenType))
			return nil, ErrBlacklisted
		}
	} else {
		revoked, err := i.blacklist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check blacklist: %w", err)
		}
		if revoked {
			return nil, ErrBlacklisted
		}
	}

	sub := Subject{UserID: claims.UserID, Username: claims.Username, Email: claims.Email}
	access, err := i.sign(sub, namespace, TypeAccess, i.cfg.AccessLifetime)
	if err != nil {
		return nil, err
	}
	pair := &Pair{Access: access}

	if i.cfg.RotateRefresh {
		if pair.Refresh, err = i.sign(sub, namespace, TypeRefresh, i.cfg.RefreshLifetime); err != nil {
			return nil, err
		}
		if singleUse {
			slog.DebugContext(ctx, "refresh token rotated and revoked", logger.TokenID(claims.ID))
		}
	}
	return pair, nil
}

func (i *Issuer) sign(sub Subject, namespace, typ string, lifetime time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		TokenType: typ,
		UserID:    sub.UserID,
		Tenant:    namespace,
		Username:  sub.Username,
		Email:     sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.NewULID(),
			Subject:   sub.id(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.cfg.SigningKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrMalformed
		}
	}
	if claims.Tenant == "" || claims.ID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}
