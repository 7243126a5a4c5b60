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

// Package redis stores revoked token IDs in Redis so that every server
// instance sees the same blacklist.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/opentrusty/tenancy/internal/config"
)

const defaultPrefix = "tenancy:blacklist:"

// NewClient creates a Redis client from configuration
func NewClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Blacklist implements token.Blacklist on Redis keys with a TTL
type Blacklist struct {
	c      *goredis.Client
	prefix string
	now    func() time.Time
}

// NewBlacklist creates a Redis-backed blacklist
func NewBlacklist(c *goredis.Client) *Blacklist {
	return &Blacklist{c: c, prefix: defaultPrefix, now: time.Now}
}

// Add revokes jti until the given time. Entries already past until are not stored.
func (b *Blacklist) Add(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if err := b.c.Set(ctx, b.prefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// Contains reports whether jti is revoked
func (b *Blacklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.c.Exists(ctx, b.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query blacklist: %w", err)
	}
	return n > 0, nil
}

// Claim revokes jti with SET NX, so only the first of several racing callers
// sees true. A token already past until cannot be claimed.
func (b *Blacklist) Claim(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(b.now())
	if ttl <= 0 {
		return false, nil
	}
	ok, err := b.c.SetNX(ctx, b.prefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to blacklist token: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity
func (b *Blacklist) Ping(ctx context.Context) error {
	return b.c.Ping(ctx).Err()
}
