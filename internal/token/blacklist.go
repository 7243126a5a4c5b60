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
	"sync"
	"time"
)

// Blacklist records revoked refresh token IDs until they would have expired
type Blacklist interface {
	Add(ctx context.Context, jti string, until time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	// Claim revokes jti and reports whether this call was the one that did.
	// Of any number of concurrent claims for the same jti, at most one wins.
	Claim(ctx context.Context, jti string, until time.Time) (bool, error)
}

// NopBlacklist never revokes anything
type NopBlacklist struct{}

func (NopBlacklist) Add(context.Context, string, time.Time) error { return nil }

func (NopBlacklist) Contains(context.Context, string) (bool, error) { return false, nil }

func (NopBlacklist) Claim(context.Context, string, time.Time) (bool, error) { return true, nil }

// MemoryBlacklist keeps revocations in process memory. The server uses it when
// blacklisting is enabled without a Redis address, which is only correct while
// a single instance serves the token endpoint.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist creates an empty in-memory blacklist
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]time.Time), now: time.Now}
}

func (b *MemoryBlacklist) Add(_ context.Context, jti string, until time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[jti] = until
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live(jti), nil
}

func (b *MemoryBlacklist) Claim(_ context.Context, jti string, until time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live(jti) {
		return false, nil
	}
	b.entries[jti] = until
	return true, nil
}

// live must be called with mu held
func (b *MemoryBlacklist) live(jti string) bool {
	until, ok := b.entries[jti]
	if !ok {
		return false
	}
	if b.now().After(until) {
		delete(b.entries, jti)
		return false
	}
	return true
}
