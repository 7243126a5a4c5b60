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

package http_test

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	transportHTTP "github.com/opentrusty/tenancy/internal/transport/http"
)

func limitedHandler(t *testing.T, trusted ...netip.Prefix) func(remote, xff string) int {
	rl := transportHTTP.NewRateLimiter(0.001, 1, trusted...)
	t.Cleanup(rl.Stop)
	h := transportHTTP.RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	return func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
}

// TestPurpose: Validates that a client cannot escape its rate limit by forging X-Forwarded-For.
// Scope: Unit Test
// Security: Rate limit bypass via spoofed headers
// Expected: Without trusted proxies the limiter keys on the peer address and ignores the header.
// Test Case ID: RTR-03
func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	send := limitedHandler(t)

	assert.Equal(t, http.StatusNoContent, send("203.0.113.7:1234", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7:1234", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7:1234", ""))
}

// TestPurpose: Validates client identification behind a trusted reverse proxy.
// Scope: Unit Test
// Expected: The rightmost untrusted hop is the client; a spoofed leftmost hop does not split its budget.
// Test Case ID: RTR-04
func TestRateLimit_TrustedProxy(t *testing.T) {
	send := limitedHandler(t, netip.MustParsePrefix("10.0.0.0/8"))

	assert.Equal(t, http.StatusNoContent, send("10.0.0.5:80", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.6:80", "1.2.3.4, 198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.5:80", "198.51.100.1, 10.1.1.1"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.5:80", "198.51.100.2"))

	// A direct, untrusted peer is keyed on itself whatever it claims.
	assert.Equal(t, http.StatusNoContent, send("198.51.100.9:5555", "198.51.100.2"))
}
