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

import "errors"

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrBadSignature     = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrWrongType        = errors.New("token has wrong type")
	ErrBlacklisted      = errors.New("token is blacklisted")
	ErrCrossTenantToken = errors.New("token was issued for another tenant")
	ErrWeakKey          = errors.New("signing key is too short")
)

// Reason names the class of a validation error for logs and metrics. It
// returns "internal" for errors outside the token taxonomy.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCrossTenantToken):
		return "cross_tenant"
	case errors.Is(err, ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrWrongType):
		return "wrong_type"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "internal"
	}
}
