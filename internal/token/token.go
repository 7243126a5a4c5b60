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

// Package token issues and validates tenant-bound bearer tokens.
package token

import (
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the token payload. Tenant is the namespace key the token was
// issued in and the only namespace it is valid for.
type Claims struct {
	TokenType string `json:"token_type"`
	UserID    int64  `json:"user_id"`
	Tenant    string `json:"tenant"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Subject identifies the user a token is issued to
type Subject struct {
	UserID   int64
	Username string
	Email    string
}

func (s Subject) id() string {
	return strconv.FormatInt(s.UserID, 10)
}

// Pair is an issued access token with its refresh token. Refresh is empty
// when a refresh did not rotate.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
