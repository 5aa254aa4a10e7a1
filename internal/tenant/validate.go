// Copyright 2026 The Psico SAS Authors
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

package tenant

import (
	"net"
	"strings"

	"github.com/psicosas/psicosas/internal/apperror"
)

const maxSchemaNameLength = 63

var reservedSchemas = map[string]bool{
	"public":             true,
	"postgres":           true,
	"information_schema": true,
}

// ValidateSchemaName lower-cases name and checks it against the schema naming
// rules. The normalized name is returned on success.
func ValidateSchemaName(name string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	switch {
	case s == "":
		return "", apperror.Validation("schema name is required")
	case len(s) > maxSchemaNameLength:
		return "", apperror.Validation("schema name must be at most %d characters", maxSchemaNameLength)
	case s[0] < 'a' || s[0] > 'z':
		return "", apperror.Validation("schema name must start with a letter")
	case strings.HasPrefix(s, "pg_"):
		return "", apperror.Validation("schema name must not start with pg_")
	case reservedSchemas[s]:
		return "", apperror.Validation("schema name %q is reserved", s)
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return "", apperror.Validation("schema name may contain only letters, digits and underscores")
		}
	}
	return s, nil
}

// NormalizeHost trims, lower-cases and strips any port from a Host header value.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return ""
	}
	if strings.HasPrefix(h, "[") {
		if hh, _, err := net.SplitHostPort(h); err == nil {
			return hh
		}
		return strings.Trim(h, "[]")
	}
	if strings.Count(h, ":") == 1 {
		h, _, _ = strings.Cut(h, ":")
	}
	return strings.TrimSuffix(h, ".")
}

// ValidateDomain normalizes host and checks that it is a plausible hostname
// or IP literal.
func ValidateDomain(host string) (string, error) {
	h := NormalizeHost(host)
	if h == "" {
		return "", apperror.Validation("domain is required")
	}
	if net.ParseIP(h) != nil {
		return h, nil
	}
	if len(h) > 253 {
		return "", apperror.Validation("domain is too long")
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 {
			return "", apperror.Validation("domain %q has an invalid label", h)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return "", apperror.Validation("domain %q has an invalid label", h)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return "", apperror.Validation("domain %q contains invalid characters", h)
			}
		}
	}
	return h, nil
}
