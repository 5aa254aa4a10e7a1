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

package http

import (
	"bytes"
	"compress/gzip"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the mapping of error codes to HTTP statuses.
// Scope: Unit Test
// Expected: Each code maps to its documented status; uncoded errors are 500.
// Test Case ID: HND-01
func TestStatusOf(t *testing.T) {
	tests := map[string]int{
		apperror.CodeNotFound:         http.StatusNotFound,
		apperror.CodeValidation:       http.StatusBadRequest,
		apperror.CodeConflict:         http.StatusConflict,
		apperror.CodeForbidden:        http.StatusForbidden,
		apperror.CodePermissionDenied: http.StatusForbidden,
		apperror.CodeUnknownTenant:    http.StatusNotFound,
		apperror.CodeExternalTool:     http.StatusBadGateway,
		apperror.CodeTransaction:      http.StatusInternalServerError,
		apperror.CodeInternal:         http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, statusOf(apperror.New(code, "x")), code)
	}
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("plain")))
}

// TestPurpose: Validates that server-side failure text is only shown when allowed.
// Scope: Unit Test
// Security: Internal details are not disclosed to ordinary callers
// Expected: Generic text by default; the cause under "detail" when detailed.
// Test Case ID: HND-02
func TestRespondAppError_Disclosure(t *testing.T) {
	err := apperror.Wrap(apperror.CodeTransaction, "restore failed and was rolled back", errors.New("ERROR: relation exists"))
	r := httptest.NewRequest(http.MethodPost, "/api/backup/restore", nil)

	w := httptest.NewRecorder()
	respondAppError(w, r, err, false)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "relation exists")
	assert.Contains(t, w.Body.String(), "internal server error")

	w = httptest.NewRecorder()
	respondAppError(w, r, err, true)
	assert.Contains(t, w.Body.String(), "relation exists")
	assert.Contains(t, w.Body.String(), `"code":"transaction"`)

	w = httptest.NewRecorder()
	respondAppError(w, r, apperror.Validation("schema name is required"), false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "schema name is required")
}

func TestReadUpload(t *testing.T) {
	up, err := readUpload(strings.NewReader("SELECT 1;"), "backup.sql", "", 1024)
	require.NoError(t, err)
	assert.Equal(t, "backup.sql", up.Filename)
	assert.Equal(t, "SELECT 1;", string(up.Body))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"schema_name":"clinic_a"}`))
	zw.Close()
	gz := buf.Bytes()

	up, err = readUpload(bytes.NewReader(gz), "backup.JSON.GZ", "", 1024)
	require.NoError(t, err)
	assert.Equal(t, "backup.JSON", up.Filename)
	assert.Equal(t, `{"schema_name":"clinic_a"}`, string(up.Body))

	up, err = readUpload(bytes.NewReader(gz), "backup.json", "gzip", 1024)
	require.NoError(t, err)
	assert.Equal(t, "backup.json", up.Filename)

	_, err = readUpload(strings.NewReader(strings.Repeat("x", 100)), "backup.sql", "", 10)
	assert.True(t, tooLarge(err))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := bearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Basic abc")
	_, ok = bearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "bearer abc.def")
	tok, ok := bearerToken(r)
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)
}

func TestGetIPAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", getIPAddress(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getIPAddress(r))
}

// TestPurpose: Validates that rate limits are kept per hostname and client.
// Scope: Unit Test
// Security: One clinic's traffic cannot exhaust another clinic's budget
// Expected: The second request from the same client to the same host is limited; another host is not.
// Test Case ID: HND-03
func TestRateLimit_PerHostAndClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(host, ip string) int {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Host = host
		r.RemoteAddr = ip + ":4000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, send("clinic-a.example", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("clinic-a.example", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("CLINIC-A.example:8000", "198.51.100.1"))
	assert.Equal(t, http.StatusNoContent, send("clinic-b.example", "198.51.100.1"))
	assert.Equal(t, http.StatusNoContent, send("clinic-a.example", "198.51.100.2"))
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.GetLimiter("a|1")
	rl.GetLimiter("b|2")
	require.Equal(t, 2, rl.size())

	rl.evict(time.Now().Add(rl.idleTTL + time.Second))
	assert.Equal(t, 0, rl.size())
}
