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
	"net/http"
	"testing"

	"github.com/psicosas/psicosas/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staffToken(t *testing.T, env *testEnv) string {
	t.Helper()
	env.seedUser(t, "public", "ops@psico.example", "ops-password", "staff")
	return env.login(t, "localhost", "ops@psico.example", "ops-password")
}

// TestPurpose: Validates clinic provisioning through the control plane.
// Scope: Integration Test (in-memory)
// Expected: A created clinic is listed and its hostname resolves to its schema.
// Test Case ID: CLN-01
func TestClinics_CreateAndResolve(t *testing.T) {
	env := newTestEnv(t)
	token := staffToken(t, env)

	w := env.do(http.MethodPost, "localhost", "/api/clinics", jsonBody(CreateClinicRequest{
		Name:       "Clínica Norte",
		SchemaName: "Clinic_Norte",
		Domain:     "Norte.Psico.Example",
	}), bearer(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody(t, w)
	assert.Equal(t, "clinic_norte", created["schema_name"])
	assert.Equal(t, audit.TypeTenantCreated, env.audit.Last().Type)

	w = env.do(http.MethodGet, "norte.psico.example", "/debug/tenant", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "clinic_norte", decodeBody(t, w)["schema_name"])

	w = env.do(http.MethodGet, "localhost", "/api/clinics", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"schema_name":"public"`)
	assert.Contains(t, w.Body.String(), `"schema_name":"clinic_norte"`)
}

// TestPurpose: Validates clinic creation input errors.
// Scope: Unit Test
// Expected: Invalid schema is 400, duplicate schema is 400, bound domain is 409.
// Test Case ID: CLN-02
func TestClinics_CreateErrors(t *testing.T) {
	env := newTestEnv(t)
	token := staffToken(t, env)

	tests := []struct {
		name string
		req  CreateClinicRequest
		code int
	}{
		{"empty name", CreateClinicRequest{Name: " ", SchemaName: "clinic_x", Domain: "x.example"}, http.StatusBadRequest},
		{"bad schema", CreateClinicRequest{Name: "X", SchemaName: "clinic-x", Domain: "x.example"}, http.StatusBadRequest},
		{"reserved schema", CreateClinicRequest{Name: "X", SchemaName: "public", Domain: "x.example"}, http.StatusBadRequest},
		{"duplicate schema", CreateClinicRequest{Name: "X", SchemaName: "clinic_a", Domain: "x.example"}, http.StatusBadRequest},
		{"bound domain", CreateClinicRequest{Name: "X", SchemaName: "clinic_x", Domain: "clinic-b.example"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "localhost", "/api/clinics", jsonBody(tt.req), bearer(token))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := env.do(http.MethodPost, "localhost", "/api/clinics", jsonBody(map[string]any{"name": "X", "owner": "me"}), bearer(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestPurpose: Validates that the control-plane tenant cannot be deleted and clinics can.
// Scope: Unit Test
// Security: Control plane protection
// Expected: 403 for public, 204 for a clinic whose hostname then stops resolving.
// Test Case ID: CLN-03
func TestClinics_Delete(t *testing.T) {
	env := newTestEnv(t)
	token := staffToken(t, env)

	w := env.do(http.MethodDelete, "localhost", "/api/clinics/t-public", nil, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodDelete, "localhost", "/api/clinics/t-b", nil, bearer(token))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "clinic-b.example", "/health", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodDelete, "localhost", "/api/clinics/t-b", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClinics_Domains(t *testing.T) {
	env := newTestEnv(t)
	token := staffToken(t, env)

	w := env.do(http.MethodPost, "localhost", "/api/clinics/t-a/domains", jsonBody(AddDomainRequest{Domain: "a.ngrok.example"}), bearer(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "a.ngrok.example", "/debug/tenant", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "clinic_a", decodeBody(t, w)["schema_name"])

	w = env.do(http.MethodPost, "localhost", "/api/clinics/t-b/domains", jsonBody(AddDomainRequest{Domain: "a.ngrok.example"}), bearer(token))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodDelete, "localhost", "/api/domains/clinic-a.example", nil, bearer(token))
	assert.Equal(t, http.StatusBadRequest, w.Code, "primary domains stay")

	w = env.do(http.MethodDelete, "localhost", "/api/domains/a.ngrok.example", nil, bearer(token))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "a.ngrok.example", "/debug/tenant", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestPurpose: Validates control-plane authorization.
// Scope: Unit Test
// Security: Only platform staff manage clinics
// Expected: 401 without a token, 403 for non-staff platform users.
// Test Case ID: CLN-04
func TestClinics_RequireStaff(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "localhost", "/api/clinics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.seedUser(t, "public", "viewer@psico.example", "viewer-password", "")
	token := env.login(t, "localhost", "viewer@psico.example", "viewer-password")
	w = env.do(http.MethodGet, "localhost", "/api/admin/stats", nil, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, audit.TypeAccessDenied, env.audit.Last().Type)
}

func TestClinics_Stats(t *testing.T) {
	env := newTestEnv(t)
	token := staffToken(t, env)

	w := env.do(http.MethodGet, "localhost", "/api/admin/stats", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), `"schema_name":"public"`)

	w = env.do(http.MethodGet, "localhost", "/api/clinics/t-a/stats", nil, bearer(token))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "localhost", "/api/clinics/t-public/stats", nil, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, "localhost", "/api/clinics/missing/stats", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
