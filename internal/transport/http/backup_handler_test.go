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
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/backup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("backup_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func adminToken(t *testing.T, env *testEnv, schema, host string) string {
	t.Helper()
	env.seedUser(t, schema, "admin@"+host, "admin-password", "admin")
	return env.login(t, host, "admin@"+host, "admin-password")
}

func (e *testEnv) restore(token, host, filename string, content []byte, fields map[string]string, t *testing.T) *testResponse {
	body, ctype := multipartUpload(t, filename, content, fields)
	headers := bearer(token)
	headers["Content-Type"] = ctype
	w := e.do(http.MethodPost, host, "/api/backup/restore", body, headers)
	return &testResponse{Code: w.Code, Body: w.Body.String()}
}

type testResponse struct {
	Code int
	Body string
}

// TestPurpose: Validates backup download over HTTP.
// Scope: Integration Test (in-memory)
// Expected: The artifact of the hostname's clinic is returned as an attachment.
// Test Case ID: BKH-01
func TestBackupCreate_Download(t *testing.T) {
	env := newTestEnv(t)
	token := adminToken(t, env, "clinic_b", "clinic-b.example")

	w := env.do(http.MethodPost, "clinic-b.example", "/api/backup/create", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename=backup-clinic_b-\d{8}T\d{6}Z\.json$`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, backup.StrategyRecords, w.Header().Get("X-Backup-Strategy"))

	var doc backup.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "clinic_b", doc.SchemaName)
	assert.Len(t, doc.Data["users"], 2)
}

func TestBackupCreate_Gzip(t *testing.T) {
	env := newTestEnv(t)
	token := adminToken(t, env, "clinic_a", "clinic-a.example")
	for i := 0; i < 200; i++ {
		env.records.data["clinic_a"]["users"] = append(env.records.data["clinic_a"]["users"],
			json.RawMessage(fmt.Sprintf(`{"id":"a%d","email":"user%d@clinic-a.example"}`, i, i)))
	}

	headers := bearer(token)
	headers["Accept-Encoding"] = "gzip"
	w := env.do(http.MethodPost, "clinic-a.example", "/api/backup/create", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"schema_name": "clinic_a"`)
}

// TestPurpose: Validates that only clinic administrators reach the backup endpoints.
// Scope: Unit Test
// Security: Role based access control
// Expected: 401 without a token and 403 for patients.
// Test Case ID: BKH-02
func TestBackup_RequiresClinicAdmin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "clinic-a.example", "/api/backup/create", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.seedUser(t, "clinic_a", "leo@clinic-a.example", "patient-password", "patient")
	token := env.login(t, "clinic-a.example", "leo@clinic-a.example", "patient-password")
	w = env.do(http.MethodPost, "clinic-a.example", "/api/backup/create", nil, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, audit.TypeAccessDenied, env.audit.Last().Type)
}

// TestPurpose: Validates restore uploads and the cross-schema policy over HTTP.
// Scope: Integration Test (in-memory)
// Security: A clinic cannot overwrite itself with another clinic's data by accident
// Expected: Foreign JSON backups need allow_cross_schema; own backups restore directly.
// Test Case ID: BKH-03
func TestBackupRestore_CrossSchemaPolicy(t *testing.T) {
	env := newTestEnv(t)
	tokenB := adminToken(t, env, "clinic_b", "clinic-b.example")
	tokenA := adminToken(t, env, "clinic_a", "clinic-a.example")

	w := env.do(http.MethodPost, "clinic-b.example", "/api/backup/create", nil, bearer(tokenB))
	require.Equal(t, http.StatusOK, w.Code)
	artifact := w.Body.Bytes()
	filename := strings.TrimPrefix(w.Header().Get("Content-Disposition"), "attachment; filename=")

	res := env.restore(tokenB, "clinic-b.example", filename, artifact, nil, t)
	assert.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Contains(t, res.Body, `"total_rows":2`)

	res = env.restore(tokenA, "clinic-a.example", filename, artifact, nil, t)
	assert.Equal(t, http.StatusForbidden, res.Code, res.Body)

	res = env.restore(tokenA, "clinic-a.example", filename, artifact, map[string]string{"allow_cross_schema": "true"}, t)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Contains(t, res.Body, `"source_schema":"clinic_b"`)
	assert.Len(t, env.records.data["clinic_a"]["users"], 2)

	res = env.restore(tokenA, "clinic-a.example", filename, artifact, map[string]string{"allow_cross_schema": "maybe"}, t)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestBackupRestore_GzipUpload(t *testing.T) {
	env := newTestEnv(t)
	token := adminToken(t, env, "clinic_a", "clinic-a.example")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"schema_name":"clinic_a","format":"json","data":{"users":[{"id":"a9"}]}}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	res := env.restore(token, "clinic-a.example", "backup-clinic_a.json.gz", buf.Bytes(), nil, t)
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Contains(t, res.Body, `"filename":"backup-clinic_a.json"`)
}

// TestPurpose: Validates rejected uploads.
// Scope: Unit Test
// Expected: Missing file and wrong extension are 400; oversized uploads are 413.
// Test Case ID: BKH-04
func TestBackupRestore_BadUploads(t *testing.T) {
	env := newTestEnv(t)
	token := adminToken(t, env, "clinic_a", "clinic-a.example")

	res := env.restore(token, "clinic-a.example", "", nil, map[string]string{"note": "no file"}, t)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = env.restore(token, "clinic-a.example", "backup.zip", []byte("PK"), nil, t)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body, ".sql or .json")

	res = env.restore(token, "clinic-a.example", "backup.json.gz", []byte("not gzip"), nil, t)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	big := bytes.Repeat([]byte("x"), 2<<20)
	res = env.restore(token, "clinic-a.example", "backup.sql", big, nil, t)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.Code)

	headers := bearer(token)
	headers["Content-Type"] = "application/json"
	w := env.do(http.MethodPost, "clinic-a.example", "/api/backup/restore", strings.NewReader(`{}`), headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBackupInfo(t *testing.T) {
	env := newTestEnv(t)
	token := adminToken(t, env, "clinic_b", "clinic-b.example")

	w := env.do(http.MethodGet, "clinic-b.example", "/api/backup/info", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "clinic_b", body["schema"])
	assert.EqualValues(t, 2, body["total_rows"])
}
