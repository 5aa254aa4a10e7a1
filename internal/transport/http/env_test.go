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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/backup"
	"github.com/psicosas/psicosas/internal/identity"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/session"
	"github.com/psicosas/psicosas/internal/tenant"
	"github.com/stretchr/testify/require"
)

// memTenants is an in-memory tenant.Repository.
type memTenants struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	domains map[string]tenant.Domain
}

func newMemTenants() *memTenants {
	return &memTenants{tenants: map[string]*tenant.Tenant{}, domains: map[string]tenant.Domain{}}
}

func (m *memTenants) withDomains(t *tenant.Tenant) *tenant.Tenant {
	out := *t
	out.Domains = nil
	for _, d := range m.domains {
		if d.TenantID == t.ID {
			out.Domains = append(out.Domains, d)
		}
	}
	sort.Slice(out.Domains, func(i, j int) bool { return out.Domains[i].Domain < out.Domains[j].Domain })
	return &out
}

func (m *memTenants) Create(_ context.Context, t *tenant.Tenant, primary tenant.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[primary.Domain]; ok {
		return tenant.ErrDomainTaken
	}
	for _, existing := range m.tenants {
		if existing.SchemaName == t.SchemaName {
			return tenant.ErrSchemaTaken
		}
	}
	cp := *t
	m.tenants[t.ID] = &cp
	m.domains[primary.Domain] = primary
	return nil
}

func (m *memTenants) Delete(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return tenant.ErrTenantNotFound
	}
	for name, d := range m.domains {
		if d.TenantID == t.ID {
			delete(m.domains, name)
		}
	}
	delete(m.tenants, t.ID)
	return nil
}

func (m *memTenants) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		return m.withDomains(t), nil
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *memTenants) GetBySchema(_ context.Context, schema string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.SchemaName == schema {
			return m.withDomains(t), nil
		}
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *memTenants) GetByDomain(_ context.Context, domain string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.domains[domain]; ok {
		return m.withDomains(m.tenants[d.TenantID]), nil
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *memTenants) List(_ context.Context) ([]*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tenant.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, m.withDomains(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemaName < out[j].SchemaName })
	return out, nil
}

func (m *memTenants) GetDomain(_ context.Context, domain string) (*tenant.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.domains[domain]; ok {
		return &d, nil
	}
	return nil, tenant.ErrDomainNotFound
}

func (m *memTenants) AddDomain(_ context.Context, d tenant.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[d.Domain]; ok {
		return tenant.ErrDomainTaken
	}
	if d.IsPrimary {
		for name, other := range m.domains {
			if other.TenantID == d.TenantID {
				other.IsPrimary = false
				m.domains[name] = other
			}
		}
	}
	m.domains[d.Domain] = d
	return nil
}

func (m *memTenants) RemoveDomain(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[domain]
	if !ok || d.IsPrimary {
		return tenant.ErrDomainNotFound
	}
	delete(m.domains, domain)
	return nil
}

func (m *memTenants) CountDomains(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.domains), nil
}

type noStats struct{}

func (noStats) ClinicCounts(context.Context, string) (*tenant.Counts, error) {
	return &tenant.Counts{UsersByType: map[string]int{}, AppointmentsByStatus: map[string]int{}}, nil
}

// schemaAccounts stores accounts per bound schema, the way the clinic users
// table is confined by search_path.
type schemaAccounts struct {
	mu    sync.Mutex
	users map[string]map[string]*identity.Account
	seen  []string
}

func newSchemaAccounts() *schemaAccounts {
	return &schemaAccounts{users: map[string]map[string]*identity.Account{}}
}

func (s *schemaAccounts) bucket(ctx context.Context) map[string]*identity.Account {
	schema := schemactx.Schema(ctx)
	s.seen = append(s.seen, schema)
	b, ok := s.users[schema]
	if !ok {
		b = map[string]*identity.Account{}
		s.users[schema] = b
	}
	return b
}

func (s *schemaAccounts) Create(ctx context.Context, a *identity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(ctx)
	for _, u := range b {
		if u.Email == a.Email {
			return identity.ErrUserAlreadyExists
		}
	}
	b[a.ID] = a
	return nil
}

func (s *schemaAccounts) GetByID(ctx context.Context, id string) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.bucket(ctx)[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (s *schemaAccounts) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.bucket(ctx) {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *schemaAccounts) schemasSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// schemaRecords is a backup.RecordStore confined to the bound schema.
type schemaRecords struct {
	mu   sync.Mutex
	data map[string]map[string][]json.RawMessage
}

func (s *schemaRecords) Tables() []string { return []string{"users", "appointments"} }

func (s *schemaRecords) Export(ctx context.Context) (map[string][]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]json.RawMessage{}
	for _, t := range s.Tables() {
		out[t] = append([]json.RawMessage{}, s.data[schemactx.Schema(ctx)][t]...)
	}
	return out, nil
}

func (s *schemaRecords) Replace(ctx context.Context, data map[string][]json.RawMessage) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	s.data[schemactx.Schema(ctx)] = data
	for t, rows := range data {
		counts[t] = int64(len(rows))
	}
	return counts, nil
}

func (s *schemaRecords) Counts(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, t := range s.Tables() {
		counts[t] = int64(len(s.data[schemactx.Schema(ctx)][t]))
	}
	return counts, nil
}

// noTools reports every external tool as missing so backups use the record
// export.
type noTools struct{}

func (noTools) Run(context.Context, backup.Command) (*backup.Result, error) {
	return nil, backup.ErrToolUnavailable
}

func (noTools) LookPath(file string) (string, error) {
	return "", fmt.Errorf("%w: %s", backup.ErrToolUnavailable, file)
}

type testEnv struct {
	router   http.Handler
	handler  *Handler
	tenants  *tenant.Service
	repo     *memTenants
	switcher *schemactx.Switch
	clinic   *identity.Service
	platform *identity.Service
	accounts *schemaAccounts
	records  *schemaRecords
	audit    *audit.MemoryLogger
	metrics  *metrics.HTTPMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	repo := newMemTenants()
	auditLog := &audit.MemoryLogger{}
	tenants := tenant.NewService(repo, noStats{}, auditLog)

	seed := []struct{ id, name, schema, domain string }{
		{"t-public", "Psico SAS", "public", "localhost"},
		{"t-a", "Clínica A", "clinic_a", "clinic-a.example"},
		{"t-b", "Clínica B", "clinic_b", "clinic-b.example"},
	}
	for _, s := range seed {
		require.NoError(t, repo.Create(ctx,
			&tenant.Tenant{ID: s.id, Name: s.name, SchemaName: s.schema},
			tenant.Domain{Domain: s.domain, TenantID: s.id, IsPrimary: true},
		))
	}

	switcher := schemactx.New(tenants, tenant.PublicSchema, nil)
	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	accounts := newSchemaAccounts()
	clinic := identity.NewService(identity.KindClinic, accounts, hasher, auditLog)
	platform := identity.NewService(identity.KindPlatform, accounts, hasher, auditLog)
	records := &schemaRecords{data: map[string]map[string][]json.RawMessage{
		"clinic_a": {"users": {json.RawMessage(`{"id":"a1"}`)}, "appointments": {}},
		"clinic_b": {"users": {json.RawMessage(`{"id":"b1"}`), json.RawMessage(`{"id":"b2"}`)}},
	}}
	operator := backup.NewOperator(backup.Config{PgDumpPath: "pg_dump", PsqlPath: "psql", PublicSchema: tenant.PublicSchema, SigningKey: "test-backup-key"},
		noTools{}, records, auditLog, nil)
	httpMetrics := metrics.NewHTTPMetrics("psicosas_test")

	h := NewHandler(Deps{
		Tenants:          tenants,
		ClinicAccounts:   clinic,
		PlatformAccounts: platform,
		Sessions:         session.NewManager("test-secret-with-enough-entropy", time.Hour, "psicosas-test"),
		Backups:          operator,
		AuditLogger:      auditLog,
		Metrics:          httpMetrics,
		MaxUploadBytes:   1 << 20,
	})

	return &testEnv{
		router:   NewRouter(h, tenants, switcher, nil),
		handler:  h,
		tenants:  tenants,
		repo:     repo,
		switcher: switcher,
		clinic:   clinic,
		platform: platform,
		accounts: accounts,
		records:  records,
		audit:    auditLog,
		metrics:  httpMetrics,
	}
}

// seedUser creates an account inside schema.
func (e *testEnv) seedUser(t *testing.T, schema, email, password, userType string) *identity.Account {
	t.Helper()
	tn, err := e.tenants.BySchema(context.Background(), schema)
	require.NoError(t, err)
	ctx, release := e.switcher.ActivateTenant(context.Background(), tn)
	defer release()

	svc := e.clinic
	in := identity.NewAccount{Email: email, Password: password, UserType: userType}
	if schema == tenant.PublicSchema {
		svc = e.platform
		in = identity.NewAccount{Email: email, Password: password, IsStaff: userType == "staff"}
	}
	a, err := svc.CreateAccount(ctx, in)
	require.NoError(t, err)
	return a
}

func (e *testEnv) do(method, host, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Host = host
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, host, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Email: email, Password: password})
	w := e.do(http.MethodPost, host, "/api/auth/login", bytes.NewReader(body), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return strings.NewReader(string(b))
}
