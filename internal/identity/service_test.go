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

package identity

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepository is a simple in-memory implementation of Repository
type memoryRepository struct {
	mu    sync.Mutex
	users map[string]*Account
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{users: make(map[string]*Account)}
}

func (m *memoryRepository) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == a.Email {
			return ErrUserAlreadyExists
		}
	}
	m.users[a.ID] = a
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func (m *memoryRepository) GetByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func testHasher() *PasswordHasher {
	return NewPasswordHasher(8*1024, 1, 1, 16, 32)
}

// TestPurpose: Validates password hashing round trip and tamper detection.
// Scope: Unit Test
// Security: Credential storage (CWE-916)
// Expected: Correct password verifies; wrong password and malformed hash do not.
// Test Case ID: IDN-01
func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := testHasher()
	encoded, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	ok, err := h.Verify("correct-horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-horse", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("x", "$bcrypt$whatever")
	assert.Error(t, err)
}

// TestPurpose: Validates clinic account creation and login.
// Scope: Unit Test
// Expected: Duplicate email conflicts; bad credentials never reveal which part failed.
// Test Case ID: IDN-02
func TestService_ClinicAccounts(t *testing.T) {
	ctx := context.Background()
	al := &audit.MemoryLogger{}
	svc := NewService(KindClinic, newMemoryRepository(), testHasher(), al)

	a, err := svc.CreateAccount(ctx, NewAccount{Email: "Admin@Clinic-A.example", Password: "s3cret-pass", UserType: TypeAdmin})
	require.NoError(t, err)
	assert.Equal(t, "admin@clinic-a.example", a.Email)
	assert.Equal(t, RoleAdmin, a.Role(KindClinic))
	assert.False(t, a.IsStaff)

	_, err = svc.CreateAccount(ctx, NewAccount{Email: "admin@clinic-a.example", Password: "another-pass", UserType: TypePatient})
	assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))

	_, err = svc.CreateAccount(ctx, NewAccount{Email: "p@clinic-a.example", Password: "short", UserType: TypePatient})
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

	_, err = svc.CreateAccount(ctx, NewAccount{Email: "p@clinic-a.example", Password: "long-enough", UserType: "owner"})
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))

	got, err := svc.Authenticate(ctx, " ADMIN@clinic-a.example ", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, audit.TypeLoginSuccess, al.Last().Type)

	_, err = svc.Authenticate(ctx, "admin@clinic-a.example", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, audit.TypeLoginFailed, al.Last().Type)

	_, err = svc.Authenticate(ctx, "ghost@clinic-a.example", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_InactiveAccountCannotLogin(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	svc := NewService(KindClinic, repo, testHasher(), &audit.MemoryLogger{})

	a, err := svc.CreateAccount(ctx, NewAccount{Email: "pro@clinic-a.example", Password: "s3cret-pass", UserType: TypeProfessional})
	require.NoError(t, err)
	a.IsActive = false

	_, err = svc.Authenticate(ctx, "pro@clinic-a.example", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAccount_Role(t *testing.T) {
	assert.Equal(t, RoleStaff, (&Account{IsSuperuser: true}).Role(KindPlatform))
	assert.Equal(t, RolePlatformUser, (&Account{}).Role(KindPlatform))
	assert.Equal(t, RoleAdmin, (&Account{UserType: TypePatient, IsSuperuser: true}).Role(KindClinic))
	assert.Equal(t, RoleProfessional, (&Account{UserType: TypeProfessional}).Role(KindClinic))
	assert.Equal(t, RolePatient, (&Account{UserType: TypePatient}).Role(KindClinic))
}

func TestService_PlatformSuperuserIsStaff(t *testing.T) {
	svc := NewService(KindPlatform, newMemoryRepository(), testHasher(), &audit.MemoryLogger{})
	a, err := svc.CreateAccount(context.Background(), NewAccount{Email: "root@psico.test", Password: "s3cret-pass", IsSuperuser: true})
	require.NoError(t, err)
	assert.True(t, a.IsStaff)
	assert.Empty(t, a.UserType)
	assert.Equal(t, RoleStaff, a.Role(KindPlatform))
}
