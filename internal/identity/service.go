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
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/schemactx"
)

const minPasswordLength = 8

// Service provides identity-related business logic for one account kind.
type Service struct {
	kind        Kind
	repo        Repository
	hasher      *PasswordHasher
	auditLogger audit.Logger
}

// NewService creates a new identity service
func NewService(kind Kind, repo Repository, hasher *PasswordHasher, auditLogger audit.Logger) *Service {
	return &Service{kind: kind, repo: repo, hasher: hasher, auditLogger: auditLogger}
}

// Kind returns the account kind served.
func (s *Service) Kind() Kind {
	return s.kind
}

// NewAccount holds the input of CreateAccount.
type NewAccount struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	UserType    string
	IsStaff     bool
	IsSuperuser bool
}

// CreateAccount validates input, hashes the password and stores the account.
func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeValidation, ErrInvalidEmail.Error(), err)
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperror.Wrap(apperror.CodeValidation, ErrWeakPassword.Error(), ErrWeakPassword)
	}

	userType := ""
	if s.kind == KindClinic {
		userType = in.UserType
		if in.IsSuperuser && userType == "" {
			userType = TypeAdmin
		}
		switch userType {
		case TypePatient, TypeProfessional, TypeAdmin:
		default:
			return nil, apperror.Validation("invalid user type %q", in.UserType)
		}
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperror.Wrap(apperror.CodeConflict, ErrUserAlreadyExists.Error(), ErrUserAlreadyExists)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate user id: %w", err)
	}

	a := &Account{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		UserType:     userType,
		IsStaff:      s.kind == KindPlatform && (in.IsStaff || in.IsSuperuser),
		IsSuperuser:  in.IsSuperuser,
		IsActive:     true,
		DateJoined:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrUserAlreadyExists) {
			return nil, apperror.Wrap(apperror.CodeConflict, ErrUserAlreadyExists.Error(), err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		Schema:   schemactx.Schema(ctx),
		Resource: a.ID,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]any{"email": email, "role": a.Role(s.kind)},
	})
	return a, nil
}

// Authenticate checks an email/password pair. Every failure is reported as
// ErrInvalidCredentials so callers cannot enumerate accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	schema := schemactx.Schema(ctx)
	addr := strings.ToLower(strings.TrimSpace(email))

	a, err := s.repo.GetByEmail(ctx, addr)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		s.loginFailed(ctx, schema, "", addr, "user_not_found")
		return nil, ErrInvalidCredentials
	}
	if !a.IsActive {
		s.loginFailed(ctx, schema, a.ID, addr, "inactive")
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, a.PasswordHash)
	if err != nil || !ok {
		s.loginFailed(ctx, schema, a.ID, addr, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		Schema:   schema,
		ActorID:  a.ID,
		Resource: "login",
		Outcome:  audit.OutcomeSuccess,
	})
	return a, nil
}

// Get retrieves an account by ID
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperror.Wrap(apperror.CodeNotFound, "user not found", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return a, nil
}

func (s *Service) loginFailed(ctx context.Context, schema, actorID, email, reason string) {
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginFailed,
		Schema:   schema,
		ActorID:  actorID,
		Resource: email,
		Outcome:  audit.OutcomeFailure,
		Metadata: map[string]any{"reason": reason},
	})
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", err
	}
	if addr.Name != "" {
		return "", fmt.Errorf("display names are not allowed")
	}
	return strings.ToLower(addr.Address), nil
}
