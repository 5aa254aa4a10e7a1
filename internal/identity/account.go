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
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// Clinic account types (users.user_type).
const (
	TypePatient      = "patient"
	TypeProfessional = "professional"
	TypeAdmin        = "admin"
)

// Roles carried in session tokens.
const (
	RolePatient      = "patient"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
	RoleStaff        = "staff"
	RolePlatformUser = "platform_user"
)

// Kind selects the account table a Service works on.
type Kind string

const (
	// KindClinic accounts live in the users table of a clinic schema.
	KindClinic Kind = "clinic"
	// KindPlatform accounts live in public.public_users.
	KindPlatform Kind = "platform"
)

// Account is a clinic user or a platform user. UserType is empty for
// platform accounts; IsStaff is always false for clinic accounts.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	UserType     string    `json:"user_type,omitempty"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	IsActive     bool      `json:"is_active"`
	DateJoined   time.Time `json:"date_joined"`
}

// Role derives the authorization role of the account.
func (a *Account) Role(kind Kind) string {
	if kind == KindPlatform {
		if a.IsStaff || a.IsSuperuser {
			return RoleStaff
		}
		return RolePlatformUser
	}
	if a.IsSuperuser {
		return RoleAdmin
	}
	switch a.UserType {
	case TypeAdmin:
		return RoleAdmin
	case TypeProfessional:
		return RoleProfessional
	default:
		return RolePatient
	}
}

// Repository defines the interface for account persistence. Clinic
// implementations read the schema bound to ctx.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
}
